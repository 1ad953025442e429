// Command speaker-balancer balances the output levels of a lab
// loudspeaker array using manual readings from a sound level meter.
//
// Usage:
//
//	speaker-balancer                         # defaults, 4 speakers
//	speaker-balancer -config booth-a.yaml    # persisted lab settings
//	speaker-balancer -speakers 8 -level -25  # quick overrides
//
// The tool drops into an interactive prompt; type "help" for the
// command list. Channel numbers at the prompt are 1-indexed, matching
// the labels on the physical speakers.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/hearlab/speaker-balancer/internal/config"
	"github.com/hearlab/speaker-balancer/internal/playback"
	"github.com/hearlab/speaker-balancer/internal/session"
)

const defaultConfigPath = "speaker-balancer.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Settings file (YAML)")
	speakers := flag.Int("speakers", 0, "Override the configured speaker count")
	device := flag.Int("device", 0, "Override the playback device index (-1 for system default)")
	duration := flag.Float64("duration", 0, "Override the stimulus duration in seconds")
	level := flag.Float64("level", 0, "Override the presentation level in dB FS")
	verbose := flag.Bool("v", false, "Verbose (debug) logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Flags beat the settings file, but only when actually given.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "speakers":
			cfg.NumSpeakers = *speakers
			if cfg.OutputChannels < cfg.NumSpeakers {
				cfg.OutputChannels = cfg.NumSpeakers
			}
		case "device":
			cfg.AudioDevice = *device
		case "duration":
			cfg.DurationSec = *duration
		case "level":
			cfg.LevelDBFS = *level
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logLevel := cfg.LogLevel
	if *verbose {
		logLevel = zerolog.LevelDebugValue
	}
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Logger()

	engine, err := playback.NewMiniaudio(log.With().Str("component", "playback").Logger())
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close playback engine")
		}
	}()

	s := session.New(cfg, engine, log)
	log.Info().
		Int("speakers", cfg.NumSpeakers).
		Int("device", cfg.AudioDevice).
		Str("config", *configPath).
		Msg("session ready")

	return prompt(s, *configPath)
}
