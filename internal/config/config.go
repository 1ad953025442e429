// Package config holds the user-facing settings for a balancing
// session.
//
// The settings file is the primary configuration surface; flags exist
// for small overrides. Settings are loaded once at startup into a
// plain struct that is passed by value to the components that need it,
// and persisted only through an explicit Save — no component mutates
// shared configuration at runtime.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Settings is the full configuration for one session.
type Settings struct {
	// NumSpeakers is the number of output channels to balance.
	NumSpeakers int `yaml:"num_speakers"`

	// DurationSec is the stimulus duration per presentation, seconds.
	DurationSec float64 `yaml:"duration_sec"`

	// LevelDBFS is the presentation level of the balancing stimulus.
	LevelDBFS float64 `yaml:"level_dbfs"`

	// AudioDevice is the playback device index, or -1 for the system
	// default.
	AudioDevice int `yaml:"audio_device"`

	// OutputChannels is the channel count of the output stream. It
	// must cover every speaker being balanced.
	OutputChannels int `yaml:"output_channels"`

	// CalFile is an optional WAV file used as the calibration
	// stimulus. When empty, generated noise is used instead.
	CalFile string `yaml:"cal_file,omitempty"`

	// CalLevelDBFS is the digital level the calibration stimulus is
	// presented at.
	CalLevelDBFS float64 `yaml:"cal_level_dbfs"`

	// SLMReading is the meter reading recorded during the last
	// chain calibration, dB SPL.
	SLMReading float64 `yaml:"slm_reading"`

	// DesiredLevelDB is the target SPL for calibrated presentations.
	DesiredLevelDB float64 `yaml:"desired_level_db"`

	// ExportDir is where offset CSV files are written. Empty means
	// the current directory.
	ExportDir string `yaml:"export_dir,omitempty"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// Default returns the settings used when no file exists yet.
func Default() Settings {
	return Settings{
		NumSpeakers:    4,
		DurationSec:    3.0,
		LevelDBFS:      -30.0,
		AudioDevice:    -1,
		OutputChannels: 4,
		CalLevelDBFS:   -30.0,
		SLMReading:     70.0,
		DesiredLevelDB: 75.0,
		LogLevel:       "info",
	}
}

// Load reads settings from path. A missing file yields the defaults;
// a present but malformed or invalid file is an error.
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	s := Default()
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings file %s: %w", path, err)
	}
	return s, nil
}

// Save writes the settings to path atomically (temp file + rename).
func (s Settings) Save(path string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create settings temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close settings temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// Validate checks the settings for internal consistency.
func (s Settings) Validate() error {
	if s.NumSpeakers < 1 {
		return fmt.Errorf("num_speakers must be at least 1, got %d", s.NumSpeakers)
	}
	if s.DurationSec <= 0 {
		return fmt.Errorf("duration_sec must be positive, got %g", s.DurationSec)
	}
	if s.OutputChannels < s.NumSpeakers {
		return fmt.Errorf("output_channels (%d) must cover all %d speakers", s.OutputChannels, s.NumSpeakers)
	}
	if s.LevelDBFS > 0 {
		return fmt.Errorf("level_dbfs must not exceed 0 dB FS, got %g", s.LevelDBFS)
	}
	if s.CalLevelDBFS > 0 {
		return fmt.Errorf("cal_level_dbfs must not exceed 0 dB FS, got %g", s.CalLevelDBFS)
	}
	if s.AudioDevice < -1 {
		return fmt.Errorf("audio_device must be a device index or -1, got %d", s.AudioDevice)
	}
	if _, err := zerolog.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", s.LogLevel, err)
	}
	return nil
}

// Duration returns the stimulus duration as a time.Duration.
func (s Settings) Duration() time.Duration {
	return time.Duration(s.DurationSec * float64(time.Second))
}
