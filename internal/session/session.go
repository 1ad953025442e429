// Package session wires the speaker registry, stimulus generation,
// playback, and export into the balancing workflow: present noise
// through one speaker, submit the meter reading, repeat, save.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	balancer "github.com/hearlab/speaker-balancer"
	"github.com/hearlab/speaker-balancer/internal/config"
	"github.com/hearlab/speaker-balancer/internal/export"
	"github.com/hearlab/speaker-balancer/internal/playback"
	"github.com/hearlab/speaker-balancer/internal/stimulus"
	"github.com/hearlab/speaker-balancer/internal/wavefile"
)

// ErrSweepRunning is returned by RunSweep while a previous sweep is
// still in flight. A new sweep may only start once the old one has
// finished or been cancelled.
var ErrSweepRunning = errors.New("session: a sweep is already running")

const (
	// SampleRate is the fixed generation/playback rate for stimuli.
	SampleRate = 48000

	// rampDur keeps stimulus onsets and offsets click-free.
	rampDur = 10 * time.Millisecond
)

// Session drives one balancing session. It is safe for use from an
// interactive loop and a background sweep at the same time.
type Session struct {
	mu     sync.RWMutex
	cfg    config.Settings
	cal    balancer.SLMCalibration
	engine playback.Engine
	reg    *balancer.Registry
	log    zerolog.Logger

	// sweepSem makes RunSweep single-flight.
	sweepSem *semaphore.Weighted
}

// New builds a session for the configured speaker count.
func New(cfg config.Settings, engine playback.Engine, log zerolog.Logger) *Session {
	reg := balancer.NewRegistry(cfg.NumSpeakers).
		WithLogger(log.With().Str("component", "registry").Logger())
	return &Session{
		cfg:    cfg,
		engine: engine,
		reg:    reg,
		cal: balancer.SLMCalibration{
			CalLevelDB: cfg.CalLevelDBFS,
			SLMReading: cfg.SLMReading,
		},
		log:      log,
		sweepSem: semaphore.NewWeighted(1),
	}
}

// PlayChannel presents the balancing stimulus through one speaker and
// blocks until playback finishes or ctx is cancelled.
func (s *Session) PlayChannel(ctx context.Context, channel int) error {
	cfg := s.Settings()
	if channel < 0 || channel >= cfg.NumSpeakers {
		return fmt.Errorf("play channel %d of %d: %w", channel, cfg.NumSpeakers, balancer.ErrUnknownChannel)
	}

	noise := stimulus.Noise(cfg.Duration(), SampleRate)
	stimulus.Ramp(noise, SampleRate, rampDur)

	s.log.Info().
		Int("channel", channel).
		Float64("level_dbfs", cfg.LevelDBFS).
		Float64("duration_sec", cfg.DurationSec).
		Msg("presenting stimulus")

	return s.engine.Play(ctx, playback.Request{
		Samples:        noise,
		SampleRate:     SampleRate,
		LevelDBFS:      cfg.LevelDBFS,
		Device:         cfg.AudioDevice,
		Channel:        channel,
		OutputChannels: cfg.OutputChannels,
	})
}

// PlayCalibration presents the calibration stimulus at the calibration
// level through the reference speaker. With no calibration file
// configured, generated noise is used.
func (s *Session) PlayCalibration(ctx context.Context) error {
	cfg := s.Settings()
	samples := stimulus.Noise(cfg.Duration(), SampleRate)
	rate := SampleRate
	if cfg.CalFile != "" {
		var err error
		samples, rate, err = wavefile.ReadMono(cfg.CalFile)
		if err != nil {
			return fmt.Errorf("calibration file: %w", err)
		}
	}
	stimulus.Ramp(samples, rate, rampDur)

	s.log.Info().
		Str("cal_file", cfg.CalFile).
		Float64("level_dbfs", cfg.CalLevelDBFS).
		Msg("presenting calibration stimulus")

	return s.engine.Play(ctx, playback.Request{
		Samples:        samples,
		SampleRate:     rate,
		LevelDBFS:      cfg.CalLevelDBFS,
		Device:         cfg.AudioDevice,
		Channel:        balancer.ReferenceChannel,
		OutputChannels: cfg.OutputChannels,
	})
}

// Devices enumerates the playback devices of the underlying engine.
func (s *Session) Devices(ctx context.Context) ([]playback.Device, error) {
	return s.engine.Devices(ctx)
}

// Submit records a meter reading for a channel and returns the
// computed offset. A balancer.ErrNoReference result means the operator
// must measure the reference speaker first.
func (s *Session) Submit(channel int, slmLevel float64) (float64, error) {
	offset, err := s.reg.CalcOffset(channel, slmLevel)
	if err != nil {
		return 0, err
	}
	s.log.Info().
		Int("channel", channel).
		Float64("slm_level", slmLevel).
		Float64("offset", offset).
		Msg("reading submitted")
	return offset, nil
}

// Missing returns the channels that have not been calibrated yet.
func (s *Session) Missing() []int { return s.reg.MissingOffsets() }

// Stale returns the channels whose offsets predate the current
// reference level.
func (s *Session) Stale() []int { return s.reg.StaleOffsets() }

// Offsets returns the channel-to-offset snapshot.
func (s *Session) Offsets() map[int]*float64 { return s.reg.Snapshot() }

// Speaker returns the record for one channel.
func (s *Session) Speaker(channel int) (balancer.Speaker, error) {
	return s.reg.Speaker(channel)
}

// Save exports the current offsets to path as CSV.
func (s *Session) Save(path string) error {
	if err := export.WriteOffsets(path, s.reg.Snapshot()); err != nil {
		return err
	}
	s.log.Info().Str("path", path).Msg("offsets exported")
	return nil
}

// ExportPath returns the default export destination for the given
// time, honoring the configured export directory.
func (s *Session) ExportPath(now time.Time) string {
	return filepath.Join(s.Settings().ExportDir, export.Filename(now))
}

// RunSweep presents the stimulus through every speaker in channel
// order, blocking for each presentation. Only one sweep may run at a
// time; a second call fails fast with ErrSweepRunning. Cancelling ctx
// stops the sweep between or during presentations.
func (s *Session) RunSweep(ctx context.Context) error {
	if !s.sweepSem.TryAcquire(1) {
		return ErrSweepRunning
	}
	defer s.sweepSem.Release(1)

	numSpeakers := s.Settings().NumSpeakers
	s.log.Info().Int("speakers", numSpeakers).Msg("sweep started")
	for channel := range numSpeakers {
		if err := ctx.Err(); err != nil {
			s.log.Info().Int("channel", channel).Msg("sweep cancelled")
			return err
		}
		if err := s.PlayChannel(ctx, channel); err != nil {
			return fmt.Errorf("sweep at channel %d: %w", channel, err)
		}
	}
	s.log.Info().Msg("sweep finished")
	return nil
}

// Calibration returns the current SLM calibration model.
func (s *Session) Calibration() balancer.SLMCalibration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cal
}

// RecordCalReading updates the calibration model with a fresh meter
// reading taken while the calibration stimulus was playing.
func (s *Session) RecordCalReading(slmLevel float64) {
	s.mu.Lock()
	s.cal.SLMReading = slmLevel
	s.cfg.SLMReading = slmLevel
	offset := s.cal.Offset()
	s.mu.Unlock()

	s.log.Info().
		Float64("slm_reading", slmLevel).
		Float64("chain_offset", offset).
		Msg("calibration reading recorded")
}

// PresentationLevel returns the dB FS level that produces the desired
// SPL according to the current calibration.
func (s *Session) PresentationLevel(desiredSPL float64) float64 {
	return s.Calibration().LevelFor(desiredSPL)
}

// SetPresentation adjusts stimulus duration and level for subsequent
// presentations. The change is session-local until the caller saves
// the settings.
func (s *Session) SetPresentation(durationSec, levelDBFS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	next.DurationSec = durationSec
	next.LevelDBFS = levelDBFS
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// Settings returns a copy of the session's configuration.
func (s *Session) Settings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}
