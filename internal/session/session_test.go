package session

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	balancer "github.com/hearlab/speaker-balancer"
	"github.com/hearlab/speaker-balancer/internal/config"
	"github.com/hearlab/speaker-balancer/internal/playback"
	"github.com/hearlab/speaker-balancer/internal/wavefile"
)

func testSettings() config.Settings {
	cfg := config.Default()
	cfg.NumSpeakers = 3
	cfg.OutputChannels = 4
	cfg.DurationSec = 0.05
	return cfg
}

func newTestSession(cfg config.Settings) (*Session, *playback.ScriptedEngine) {
	engine := playback.NewScripted()
	return New(cfg, engine, zerolog.Nop()), engine
}

func TestPlayChannelRequest(t *testing.T) {
	s, engine := newTestSession(testSettings())

	require.NoError(t, s.PlayChannel(context.Background(), 2))

	reqs := engine.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, 2, req.Channel)
	assert.Equal(t, 4, req.OutputChannels)
	assert.Equal(t, SampleRate, req.SampleRate)
	assert.Equal(t, -30.0, req.LevelDBFS)
	assert.Equal(t, playback.DefaultDevice, req.Device)
	// 50 ms at 48 kHz
	assert.Len(t, req.Samples, 2400)
}

func TestPlayChannelUnknown(t *testing.T) {
	s, engine := newTestSession(testSettings())

	err := s.PlayChannel(context.Background(), 3)
	assert.ErrorIs(t, err, balancer.ErrUnknownChannel)
	assert.Empty(t, engine.Requests())
}

func TestSubmitWorkflow(t *testing.T) {
	s, _ := newTestSession(testSettings())

	// Reference must come first.
	_, err := s.Submit(1, 75)
	assert.ErrorIs(t, err, balancer.ErrNoReference)

	offset, err := s.Submit(0, 70)
	require.NoError(t, err)
	assert.Equal(t, 0.0, offset)

	offset, err = s.Submit(1, 75)
	require.NoError(t, err)
	assert.Equal(t, -5.0, offset)

	assert.Equal(t, []int{2}, s.Missing())
	assert.Empty(t, s.Stale())
}

func TestSaveWritesCSV(t *testing.T) {
	s, _ := newTestSession(testSettings())
	_, err := s.Submit(0, 70)
	require.NoError(t, err)
	_, err = s.Submit(2, 68)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "offsets.csv")
	require.NoError(t, s.Save(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"channel", "offset"},
		{"1", "0.0"},
		{"2", ""},
		{"3", "2.0"},
	}, records)
}

func TestExportPath(t *testing.T) {
	cfg := testSettings()
	cfg.ExportDir = "/data/lab"
	s, _ := newTestSession(cfg)

	now := time.Date(2026, time.August, 27, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "/data/lab/speaker_offsets_2026_Aug_27_0930.csv", s.ExportPath(now))
}

func TestRunSweepPlaysAllChannels(t *testing.T) {
	s, engine := newTestSession(testSettings())

	require.NoError(t, s.RunSweep(context.Background()))

	reqs := engine.Requests()
	require.Len(t, reqs, 3)
	for i, req := range reqs {
		assert.Equal(t, i, req.Channel)
	}
}

func TestRunSweepSingleFlight(t *testing.T) {
	s, engine := newTestSession(testSettings())
	engine.BlockFor = 200 * time.Millisecond

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.RunSweep(context.Background()) }()

	// Wait until the first sweep has begun presenting.
	require.Eventually(t, func() bool {
		return len(engine.Requests()) > 0
	}, 5*time.Second, time.Millisecond)

	err := s.RunSweep(context.Background())
	assert.ErrorIs(t, err, ErrSweepRunning)

	select {
	case err := <-firstDone:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("first sweep did not finish")
	}

	// With the first sweep done the guard is released.
	engine.BlockFor = 0
	assert.NoError(t, s.RunSweep(context.Background()))
}

func TestRunSweepCancellation(t *testing.T) {
	s, engine := newTestSession(testSettings())
	engine.BlockFor = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.RunSweep(ctx) }()

	require.Eventually(t, func() bool {
		return len(engine.Requests()) > 0
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not stop after cancellation")
	}
	assert.Less(t, len(engine.Requests()), 3, "cancelled sweep must not visit every channel")
}

func TestPlayCalibrationGeneratedNoise(t *testing.T) {
	s, engine := newTestSession(testSettings())

	require.NoError(t, s.PlayCalibration(context.Background()))

	reqs := engine.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, balancer.ReferenceChannel, reqs[0].Channel)
	assert.Equal(t, -30.0, reqs[0].LevelDBFS)
}

func TestPlayCalibrationFromFile(t *testing.T) {
	dir := t.TempDir()
	calPath := filepath.Join(dir, "cal_stim.wav")

	// 100 ms of quarter-scale noise-ish ramp as the cal file.
	samples := make([]float64, 4410)
	for i := range samples {
		samples[i] = 0.25 * float64(i%100) / 100
	}
	require.NoError(t, wavefile.WriteMono(calPath, samples, 44100, wavefile.DefaultBitDepth))

	cfg := testSettings()
	cfg.CalFile = calPath
	s, engine := newTestSession(cfg)

	require.NoError(t, s.PlayCalibration(context.Background()))

	reqs := engine.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 44100, reqs[0].SampleRate)
	assert.Len(t, reqs[0].Samples, len(samples))
}

func TestPlayCalibrationMissingFile(t *testing.T) {
	cfg := testSettings()
	cfg.CalFile = filepath.Join(t.TempDir(), "nope.wav")
	s, engine := newTestSession(cfg)

	assert.Error(t, s.PlayCalibration(context.Background()))
	assert.Empty(t, engine.Requests())
}

func TestCalibrationModel(t *testing.T) {
	s, _ := newTestSession(testSettings())

	// Defaults: cal level -30 dB FS, reading 70 dB SPL.
	assert.InDelta(t, 100.0, s.Calibration().Offset(), 1e-12)

	s.RecordCalReading(80)
	assert.InDelta(t, 110.0, s.Calibration().Offset(), 1e-12)
	assert.InDelta(t, -35.0, s.PresentationLevel(75), 1e-12)
	assert.Equal(t, 80.0, s.Settings().SLMReading)
}

func TestSetPresentation(t *testing.T) {
	s, engine := newTestSession(testSettings())

	require.NoError(t, s.SetPresentation(0.1, -20))
	require.NoError(t, s.PlayChannel(context.Background(), 0))

	reqs := engine.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, -20.0, reqs[0].LevelDBFS)
	assert.Len(t, reqs[0].Samples, 4800)

	assert.Error(t, s.SetPresentation(0, -20), "zero duration is rejected")
	assert.Error(t, s.SetPresentation(0.1, 5), "positive dB FS level is rejected")
}
