package stimulus

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoiseLengthAndLevel(t *testing.T) {
	tests := []struct {
		name string
		dur  time.Duration
		rate int
		want int
	}{
		{"OneSecond48k", time.Second, 48000, 48000},
		{"HalfSecond44k1", 500 * time.Millisecond, 44100, 22050},
		{"TenMillis", 10 * time.Millisecond, 48000, 480},
		{"Zero", 0, 48000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := Noise(tt.dur, tt.rate)
			assert.Len(t, samples, tt.want)
			if tt.want > 0 {
				assert.InDelta(t, 1.0, RMS(samples), 1e-9, "noise is normalized to unit RMS")
			}
		})
	}
}

func TestApplyLevel(t *testing.T) {
	samples := Noise(200*time.Millisecond, 48000)

	out, err := ApplyLevel(samples, -30)
	require.NoError(t, err)
	assert.InDelta(t, -30.0, LevelDB(out), 1e-9)

	// The input must not be modified.
	assert.InDelta(t, 1.0, RMS(samples), 1e-9)
}

func TestApplyLevelClipping(t *testing.T) {
	samples := Noise(200*time.Millisecond, 48000)

	// Unit-RMS Gaussian noise scaled to 0 dB FS RMS always clips.
	_, err := ApplyLevel(samples, 0)
	assert.ErrorIs(t, err, ErrClipping)
}

func TestApplyLevelSilence(t *testing.T) {
	_, err := ApplyLevel(make([]float64, 100), -30)
	assert.Error(t, err)
}

func TestRamp(t *testing.T) {
	const rate = 48000
	samples := make([]float64, rate/10) // 100 ms of DC
	for i := range samples {
		samples[i] = 1
	}

	Ramp(samples, rate, 10*time.Millisecond)

	rampLen := rate / 100
	assert.Less(t, samples[0], 0.01, "onset starts near zero")
	assert.Less(t, samples[len(samples)-1], 0.01, "offset ends near zero")
	assert.InDelta(t, 1.0, samples[rampLen], 1e-3, "plateau begins after the onset ramp")
	assert.Equal(t, 1.0, samples[len(samples)/2], "middle is untouched")
}

func TestRampLongerThanSignal(t *testing.T) {
	samples := make([]float64, 10)
	for i := range samples {
		samples[i] = 1
	}

	// A ramp longer than the buffer must not panic; it is shortened to
	// half the signal on each side.
	Ramp(samples, 48000, time.Second)
	assert.Less(t, samples[0], 0.5)
	assert.Less(t, samples[9], 0.5)
}

func TestRoute(t *testing.T) {
	mono := []float64{0.5, -0.5, 0.25}

	out, err := Route(mono, 1, 4)
	require.NoError(t, err)
	require.Len(t, out, 12)

	for i, s := range mono {
		for ch := range 4 {
			got := out[i*4+ch]
			if ch == 1 {
				assert.Equal(t, s, got, "frame %d channel %d", i, ch)
			} else {
				assert.Zero(t, got, "frame %d channel %d", i, ch)
			}
		}
	}
}

func TestRouteInvalid(t *testing.T) {
	mono := []float64{1, 2, 3}

	_, err := Route(mono, 4, 4)
	assert.ErrorIs(t, err, ErrInvalidRouting)

	_, err = Route(mono, -1, 4)
	assert.ErrorIs(t, err, ErrInvalidRouting)

	_, err = Route(mono, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidRouting)
}

func TestMetering(t *testing.T) {
	// A full-scale square wave has RMS 1 and peak 1: 0 dB FS on both.
	square := []float64{1, -1, 1, -1}
	assert.InDelta(t, 0.0, LevelDB(square), 1e-12)
	assert.InDelta(t, 0.0, PeakDB(square), 1e-12)

	// Half scale is about -6 dB.
	half := []float64{0.5, -0.5}
	assert.InDelta(t, -6.02, PeakDB(half), 0.01)

	assert.True(t, math.IsInf(LevelDB(nil), -1))
	assert.True(t, math.IsInf(PeakDB(nil), -1))
}
