// Package stimulus generates and conditions the white-noise test
// signals presented through each speaker during balancing.
//
// Levels follow the dB FS convention: 0 dB FS is a full-scale sine,
// and RMS levels are relative to full scale. Presentation levels are
// kept well below 0 dB FS; the Gaussian crest factor means an RMS
// target above roughly -12 dB FS will clip.
package stimulus

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrClipping is returned when scaling to the requested level
	// would push samples beyond full scale.
	ErrClipping = errors.New("stimulus: requested level clips full scale")

	// ErrInvalidRouting is returned when the routing target channel
	// does not exist in the output frame.
	ErrInvalidRouting = errors.New("stimulus: routing target out of range")
)

const dbFactor = 20.0 // amplitude dB: 20*log10(a)

// Noise returns dur seconds of white Gaussian noise at the given
// sample rate, normalized to unit RMS. Use ApplyLevel to bring it to a
// presentation level.
func Noise(dur time.Duration, sampleRate int) []float64 {
	n := int(math.Round(dur.Seconds() * float64(sampleRate)))
	if n <= 0 {
		return nil
	}
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = rand.NormFloat64()
	}
	rms := RMS(samples)
	if rms > 0 {
		for i := range samples {
			samples[i] /= rms
		}
	}
	return samples
}

// ApplyLevel returns a copy of samples scaled to the given RMS level in
// dB FS. It fails with ErrClipping when any scaled sample would exceed
// full scale.
func ApplyLevel(samples []float64, levelDBFS float64) ([]float64, error) {
	rms := RMS(samples)
	if rms == 0 {
		return nil, errors.New("stimulus: cannot level a silent signal")
	}
	gain := math.Pow(10, levelDBFS/dbFactor) / rms

	out := make([]float64, len(samples))
	for i, s := range samples {
		v := s * gain
		if math.Abs(v) > 1 {
			return nil, fmt.Errorf("sample %d at %.1f dB FS: %w", i, levelDBFS, ErrClipping)
		}
		out[i] = v
	}
	return out, nil
}

// Ramp applies raised-cosine onset and offset ramps of the given
// duration in place and returns samples. Ramps longer than half the
// signal are shortened to fit.
func Ramp(samples []float64, sampleRate int, ramp time.Duration) []float64 {
	rampLen := int(math.Round(ramp.Seconds() * float64(sampleRate)))
	if rampLen > len(samples)/2 {
		rampLen = len(samples) / 2
	}
	if rampLen <= 0 {
		return samples
	}

	// A Hann window of twice the ramp length: the first half rises
	// 0 -> 1, the second half falls 1 -> 0.
	env := make([]float64, 2*rampLen)
	for i := range env {
		env[i] = 1
	}
	window.Hann(env)

	for i := range rampLen {
		samples[i] *= env[i]
		samples[len(samples)-rampLen+i] *= env[rampLen+i]
	}
	return samples
}

// Route places a mono signal on one channel of an interleaved
// multichannel frame, with silence everywhere else.
func Route(samples []float64, channel, numChannels int) ([]float64, error) {
	if numChannels <= 0 || channel < 0 || channel >= numChannels {
		return nil, fmt.Errorf("channel %d of %d: %w", channel, numChannels, ErrInvalidRouting)
	}
	out := make([]float64, len(samples)*numChannels)
	for i, s := range samples {
		out[i*numChannels+channel] = s
	}
	return out, nil
}

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(stat.MomentAbout(2, samples, 0, nil))
}

// LevelDB returns the RMS level of samples in dB FS. Silence reports
// negative infinity.
func LevelDB(samples []float64) float64 {
	rms := RMS(samples)
	if rms == 0 {
		return math.Inf(-1)
	}
	return dbFactor * math.Log10(rms)
}

// PeakDB returns the peak sample magnitude in dB FS. Silence reports
// negative infinity.
func PeakDB(samples []float64) float64 {
	peak := 0.0
	for _, s := range samples {
		if a := math.Abs(s); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return math.Inf(-1)
	}
	return dbFactor * math.Log10(peak)
}
