// Package wavefile reads and writes the WAV files used for
// calibration stimuli: writing generated noise out for reuse with
// other playback systems, and loading custom calibration signals.
package wavefile

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavAudioFormatPCM = 1

	// DefaultBitDepth is the bit depth stimuli are written at.
	DefaultBitDepth = 16
)

// Info describes a WAV file's format.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// WriteMono encodes float64 samples in [-1, 1] as a mono PCM WAV file.
// Samples outside full scale are clamped.
func WriteMono(path string, samples []float64, sampleRate, bitDepth int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, wavAudioFormatPCM)

	fullScale := float64(int(1)<<(bitDepth-1) - 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		v := math.Round(s * fullScale)
		if v > fullScale {
			v = fullScale
		} else if v < -fullScale-1 {
			v = -fullScale - 1
		}
		data[i] = int(v)
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		_ = f.Close()
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return f.Close()
}

// Probe validates a WAV file and returns its format information.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Info{}, fmt.Errorf("invalid WAV file: %s", path)
	}

	format := dec.Format()
	dur, err := dec.Duration()
	if err != nil {
		dur = 0
	}
	return Info{
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
		BitDepth:   int(dec.BitDepth),
		Duration:   dur,
	}, nil
}

// ReadMono decodes a WAV file to float64 samples in [-1, 1] and
// returns them with the file's sample rate. Multichannel files are
// reduced to their first channel.
func ReadMono(path string) ([]float64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid WAV file: %s", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode WAV data: %w", err)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}
	fullScale := float64(int(1) << (bitDepth - 1))

	channels := buf.Format.NumChannels
	samples := make([]float64, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, float64(buf.Data[i])/fullScale)
	}
	return samples, buf.Format.SampleRate, nil
}
