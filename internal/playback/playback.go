// Package playback presents prepared stimuli through an output device.
//
// The production implementation is [MiniaudioEngine]; [ScriptedEngine]
// stands in for it in tests and dry runs. Both accept a mono signal
// plus presentation parameters and take care of leveling and routing
// into an interleaved multichannel stream.
package playback

import (
	"context"
	"errors"
	"fmt"

	"github.com/hearlab/speaker-balancer/internal/stimulus"
)

var (
	// ErrInvalidDevice is returned when the requested output device
	// does not exist.
	ErrInvalidDevice = errors.New("playback: invalid output device")

	// ErrInvalidRouting is returned when the requested output channel
	// does not exist on the device.
	ErrInvalidRouting = errors.New("playback: invalid channel routing")

	// ErrClipping is returned when the presentation level would clip
	// the output.
	ErrClipping = errors.New("playback: presentation level clips")
)

// DefaultDevice selects the system default output device.
const DefaultDevice = -1

// Device identifies one enumerated output device.
type Device struct {
	Index     int
	Name      string
	IsDefault bool
}

// Request describes one presentation: a mono signal, the level to play
// it at, and where to send it.
type Request struct {
	// Samples is the mono signal to present. Its absolute scale is
	// ignored; the engine levels it to LevelDBFS.
	Samples []float64

	// SampleRate of Samples in Hz.
	SampleRate int

	// LevelDBFS is the RMS presentation level in dB FS.
	LevelDBFS float64

	// Device is an index into the engine's device list, or
	// DefaultDevice for the system default.
	Device int

	// Channel is the 0-indexed output channel the signal is routed to.
	Channel int

	// OutputChannels is the total channel count of the output stream.
	OutputChannels int
}

// Engine is the playback collaborator used by the calibration
// workflow. Play blocks until the stimulus has been presented or ctx
// is cancelled.
type Engine interface {
	Devices(ctx context.Context) ([]Device, error)
	Play(ctx context.Context, req Request) error
	Close() error
}

// prepare levels and routes the request's mono signal into an
// interleaved frame stream, translating stimulus failures into
// playback sentinels.
func prepare(req Request) ([]float64, error) {
	if len(req.Samples) == 0 {
		return nil, errors.New("playback: empty stimulus")
	}
	if req.SampleRate <= 0 {
		return nil, fmt.Errorf("playback: invalid sample rate %d", req.SampleRate)
	}

	leveled, err := stimulus.ApplyLevel(req.Samples, req.LevelDBFS)
	if err != nil {
		if errors.Is(err, stimulus.ErrClipping) {
			return nil, fmt.Errorf("level %.1f dB FS: %w", req.LevelDBFS, ErrClipping)
		}
		return nil, err
	}

	routed, err := stimulus.Route(leveled, req.Channel, req.OutputChannels)
	if err != nil {
		return nil, fmt.Errorf("channel %d of %d: %w", req.Channel, req.OutputChannels, ErrInvalidRouting)
	}
	return routed, nil
}
