package playback

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

const (
	bytesPerFloat32Sample = 4

	// drainGrace gives the device buffer time to empty after the last
	// frame has been handed to the driver.
	drainGrace = 100 * time.Millisecond
)

// MiniaudioEngine plays stimuli through the operating system's audio
// stack via miniaudio. One engine owns one miniaudio context; it is
// safe for sequential use and must be closed when done.
type MiniaudioEngine struct {
	ctx *malgo.AllocatedContext
	log zerolog.Logger
}

// NewMiniaudio initializes a miniaudio context using the platform's
// default backend.
func NewMiniaudio(log zerolog.Logger) (*MiniaudioEngine, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug().Str("component", "miniaudio").Msg(strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &MiniaudioEngine{ctx: mctx, log: log}, nil
}

// Devices enumerates the available playback devices.
func (e *MiniaudioEngine) Devices(_ context.Context) ([]Device, error) {
	infos, err := e.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate playback devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Device{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// Play presents the request and blocks until the stimulus has drained
// or ctx is cancelled.
func (e *MiniaudioEngine) Play(ctx context.Context, req Request) error {
	frames, err := prepare(req)
	if err != nil {
		return err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = uint32(req.OutputChannels)
	cfg.SampleRate = uint32(req.SampleRate)

	if req.Device != DefaultDevice {
		infos, err := e.ctx.Devices(malgo.Playback)
		if err != nil {
			return fmt.Errorf("failed to enumerate playback devices: %w", err)
		}
		if req.Device < 0 || req.Device >= len(infos) {
			return fmt.Errorf("device %d of %d: %w", req.Device, len(infos), ErrInvalidDevice)
		}
		cfg.Playback.DeviceID = infos[req.Device].ID.Pointer()
	}

	// Encode the whole stimulus up front; the data callback only
	// copies chunks, keeping the audio thread allocation-free.
	pcm := make([]byte, len(frames)*bytesPerFloat32Sample)
	for i, s := range frames {
		binary.LittleEndian.PutUint32(
			pcm[i*bytesPerFloat32Sample:],
			math.Float32bits(float32(s)),
		)
	}

	done := make(chan struct{})
	var closeOnce sync.Once
	var pos int
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			n := copy(out, pcm[pos:])
			pos += n
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
			if pos >= len(pcm) {
				closeOnce.Do(func() { close(done) })
			}
		},
	}

	dev, err := malgo.InitDevice(e.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("failed to open playback device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	e.log.Debug().
		Int("channel", req.Channel).
		Int("output_channels", req.OutputChannels).
		Float64("level_dbfs", req.LevelDBFS).
		Int("frames", len(frames)/req.OutputChannels).
		Msg("playback started")

	select {
	case <-done:
		// The driver has the final chunk; let the hardware buffer
		// empty before tearing the device down.
		select {
		case <-time.After(drainGrace):
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the miniaudio context.
func (e *MiniaudioEngine) Close() error {
	if err := e.ctx.Uninit(); err != nil {
		return fmt.Errorf("failed to release audio context: %w", err)
	}
	e.ctx.Free()
	return nil
}
