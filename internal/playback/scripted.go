package playback

import (
	"context"
	"sync"
	"time"
)

// ScriptedEngine is an Engine for tests and dry runs. It validates and
// records requests without touching any audio hardware, optionally
// blocking to simulate playback duration and failing on demand.
type ScriptedEngine struct {
	mu       sync.Mutex
	requests []Request

	// DeviceList is returned by Devices.
	DeviceList []Device

	// PlayErr, when set, is returned by every Play call after the
	// request has been validated.
	PlayErr error

	// BlockFor simulates playback duration; Play waits this long
	// (honoring ctx) after recording the request.
	BlockFor time.Duration
}

// NewScripted returns a scripted engine with a single default device.
func NewScripted() *ScriptedEngine {
	return &ScriptedEngine{
		DeviceList: []Device{{Index: 0, Name: "scripted output", IsDefault: true}},
	}
}

// Devices returns the scripted device list.
func (e *ScriptedEngine) Devices(_ context.Context) ([]Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Device(nil), e.DeviceList...), nil
}

// Play validates the request exactly like the real engine, records it,
// then blocks for BlockFor or until ctx is cancelled.
func (e *ScriptedEngine) Play(ctx context.Context, req Request) error {
	if _, err := prepare(req); err != nil {
		return err
	}

	e.mu.Lock()
	e.requests = append(e.requests, req)
	playErr := e.PlayErr
	blockFor := e.BlockFor
	e.mu.Unlock()

	if playErr != nil {
		return playErr
	}
	if blockFor > 0 {
		select {
		case <-time.After(blockFor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close is a no-op.
func (e *ScriptedEngine) Close() error { return nil }

// Requests returns a copy of the recorded requests in play order.
func (e *ScriptedEngine) Requests() []Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Request(nil), e.requests...)
}
