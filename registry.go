package balancer

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// ReferenceChannel is the channel whose meter reading establishes the
// reference level all other offsets are computed against.
const ReferenceChannel = 0

// offsetScale controls offset rounding: offsets are reported to one
// decimal place, matching the resolution of a typical sound level meter.
const offsetScale = 10.0

// Speaker is the calibration record for one physical output channel.
//
// MeterReading and Offset are nil until a reading has been submitted
// for the channel. Invariant: Calibrated is true iff Offset is non-nil.
type Speaker struct {
	// Channel is the 0-indexed output channel, stable for the life of
	// the record and unique within a registry.
	Channel int

	// MeterReading is the last SLM reading submitted for this channel,
	// in dB SPL.
	MeterReading *float64

	// Offset is the dB correction (reference minus reading, rounded to
	// one decimal place) that brings this channel in line with the
	// reference speaker.
	Offset *float64

	// Calibrated reports whether an offset has been computed at least
	// once for this channel.
	Calibrated bool

	// refGen is the reference generation the offset was computed
	// under; see Registry.StaleOffsets.
	refGen uint64
}

// Registry owns the ordered set of speaker records for one session.
// It is created once with a fixed channel count and never resized.
//
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	speakers []Speaker
	refLevel *float64
	refGen   uint64
	log      zerolog.Logger
}

// NewRegistry returns a registry populated with speakers for channels
// 0 through numSpeakers-1, none of them calibrated.
func NewRegistry(numSpeakers int) *Registry {
	r := &Registry{
		speakers: make([]Speaker, 0, numSpeakers),
		log:      zerolog.Nop(),
	}
	for ch := range numSpeakers {
		r.speakers = append(r.speakers, Speaker{Channel: ch})
	}
	return r
}

// WithLogger returns the registry with its debug logger replaced.
// The default logger discards everything.
func (r *Registry) WithLogger(log zerolog.Logger) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = log
	return r
}

// AddSpeaker appends a speaker record for the given channel. Channels
// must be added in order; the registry rejects duplicates and gaps.
func (r *Registry) AddSpeaker(channel int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch next := len(r.speakers); {
	case channel < next:
		return fmt.Errorf("add speaker %d: %w", channel, ErrDuplicateChannel)
	case channel > next:
		return fmt.Errorf("add speaker %d: next channel is %d: %w", channel, next, ErrUnknownChannel)
	}
	r.speakers = append(r.speakers, Speaker{Channel: channel})
	r.log.Debug().Int("channel", channel).Msg("speaker added")
	return nil
}

// CalcOffset records an SLM reading for the given channel and computes
// its offset relative to the reference level.
//
// Channel 0 always re-establishes the reference, even on repeat calls.
// If the reference level changes, offsets previously computed against
// the old reference are left untouched but become reportable via
// StaleOffsets.
//
// Returns ErrNoReference when the reference has never been set and
// ErrUnknownChannel when the channel is out of range.
func (r *Registry) CalcOffset(channel int, slmLevel float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channel < 0 || channel >= len(r.speakers) {
		return 0, fmt.Errorf("calc offset for channel %d of %d: %w", channel, len(r.speakers), ErrUnknownChannel)
	}

	if channel == ReferenceChannel {
		if r.refLevel != nil && *r.refLevel != slmLevel {
			r.refGen++
			r.log.Debug().
				Float64("old_reference", *r.refLevel).
				Float64("new_reference", slmLevel).
				Msg("reference level changed; earlier offsets are stale")
		}
		level := slmLevel
		r.refLevel = &level
	}

	if r.refLevel == nil {
		return 0, fmt.Errorf("channel %d: %w", channel, ErrNoReference)
	}

	offset := roundOffset(*r.refLevel - slmLevel)

	sp := &r.speakers[channel]
	reading := slmLevel
	sp.MeterReading = &reading
	sp.Offset = &offset
	sp.Calibrated = true
	sp.refGen = r.refGen

	r.log.Debug().
		Int("channel", channel).
		Float64("slm_level", slmLevel).
		Float64("offset", offset).
		Msg("offset calculated")
	return offset, nil
}

// MissingOffsets returns, in channel order, the channels that have
// never been calibrated. Intended as a pre-export warning.
func (r *Registry) MissingOffsets() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	missing := []int{}
	for i := range r.speakers {
		if !r.speakers[i].Calibrated {
			missing = append(missing, r.speakers[i].Channel)
		}
	}
	return missing
}

// StaleOffsets returns, in channel order, the calibrated channels whose
// offset was computed against a reference level that has since changed.
// Re-submitting the same reference level does not mark anything stale.
func (r *Registry) StaleOffsets() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := []int{}
	for i := range r.speakers {
		if r.speakers[i].Calibrated && r.speakers[i].refGen != r.refGen {
			stale = append(stale, r.speakers[i].Channel)
		}
	}
	return stale
}

// Snapshot returns the channel-to-offset mapping for every speaker in
// the registry. Uncalibrated channels map to nil. The returned values
// are copies; mutating them does not affect the registry.
func (r *Registry) Snapshot() map[int]*float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make(map[int]*float64, len(r.speakers))
	for i := range r.speakers {
		sp := &r.speakers[i]
		if sp.Offset != nil {
			offset := *sp.Offset
			data[sp.Channel] = &offset
		} else {
			data[sp.Channel] = nil
		}
	}
	return data
}

// Speaker returns a copy of the record for the given channel.
func (r *Registry) Speaker(channel int) (Speaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if channel < 0 || channel >= len(r.speakers) {
		return Speaker{}, fmt.Errorf("speaker %d of %d: %w", channel, len(r.speakers), ErrUnknownChannel)
	}
	sp := r.speakers[channel]
	if sp.MeterReading != nil {
		reading := *sp.MeterReading
		sp.MeterReading = &reading
	}
	if sp.Offset != nil {
		offset := *sp.Offset
		sp.Offset = &offset
	}
	return sp, nil
}

// NumSpeakers returns the configured channel count.
func (r *Registry) NumSpeakers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.speakers)
}

// ReferenceLevel returns the current reference level and whether one
// has been established.
func (r *Registry) ReferenceLevel() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refLevel == nil {
		return 0, false
	}
	return *r.refLevel, true
}

func roundOffset(v float64) float64 {
	return math.Round(v*offsetScale) / offsetScale
}
