package balancer

import "errors"

var (
	// ErrNoReference is returned by CalcOffset when a non-reference
	// channel is submitted before channel 0 has ever been measured.
	// Callers should prompt the operator to measure channel 0 first.
	ErrNoReference = errors.New("no reference level: measure channel 0 first")

	// ErrUnknownChannel is returned when a channel index does not
	// identify a speaker in the registry. Channels are assigned
	// sequentially at setup time, so hitting this indicates a caller
	// bug or a configuration mismatch rather than an operator mistake.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrDuplicateChannel is returned by AddSpeaker when the channel
	// is already present.
	ErrDuplicateChannel = errors.New("duplicate channel")
)
