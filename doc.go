// Package balancer implements the core bookkeeping for balancing the
// output levels of a multi-loudspeaker array using readings from an
// external sound level meter (SLM).
//
// The workflow it supports is simple: a known stimulus is presented
// through one speaker at a time, the operator reads the measured sound
// level off the meter and submits it, and the registry computes the dB
// correction (offset) that would bring that speaker in line with the
// reference speaker (channel 0).
//
// # Quick Start
//
//	reg := balancer.NewRegistry(4)
//
//	// Channel 0 establishes the reference level.
//	offset, err := reg.CalcOffset(0, 70.0) // offset == 0.0
//
//	// Subsequent channels are corrected relative to it.
//	offset, err = reg.CalcOffset(1, 75.0) // offset == -5.0
//
//	// Before exporting, check which channels were skipped.
//	missing := reg.MissingOffsets()
//	data := reg.Snapshot()
//
// Submitting a non-reference channel before channel 0 has ever been
// measured fails with [ErrNoReference]; callers should prompt the
// operator to measure the reference speaker first.
//
// # Reference Recalibration
//
// Channel 0 always re-establishes the reference, even on repeat calls.
// Offsets computed under an earlier reference level are left untouched
// but are reported by [Registry.StaleOffsets] so callers can warn the
// operator or re-run those channels.
//
// # Thread Safety
//
// A [Registry] is safe for concurrent use. An interactive caller and a
// background sweep may submit readings at the same time; each
// read-modify-write runs under an internal lock.
//
// The package also provides [SLMCalibration], the small model relating
// digital presentation levels (dB FS) to measured sound pressure levels
// through a meter-derived correction.
package balancer
