package balancer

// SLMCalibration relates the digital presentation level of a stimulus
// to the sound pressure level measured by the meter.
//
// The calibration stimulus is played at a known dB FS level
// (CalLevelDB) and the operator records the resulting meter reading
// (SLMReading, dB SPL). The difference between the two is the fixed
// gain of the playback chain, which then converts any desired SPL into
// the dB FS level that produces it.
type SLMCalibration struct {
	// CalLevelDB is the digital level the calibration stimulus was
	// presented at, in dB FS.
	CalLevelDB float64

	// SLMReading is the sound level measured during calibration,
	// in dB SPL.
	SLMReading float64
}

// Offset returns the playback-chain gain in dB: the measured SPL minus
// the digital level that produced it.
func (c SLMCalibration) Offset() float64 {
	return c.SLMReading - c.CalLevelDB
}

// LevelFor returns the dB FS presentation level that produces the
// desired SPL at the measurement position.
func (c SLMCalibration) LevelFor(desiredSPL float64) float64 {
	return desiredSPL - c.Offset()
}
