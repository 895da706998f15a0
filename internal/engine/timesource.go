package engine

import "time"

// TimeSource supplies the instants the timer wheel is driven with.
// Implemented by SystemTime (production) and testutil.ManualClock (tests).
type TimeSource interface {
	Now() time.Time
}

// SystemTime reads the wall clock.
//
// Thread-safety: SystemTime is stateless and safe for concurrent use.
type SystemTime struct{}

// Now returns time.Now().
func (SystemTime) Now() time.Time { return time.Now() }
