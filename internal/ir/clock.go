package ir

import "sync/atomic"

// Clock is a monotonic logical counter.
//
// The engine uses one Clock for plugin unique ids, one for edge ids and one
// for schedule versions. Values are strictly increasing and never reused,
// even when the graph node index they accompany is.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// In practice only the control thread calls Next().
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start uint64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next value and increments the clock.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out without incrementing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}
