package schedule

import (
	"sync/atomic"

	"github.com/roach88/plughost/internal/collector"
)

// Handle is a collector handle to a schedule.
type Handle = collector.Handle[*Schedule]

// SharedSchedule hands newly compiled schedules from the control thread to
// the audio thread. It is a single-slot mailbox: Publish replaces any
// schedule the audio thread has not picked up yet, so the reader always
// gets the latest one. Neither side ever blocks.
type SharedSchedule struct {
	cell atomic.Pointer[Handle]
	// published counts Publish calls; picked counts schedules the audio
	// thread adopted.
	published atomic.Uint64
	picked    atomic.Uint64
}

// NewSharedSchedule creates an empty mailbox.
func NewSharedSchedule() *SharedSchedule {
	return &SharedSchedule{}
}

// Publish hands h to the audio thread. The mailbox takes over the caller's
// reference. A schedule that was published but never picked up is dropped.
// Control thread only.
func (s *SharedSchedule) Publish(h *Handle) {
	s.published.Add(1)
	if old := s.cell.Swap(h); old != nil {
		old.Drop()
	}
}

// Take returns the newest unpicked schedule, or nil. The caller owns the
// returned reference. Audio thread only.
func (s *SharedSchedule) Take() *Handle {
	h := s.cell.Swap(nil)
	if h != nil {
		s.picked.Add(1)
	}
	return h
}

// Pending reports whether a published schedule is waiting to be picked up.
func (s *SharedSchedule) Pending() bool {
	return s.cell.Load() != nil
}

// Counts returns how many schedules were published and picked up.
func (s *SharedSchedule) Counts() (published, picked uint64) {
	return s.published.Load(), s.picked.Load()
}

// Close drops any unpicked schedule. Control thread only, after the runner
// has stopped.
func (s *SharedSchedule) Close() {
	if old := s.cell.Swap(nil); old != nil {
		old.Drop()
	}
}
