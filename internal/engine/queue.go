package engine

import (
	"sync"

	"github.com/roach88/plughost/internal/ir"
)

// eventQueue is a thread-safe FIFO of events raised outside OnTimer
// (by ModifyGraph, DeactivateEngine or a crash) that the next OnTimer
// call delivers ahead of its own events.
//
// The queue uses a channel for signaling so an embedder's timer loop can
// wake early instead of sleeping until the next deadline.
type eventQueue struct {
	mu     sync.Mutex
	events []ir.Event
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]ir.Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds events to the back of the queue.
func (q *eventQueue) Enqueue(events ...ir.Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, events...)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Drain appends every queued event to out, empties the queue and returns
// out.
func (q *eventQueue) Drain(out []ir.Event) []ir.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out = append(out, q.events...)
	// Nil out the slots so payload pointers can be collected.
	clear(q.events)
	q.events = q.events[:0]
	return out
}

// Wait returns a channel that signals when events may be available.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
