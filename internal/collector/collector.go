// Package collector provides deferred, real-time-safe reclamation of objects
// shared between the control thread and the audio thread.
//
// Every shared object is registered with a Collector and referenced through a
// reference-counted Handle. Dropping the last reference never runs the
// object's teardown; it only links the handle onto the collector's retire
// stack. The control thread calls Collect from its idle tick to run the
// teardowns of everything retired since the previous call.
//
// Drop and Clone are lock-free and allocation-free, so they are safe on the
// audio thread. Register and Collect are control-thread only.
package collector

import (
	"sync/atomic"
)

// retirable is the type-erased view of a Handle on the retire stack.
type retirable interface {
	teardownNow()
}

// link is the intrusive retire-stack node embedded in every Handle.
type link struct {
	next  *link
	owner retirable
}

// Collector owns the retire stack of dropped handles.
//
// A Collector is an explicit context object: the engine constructs one at
// startup and passes it to every component that shares objects with the
// audio thread.
type Collector struct {
	retired atomic.Pointer[link]
	live    atomic.Int64
	pending atomic.Int64
}

// New creates an empty Collector.
func New() *Collector {
	return &Collector{}
}

// Handle is a reference-counted reference to a shared value.
type Handle[T any] struct {
	link
	c        *Collector
	refs     atomic.Int32
	value    T
	teardown func(T)
}

// Register hands v to the collector and returns the first handle to it
// (reference count 1). teardown runs on the control thread during Collect
// after the last handle is dropped; it may be nil.
func Register[T any](c *Collector, v T, teardown func(T)) *Handle[T] {
	h := &Handle[T]{c: c, value: v, teardown: teardown}
	h.link.owner = h
	h.refs.Store(1)
	c.live.Add(1)
	return h
}

// Get returns the shared value. It must not be called after the caller's
// reference was dropped.
func (h *Handle[T]) Get() T {
	return h.value
}

// Clone adds a reference and returns h for chaining.
func (h *Handle[T]) Clone() *Handle[T] {
	if h.refs.Add(1) <= 1 {
		panic("collector: Clone on a handle with no live references")
	}
	return h
}

// Drop releases one reference. When the count reaches zero the handle is
// pushed onto the retire stack; the teardown runs in a later Collect.
func (h *Handle[T]) Drop() {
	n := h.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("collector: handle dropped more times than it was referenced")
	}
	h.c.pending.Add(1)
	for {
		head := h.c.retired.Load()
		h.link.next = head
		if h.c.retired.CompareAndSwap(head, &h.link) {
			return
		}
	}
}

// Refs returns the current reference count. Intended for tests and logs.
func (h *Handle[T]) Refs() int32 {
	return h.refs.Load()
}

func (h *Handle[T]) teardownNow() {
	if h.teardown != nil {
		h.teardown(h.value)
	}
	var zero T
	h.value = zero
}

// Collect runs the teardown of every handle retired since the previous call
// and returns how many were reclaimed. Control thread only.
func (c *Collector) Collect() int {
	head := c.retired.Swap(nil)
	n := 0
	for l := head; l != nil; {
		next := l.next
		l.next = nil
		l.owner.teardownNow()
		l.owner = nil
		l = next
		n++
	}
	if n > 0 {
		c.pending.Add(int64(-n))
		c.live.Add(int64(-n))
	}
	return n
}

// Pending returns the number of handles dropped but not yet collected.
func (c *Collector) Pending() int64 {
	return c.pending.Load()
}

// Live returns the number of registered values not yet collected.
func (c *Collector) Live() int64 {
	return c.live.Load()
}
