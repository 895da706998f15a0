// Package timer implements the control thread's timer wheel: a
// deadline-sorted set of periodic entries for the idle tick, the garbage
// collection tick and per-plugin timers.
//
// The wheel never reads the wall clock itself. Callers pass "now" to every
// operation, which keeps it deterministic under test.
package timer

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/roach88/plughost/internal/ir"
)

// MinPeriod is the shortest period an entry may have. Shorter requests are
// raised to it so Advance always terminates.
const MinPeriod = time.Millisecond

// KeyKind distinguishes the three kinds of timer entry.
type KeyKind int

const (
	// KeyMainIdle drives every plugin host's idle processing.
	KeyMainIdle KeyKind = iota
	// KeyGarbageCollect drives Collector.Collect.
	KeyGarbageCollect
	// KeyPluginTimer is a timer registered by a plugin.
	KeyPluginTimer
)

// Key identifies a timer entry. PluginID and TimerID are only meaningful for
// KeyPluginTimer.
type Key struct {
	Kind     KeyKind
	PluginID uint64
	TimerID  ir.TimerID
}

// String implements fmt.Stringer.
func (k Key) String() string {
	switch k.Kind {
	case KeyMainIdle:
		return "main_idle"
	case KeyGarbageCollect:
		return "garbage_collect"
	default:
		return fmt.Sprintf("plugin_timer(%d,%d)", k.PluginID, k.TimerID)
	}
}

// MainIdleKey is the key of the idle tick.
func MainIdleKey() Key { return Key{Kind: KeyMainIdle} }

// GarbageCollectKey is the key of the garbage collection tick.
func GarbageCollectKey() Key { return Key{Kind: KeyGarbageCollect} }

// PluginTimerKey is the key of one plugin timer.
func PluginTimerKey(pluginID uint64, timerID ir.TimerID) Key {
	return Key{Kind: KeyPluginTimer, PluginID: pluginID, TimerID: timerID}
}

type entry struct {
	deadline time.Time
	period   time.Duration
	key      Key
	seq      uint64 // registration order, breaks deadline ties
	index    int
}

// entryHeap implements container/heap.Interface as a min-heap on deadline.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is the timer wheel. It is not safe for concurrent use; only the
// control thread touches it.
type Wheel struct {
	entries entryHeap
	byKey   map[Key]*entry
	seq     uint64
}

// New creates an empty wheel.
func New() *Wheel {
	return &Wheel{byKey: make(map[Key]*entry)}
}

// Register arms key to fire first at now+period and then every period.
// Registering an existing key replaces its period and deadline.
func (w *Wheel) Register(now time.Time, key Key, period time.Duration) {
	if period < MinPeriod {
		period = MinPeriod
	}
	if e, ok := w.byKey[key]; ok {
		e.period = period
		e.deadline = now.Add(period)
		heap.Fix(&w.entries, e.index)
		return
	}
	w.seq++
	e := &entry{deadline: now.Add(period), period: period, key: key, seq: w.seq}
	heap.Push(&w.entries, e)
	w.byKey[key] = e
}

// RegisterMainIdle arms the idle tick.
func (w *Wheel) RegisterMainIdle(now time.Time, period time.Duration) {
	w.Register(now, MainIdleKey(), period)
}

// RegisterGarbageCollect arms the garbage collection tick.
func (w *Wheel) RegisterGarbageCollect(now time.Time, period time.Duration) {
	w.Register(now, GarbageCollectKey(), period)
}

// RegisterPluginTimer arms a plugin timer.
func (w *Wheel) RegisterPluginTimer(now time.Time, pluginID uint64, timerID ir.TimerID, period time.Duration) {
	w.Register(now, PluginTimerKey(pluginID, timerID), period)
}

// Unregister removes key. It reports whether the key was registered.
func (w *Wheel) Unregister(key Key) bool {
	e, ok := w.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&w.entries, e.index)
	delete(w.byKey, key)
	return true
}

// UnregisterPluginTimer removes one plugin timer.
func (w *Wheel) UnregisterPluginTimer(pluginID uint64, timerID ir.TimerID) bool {
	return w.Unregister(PluginTimerKey(pluginID, timerID))
}

// UnregisterAllOnPlugin removes every timer of pluginID and returns how
// many were removed. Called when a plugin is scheduled for removal so no
// timer can fire for a deleted plugin.
func (w *Wheel) UnregisterAllOnPlugin(pluginID uint64) int {
	var keys []Key
	for k := range w.byKey {
		if k.Kind == KeyPluginTimer && k.PluginID == pluginID {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		w.Unregister(k)
	}
	return len(keys)
}

// Advance appends to out every key whose deadline is at or before now, in
// deadline order, re-arms each at now+period and returns out.
func (w *Wheel) Advance(now time.Time, out []Key) []Key {
	for len(w.entries) > 0 {
		e := w.entries[0]
		if e.deadline.After(now) {
			break
		}
		out = append(out, e.key)
		e.deadline = now.Add(e.period)
		w.seq++
		e.seq = w.seq
		heap.Fix(&w.entries, 0)
	}
	return out
}

// NextExpectedTick returns the earliest remaining deadline. ok is false
// when the wheel is empty.
func (w *Wheel) NextExpectedTick() (next time.Time, ok bool) {
	if len(w.entries) == 0 {
		return time.Time{}, false
	}
	return w.entries[0].deadline, true
}

// Len returns the number of registered entries.
func (w *Wheel) Len() int {
	return len(w.entries)
}
