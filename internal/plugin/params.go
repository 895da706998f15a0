package plugin

import (
	"math"
	"sync/atomic"

	"github.com/roach88/plughost/internal/ir"
)

// ParamFlags describe a parameter's capabilities.
type ParamFlags uint32

const (
	ParamStepped ParamFlags = 1 << iota
	ParamPeriodic
	ParamHidden
	ParamReadOnly
	ParamBypass
	ParamAutomatable
	ParamModulatable
	ParamRequiresProcess
	ParamEnum
)

// Has reports whether all of f2 are set.
func (f ParamFlags) Has(f2 ParamFlags) bool { return f&f2 == f2 }

// ParamInfo describes one parameter.
type ParamInfo struct {
	ID      ir.ParamID `json:"id"`
	Name    string     `json:"name"`
	Module  string     `json:"module,omitempty"`
	Min     float64    `json:"min"`
	Max     float64    `json:"max"`
	Default float64    `json:"default"`
	Flags   ParamFlags `json:"flags"`
	// Cookie is an opaque plugin value echoed back on param events.
	Cookie uintptr `json:"-"`
}

// Clamp limits v to [Min, Max].
func (p ParamInfo) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return p.Default
	}
	return math.Max(p.Min, math.Min(p.Max, v))
}

// ParamUpdate is one drained slot of a ParamQueue. Value and Mod are only
// meaningful when HasValue / HasMod are set.
type ParamUpdate struct {
	HasValue     bool
	Value        float64
	HasMod       bool
	Mod          float64
	GestureBegin bool
	GestureEnd   bool
	// GestureEndFirst is set with both gesture flags when the end came
	// last but one: a gesture ended and a new one began. Otherwise a begin
	// and end drained together are one complete gesture.
	GestureEndFirst bool
}

const (
	slotValue uint32 = 1 << iota
	slotMod
	slotGestureBegin
	slotGestureEnd
	// slotLastBegin marks a begin as the latest gesture write.
	slotLastBegin
)

type paramSlot struct {
	id    ir.ParamID
	value atomic.Uint64
	mod   atomic.Uint64
	flags atomic.Uint32
}

// ParamQueue is a lock-free queue with one slot per parameter. A newer
// write to a slot replaces an undrained older one, so the consumer always
// sees the latest value. Gestures collapse to at most one begin and one
// end per drain, ordered so the final gesture state is kept. One producer
// and one consumer per queue.
type ParamQueue struct {
	slots []paramSlot
	index map[ir.ParamID]int
	dirty atomic.Bool
}

// NewParamQueue builds a queue for the given parameter ids.
func NewParamQueue(ids []ir.ParamID) *ParamQueue {
	q := &ParamQueue{
		slots: make([]paramSlot, len(ids)),
		index: make(map[ir.ParamID]int, len(ids)),
	}
	for i, id := range ids {
		q.slots[i].id = id
		q.index[id] = i
	}
	return q
}

func (q *ParamQueue) slot(id ir.ParamID) *paramSlot {
	i, ok := q.index[id]
	if !ok {
		return nil
	}
	return &q.slots[i]
}

// SetValue queues a value for id. It reports false for unknown ids.
func (q *ParamQueue) SetValue(id ir.ParamID, v float64) bool {
	s := q.slot(id)
	if s == nil {
		return false
	}
	s.value.Store(math.Float64bits(v))
	s.flags.Or(slotValue)
	q.dirty.Store(true)
	return true
}

// SetMod queues a modulation amount for id.
func (q *ParamQueue) SetMod(id ir.ParamID, amount float64) bool {
	s := q.slot(id)
	if s == nil {
		return false
	}
	s.mod.Store(math.Float64bits(amount))
	s.flags.Or(slotMod)
	q.dirty.Store(true)
	return true
}

// SetGesture queues a gesture begin or end for id.
func (q *ParamQueue) SetGesture(id ir.ParamID, begin bool) bool {
	s := q.slot(id)
	if s == nil {
		return false
	}
	for {
		old := s.flags.Load()
		f := old | slotGestureBegin | slotLastBegin
		if !begin {
			f = (old | slotGestureEnd) &^ slotLastBegin
		}
		if s.flags.CompareAndSwap(old, f) {
			break
		}
	}
	q.dirty.Store(true)
	return true
}

// Drain calls fn for every slot written since the previous Drain.
// It does not allocate.
func (q *ParamQueue) Drain(fn func(id ir.ParamID, u ParamUpdate)) {
	if !q.dirty.Swap(false) {
		return
	}
	for i := range q.slots {
		s := &q.slots[i]
		f := s.flags.Swap(0)
		if f == 0 {
			continue
		}
		u := ParamUpdate{
			HasValue:     f&slotValue != 0,
			HasMod:       f&slotMod != 0,
			GestureBegin: f&slotGestureBegin != 0,
			GestureEnd:   f&slotGestureEnd != 0,
		}
		u.GestureEndFirst = u.GestureBegin && u.GestureEnd && f&slotLastBegin != 0
		if u.HasValue {
			u.Value = math.Float64frombits(s.value.Load())
		}
		if u.HasMod {
			u.Mod = math.Float64frombits(s.mod.Load())
		}
		fn(s.id, u)
	}
}

// Len returns the number of parameter slots.
func (q *ParamQueue) Len() int { return len(q.slots) }
