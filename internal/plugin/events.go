package plugin

import (
	"fmt"

	"github.com/roach88/plughost/internal/ir"
)

// EventKind tags an Event.
type EventKind uint8

const (
	EventNoteOn EventKind = iota
	EventNoteOff
	EventNoteChoke
	EventNoteEnd
	EventParamValue
	EventParamMod
	EventParamGestureBegin
	EventParamGestureEnd
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventNoteOn:
		return "note_on"
	case EventNoteOff:
		return "note_off"
	case EventNoteChoke:
		return "note_choke"
	case EventNoteEnd:
		return "note_end"
	case EventParamValue:
		return "param_value"
	case EventParamMod:
		return "param_mod"
	case EventParamGestureBegin:
		return "param_gesture_begin"
	case EventParamGestureEnd:
		return "param_gesture_end"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// IsNote reports whether the event travels on note ports.
func (k EventKind) IsNote() bool {
	return k <= EventNoteEnd
}

// Event is a timestamped note or parameter event. It is a plain value so
// buffers of events never allocate per event.
//
// Fields by kind:
//   - note events: Port, Channel, Key, NoteID, Velocity
//   - param events: ParamID, Value (value or modulation amount), Cookie
type Event struct {
	Time     uint32
	Kind     EventKind
	Port     uint16
	Channel  int16
	Key      int16
	NoteID   int32
	Velocity float64
	ParamID  ir.ParamID
	Value    float64
	Cookie   uintptr
}

// EventBuffer is a fixed-capacity event list. Push past capacity drops the
// event and records the overflow.
type EventBuffer struct {
	// Label names the buffer in schedule dumps.
	Label string

	events   []Event
	dropped  int
	readOnly bool
}

// NewEventBuffer allocates a buffer holding up to capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{events: make([]Event, 0, capacity)}
}

// NewEmptyEventBuffer returns a read-only buffer that is always empty. One
// is shared by every unconnected event input of a schedule.
func NewEmptyEventBuffer() *EventBuffer {
	return &EventBuffer{readOnly: true}
}

// ReadOnly reports whether the buffer is the shared empty buffer.
func (b *EventBuffer) ReadOnly() bool { return b.readOnly }

// Push appends e. It reports false if the buffer is full or read-only.
func (b *EventBuffer) Push(e Event) bool {
	if b.readOnly || len(b.events) == cap(b.events) {
		b.dropped++
		return false
	}
	b.events = append(b.events, e)
	return true
}

// Events returns the buffered events. The slice is only valid until the
// next mutation.
func (b *EventBuffer) Events() []Event {
	return b.events
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int { return len(b.events) }

// Cap returns the buffer capacity.
func (b *EventBuffer) Cap() int { return cap(b.events) }

// Dropped returns how many events were dropped since the last Clear.
func (b *EventBuffer) Dropped() int { return b.dropped }

// Clear empties the buffer.
func (b *EventBuffer) Clear() {
	b.events = b.events[:0]
	b.dropped = 0
}

// AppendAll pushes every event of src.
func (b *EventBuffer) AppendAll(src *EventBuffer) {
	for _, e := range src.events {
		b.Push(e)
	}
}

// SortByTime orders events by Time, keeping insertion order for equal
// times. Insertion sort: buffers are short, mostly sorted, and the audio
// thread must not allocate.
func (b *EventBuffer) SortByTime() {
	ev := b.events
	for i := 1; i < len(ev); i++ {
		e := ev[i]
		j := i - 1
		for j >= 0 && ev[j].Time > e.Time {
			ev[j+1] = ev[j]
			j--
		}
		ev[j+1] = e
	}
}
