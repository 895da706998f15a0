//go:build darwin || linux

package clap

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// eventList is a preallocated pair of clap input and output event lists.
// fill converts host events into the typed arrays. The plugin reads them
// through get. Events it pushes are converted back into out. The list and
// its arrays stay pinned until release.
type eventList struct {
	id     uintptr
	in     clapInputEvents
	out    clapOutputEvents
	pinner runtime.Pinner

	notes    []clapEventNote
	values   []clapEventParamValue
	gestures []clapEventParamGesture
	order    []uintptr

	sink *plugin.EventBuffer
}

var eventLists registry[eventList]

var (
	eventCBOnce sync.Once
	eventSizeCB uintptr
	eventGetCB  uintptr
	eventPushCB uintptr
)

func eventCallbacks() {
	eventCBOnce.Do(func() {
		eventSizeCB = purego.NewCallback(func(list uintptr) uintptr {
			if l := listFrom(list); l != nil {
				return uintptr(len(l.order))
			}
			return 0
		})
		eventGetCB = purego.NewCallback(func(list, index uintptr) uintptr {
			l := listFrom(list)
			if l == nil || uint32(index) >= uint32(len(l.order)) {
				return 0
			}
			return l.order[uint32(index)]
		})
		eventPushCB = purego.NewCallback(func(list, hdr uintptr) uintptr {
			l := eventLists.get((*clapOutputEvents)(unsafe.Pointer(list)).Ctx)
			if l == nil || l.sink == nil || hdr == 0 {
				return 0
			}
			e, ok := fromClapEvent(hdr)
			if !ok {
				// Unsupported events are accepted and dropped.
				return 1
			}
			return boolArg(l.sink.Push(e))
		})
	})
}

func listFrom(p uintptr) *eventList {
	if p == 0 {
		return nil
	}
	return eventLists.get((*clapInputEvents)(unsafe.Pointer(p)).Ctx)
}

func newEventList(capacity int) (*eventList, error) {
	eventCallbacks()
	l := &eventList{
		notes:    make([]clapEventNote, 0, capacity),
		values:   make([]clapEventParamValue, 0, capacity),
		gestures: make([]clapEventParamGesture, 0, capacity),
		order:    make([]uintptr, 0, capacity),
	}
	id, err := eventLists.add(l)
	if err != nil {
		return nil, err
	}
	l.id = id
	l.in = clapInputEvents{Ctx: id, Size: eventSizeCB, Get: eventGetCB}
	l.out = clapOutputEvents{Ctx: id, TryPush: eventPushCB}
	l.pinner.Pin(l)
	if capacity > 0 {
		l.pinner.Pin(unsafe.SliceData(l.notes))
		l.pinner.Pin(unsafe.SliceData(l.values))
		l.pinner.Pin(unsafe.SliceData(l.gestures))
		l.pinner.Pin(unsafe.SliceData(l.order))
	}
	return l, nil
}

func (l *eventList) release() {
	eventLists.remove(l.id)
	l.pinner.Unpin()
}

func (l *eventList) inPtr() uintptr  { return uintptr(unsafe.Pointer(&l.in)) }
func (l *eventList) outPtr() uintptr { return uintptr(unsafe.Pointer(&l.out)) }

// fill loads src for the plugin to read and directs pushed events to sink.
// Events past capacity are dropped. It does not allocate.
func (l *eventList) fill(src []plugin.Event, sink *plugin.EventBuffer) {
	l.notes, l.values, l.gestures, l.order = l.notes[:0], l.values[:0], l.gestures[:0], l.order[:0]
	l.sink = sink
	for _, e := range src {
		if len(l.order) == cap(l.order) {
			return
		}
		switch e.Kind {
		case plugin.EventNoteOn, plugin.EventNoteOff, plugin.EventNoteChoke, plugin.EventNoteEnd:
			l.notes = append(l.notes, toClapNote(e))
			l.order = append(l.order, uintptr(unsafe.Pointer(&l.notes[len(l.notes)-1])))
		case plugin.EventParamValue, plugin.EventParamMod:
			l.values = append(l.values, toClapParam(e))
			l.order = append(l.order, uintptr(unsafe.Pointer(&l.values[len(l.values)-1])))
		case plugin.EventParamGestureBegin, plugin.EventParamGestureEnd:
			l.gestures = append(l.gestures, toClapGesture(e))
			l.order = append(l.order, uintptr(unsafe.Pointer(&l.gestures[len(l.gestures)-1])))
		}
	}
}

var clapEventTypes = [...]uint16{
	plugin.EventNoteOn:            eventNoteOn,
	plugin.EventNoteOff:           eventNoteOff,
	plugin.EventNoteChoke:         eventNoteChoke,
	plugin.EventNoteEnd:           eventNoteEnd,
	plugin.EventParamValue:        eventParamValue,
	plugin.EventParamMod:          eventParamMod,
	plugin.EventParamGestureBegin: eventParamGestureBegin,
	plugin.EventParamGestureEnd:   eventParamGestureEnd,
}

func header(e plugin.Event, size uintptr) clapEventHeader {
	return clapEventHeader{
		Size:    uint32(size),
		Time:    e.Time,
		SpaceID: coreEventSpace,
		Type:    clapEventTypes[e.Kind],
	}
}

func toClapNote(e plugin.Event) clapEventNote {
	return clapEventNote{
		Header:    header(e, unsafe.Sizeof(clapEventNote{})),
		NoteID:    e.NoteID,
		PortIndex: int16(e.Port),
		Channel:   e.Channel,
		Key:       e.Key,
		Velocity:  e.Velocity,
	}
}

func toClapParam(e plugin.Event) clapEventParamValue {
	return clapEventParamValue{
		Header:    header(e, unsafe.Sizeof(clapEventParamValue{})),
		ParamID:   uint32(e.ParamID),
		Cookie:    e.Cookie,
		NoteID:    -1,
		PortIndex: -1,
		Channel:   -1,
		Key:       -1,
		Value:     e.Value,
	}
}

func toClapGesture(e plugin.Event) clapEventParamGesture {
	return clapEventParamGesture{
		Header:  header(e, unsafe.Sizeof(clapEventParamGesture{})),
		ParamID: uint32(e.ParamID),
	}
}

// fromClapEvent converts the event at hdr. It reports false for events
// outside the core space or of a type the host does not route.
func fromClapEvent(hdr uintptr) (plugin.Event, bool) {
	h := (*clapEventHeader)(unsafe.Pointer(hdr))
	if h.SpaceID != coreEventSpace {
		return plugin.Event{}, false
	}
	e := plugin.Event{Time: h.Time}
	switch h.Type {
	case eventNoteOn, eventNoteOff, eventNoteChoke, eventNoteEnd:
		n := (*clapEventNote)(unsafe.Pointer(hdr))
		e.Kind = plugin.EventNoteOn + plugin.EventKind(h.Type-eventNoteOn)
		e.NoteID, e.Port, e.Channel, e.Key, e.Velocity = n.NoteID, uint16(n.PortIndex), n.Channel, n.Key, n.Velocity
	case eventParamValue, eventParamMod:
		p := (*clapEventParamValue)(unsafe.Pointer(hdr))
		e.Kind = plugin.EventParamValue
		if h.Type == eventParamMod {
			e.Kind = plugin.EventParamMod
		}
		e.ParamID, e.Cookie, e.Value = ir.ParamID(p.ParamID), p.Cookie, p.Value
	case eventParamGestureBegin, eventParamGestureEnd:
		g := (*clapEventParamGesture)(unsafe.Pointer(hdr))
		e.Kind = plugin.EventParamGestureBegin
		if h.Type == eventParamGestureEnd {
			e.Kind = plugin.EventParamGestureEnd
		}
		e.ParamID = ir.ParamID(g.ParamID)
	default:
		return plugin.Event{}, false
	}
	return e, true
}
