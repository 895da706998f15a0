// Package schedule holds the compiled, immutable processing schedule and
// everything that runs it on the audio thread: the shared schedule handle,
// the runner and the transport.
//
// A Schedule is never mutated after publication. Graph changes always
// produce a new Schedule with a higher Version; the runner adopts the latest
// published one at the start of a callback.
package schedule

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// BlockContext is the per-block state shared by every task of a schedule.
type BlockContext struct {
	Frames     int
	SteadyTime int64
	Version    uint64
	Transport  *plugin.TransportInfo
	// In and Out are the device channels for this block, already sliced to
	// Frames.
	In  [][]float64
	Out [][]float64
}

// EventIO are the event buffers of one plugin task. NoteIn/NoteOut are
// ordered by note port index.
type EventIO struct {
	NoteIn        []*plugin.EventBuffer
	NoteOut       []*plugin.EventBuffer
	AutomationIn  *plugin.EventBuffer
	AutomationOut *plugin.EventBuffer
}

// NodeProcessor is the audio-side object a plugin task runs.
type NodeProcessor interface {
	// ProcessBlock runs one block with borrowed buffers.
	ProcessBlock(ctx *BlockContext, bufs *plugin.ProcBuffers, events *EventIO)
	// DropOnAudioThread is called when a schedule carrying the processor on
	// its drop list becomes live. It must be idempotent: a processor stays on
	// every drop list until the control thread sees the drop confirmed.
	DropOnAudioThread()
}

type slotEntry struct {
	proc       NodeProcessor
	minVersion uint64
}

// ProcessorSlot is the cell through which a plugin host hands its processor
// to the tasks that run it. The control thread writes it; the audio thread
// reads it once per block.
type ProcessorSlot struct {
	entry atomic.Pointer[slotEntry]
}

// Publish makes proc available to schedules of at least minVersion.
func (s *ProcessorSlot) Publish(proc NodeProcessor, minVersion uint64) {
	s.entry.Store(&slotEntry{proc: proc, minVersion: minVersion})
}

// Clear empties the slot and returns the processor it held, if any.
func (s *ProcessorSlot) Clear() NodeProcessor {
	e := s.entry.Swap(nil)
	if e == nil {
		return nil
	}
	return e.proc
}

// Load returns the processor if one is published for version.
func (s *ProcessorSlot) Load(version uint64) NodeProcessor {
	e := s.entry.Load()
	if e == nil || version < e.minVersion {
		return nil
	}
	return e.proc
}

// MinVersion returns the schedule version the published processor waits
// for, and whether a processor is published.
func (s *ProcessorSlot) MinVersion() (uint64, bool) {
	e := s.entry.Load()
	if e == nil {
		return 0, false
	}
	return e.minVersion, true
}

// BufRef names one buffer a task touches. Exactly one field is set.
type BufRef struct {
	Audio  *plugin.AudioBuffer
	Events *plugin.EventBuffer
}

// Key returns a comparable identity of the referenced buffer.
func (r BufRef) Key() any {
	if r.Audio != nil {
		return r.Audio
	}
	return r.Events
}

// Name returns the dump name of the referenced buffer.
func (r BufRef) Name() string {
	switch {
	case r.Audio != nil:
		return r.Audio.Name()
	case r.Events != nil:
		return r.Events.Label
	default:
		return "<nil>"
	}
}

// Constant reports whether the buffer may never be written.
func (r BufRef) Constant() bool {
	if r.Audio != nil {
		return r.Audio.IsConstant()
	}
	return r.Events != nil && r.Events.ReadOnly()
}

// Task is one step of a schedule.
type Task interface {
	Run(ctx *BlockContext)
	// Reads and Writes list the buffers the task touches, in a stable
	// order. They are used by the verifier and dumps, never on the audio
	// thread.
	Reads() []BufRef
	Writes() []BufRef
	// Describe returns a one-line description without buffers.
	Describe() string
}

// Schedule is an immutable compiled graph.
type Schedule struct {
	Version     uint64
	Tasks       []Task
	Transport   *Transport
	ProcsToDrop []NodeProcessor

	MaxFrames   int
	NumInputs   int
	NumOutputs  int
	PluginTasks int

	// Buffers owned by this schedule; returned to the pool on teardown.
	AudioBuffers []*plugin.AudioBuffer
	EventBuffers []*plugin.EventBuffer
}

// Empty returns a schedule that clears every output channel.
func Empty(version uint64, maxFrames, numIn, numOut int, transport *Transport) *Schedule {
	return &Schedule{
		Version:    version,
		Tasks:      []Task{&ClearOutputsTask{}},
		Transport:  transport,
		MaxFrames:  maxFrames,
		NumInputs:  numIn,
		NumOutputs: numOut,
	}
}

// Release returns the schedule's buffers to pool. Control thread only, and
// only once the audio thread can no longer reach the schedule.
func (s *Schedule) Release(pool *BufferPool) {
	if pool == nil {
		return
	}
	for _, b := range s.AudioBuffers {
		pool.PutAudio(b)
	}
	for _, b := range s.EventBuffers {
		pool.PutEvents(b)
	}
	s.AudioBuffers = nil
	s.EventBuffers = nil
}

// Dump renders the schedule as deterministic text, one task per line.
func (s *Schedule) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "schedule v%d frames=%d in=%d out=%d tasks=%d plugins=%d audio_buffers=%d event_buffers=%d drops=%d\n",
		s.Version, s.MaxFrames, s.NumInputs, s.NumOutputs, len(s.Tasks), s.PluginTasks,
		len(s.AudioBuffers), len(s.EventBuffers), len(s.ProcsToDrop))
	for i, t := range s.Tasks {
		fmt.Fprintf(&sb, "%d %s", i, t.Describe())
		if r := t.Reads(); len(r) > 0 {
			fmt.Fprintf(&sb, " in=[%s]", joinRefs(r))
		}
		if w := t.Writes(); len(w) > 0 {
			fmt.Fprintf(&sb, " out=[%s]", joinRefs(w))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func joinRefs(refs []BufRef) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		names[i] = r.Name()
	}
	return strings.Join(names, " ")
}

// PluginOrder returns the plugin ids of the schedule's plugin tasks in
// execution order.
func (s *Schedule) PluginOrder() []ir.PluginInstanceID {
	var ids []ir.PluginInstanceID
	for _, t := range s.Tasks {
		if pt, ok := t.(*PluginTask); ok {
			ids = append(ids, pt.Plugin)
		}
	}
	return ids
}
