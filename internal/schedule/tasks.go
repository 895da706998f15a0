package schedule

import (
	"fmt"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// AudioPort groups the channel buffers of one plugin audio port.
type AudioPort struct {
	StableID uint32
	Channels []*plugin.AudioBuffer
}

// GraphInTask copies device input into the graph-input node's buffers.
type GraphInTask struct {
	Outs []*plugin.AudioBuffer
}

func (t *GraphInTask) Run(ctx *BlockContext) {
	for c, b := range t.Outs {
		dst := b.BorrowWrite(ctx.Frames)
		if c < len(ctx.In) {
			copy(dst, ctx.In[c])
			b.SetSilent(false)
		} else {
			clear(dst)
			b.SetSilent(true)
		}
		b.Release()
	}
}

func (t *GraphInTask) Reads() []BufRef  { return nil }
func (t *GraphInTask) Writes() []BufRef { return audioRefs(t.Outs) }
func (t *GraphInTask) Describe() string { return "graph_in" }

// GraphOutTask copies the graph-output node's buffers to the device.
type GraphOutTask struct {
	Ins []*plugin.AudioBuffer
}

func (t *GraphOutTask) Run(ctx *BlockContext) {
	for c, out := range ctx.Out {
		if c >= len(t.Ins) {
			clear(out)
			continue
		}
		b := t.Ins[c]
		copy(out, b.BorrowRead(ctx.Frames))
		b.Release()
	}
}

func (t *GraphOutTask) Reads() []BufRef  { return audioRefs(t.Ins) }
func (t *GraphOutTask) Writes() []BufRef { return nil }
func (t *GraphOutTask) Describe() string { return "graph_out" }

// ClearOutputsTask zeroes every device output. It is the only task of an
// empty schedule.
type ClearOutputsTask struct{}

func (t *ClearOutputsTask) Run(ctx *BlockContext) {
	for _, out := range ctx.Out {
		clear(out)
	}
}

func (t *ClearOutputsTask) Reads() []BufRef  { return nil }
func (t *ClearOutputsTask) Writes() []BufRef { return nil }
func (t *ClearOutputsTask) Describe() string { return "clear_outputs" }

// SumTask adds several audio sources into one buffer.
type SumTask struct {
	Srcs []*plugin.AudioBuffer
	Dst  *plugin.AudioBuffer
}

func (t *SumTask) Run(ctx *BlockContext) {
	dst := t.Dst.BorrowWrite(ctx.Frames)
	silent := true
	for i, src := range t.Srcs {
		in := src.BorrowRead(ctx.Frames)
		if i == 0 {
			copy(dst, in)
		} else if !src.Silent() {
			vecmath.AddBlockInPlace(dst, in)
		}
		silent = silent && src.Silent()
		src.Release()
	}
	t.Dst.Release()
	t.Dst.SetSilent(silent)
}

func (t *SumTask) Reads() []BufRef  { return audioRefs(t.Srcs) }
func (t *SumTask) Writes() []BufRef { return []BufRef{{Audio: t.Dst}} }
func (t *SumTask) Describe() string { return "sum" }

// EventSumTask merges several event sources into one buffer, ordered by
// time.
type EventSumTask struct {
	Srcs []*plugin.EventBuffer
	Dst  *plugin.EventBuffer
}

func (t *EventSumTask) Run(*BlockContext) {
	t.Dst.Clear()
	for _, src := range t.Srcs {
		t.Dst.AppendAll(src)
	}
	t.Dst.SortByTime()
}

func (t *EventSumTask) Reads() []BufRef  { return eventRefs(t.Srcs) }
func (t *EventSumTask) Writes() []BufRef { return []BufRef{{Events: t.Dst}} }
func (t *EventSumTask) Describe() string { return "event_sum" }

// DelayTask copies a source buffer into a delay buffer that is read, one
// block later, by the consumer of a cycle-breaking edge.
type DelayTask struct {
	Src *plugin.AudioBuffer
	Dst *plugin.AudioBuffer
}

func (t *DelayTask) Run(ctx *BlockContext) {
	src := t.Src.BorrowRead(ctx.Frames)
	dst := t.Dst.BorrowWrite(t.Dst.Cap())
	n := copy(dst, src)
	clear(dst[n:])
	t.Dst.Release()
	t.Dst.SetSilent(t.Src.Silent())
	t.Src.Release()
}

func (t *DelayTask) Reads() []BufRef  { return []BufRef{{Audio: t.Src}} }
func (t *DelayTask) Writes() []BufRef { return []BufRef{{Audio: t.Dst}} }
func (t *DelayTask) Describe() string { return "delay" }

// EventDelayTask is DelayTask for event buffers.
type EventDelayTask struct {
	Src *plugin.EventBuffer
	Dst *plugin.EventBuffer
}

func (t *EventDelayTask) Run(*BlockContext) {
	t.Dst.Clear()
	t.Dst.AppendAll(t.Src)
}

func (t *EventDelayTask) Reads() []BufRef  { return []BufRef{{Events: t.Src}} }
func (t *EventDelayTask) Writes() []BufRef { return []BufRef{{Events: t.Dst}} }
func (t *EventDelayTask) Describe() string { return "event_delay" }

// PluginTask runs one plugin's processor.
type PluginTask struct {
	Plugin ir.PluginInstanceID
	Slot   *ProcessorSlot

	AudioIn  []AudioPort
	AudioOut []AudioPort
	Events   EventIO

	// bufs is the preallocated borrowed view handed to the processor.
	bufs plugin.ProcBuffers
}

// NewPluginTask builds a task and preallocates its buffer views.
func NewPluginTask(id ir.PluginInstanceID, slot *ProcessorSlot, in, out []AudioPort, events EventIO) *PluginTask {
	t := &PluginTask{Plugin: id, Slot: slot, AudioIn: in, AudioOut: out, Events: events}
	t.bufs.AudioIn = make([]plugin.PortBuffer, len(in))
	for i, p := range in {
		t.bufs.AudioIn[i] = plugin.PortBuffer{StableID: p.StableID, Channels: make([][]float64, len(p.Channels))}
	}
	t.bufs.AudioOut = make([]plugin.PortBuffer, len(out))
	for i, p := range out {
		t.bufs.AudioOut[i] = plugin.PortBuffer{StableID: p.StableID, Channels: make([][]float64, len(p.Channels))}
	}
	return t
}

func (t *PluginTask) Run(ctx *BlockContext) {
	frames := ctx.Frames
	t.bufs.Frames = frames

	for i := range t.AudioIn {
		pb := &t.bufs.AudioIn[i]
		pb.ConstantMask = 0
		for c, b := range t.AudioIn[i].Channels {
			pb.Channels[c] = b.BorrowRead(frames)
			if b.Silent() && c < 64 {
				pb.ConstantMask |= 1 << uint(c)
			}
		}
	}
	for i := range t.AudioOut {
		pb := &t.bufs.AudioOut[i]
		pb.ConstantMask = 0
		for c, b := range t.AudioOut[i].Channels {
			pb.Channels[c] = b.BorrowWrite(frames)
		}
	}
	for _, b := range t.Events.NoteOut {
		b.Clear()
	}
	if t.Events.AutomationOut != nil {
		t.Events.AutomationOut.Clear()
	}

	if proc := t.Slot.Load(ctx.Version); proc != nil {
		proc.ProcessBlock(ctx, &t.bufs, &t.Events)
	} else {
		t.bufs.ClearOutputs()
	}

	for i := range t.AudioOut {
		mask := t.bufs.AudioOut[i].ConstantMask
		for c, b := range t.AudioOut[i].Channels {
			b.Release()
			b.SetSilent(c < 64 && mask&(1<<uint(c)) != 0)
		}
	}
	for i := range t.AudioIn {
		for _, b := range t.AudioIn[i].Channels {
			b.Release()
		}
	}
}

func (t *PluginTask) Reads() []BufRef {
	var refs []BufRef
	for _, p := range t.AudioIn {
		refs = append(refs, audioRefs(p.Channels)...)
	}
	refs = append(refs, eventRefs(t.Events.NoteIn)...)
	if t.Events.AutomationIn != nil {
		refs = append(refs, BufRef{Events: t.Events.AutomationIn})
	}
	return refs
}

func (t *PluginTask) Writes() []BufRef {
	var refs []BufRef
	for _, p := range t.AudioOut {
		refs = append(refs, audioRefs(p.Channels)...)
	}
	refs = append(refs, eventRefs(t.Events.NoteOut)...)
	if t.Events.AutomationOut != nil {
		refs = append(refs, BufRef{Events: t.Events.AutomationOut})
	}
	return refs
}

func (t *PluginTask) Describe() string { return fmt.Sprintf("plugin %s", t.Plugin) }

func audioRefs(bufs []*plugin.AudioBuffer) []BufRef {
	refs := make([]BufRef, len(bufs))
	for i, b := range bufs {
		refs[i] = BufRef{Audio: b}
	}
	return refs
}

func eventRefs(bufs []*plugin.EventBuffer) []BufRef {
	refs := make([]BufRef, len(bufs))
	for i, b := range bufs {
		refs[i] = BufRef{Events: b}
	}
	return refs
}
