package host

import (
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/schedule"
)

// Processor is the audio-thread side of an active host. It runs the
// plugin's processor inside a schedule task: it feeds queued parameter
// changes in, routes the plugin's output events, handles bypass and sleep,
// and confirms the drop when a schedule retires it.
type Processor struct {
	plugin plugin.Processor
	shared *shared

	toProc  *plugin.ParamQueue
	toUser  *plugin.ParamQueue
	cookies map[ir.ParamID]uintptr
	// drain is pushParamUpdate bound once so draining does not allocate.
	drain func(ir.ParamID, plugin.ParamUpdate)

	in     *plugin.EventBuffer
	out    *plugin.EventBuffer
	events plugin.ProcEvents
	info   plugin.ProcInfo

	started  bool
	sleeping bool
	dropped  bool
}

func newProcessor(p plugin.Processor, sh *shared, toProc, toUser *plugin.ParamQueue, cookies map[ir.ParamID]uintptr, eventCapacity int) *Processor {
	pr := &Processor{
		plugin:  p,
		shared:  sh,
		toProc:  toProc,
		toUser:  toUser,
		cookies: cookies,
		in:      plugin.NewEventBuffer(eventCapacity),
		out:     plugin.NewEventBuffer(eventCapacity),
	}
	pr.events = plugin.ProcEvents{In: pr.in, Out: pr.out}
	pr.drain = pr.pushParamUpdate
	return pr
}

var _ schedule.NodeProcessor = (*Processor)(nil)

// ProcessBlock implements schedule.NodeProcessor.
func (p *Processor) ProcessBlock(ctx *schedule.BlockContext, bufs *plugin.ProcBuffers, io *schedule.EventIO) {
	if p.dropped || p.shared.crashed.Load() {
		bufs.ClearOutputs()
		return
	}
	if !p.started {
		if err := p.plugin.StartProcessing(); err != nil {
			p.shared.crashed.Store(true)
			bufs.ClearOutputs()
			return
		}
		p.started = true
	}

	p.gatherEvents(io)

	if p.shared.wake.Swap(false) {
		p.sleeping = false
	}
	if p.sleeping && p.in.Len() == 0 && bufs.InputsSilent() {
		bufs.ClearOutputs()
		return
	}

	if p.shared.bypassed.Load() {
		p.sleeping = false
		bypass(bufs)
		return
	}

	p.info = plugin.ProcInfo{SteadyTime: ctx.SteadyTime, Frames: ctx.Frames, Transport: ctx.Transport}
	p.out.Clear()
	status := p.process(bufs)
	p.routeOutput(io)

	switch status {
	case plugin.ProcessError:
		bufs.ClearOutputs()
	case plugin.ProcessSleep:
		p.sleeping = true
	case plugin.ProcessContinueIfNotQuiet:
		p.sleeping = bufs.InputsSilent() && outputsQuiet(bufs)
	default:
		p.sleeping = false
	}
}

// process calls the plugin. A panic is contained to this plugin: it is
// flagged for the control thread and the block fails.
func (p *Processor) process(bufs *plugin.ProcBuffers) (status plugin.ProcessStatus) {
	defer func() {
		if r := recover(); r != nil {
			p.shared.crashed.Store(true)
			status = plugin.ProcessError
		}
	}()
	return p.plugin.Process(&p.info, bufs, &p.events)
}

// gatherEvents merges queued parameter changes, note inputs and
// automation input into one time-ordered buffer.
func (p *Processor) gatherEvents(io *schedule.EventIO) {
	p.in.Clear()
	p.toProc.Drain(p.drain)
	for i, b := range io.NoteIn {
		for _, e := range b.Events() {
			e.Port = uint16(i)
			p.in.Push(e)
		}
	}
	if io.AutomationIn != nil {
		for _, e := range io.AutomationIn.Events() {
			if !e.Kind.IsNote() {
				p.in.Push(e)
			}
		}
	}
	p.in.SortByTime()
}

func (p *Processor) pushParamUpdate(id ir.ParamID, u plugin.ParamUpdate) {
	cookie := p.cookies[id]
	if u.GestureEndFirst {
		p.in.Push(plugin.Event{Kind: plugin.EventParamGestureEnd, ParamID: id, Cookie: cookie})
	}
	if u.GestureBegin {
		p.in.Push(plugin.Event{Kind: plugin.EventParamGestureBegin, ParamID: id, Cookie: cookie})
	}
	if u.HasValue {
		p.in.Push(plugin.Event{Kind: plugin.EventParamValue, ParamID: id, Value: u.Value, Cookie: cookie})
	}
	if u.HasMod {
		p.in.Push(plugin.Event{Kind: plugin.EventParamMod, ParamID: id, Value: u.Mod, Cookie: cookie})
	}
	if u.GestureEnd && !u.GestureEndFirst {
		p.in.Push(plugin.Event{Kind: plugin.EventParamGestureEnd, ParamID: id, Cookie: cookie})
	}
}

// routeOutput hands parameter output to the control thread and to the
// automation output port, and note output to the note port it names.
func (p *Processor) routeOutput(io *schedule.EventIO) {
	for _, e := range p.out.Events() {
		if e.Kind.IsNote() {
			if int(e.Port) < len(io.NoteOut) {
				io.NoteOut[e.Port].Push(e)
			}
			continue
		}
		switch e.Kind {
		case plugin.EventParamValue:
			p.toUser.SetValue(e.ParamID, e.Value)
		case plugin.EventParamMod:
			p.toUser.SetMod(e.ParamID, e.Value)
		case plugin.EventParamGestureBegin:
			p.toUser.SetGesture(e.ParamID, true)
		case plugin.EventParamGestureEnd:
			p.toUser.SetGesture(e.ParamID, false)
		}
		if io.AutomationOut != nil {
			io.AutomationOut.Push(e)
		}
	}
}

// DropOnAudioThread implements schedule.NodeProcessor.
func (p *Processor) DropOnAudioThread() {
	if p.dropped {
		return
	}
	if p.started {
		p.plugin.StopProcessing()
		p.started = false
	}
	p.dropped = true
	// The only audio-thread transition of the lifecycle.
	_ = p.shared.transition(StateWaitingToDrop, StateDroppedAndReadyToDeactivate)
}

// bypass copies each input port to the output port of the same index.
func bypass(bufs *plugin.ProcBuffers) {
	for i := range bufs.AudioOut {
		out := &bufs.AudioOut[i]
		out.ConstantMask = 0
		for c, dst := range out.Channels {
			if i < len(bufs.AudioIn) && c < len(bufs.AudioIn[i].Channels) {
				copy(dst, bufs.AudioIn[i].Channels[c])
				if c < 64 {
					out.ConstantMask |= bufs.AudioIn[i].ConstantMask & (1 << uint(c))
				}
				continue
			}
			clear(dst)
			if c < 64 {
				out.ConstantMask |= 1 << uint(c)
			}
		}
	}
}

func outputsQuiet(bufs *plugin.ProcBuffers) bool {
	for i := range bufs.AudioOut {
		n := len(bufs.AudioOut[i].Channels)
		want := ^uint64(0)
		if n < 64 {
			want = uint64(1)<<uint(n) - 1
		}
		if bufs.AudioOut[i].ConstantMask&want != want {
			return false
		}
	}
	return true
}
