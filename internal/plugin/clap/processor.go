//go:build darwin || linux

package clap

import (
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/roach88/plughost/internal/plugin"
)

// processEventCapacity bounds the input events handed to one block.
const processEventCapacity = 1024

// processor is the audio-thread half of a CLAP plugin. Everything it
// passes to the plugin is preallocated and pinned at activation; the
// host's channel slices are pinned for the length of one process call.
type processor struct {
	inst       *instance
	sampleRate float64

	ins, outs       []portLayout
	clapIn, clapOut []clapAudioBuffer
	// ptrIn and ptrOut hold every port's channel pointers back to back.
	ptrIn, ptrOut []uintptr
	// scratchIn and scratchOut are 32-bit copies for ports that do not
	// take 64-bit buffers, flattened per channel like the pointers.
	scratchIn, scratchOut [][]float32

	events    *eventList
	transport clapEventTransport
	proc      clapProcess

	pinned runtime.Pinner
	block  runtime.Pinner
}

func newProcessor(inst *instance, ins, outs []portLayout, sampleRate float64, maxFrames int) (*processor, error) {
	events, err := newEventList(processEventCapacity)
	if err != nil {
		return nil, err
	}
	p := &processor{
		inst:       inst,
		sampleRate: sampleRate,
		ins:        ins,
		outs:       outs,
		clapIn:     make([]clapAudioBuffer, len(ins)),
		clapOut:    make([]clapAudioBuffer, len(outs)),
		events:     events,
	}
	p.ptrIn, p.scratchIn = allocChannels(ins, maxFrames)
	p.ptrOut, p.scratchOut = allocChannels(outs, maxFrames)

	p.pinned.Pin(p)
	for _, buf := range [][]clapAudioBuffer{p.clapIn, p.clapOut} {
		if len(buf) > 0 {
			p.pinned.Pin(&buf[0])
		}
	}
	for _, ptrs := range [][]uintptr{p.ptrIn, p.ptrOut} {
		if len(ptrs) > 0 {
			p.pinned.Pin(&ptrs[0])
		}
	}
	for _, scratch := range [][][]float32{p.scratchIn, p.scratchOut} {
		for _, ch := range scratch {
			if len(ch) > 0 {
				p.pinned.Pin(&ch[0])
			}
		}
	}
	return p, nil
}

func allocChannels(ports []portLayout, maxFrames int) ([]uintptr, [][]float32) {
	n := 0
	for _, l := range ports {
		n += l.channels
	}
	scratch := make([][]float32, n)
	for i := range scratch {
		scratch[i] = make([]float32, maxFrames)
	}
	return make([]uintptr, n), scratch
}

func (p *processor) release() {
	if p != nil {
		p.events.release()
		p.block.Unpin()
		p.pinned.Unpin()
	}
}

func (p *processor) StartProcessing() error {
	p.inst.host.processing.Store(true)
	if !p.inst.startProcessing(p.inst.p) {
		p.inst.host.processing.Store(false)
		return fmt.Errorf("clap: %s: start_processing failed", p.inst.desc.ID)
	}
	return nil
}

func (p *processor) StopProcessing() {
	purego.SyscallN(p.inst.vt.StopProcessing, p.inst.p)
	p.inst.host.processing.Store(false)
}

var statuses = [...]plugin.ProcessStatus{
	processError:              plugin.ProcessError,
	processContinue:           plugin.ProcessContinue,
	processContinueIfNotQuiet: plugin.ProcessContinueIfNotQuiet,
	processTail:               plugin.ProcessTail,
	processSleep:              plugin.ProcessSleep,
}

func (p *processor) Process(info *plugin.ProcInfo, bufs *plugin.ProcBuffers, events *plugin.ProcEvents) plugin.ProcessStatus {
	frames := info.Frames
	bindPorts(&p.block, p.ins, p.clapIn, p.ptrIn, p.scratchIn, bufs.AudioIn, frames, true)
	bindPorts(&p.block, p.outs, p.clapOut, p.ptrOut, p.scratchOut, bufs.AudioOut, frames, false)
	p.events.fill(events.In.Events(), events.Out)

	p.proc = clapProcess{
		SteadyTime:        info.SteadyTime,
		FramesCount:       uint32(frames),
		AudioInputsCount:  uint32(len(p.clapIn)),
		AudioOutputsCount: uint32(len(p.clapOut)),
		InEvents:          p.events.inPtr(),
		OutEvents:         p.events.outPtr(),
	}
	if len(p.clapIn) > 0 {
		p.proc.AudioInputs = uintptr(unsafe.Pointer(&p.clapIn[0]))
	}
	if len(p.clapOut) > 0 {
		p.proc.AudioOutputs = uintptr(unsafe.Pointer(&p.clapOut[0]))
	}
	if info.Transport != nil {
		p.fillTransport(info.Transport)
		p.proc.Transport = uintptr(unsafe.Pointer(&p.transport))
	}

	r, _, _ := purego.SyscallN(p.inst.vt.Process, p.inst.p, uintptr(unsafe.Pointer(&p.proc)))
	p.block.Unpin()
	p.events.fill(nil, nil)

	status := plugin.ProcessError
	if s := int32(r); s >= 0 && int(s) < len(statuses) {
		status = statuses[s]
	}
	if status == plugin.ProcessError {
		bufs.ClearOutputs()
		return status
	}
	unbindOutputs(p.outs, p.clapOut, p.scratchOut, bufs.AudioOut, frames)
	return status
}

// bindPorts points the clap buffers at the host's channel slices, or at
// 32-bit scratch copies for ports that only take single precision. Host
// slices handed out directly are pinned with pin until the caller unpins.
func bindPorts(pin *runtime.Pinner, layout []portLayout, dst []clapAudioBuffer, ptrs []uintptr, scratch [][]float32, src []plugin.PortBuffer, frames int, input bool) {
	off := 0
	for j, l := range layout {
		var channels [][]float64
		var mask uint64
		if j < len(src) {
			channels, mask = src[j].Channels, src[j].ConstantMask
		}
		use64 := l.supports64 && len(channels) >= l.channels
		for c := range l.channels {
			k := off + c
			switch {
			case c >= len(channels):
				clear(scratch[k][:frames])
				ptrs[k] = uintptr(unsafe.Pointer(unsafe.SliceData(scratch[k])))
			case use64:
				data := unsafe.SliceData(channels[c])
				pin.Pin(data)
				ptrs[k] = uintptr(unsafe.Pointer(data))
			default:
				if input {
					for f, v := range channels[c][:frames] {
						scratch[k][f] = float32(v)
					}
				}
				ptrs[k] = uintptr(unsafe.Pointer(unsafe.SliceData(scratch[k])))
			}
		}
		b := clapAudioBuffer{ChannelCount: uint32(l.channels), ConstantMask: mask}
		if l.channels > 0 {
			if use64 {
				b.Data64 = uintptr(unsafe.Pointer(&ptrs[off]))
			} else {
				b.Data32 = uintptr(unsafe.Pointer(&ptrs[off]))
			}
		}
		dst[j] = b
		off += l.channels
	}
}

func unbindOutputs(layout []portLayout, bufs []clapAudioBuffer, scratch [][]float32, dst []plugin.PortBuffer, frames int) {
	off := 0
	for j, l := range layout {
		if j >= len(dst) {
			break
		}
		if bufs[j].Data32 != 0 {
			for c, ch := range dst[j].Channels {
				if c >= l.channels {
					break
				}
				for f, v := range scratch[off+c][:frames] {
					ch[f] = float64(v)
				}
			}
		}
		dst[j].ConstantMask = bufs[j].ConstantMask
		off += l.channels
	}
}

func (p *processor) fillTransport(t *plugin.TransportInfo) {
	seconds := float64(t.PlayheadFrame) / p.sampleRate
	toBeats := func(frame uint64) float64 { return float64(frame) / p.sampleRate * t.BPM / 60 }

	flags := uint32(transportHasTempo | transportHasBeatsTimeline | transportHasSecondsTime | transportHasTimeSignature)
	if t.Playing {
		flags |= transportIsPlaying
	}
	if t.LoopActive {
		flags |= transportIsLoopActive
	}

	beatsPerBar := 4.0
	if t.Denominator > 0 {
		beatsPerBar = float64(t.Numerator) * 4 / float64(t.Denominator)
	}
	bar := 0.0
	if beatsPerBar > 0 {
		bar = math.Floor(t.BeatPosition / beatsPerBar)
	}

	p.transport = clapEventTransport{
		Header: clapEventHeader{
			Size:    uint32(unsafe.Sizeof(clapEventTransport{})),
			SpaceID: coreEventSpace,
			Type:    eventTransport,
		},
		Flags:            flags,
		SongPosBeats:     int64(t.BeatPosition * beatTimeFactor),
		SongPosSeconds:   int64(seconds * secTimeFactor),
		Tempo:            t.BPM,
		LoopStartBeats:   int64(toBeats(t.LoopStart) * beatTimeFactor),
		LoopEndBeats:     int64(toBeats(t.LoopEnd) * beatTimeFactor),
		LoopStartSeconds: int64(float64(t.LoopStart) / p.sampleRate * secTimeFactor),
		LoopEndSeconds:   int64(float64(t.LoopEnd) / p.sampleRate * secTimeFactor),
		BarStart:         int64(bar * beatsPerBar * beatTimeFactor),
		BarNumber:        int32(bar),
		TSigNum:          t.Numerator,
		TSigDenom:        t.Denominator,
	}
}
