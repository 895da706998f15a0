package builtin

import (
	"math"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// ToneParamLevel is the output level of the tone generator.
const ToneParamLevel ir.ParamID = 0

const maxToneVoices = 16

// ToneFactory creates note-driven sine generators.
type ToneFactory struct{}

func (ToneFactory) Descriptor() plugin.Descriptor {
	return descriptor(ToneRDN, "Tone", "Polyphonic sine tone driven by notes", "instrument", "synthesizer", "stereo")
}

func (ToneFactory) New(plugin.Context) (plugin.MainThread, error) {
	return &tone{params: newParams(plugin.ParamInfo{
		ID: ToneParamLevel, Name: "level", Min: 0, Max: 1, Default: 0.5,
		Flags: plugin.ParamAutomatable | plugin.ParamModulatable,
	})}, nil
}

type tone struct {
	noGUI
	params *params
}

func (t *tone) Activate(sampleRate float64, _, _ uint32) (plugin.ActivatedPlugin, error) {
	return plugin.ActivatedPlugin{Processor: &toneProcessor{params: t.params, sampleRate: sampleRate}}, nil
}

func (t *tone) AudioPorts() (*ir.AudioPortsConfig, error) { return stereoOut(), nil }
func (t *tone) NotePorts() (*ir.NotePortsConfig, error) { return noteInput(), nil }

func (t *tone) NumParams() int { return t.params.count() }
func (t *tone) ParamInfo(i int) (plugin.ParamInfo, bool) { return t.params.info(i) }
func (t *tone) ParamValue(id ir.ParamID) (float64, bool) { return t.params.value(id) }
func (t *tone) ParamFlush(in []plugin.Event, out *plugin.EventBuffer) { t.params.flush(in, out) }

func (t *tone) SaveState() ([]byte, error) { return t.params.marshal("") }

func (t *tone) LoadState(raw []byte) error {
	_, err := t.params.unmarshal(raw)
	return err
}

type toneVoice struct {
	active   bool
	key      int16
	channel  int16
	noteID   int32
	port     uint16
	velocity float64
	phase    float64
	step     float64
}

type toneProcessor struct {
	noProcessing
	params     *params
	sampleRate float64
	mod        float64
	voices     [maxToneVoices]toneVoice
}

func (p *toneProcessor) Process(info *plugin.ProcInfo, bufs *plugin.ProcBuffers, events *plugin.ProcEvents) plugin.ProcessStatus {
	if len(bufs.AudioOut) == 0 {
		return plugin.ProcessSleep
	}
	out := &bufs.AudioOut[0]
	for _, ch := range out.Channels {
		clear(ch)
	}

	// Render in segments split at event times.
	frame := 0
	for _, e := range events.In.Events() {
		at := min(int(e.Time), info.Frames)
		p.render(out, frame, at)
		frame = at
		p.handle(e, events.Out)
	}
	p.render(out, frame, info.Frames)

	if !p.anyActive() {
		out.ConstantMask = ^uint64(0)
		return plugin.ProcessSleep
	}
	out.ConstantMask = 0
	return plugin.ProcessContinue
}

func (p *toneProcessor) handle(e plugin.Event, out *plugin.EventBuffer) {
	switch e.Kind {
	case plugin.EventParamValue:
		p.params.apply(e)
	case plugin.EventParamMod:
		if e.ParamID == ToneParamLevel {
			p.mod = e.Value
		}
	case plugin.EventNoteOn:
		v := p.freeVoice()
		*v = toneVoice{
			active:   true,
			key:      e.Key,
			channel:  e.Channel,
			noteID:   e.NoteID,
			port:     e.Port,
			velocity: e.Velocity,
			step:     2 * math.Pi * keyFrequency(e.Key) / p.sampleRate,
		}
	case plugin.EventNoteOff, plugin.EventNoteChoke:
		for i := range p.voices {
			v := &p.voices[i]
			if v.active && v.key == e.Key && (e.NoteID < 0 || v.noteID == e.NoteID) {
				v.active = false
				out.Push(plugin.Event{
					Time: e.Time, Kind: plugin.EventNoteEnd, Port: v.port,
					Channel: v.channel, Key: v.key, NoteID: v.noteID,
				})
			}
		}
	}
}

// freeVoice returns an idle voice, stealing the first one when all are
// busy.
func (p *toneProcessor) freeVoice() *toneVoice {
	for i := range p.voices {
		if !p.voices[i].active {
			return &p.voices[i]
		}
	}
	return &p.voices[0]
}

func (p *toneProcessor) anyActive() bool {
	for i := range p.voices {
		if p.voices[i].active {
			return true
		}
	}
	return false
}

func (p *toneProcessor) render(out *plugin.PortBuffer, from, to int) {
	if from >= to || len(out.Channels) == 0 {
		return
	}
	level := max(0, min(1, p.params.get(int(ToneParamLevel))+p.mod))
	left := out.Channels[0]
	for i := range p.voices {
		v := &p.voices[i]
		if !v.active {
			continue
		}
		amp := level * v.velocity
		for f := from; f < to; f++ {
			left[f] += amp * math.Sin(v.phase)
			v.phase += v.step
			if v.phase > 2*math.Pi {
				v.phase -= 2 * math.Pi
			}
		}
	}
	for _, ch := range out.Channels[1:] {
		copy(ch[from:to], left[from:to])
	}
}
