package builtin

import (
	"fmt"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// SamplerParamGain is the output gain of the sampler.
const SamplerParamGain ir.ParamID = 0

const (
	maxSamplerVoices = 8
	// samplerReclaimPeriod is how often the main thread releases samples
	// the audio thread swapped out.
	samplerReclaimPeriod = 100 * time.Millisecond
)

// SamplerFactory creates one-shot samplers. Samples come from the
// context's resource loader, keyed by the "sample" field of the state.
type SamplerFactory struct{}

func (SamplerFactory) Descriptor() plugin.Descriptor {
	return descriptor(SamplerRDN, "Sampler", "Note-triggered one-shot sample player", "instrument", "sampler", "stereo")
}

func (SamplerFactory) New(ctx plugin.Context) (plugin.MainThread, error) {
	return &sampler{
		params: newParams(plugin.ParamInfo{
			ID: SamplerParamGain, Name: "gain", Min: 0, Max: 2, Default: 1,
			Flags: plugin.ParamAutomatable,
		}),
		loader:  ctx.Loader,
		request: ctx.Request,
		control: &plugin.SamplerControl{},
	}, nil
}

type sampler struct {
	params  *params
	loader  plugin.ResourceLoader
	request *plugin.HostRequest
	control *plugin.SamplerControl

	key      string
	sample   *plugin.Sample
	active   bool
	timer    ir.TimerID
	hasTimer bool
}

func (s *sampler) Activate(_ float64, _, maxFrames uint32) (plugin.ActivatedPlugin, error) {
	s.active = true
	if s.request != nil && !s.hasTimer {
		s.timer = s.request.RegisterTimer(samplerReclaimPeriod)
		s.hasTimer = true
	}
	return plugin.ActivatedPlugin{
		Processor: &samplerProcessor{
			params:  s.params,
			control: s.control,
			sample:  s.sample,
			scratch: make([]float64, maxFrames),
		},
		Internal: plugin.InternalHandle{Kind: plugin.InternalSampler, Sampler: s.control},
	}, nil
}

func (s *sampler) Deactivate() {
	s.active = false
	s.control.TakeRetired()
	if s.hasTimer && s.request != nil {
		s.request.UnregisterTimer(s.timer)
		s.hasTimer = false
	}
}

func (s *sampler) AudioPorts() (*ir.AudioPortsConfig, error) { return stereoOut(), nil }
func (s *sampler) NotePorts() (*ir.NotePortsConfig, error) { return noteInput(), nil }
func (s *sampler) Latency() int64 { return 0 }

func (s *sampler) NumParams() int { return s.params.count() }
func (s *sampler) ParamInfo(i int) (plugin.ParamInfo, bool) { return s.params.info(i) }
func (s *sampler) ParamValue(id ir.ParamID) (float64, bool) { return s.params.value(id) }
func (s *sampler) ParamFlush(in []plugin.Event, out *plugin.EventBuffer) { s.params.flush(in, out) }

func (s *sampler) SaveState() ([]byte, error) { return s.params.marshal(s.key) }

func (s *sampler) LoadState(raw []byte) error {
	st, err := s.params.unmarshal(raw)
	if err != nil {
		return err
	}
	if st.Sample == "" || st.Sample == s.key {
		return nil
	}
	if s.loader == nil {
		return fmt.Errorf("load sample %q: no resource loader", st.Sample)
	}
	sample, err := s.loader.LoadSample(st.Sample)
	if err != nil {
		return fmt.Errorf("load sample %q: %w", st.Sample, err)
	}
	s.key, s.sample = st.Sample, sample
	if s.active {
		s.control.Load(sample)
	}
	if s.request != nil {
		s.request.Request(plugin.RequestMarkDirty)
	}
	return nil
}

func (s *sampler) GUI() plugin.GUIInfo { return plugin.GUIInfo{} }
func (s *sampler) OnMainThread() {}

func (s *sampler) OnTimer(id ir.TimerID) {
	if s.hasTimer && id == s.timer {
		s.control.TakeRetired()
	}
}

func (s *sampler) Destroy() {}

type samplerVoice struct {
	active   bool
	pos      int
	velocity float64
}

type samplerProcessor struct {
	noProcessing
	params  *params
	control *plugin.SamplerControl
	sample  *plugin.Sample
	voices  [maxSamplerVoices]samplerVoice
	next    int
	scratch []float64
}

func (p *samplerProcessor) Process(info *plugin.ProcInfo, bufs *plugin.ProcBuffers, events *plugin.ProcEvents) plugin.ProcessStatus {
	if s := p.control.TakePending(); s != nil {
		if p.sample != nil {
			p.control.Retire(p.sample)
		}
		p.sample = s
		p.voices = [maxSamplerVoices]samplerVoice{}
	}

	for _, e := range events.In.Events() {
		switch {
		case p.params.apply(e):
		case e.Kind == plugin.EventNoteOn && p.sample != nil:
			p.voices[p.next] = samplerVoice{active: true, pos: -int(e.Time), velocity: e.Velocity}
			p.next = (p.next + 1) % maxSamplerVoices
		case e.Kind == plugin.EventNoteChoke:
			p.voices = [maxSamplerVoices]samplerVoice{}
		}
	}

	if len(bufs.AudioOut) == 0 {
		return plugin.ProcessSleep
	}
	out := &bufs.AudioOut[0]
	for _, ch := range out.Channels {
		clear(ch)
	}
	playing := p.mix(out, info.Frames)
	if !playing {
		out.ConstantMask = ^uint64(0)
		return plugin.ProcessSleep
	}
	out.ConstantMask = 0
	return plugin.ProcessContinue
}

// mix adds every active voice into out. A voice with a negative position
// starts that many frames into the block.
func (p *samplerProcessor) mix(out *plugin.PortBuffer, frames int) bool {
	if p.sample == nil {
		return false
	}
	length := p.sample.Frames()
	gain := p.params.get(int(SamplerParamGain))
	playing := false
	for i := range p.voices {
		v := &p.voices[i]
		if !v.active {
			continue
		}
		offset := 0
		if v.pos < 0 {
			if -v.pos >= frames {
				v.pos += frames
				playing = true
				continue
			}
			offset, v.pos = -v.pos, 0
		}
		n := min(frames-offset, length-v.pos)
		if n <= 0 {
			v.active = v.pos < length
			continue
		}
		for c, dst := range out.Channels {
			src := p.sample.Channels[min(c, len(p.sample.Channels)-1)]
			vecmath.ScaleBlock(p.scratch[:n], src[v.pos:v.pos+n], gain*v.velocity)
			vecmath.AddBlockInPlace(dst[offset:offset+n], p.scratch[:n])
		}
		v.pos += n
		v.active = v.pos < length
		playing = true
	}
	return playing
}
