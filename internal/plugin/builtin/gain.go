package builtin

import (
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// Gain parameter ids.
const (
	GainParamGain   ir.ParamID = 0
	GainParamBypass ir.ParamID = 1
)

// GainFactory creates stereo gain instances.
type GainFactory struct{}

func (GainFactory) Descriptor() plugin.Descriptor {
	return descriptor(GainRDN, "Gain", "Stereo gain with bypass", "audio-effect", "utility", "stereo")
}

func (GainFactory) New(plugin.Context) (plugin.MainThread, error) {
	return &gain{
		params: newParams(
			plugin.ParamInfo{ID: GainParamGain, Name: "gain", Min: 0, Max: 2, Default: 1,
				Flags: plugin.ParamAutomatable | plugin.ParamModulatable},
			plugin.ParamInfo{ID: GainParamBypass, Name: "bypass", Min: 0, Max: 1, Default: 0,
				Flags: plugin.ParamStepped | plugin.ParamBypass | plugin.ParamAutomatable},
		),
		control: plugin.NewGainControl(1),
	}, nil
}

type gain struct {
	noGUI
	params  *params
	control *plugin.GainControl
}

func (g *gain) Activate(_ float64, _, _ uint32) (plugin.ActivatedPlugin, error) {
	return plugin.ActivatedPlugin{
		Processor: &gainProcessor{params: g.params, control: g.control},
		Internal:  plugin.InternalHandle{Kind: plugin.InternalGain, Gain: g.control},
	}, nil
}

func (g *gain) AudioPorts() (*ir.AudioPortsConfig, error) { return plugin.StereoPorts(), nil }
func (g *gain) NotePorts() (*ir.NotePortsConfig, error) { return &ir.NotePortsConfig{}, nil }

func (g *gain) NumParams() int { return g.params.count() }
func (g *gain) ParamInfo(i int) (plugin.ParamInfo, bool) { return g.params.info(i) }
func (g *gain) ParamValue(id ir.ParamID) (float64, bool) { return g.params.value(id) }
func (g *gain) ParamFlush(in []plugin.Event, out *plugin.EventBuffer) { g.params.flush(in, out) }

func (g *gain) SaveState() ([]byte, error) { return g.params.marshal("") }

func (g *gain) LoadState(raw []byte) error {
	_, err := g.params.unmarshal(raw)
	return err
}

type gainProcessor struct {
	noProcessing
	params  *params
	control *plugin.GainControl
	mod     float64
}

func (p *gainProcessor) Process(_ *plugin.ProcInfo, bufs *plugin.ProcBuffers, events *plugin.ProcEvents) plugin.ProcessStatus {
	for _, e := range events.In.Events() {
		if p.params.apply(e) {
			continue
		}
		if e.Kind == plugin.EventParamMod && e.ParamID == GainParamGain {
			p.mod = e.Value
		}
	}
	if len(bufs.AudioIn) == 0 || len(bufs.AudioOut) == 0 {
		bufs.ClearOutputs()
		return plugin.ProcessSleep
	}

	in, out := &bufs.AudioIn[0], &bufs.AudioOut[0]
	bypassed := p.params.get(int(GainParamBypass)) >= 0.5
	level := max(0, p.params.get(int(GainParamGain))+p.mod) * p.control.Get()

	out.ConstantMask = 0
	for c, dst := range out.Channels {
		if c >= len(in.Channels) || in.ConstantMask&(1<<uint(c)) != 0 {
			clear(dst)
			out.ConstantMask |= 1 << uint(c)
			continue
		}
		if bypassed {
			copy(dst, in.Channels[c])
		} else {
			vecmath.ScaleBlock(dst, in.Channels[c], level)
		}
	}
	if bufs.InputsSilent() {
		return plugin.ProcessSleep
	}
	return plugin.ProcessContinueIfNotQuiet
}
