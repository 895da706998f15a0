// Package builtin implements the internal plugins that ship with the host:
// a stereo gain, a note-driven sine tone and a one-shot sampler.
package builtin

import (
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// Reverse-domain names of the internal plugins.
const (
	GainRDN    = "app.plughost.gain"
	ToneRDN    = "app.plughost.tone"
	SamplerRDN = "app.plughost.sampler"
)

// Factories returns a factory for every internal plugin, ordered by id.
func Factories() []plugin.Factory {
	return []plugin.Factory{GainFactory{}, SamplerFactory{}, ToneFactory{}}
}

func descriptor(id, name, desc string, features ...string) plugin.Descriptor {
	return plugin.Descriptor{
		ID:          id,
		Name:        name,
		Vendor:      "plughost",
		Version:     ir.EngineVersion,
		Description: desc,
		Format:      ir.FormatInternal,
		Features:    features,
	}
}

// params holds parameter values shared between a plugin's main thread and
// its processor. The processor writes values it received as events so the
// main thread reads what is actually applied.
type params struct {
	infos  []plugin.ParamInfo
	values []atomic.Uint64
}

func newParams(infos ...plugin.ParamInfo) *params {
	p := &params{infos: infos, values: make([]atomic.Uint64, len(infos))}
	for i, info := range infos {
		p.values[i].Store(math.Float64bits(info.Default))
	}
	return p
}

func (p *params) index(id ir.ParamID) (int, bool) {
	for i, info := range p.infos {
		if info.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (p *params) get(i int) float64 { return math.Float64frombits(p.values[i].Load()) }

func (p *params) set(i int, v float64) {
	p.values[i].Store(math.Float64bits(p.infos[i].Clamp(v)))
}

func (p *params) count() int { return len(p.infos) }

func (p *params) info(i int) (plugin.ParamInfo, bool) {
	if i < 0 || i >= len(p.infos) {
		return plugin.ParamInfo{}, false
	}
	return p.infos[i], true
}

func (p *params) value(id ir.ParamID) (float64, bool) {
	i, ok := p.index(id)
	if !ok {
		return 0, false
	}
	return p.get(i), true
}

// apply handles a param-value event and reports whether it was one.
func (p *params) apply(e plugin.Event) bool {
	if e.Kind != plugin.EventParamValue {
		return false
	}
	if i, ok := p.index(e.ParamID); ok {
		p.set(i, e.Value)
	}
	return true
}

// flush applies in while inactive. Builtins never originate changes, so
// out stays empty.
func (p *params) flush(in []plugin.Event, _ *plugin.EventBuffer) {
	for _, e := range in {
		p.apply(e)
	}
}

// paramState is the raw save state of a builtin: parameter values by
// name, plus plugin-specific fields.
type paramState struct {
	Params map[string]float64 `json:"params"`
	Sample string             `json:"sample,omitempty"`
}

func (p *params) marshal(sample string) ([]byte, error) {
	st := paramState{Params: make(map[string]float64, len(p.infos)), Sample: sample}
	for i, info := range p.infos {
		st.Params[info.Name] = p.get(i)
	}
	return json.Marshal(st)
}

func (p *params) unmarshal(raw []byte) (paramState, error) {
	var st paramState
	if len(raw) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("decode state: %w", err)
	}
	for i, info := range p.infos {
		if v, ok := st.Params[info.Name]; ok {
			p.set(i, v)
		}
	}
	return st, nil
}

// noProcessing is embedded by processors with no start/stop work.
type noProcessing struct{}

func (noProcessing) StartProcessing() error { return nil }
func (noProcessing) StopProcessing() {}

// noGUI is embedded by main threads of plugins without a GUI or timers.
type noGUI struct{}

func (noGUI) GUI() plugin.GUIInfo { return plugin.GUIInfo{} }
func (noGUI) OnMainThread() {}
func (noGUI) OnTimer(ir.TimerID) {}
func (noGUI) Latency() int64 { return 0 }
func (noGUI) Deactivate() {}
func (noGUI) Destroy() {}

// noteInput is the single main note input of the instruments.
func noteInput() *ir.NotePortsConfig {
	return &ir.NotePortsConfig{
		Inputs:         []ir.NotePortInfo{{StableID: 0, Name: "notes"}},
		MainInputIndex: ir.IntPtr(0),
	}
}

func stereoOut() *ir.AudioPortsConfig {
	return &ir.AudioPortsConfig{
		Outputs:         []ir.AudioPortInfo{{StableID: 0, Name: "main", ChannelCount: 2}},
		MainOutputIndex: ir.IntPtr(0),
	}
}

// keyFrequency returns the equal-tempered frequency of a MIDI key.
func keyFrequency(key int16) float64 {
	return 440 * math.Pow(2, (float64(key)-69)/12)
}
