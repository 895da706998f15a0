package host

import (
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// missingPlugin stands in for a plugin no factory could instantiate. It
// keeps the ports of the save state's backup configuration so edges
// survive, and hands the raw state back unchanged.
type missingPlugin struct {
	state ir.PluginSaveState
}

func newMissingPlugin(s ir.PluginSaveState) *missingPlugin {
	return &missingPlugin{state: s.Clone()}
}

func (m *missingPlugin) Activate(float64, uint32, uint32) (plugin.ActivatedPlugin, error) {
	return plugin.ActivatedPlugin{}, ErrPluginNotLoaded
}

func (m *missingPlugin) Deactivate() {}

func (m *missingPlugin) AudioPorts() (*ir.AudioPortsConfig, error) {
	if m.state.BackupAudioPorts == nil {
		return &ir.AudioPortsConfig{}, nil
	}
	return m.state.BackupAudioPorts.Clone(), nil
}

func (m *missingPlugin) NotePorts() (*ir.NotePortsConfig, error) {
	if m.state.BackupNotePorts == nil {
		return &ir.NotePortsConfig{}, nil
	}
	return m.state.BackupNotePorts.Clone(), nil
}

func (m *missingPlugin) Latency() int64 { return 0 }

func (m *missingPlugin) NumParams() int { return 0 }
func (m *missingPlugin) ParamInfo(int) (plugin.ParamInfo, bool) { return plugin.ParamInfo{}, false }
func (m *missingPlugin) ParamValue(ir.ParamID) (float64, bool) { return 0, false }
func (m *missingPlugin) ParamFlush([]plugin.Event, *plugin.EventBuffer) {}

func (m *missingPlugin) SaveState() ([]byte, error) { return m.state.RawState, nil }

func (m *missingPlugin) LoadState(raw []byte) error {
	m.state.RawState = append([]byte(nil), raw...)
	return nil
}

func (m *missingPlugin) GUI() plugin.GUIInfo { return plugin.GUIInfo{} }
func (m *missingPlugin) OnMainThread() {}
func (m *missingPlugin) OnTimer(ir.TimerID) {}
func (m *missingPlugin) Destroy() {}
