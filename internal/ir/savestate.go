package ir

import "fmt"

// PluginFormat identifies which adapter a plugin is loaded through.
type PluginFormat string

const (
	// FormatInternal is a plugin built into the host.
	FormatInternal PluginFormat = "internal"
	// FormatCLAP is a plugin loaded from a CLAP binary.
	FormatCLAP PluginFormat = "clap"
)

// PluginKey identifies a plugin type (not an instance).
type PluginKey struct {
	RDN    string       `json:"rdn" yaml:"rdn"`
	Format PluginFormat `json:"format" yaml:"format"`
}

// String implements fmt.Stringer.
func (k PluginKey) String() string {
	return fmt.Sprintf("%s:%s", k.Format, k.RDN)
}

// GUISize is the last size a plugin's GUI was set to.
type GUISize struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// PluginSaveState is everything the engine persists about one plugin
// instance. RawState is opaque to the engine and owned by the plugin.
type PluginSaveState struct {
	Key      PluginKey `json:"key"`
	Active   bool      `json:"active"`
	Bypassed bool      `json:"bypassed"`
	RawState []byte    `json:"raw_state,omitempty"`

	// BackupAudioPorts and BackupNotePorts are the last known port
	// configurations. They are used when the plugin binary is unavailable
	// on reload so the node keeps its ports and edges.
	BackupAudioPorts *AudioPortsConfig `json:"backup_audio_ports,omitempty"`
	BackupNotePorts  *NotePortsConfig  `json:"backup_note_ports,omitempty"`

	GUISize *GUISize `json:"gui_size,omitempty"`
}

// NewSaveState returns a save state for a fresh, active instance of key.
func NewSaveState(key PluginKey) PluginSaveState {
	return PluginSaveState{Key: key, Active: true}
}

// Clone returns a deep copy.
func (s PluginSaveState) Clone() PluginSaveState {
	out := s
	if s.RawState != nil {
		out.RawState = append([]byte(nil), s.RawState...)
	}
	out.BackupAudioPorts = s.BackupAudioPorts.Clone()
	out.BackupNotePorts = s.BackupNotePorts.Clone()
	if s.GUISize != nil {
		g := *s.GUISize
		out.GUISize = &g
	}
	return out
}

// HostInfo describes the host application to every plugin instance.
type HostInfo struct {
	Name    string `json:"name"`
	Vendor  string `json:"vendor,omitempty"`
	URL     string `json:"url,omitempty"`
	Version string `json:"version"`
}

// DefaultHostInfo returns the host info used when the embedder supplies none.
func DefaultHostInfo() HostInfo {
	return HostInfo{
		Name:    "plughost",
		Vendor:  "plughost",
		URL:     "https://github.com/roach88/plughost",
		Version: EngineVersion,
	}
}
