package ir

import "fmt"

// PortType is the type of data carried by a port or edge.
type PortType int

const (
	// PortTypeAudio carries one channel of audio samples.
	PortTypeAudio PortType = iota
	// PortTypeNote carries note events.
	PortTypeNote
	// PortTypeAutomation carries parameter automation events.
	PortTypeAutomation
)

// String implements fmt.Stringer.
func (t PortType) String() string {
	switch t {
	case PortTypeAudio:
		return "audio"
	case PortTypeNote:
		return "note"
	case PortTypeAutomation:
		return "automation"
	default:
		return fmt.Sprintf("PortType(%d)", int(t))
	}
}

// ParsePortType parses the String() form of a PortType.
func ParsePortType(s string) (PortType, error) {
	switch s {
	case "audio":
		return PortTypeAudio, nil
	case "note":
		return PortTypeNote, nil
	case "automation":
		return PortTypeAutomation, nil
	default:
		return 0, fmt.Errorf("unknown port type %q", s)
	}
}

// AutomationPortStableID is the stable id of the single automation input
// and automation output port every plugin with parameters exposes.
const AutomationPortStableID uint32 = 0xFFFF_FFFF

// PortChannelID addresses one port channel of a plugin by its stable id.
// For note and automation ports Channel is always 0.
type PortChannelID struct {
	StableID uint32   `json:"stable_id"`
	IsInput  bool     `json:"is_input"`
	Type     PortType `json:"type"`
	Channel  uint16   `json:"channel"`
}

// String implements fmt.Stringer.
func (p PortChannelID) String() string {
	dir := "out"
	if p.IsInput {
		dir = "in"
	}
	return fmt.Sprintf("%s:%s:%d:%d", p.Type, dir, p.StableID, p.Channel)
}

// AudioPortInfo describes one audio port of a plugin.
type AudioPortInfo struct {
	StableID     uint32 `json:"stable_id"`
	Name         string `json:"name,omitempty"`
	ChannelCount uint16 `json:"channel_count"`
	// InPlacePair is the stable id of the paired port for in-place
	// processing, if any.
	InPlacePair *uint32 `json:"in_place_pair,omitempty"`
}

// AudioPortsConfig is a plugin's audio port configuration.
//
// MainInputIndex/MainOutputIndex index into Inputs/Outputs; nil means the
// plugin has no main port in that direction.
type AudioPortsConfig struct {
	Inputs          []AudioPortInfo `json:"inputs"`
	Outputs         []AudioPortInfo `json:"outputs"`
	MainInputIndex  *int            `json:"main_input_index,omitempty"`
	MainOutputIndex *int            `json:"main_output_index,omitempty"`
}

// Clone returns a deep copy.
func (c *AudioPortsConfig) Clone() *AudioPortsConfig {
	if c == nil {
		return nil
	}
	out := &AudioPortsConfig{
		Inputs:          append([]AudioPortInfo(nil), c.Inputs...),
		Outputs:         append([]AudioPortInfo(nil), c.Outputs...),
		MainInputIndex:  cloneIntPtr(c.MainInputIndex),
		MainOutputIndex: cloneIntPtr(c.MainOutputIndex),
	}
	return out
}

// Equal reports whether two configurations describe the same ports.
func (c *AudioPortsConfig) Equal(o *AudioPortsConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	if !equalIntPtr(c.MainInputIndex, o.MainInputIndex) || !equalIntPtr(c.MainOutputIndex, o.MainOutputIndex) {
		return false
	}
	return equalAudioPorts(c.Inputs, o.Inputs) && equalAudioPorts(c.Outputs, o.Outputs)
}

// TotalInChannels returns the number of input channels across all ports.
func (c *AudioPortsConfig) TotalInChannels() int {
	n := 0
	for _, p := range c.Inputs {
		n += int(p.ChannelCount)
	}
	return n
}

// TotalOutChannels returns the number of output channels across all ports.
func (c *AudioPortsConfig) TotalOutChannels() int {
	n := 0
	for _, p := range c.Outputs {
		n += int(p.ChannelCount)
	}
	return n
}

// NotePortInfo describes one note port of a plugin.
type NotePortInfo struct {
	StableID uint32 `json:"stable_id"`
	Name     string `json:"name,omitempty"`
}

// NotePortsConfig is a plugin's note port configuration.
type NotePortsConfig struct {
	Inputs          []NotePortInfo `json:"inputs"`
	Outputs         []NotePortInfo `json:"outputs"`
	MainInputIndex  *int           `json:"main_input_index,omitempty"`
	MainOutputIndex *int           `json:"main_output_index,omitempty"`
}

// Clone returns a deep copy.
func (c *NotePortsConfig) Clone() *NotePortsConfig {
	if c == nil {
		return nil
	}
	return &NotePortsConfig{
		Inputs:          append([]NotePortInfo(nil), c.Inputs...),
		Outputs:         append([]NotePortInfo(nil), c.Outputs...),
		MainInputIndex:  cloneIntPtr(c.MainInputIndex),
		MainOutputIndex: cloneIntPtr(c.MainOutputIndex),
	}
}

// Equal reports whether two configurations describe the same ports.
func (c *NotePortsConfig) Equal(o *NotePortsConfig) bool {
	if c == nil || o == nil {
		return c == o
	}
	if !equalIntPtr(c.MainInputIndex, o.MainInputIndex) || !equalIntPtr(c.MainOutputIndex, o.MainOutputIndex) {
		return false
	}
	if len(c.Inputs) != len(o.Inputs) || len(c.Outputs) != len(o.Outputs) {
		return false
	}
	for i := range c.Inputs {
		if c.Inputs[i] != o.Inputs[i] {
			return false
		}
	}
	for i := range c.Outputs {
		if c.Outputs[i] != o.Outputs[i] {
			return false
		}
	}
	return true
}

// IntPtr returns a pointer to v. Used to build port configurations.
func IntPtr(v int) *int {
	return &v
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalAudioPorts(a, b []AudioPortInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].StableID != b[i].StableID || a[i].Name != b[i].Name || a[i].ChannelCount != b[i].ChannelCount {
			return false
		}
		if !equalUint32Ptr(a[i].InPlacePair, b[i].InPlacePair) {
			return false
		}
	}
	return true
}

func equalUint32Ptr(a, b *uint32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
