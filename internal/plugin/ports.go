package plugin

import (
	"log/slog"

	"github.com/roach88/plughost/internal/ir"
)

// MainPortIndex picks the main port of one direction from the ports'
// main flags. Zero or one port may be flagged; a second claim is logged and
// ignored so the first flagged port wins.
func MainPortIndex(logger *slog.Logger, plugin, what string, isMain []bool) *int {
	var main *int
	for i, m := range isMain {
		if !m {
			continue
		}
		if main != nil {
			logger.Warn("plugin flagged more than one main port, using the first",
				"plugin", plugin,
				"ports", what,
				"first", *main,
				"ignored", i,
			)
			continue
		}
		main = ir.IntPtr(i)
	}
	return main
}

// MainAudioInput returns the main audio input port, if any.
func MainAudioInput(c *ir.AudioPortsConfig) (ir.AudioPortInfo, bool) {
	if c == nil || c.MainInputIndex == nil || *c.MainInputIndex >= len(c.Inputs) {
		return ir.AudioPortInfo{}, false
	}
	return c.Inputs[*c.MainInputIndex], true
}

// MainAudioOutput returns the main audio output port, if any.
func MainAudioOutput(c *ir.AudioPortsConfig) (ir.AudioPortInfo, bool) {
	if c == nil || c.MainOutputIndex == nil || *c.MainOutputIndex >= len(c.Outputs) {
		return ir.AudioPortInfo{}, false
	}
	return c.Outputs[*c.MainOutputIndex], true
}

// MainNotePort returns the main note port of one direction, if any.
func MainNotePort(c *ir.NotePortsConfig, isInput bool) (ir.NotePortInfo, bool) {
	if c == nil {
		return ir.NotePortInfo{}, false
	}
	idx, ports := c.MainOutputIndex, c.Outputs
	if isInput {
		idx, ports = c.MainInputIndex, c.Inputs
	}
	if idx == nil || *idx >= len(ports) {
		return ir.NotePortInfo{}, false
	}
	return ports[*idx], true
}

// StereoPorts is the common 2-in/2-out main audio configuration.
func StereoPorts() *ir.AudioPortsConfig {
	return &ir.AudioPortsConfig{
		Inputs:          []ir.AudioPortInfo{{StableID: 0, Name: "main", ChannelCount: 2}},
		Outputs:         []ir.AudioPortInfo{{StableID: 0, Name: "main", ChannelCount: 2}},
		MainInputIndex:  ir.IntPtr(0),
		MainOutputIndex: ir.IntPtr(0),
	}
}
