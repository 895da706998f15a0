package plugin

import (
	"fmt"

	"github.com/roach88/plughost/internal/ir"
)

// Descriptor describes a plugin type yielded by a factory or the scanner.
type Descriptor struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Vendor      string          `json:"vendor,omitempty"`
	Version     string          `json:"version,omitempty"`
	Description string          `json:"description,omitempty"`
	Format      ir.PluginFormat `json:"format"`
	Features    []string        `json:"features,omitempty"`
	// Path is the binary the plugin was found in. Empty for internal plugins.
	Path string `json:"path,omitempty"`
}

// Key returns the save-state key of this plugin type.
func (d Descriptor) Key() ir.PluginKey {
	return ir.PluginKey{RDN: d.ID, Format: d.Format}
}

// Context is handed to a Factory when it instantiates a plugin.
type Context struct {
	HostInfo ir.HostInfo
	Request  *HostRequest
	Loader   ResourceLoader
	// UniqueID is the instance's process-lifetime id.
	UniqueID uint64
}

// Factory instantiates one plugin type.
type Factory interface {
	Descriptor() Descriptor
	New(ctx Context) (MainThread, error)
}

// ActivatedPlugin is what a successful activation returns.
type ActivatedPlugin struct {
	Processor Processor
	// Internal is set by internal plugins that expose a control handle.
	Internal InternalHandle
}

// GUIInfo reports the GUI capabilities of a plugin.
type GUIInfo struct {
	Floating bool `json:"floating"`
	Embedded bool `json:"embedded"`
}

// MainThread is the control-thread half of a plugin instance.
type MainThread interface {
	// Activate binds the sample rate and frames-per-block range and returns
	// the audio-thread processor.
	Activate(sampleRate float64, minFrames, maxFrames uint32) (ActivatedPlugin, error)
	// Deactivate is called after the processor has been dropped by the
	// audio thread.
	Deactivate()

	// AudioPorts and NotePorts report the port configuration. They may be
	// called while inactive.
	AudioPorts() (*ir.AudioPortsConfig, error)
	NotePorts() (*ir.NotePortsConfig, error)
	Latency() int64

	NumParams() int
	ParamInfo(index int) (ParamInfo, bool)
	ParamValue(id ir.ParamID) (float64, bool)
	// ParamFlush applies in while the plugin is inactive and appends any
	// parameter changes the plugin makes to out.
	ParamFlush(in []Event, out *EventBuffer)

	SaveState() ([]byte, error)
	LoadState(raw []byte) error

	GUI() GUIInfo
	// OnMainThread runs when the plugin asked for a main-thread callback.
	OnMainThread()
	// OnTimer runs when one of the plugin's registered timers fires.
	OnTimer(id ir.TimerID)

	// Destroy releases the instance. The host never calls anything after it.
	Destroy()
}

// ProcessStatus is what a processor reports after one block.
type ProcessStatus int

const (
	// ProcessContinue keeps processing regardless of input.
	ProcessContinue ProcessStatus = iota
	// ProcessContinueIfNotQuiet may sleep once inputs and outputs are quiet.
	ProcessContinueIfNotQuiet
	// ProcessTail is rendering a tail and continues until it reports otherwise.
	ProcessTail
	// ProcessSleep is not called again until it has input events or
	// non-silent audio input.
	ProcessSleep
	// ProcessError indicates a failed block; outputs are cleared.
	ProcessError
)

// String implements fmt.Stringer.
func (s ProcessStatus) String() string {
	switch s {
	case ProcessContinue:
		return "continue"
	case ProcessContinueIfNotQuiet:
		return "continue_if_not_quiet"
	case ProcessTail:
		return "tail"
	case ProcessSleep:
		return "sleep"
	case ProcessError:
		return "error"
	default:
		return fmt.Sprintf("ProcessStatus(%d)", int(s))
	}
}

// TransportInfo is the per-block transport snapshot handed to processors.
type TransportInfo struct {
	Playing       bool
	PlayheadFrame uint64
	LoopActive    bool
	LoopStart     uint64
	LoopEnd       uint64
	BPM           float64
	Numerator     uint16
	Denominator   uint16
	// BeatPosition is the playhead in quarter notes.
	BeatPosition float64
}

// ProcInfo is the per-block context of a Process call.
type ProcInfo struct {
	SteadyTime int64
	Frames     int
	Transport  *TransportInfo
}

// Processor is the audio-thread half of an activated plugin. All methods
// are called on the audio thread and must not block or allocate.
type Processor interface {
	StartProcessing() error
	StopProcessing()
	Process(info *ProcInfo, buffers *ProcBuffers, events *ProcEvents) ProcessStatus
}

// ProcEvents are the event buffers of one Process call. In is sorted by
// time. A processor appends to Out (parameter changes, note output).
type ProcEvents struct {
	In  *EventBuffer
	Out *EventBuffer
}
