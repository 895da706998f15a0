package ir

import "fmt"

// EventType tags an engine event. Exactly one payload field of Event is
// set for each type, as listed on the constants.
type EventType int

const (
	// EventParamChanged reports a parameter value/gesture change made by
	// the plugin. Payload: Param.
	EventParamChanged EventType = iota
	// EventGUIRequest reports a plugin GUI request. Payload: GUI.
	EventGUIRequest
	// EventPortsRescanned reports a changed port configuration. Payload: Ports.
	EventPortsRescanned
	// EventPluginActivated reports a successful (re)activation. Payload: Activated.
	EventPluginActivated
	// EventPluginDeactivated reports that a plugin finished deactivating.
	// Payload: Deactivated.
	EventPluginDeactivated
	// EventPluginFailedToActivate reports an activation failure.
	// Payload: Deactivated (with Error set).
	EventPluginFailedToActivate
	// EventPluginRemoved reports that a removed plugin was fully dropped.
	// Payload: none (Plugin is set).
	EventPluginRemoved
	// EventEngineDeactivated reports that the engine stopped, gracefully or
	// because it crashed. Payload: Engine.
	EventEngineDeactivated
	// EventSaveStateDirty reports that a plugin marked its state dirty.
	// Payload: none (Plugin is set).
	EventSaveStateDirty
)

var eventTypeNames = [...]string{
	EventParamChanged:           "param_changed",
	EventGUIRequest:             "gui_request",
	EventPortsRescanned:         "ports_rescanned",
	EventPluginActivated:        "plugin_activated",
	EventPluginDeactivated:      "plugin_deactivated",
	EventPluginFailedToActivate: "plugin_failed_to_activate",
	EventPluginRemoved:          "plugin_removed",
	EventEngineDeactivated:      "engine_deactivated",
	EventSaveStateDirty:         "save_state_dirty",
}

// String implements fmt.Stringer.
func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is one record of the engine event stream returned by OnTimer.
type Event struct {
	Type EventType `json:"type"`

	// Plugin is the plugin the event concerns. Nil for engine events.
	Plugin *PluginInstanceID `json:"plugin,omitempty"`

	Param       *ParamChange       `json:"param,omitempty"`
	GUI         *GUIRequest        `json:"gui,omitempty"`
	Ports       *PortsChanged      `json:"ports,omitempty"`
	Activated   *PluginActivation  `json:"activated,omitempty"`
	Deactivated *PluginDeactivated `json:"deactivated,omitempty"`
	Engine      *EngineStopped     `json:"engine,omitempty"`
}

// ParamChange is a parameter change reported by a plugin. Value and
// ModAmount are nil when unchanged.
type ParamChange struct {
	ID           ParamID  `json:"id"`
	Value        *float64 `json:"value,omitempty"`
	ModAmount    *float64 `json:"mod_amount,omitempty"`
	GestureBegin bool     `json:"gesture_begin,omitempty"`
	GestureEnd   bool     `json:"gesture_end,omitempty"`
}

// GUIRequestKind enumerates plugin GUI requests.
type GUIRequestKind int

const (
	GUIShow GUIRequestKind = iota
	GUIHide
	GUIResize
	GUIResizeHintsChanged
	GUIClosed
)

// String implements fmt.Stringer.
func (k GUIRequestKind) String() string {
	switch k {
	case GUIShow:
		return "show"
	case GUIHide:
		return "hide"
	case GUIResize:
		return "resize"
	case GUIResizeHintsChanged:
		return "resize_hints_changed"
	case GUIClosed:
		return "closed"
	default:
		return fmt.Sprintf("GUIRequestKind(%d)", int(k))
	}
}

// GUIRequest is a GUI request raised by a plugin.
type GUIRequest struct {
	Kind GUIRequestKind `json:"kind"`
	// Size is set for GUIResize.
	Size *GUISize `json:"size,omitempty"`
	// WasDestroyed is set for GUIClosed when the plugin destroyed the window.
	WasDestroyed bool `json:"was_destroyed,omitempty"`
}

// PortsChanged carries the new port configuration after a rescan.
type PortsChanged struct {
	AudioPorts *AudioPortsConfig `json:"audio_ports,omitempty"`
	NotePorts  *NotePortsConfig  `json:"note_ports,omitempty"`
	Latency    int64             `json:"latency"`
	// RemovedEdges lists edges that were attached to ports that no longer
	// exist.
	RemovedEdges []EdgeID `json:"removed_edges,omitempty"`
}

// PluginActivation summarises a successful activation.
type PluginActivation struct {
	AudioPortsChanged bool  `json:"audio_ports_changed"`
	NotePortsChanged  bool  `json:"note_ports_changed"`
	LatencyChanged    bool  `json:"latency_changed"`
	Latency           int64 `json:"latency"`
}

// PluginDeactivated summarises a deactivation or a failed activation.
type PluginDeactivated struct {
	Error string `json:"error,omitempty"`
}

// EngineStopped describes why the engine deactivated.
type EngineStopped struct {
	Crashed bool   `json:"crashed"`
	Reason  string `json:"reason,omitempty"`
}
