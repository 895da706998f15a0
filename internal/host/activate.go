package host

import (
	"errors"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/schedule"
)

// GraphHelper is the audio graph's side of an activation.
type GraphHelper interface {
	// PortsChanged rebinds the host's graph ports after its port
	// configuration changed and marks the graph for recompilation.
	PortsChanged(h *Host)
	// PendingVersion returns the version the next compiled schedule will
	// carry, and whether a recompile is pending.
	PendingVersion() (uint64, bool)
}

// ActivatedStatus reports what changed during an activation.
type ActivatedStatus struct {
	AudioPortsChanged bool
	NotePortsChanged  bool
	LatencyChanged    bool
	Latency           int64
	Internal          plugin.InternalHandle
}

// AnyChanged reports whether the graph must be recompiled.
func (s ActivatedStatus) AnyChanged() bool {
	return s.AudioPortsChanged || s.NotePortsChanged || s.LatencyChanged
}

// Event converts the status to its event payload.
func (s ActivatedStatus) Event() *ir.PluginActivation {
	return &ir.PluginActivation{
		AudioPortsChanged: s.AudioPortsChanged,
		NotePortsChanged:  s.NotePortsChanged,
		LatencyChanged:    s.LatencyChanged,
		Latency:           s.Latency,
	}
}

// Activate activates the plugin and publishes its processor. Ports are
// re-read on the first activation and after the plugin asked for a rescan;
// the status reports what changed. If the graph has a recompile pending,
// the processor waits for that schedule version.
func (h *Host) Activate(sampleRate float64, minFrames, maxFrames uint32, helper GraphHelper) (ActivatedStatus, error) {
	switch st := h.State(); st {
	case StateInactive:
	case StateInactiveWithError:
		return ActivatedStatus{}, &ActivatePluginError{Code: ErrCodePluginSpecific, Err: h.activateErr}
	default:
		return ActivatedStatus{}, &ActivatePluginError{Code: ErrCodeAlreadyActive}
	}
	h.activation = activation{sampleRate: sampleRate, minFrames: minFrames, maxFrames: maxFrames}
	h.restart = false

	var status ActivatedStatus
	if !h.activated || h.rescanPorts {
		audio, err := h.main.AudioPorts()
		if err != nil || audio == nil {
			return status, h.fail(&ActivatePluginError{Code: ErrCodePluginFailedToGetAudioPortsExt, Err: err})
		}
		notes, err := h.main.NotePorts()
		if err != nil || notes == nil {
			return status, h.fail(&ActivatePluginError{Code: ErrCodePluginFailedToGetNotePortsExt, Err: err})
		}
		status.AudioPortsChanged = !audio.Equal(h.audioPorts)
		status.NotePortsChanged = !notes.Equal(h.notePorts)
		h.audioPorts, h.notePorts = audio, notes
		h.rescanPorts = false
	}

	act, err := h.main.Activate(sampleRate, minFrames, maxFrames)
	if err != nil {
		return status, h.fail(&ActivatePluginError{Code: ErrCodePluginSpecific, Err: err})
	}
	if act.Processor == nil {
		h.main.Deactivate()
		return status, h.fail(&ActivatePluginError{Code: ErrCodePluginSpecific, Err: errNoProcessor})
	}

	latency := h.main.Latency()
	status.LatencyChanged = latency != h.latency
	status.Latency = latency
	h.latency = latency
	h.internal = act.Internal
	status.Internal = act.Internal

	h.rescanParams()
	h.toProc = plugin.NewParamQueue(h.paramIDs)
	h.toUser = plugin.NewParamQueue(h.paramIDs)
	cookies := make(map[ir.ParamID]uintptr, len(h.paramIDs))
	for _, id := range h.paramIDs {
		p := h.params[id]
		cookies[id] = p.Info.Cookie
		if p.ModAmount != 0 {
			h.toProc.SetMod(id, p.ModAmount)
		}
	}
	h.shared.crashed.Store(false)
	h.proc = newProcessor(act.Processor, h.shared, h.toProc, h.toUser, cookies, h.eventCapacity)

	if status.AudioPortsChanged || status.NotePortsChanged {
		helper.PortsChanged(h)
	}
	var minVersion uint64
	if v, pending := helper.PendingVersion(); pending {
		minVersion = v
	}
	if err := h.shared.transition(StateInactive, StateActive); err != nil {
		h.logger.Error("activate", "error", err)
	}
	h.slot.Publish(h.proc, minVersion)
	h.activated = true
	h.wantActive = true
	h.activateErr = nil
	h.logger.Debug("plugin activated",
		"sample_rate", sampleRate,
		"max_frames", maxFrames,
		"min_version", minVersion,
		"latency", latency,
	)
	return status, nil
}

var errNoProcessor = errors.New("plugin returned no processor")

// fail records an activation failure. The host stays in
// StateInactiveWithError until it is removed.
func (h *Host) fail(err *ActivatePluginError) error {
	h.activateErr = err
	if terr := h.shared.transition(StateInactive, StateInactiveWithError); terr != nil {
		h.logger.Error("activation failure", "error", terr)
	}
	h.logger.Warn("plugin failed to activate", "error", err)
	return err
}

// ActivationError returns the error that put the host into
// StateInactiveWithError.
func (h *Host) ActivationError() error { return h.activateErr }

// ScheduleDeactivate starts deactivation. The returned processor must go
// on the drop list of the next schedule; the host finishes deactivating on
// the idle tick after the audio thread dropped it. It returns nil if the
// plugin is not active.
func (h *Host) ScheduleDeactivate() schedule.NodeProcessor {
	proc := h.scheduleDrop()
	if proc != nil {
		h.wantActive = false
	}
	return proc
}

func (h *Host) scheduleDrop() schedule.NodeProcessor {
	if err := h.shared.transition(StateActive, StateWaitingToDrop); err != nil {
		return nil
	}
	h.slot.Clear()
	return h.proc
}

// ScheduleRemove marks the host for removal. If it is active, the
// returned processor must go on the next drop list and the host reports
// ready to remove from a later OnIdle; otherwise it can be destroyed at
// once and ready is true.
func (h *Host) ScheduleRemove() (drop schedule.NodeProcessor, ready bool) {
	h.remove = true
	switch h.State() {
	case StateActive:
		return h.scheduleDrop(), false
	case StateWaitingToDrop, StateDroppedAndReadyToDeactivate:
		return h.proc, false
	default:
		return nil, true
	}
}

// PendingDrop returns the processor awaiting drop confirmation, if any.
// It stays on every drop list until the confirmation arrives.
func (h *Host) PendingDrop() schedule.NodeProcessor {
	if h.State() == StateWaitingToDrop {
		return h.proc
	}
	return nil
}

// ConfirmDropOffline drops the processor on the calling thread. Only
// legal once no audio thread can run the processor any more.
func (h *Host) ConfirmDropOffline() {
	if h.proc != nil && h.State() == StateWaitingToDrop {
		h.proc.DropOnAudioThread()
	}
}
