package host

import (
	"errors"
	"fmt"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/schedule"
)

// IdleStatus is the lifecycle outcome of one OnIdle call.
type IdleStatus int

const (
	IdleOK IdleStatus = iota
	// IdlePluginDeactivated finished a deactivation. Err is set when the
	// processor crashed.
	IdlePluginDeactivated
	// IdlePluginActivated reactivated a plugin that asked for a restart.
	IdlePluginActivated
	// IdlePluginReadyToRemove finished deactivating a host scheduled for
	// removal. It can be destroyed now.
	IdlePluginReadyToRemove
	// IdlePluginFailedToActivate failed to reactivate after a restart.
	IdlePluginFailedToActivate
)

func (s IdleStatus) String() string {
	switch s {
	case IdleOK:
		return "ok"
	case IdlePluginDeactivated:
		return "plugin_deactivated"
	case IdlePluginActivated:
		return "plugin_activated"
	case IdlePluginReadyToRemove:
		return "plugin_ready_to_remove"
	case IdlePluginFailedToActivate:
		return "plugin_failed_to_activate"
	default:
		return fmt.Sprintf("IdleStatus(%d)", int(s))
	}
}

// ErrProcessorCrashed is the deactivation error of a processor that
// failed or panicked on the audio thread.
var ErrProcessorCrashed = errors.New("plugin processor crashed")

// IdleResult collects everything one OnIdle call produced.
type IdleResult struct {
	Status IdleStatus
	// Activated is set for IdlePluginActivated.
	Activated ActivatedStatus
	Err       error

	ParamChanges []ir.ParamChange
	GUIRequests  []ir.GUIRequest
	// TimerOps are the plugin's timer registration changes. The caller
	// applies them to its timer wheel.
	TimerOps  []plugin.TimerOp
	MarkDirty bool
	// PortsRescanned is set when an inactive plugin re-read its ports.
	PortsRescanned *ir.PortsChanged
	// Drop is a processor the caller must put on the next drop list.
	Drop schedule.NodeProcessor
}

// OnIdle services the plugin's requests and advances a pending
// deactivation. It runs on the control thread once per idle tick.
func (h *Host) OnIdle(helper GraphHelper) IdleResult {
	var res IdleResult
	h.drainToUser(&res)

	flags := h.request.Take()
	if flags.Has(plugin.RequestMarkDirty) {
		res.MarkDirty = true
	}
	if flags.Has(plugin.RequestCallback) {
		h.main.OnMainThread()
	}
	if flags.Has(plugin.RequestRescanParams) {
		h.rescanParamValues(&res)
	}
	if flags.Has(plugin.RequestFlushParams) {
		switch {
		case h.queueActive():
		case h.State().IsActive():
			h.flushPending = true
		default:
			res.ParamChanges = append(res.ParamChanges, h.flush()...)
		}
	}
	if flags.Has(plugin.RequestProcess) {
		h.shared.wake.Store(true)
	}
	if flags.Has(plugin.RequestRestart) {
		h.restart = true
	}
	rescan := flags.Has(plugin.RequestRescanAudioPorts) ||
		flags.Has(plugin.RequestRescanNotePorts) ||
		flags.Has(plugin.RequestRescanLatency)
	if rescan {
		if h.State() == StateInactive {
			h.rescanInactive(&res, helper)
		} else {
			// Applied by the reactivation.
			h.rescanPorts = true
			h.restart = true
		}
	}
	h.guiRequests(flags, &res)
	if flags.Has(plugin.RequestTimers) {
		h.timerOps(&res)
	}

	if h.State() == StateActive && !h.remove {
		if h.shared.crashed.Load() {
			h.logger.Error("plugin processor crashed, deactivating")
			res.Drop = h.scheduleDrop()
		} else if h.restart {
			h.logger.Debug("plugin requested restart")
			res.Drop = h.scheduleDrop()
		}
	}

	if h.State() == StateDroppedAndReadyToDeactivate {
		h.finishDeactivate(&res, helper)
	}
	return res
}

// finishDeactivate deactivates a plugin whose processor the audio thread
// dropped, then either reports it removable or reactivates it.
func (h *Host) finishDeactivate(res *IdleResult, helper GraphHelper) {
	h.drainToUser(res)
	h.main.Deactivate()
	h.proc, h.toProc, h.toUser = nil, nil, nil
	if err := h.shared.transition(StateDroppedAndReadyToDeactivate, StateInactive); err != nil {
		h.logger.Error("deactivate", "error", err)
		return
	}
	h.logger.Debug("plugin deactivated")
	res.ParamChanges = append(res.ParamChanges, h.flushDeferred()...)

	switch {
	case h.remove:
		res.Status = IdlePluginReadyToRemove
	case h.shared.crashed.Load():
		h.activateErr = ErrProcessorCrashed
		if err := h.shared.transition(StateInactive, StateInactiveWithError); err != nil {
			h.logger.Error("deactivate", "error", err)
		}
		res.Status = IdlePluginDeactivated
		res.Err = ErrProcessorCrashed
	case h.restart && h.wantActive:
		status, err := h.Activate(h.activation.sampleRate, h.activation.minFrames, h.activation.maxFrames, helper)
		if err != nil {
			res.Status = IdlePluginFailedToActivate
			res.Err = err
			return
		}
		res.Status = IdlePluginActivated
		res.Activated = status
	default:
		h.restart = false
		res.Status = IdlePluginDeactivated
	}
}

func (h *Host) drainToUser(res *IdleResult) {
	if h.toUser == nil {
		return
	}
	h.toUser.Drain(func(id ir.ParamID, u plugin.ParamUpdate) {
		p, ok := h.params[id]
		if !ok {
			return
		}
		if u.GestureEndFirst {
			res.ParamChanges = append(res.ParamChanges, ir.ParamChange{ID: id, GestureEnd: true})
		}
		if u.GestureBegin {
			p.Gesturing = true
			res.ParamChanges = append(res.ParamChanges, ir.ParamChange{ID: id, GestureBegin: true})
		}
		if u.HasValue || u.HasMod {
			c := ir.ParamChange{ID: id}
			if u.HasValue {
				p.Value = u.Value
				v := u.Value
				c.Value = &v
			}
			if u.HasMod {
				p.ModAmount = u.Mod
				m := u.Mod
				c.ModAmount = &m
			}
			res.ParamChanges = append(res.ParamChanges, c)
		}
		if u.GestureEnd && !u.GestureEndFirst {
			p.Gesturing = false
			res.ParamChanges = append(res.ParamChanges, ir.ParamChange{ID: id, GestureEnd: true})
		}
	})
}

// rescanParamValues reloads the parameter list and reports values that
// changed.
func (h *Host) rescanParamValues(res *IdleResult) {
	old := make(map[ir.ParamID]float64, len(h.params))
	for id, p := range h.params {
		old[id] = p.Value
	}
	h.rescanParams()
	for _, id := range h.paramIDs {
		v := h.params[id].Value
		if prev, ok := old[id]; ok && prev == v {
			continue
		}
		res.ParamChanges = append(res.ParamChanges, ir.ParamChange{ID: id, Value: &v})
	}
	if h.toProc != nil && h.toProc.Len() != len(h.paramIDs) {
		// The queues are sized for the old list; a restart rebuilds them.
		h.restart = true
	}
}

// rescanInactive re-reads ports and latency of an inactive plugin.
func (h *Host) rescanInactive(res *IdleResult, helper GraphHelper) {
	audio, err := h.main.AudioPorts()
	if err != nil || audio == nil {
		h.logger.Warn("audio port rescan failed", "error", err)
		return
	}
	notes, err := h.main.NotePorts()
	if err != nil || notes == nil {
		h.logger.Warn("note port rescan failed", "error", err)
		return
	}
	changed := !audio.Equal(h.audioPorts) || !notes.Equal(h.notePorts)
	h.audioPorts, h.notePorts = audio, notes
	h.latency = h.main.Latency()
	h.rescanPorts = false
	if changed {
		helper.PortsChanged(h)
	}
	res.PortsRescanned = &ir.PortsChanged{
		AudioPorts: audio.Clone(),
		NotePorts:  notes.Clone(),
		Latency:    h.latency,
	}
}

func (h *Host) guiRequests(flags plugin.RequestFlags, res *IdleResult) {
	if flags.Has(plugin.RequestGUIShow) {
		res.GUIRequests = append(res.GUIRequests, ir.GUIRequest{Kind: ir.GUIShow})
	}
	if flags.Has(plugin.RequestGUIHide) {
		res.GUIRequests = append(res.GUIRequests, ir.GUIRequest{Kind: ir.GUIHide})
	}
	if flags.Has(plugin.RequestGUIResize) {
		size := h.request.GUISize()
		h.guiSize = &size
		s := size
		res.GUIRequests = append(res.GUIRequests, ir.GUIRequest{Kind: ir.GUIResize, Size: &s})
	}
	if flags.Has(plugin.RequestGUIHintsChanged) {
		res.GUIRequests = append(res.GUIRequests, ir.GUIRequest{Kind: ir.GUIResizeHintsChanged})
	}
	destroyed := flags.Has(plugin.RequestGUIDestroyed)
	if flags.Has(plugin.RequestGUIClosed) || destroyed {
		res.GUIRequests = append(res.GUIRequests, ir.GUIRequest{Kind: ir.GUIClosed, WasDestroyed: destroyed})
	}
}

func (h *Host) timerOps(res *IdleResult) {
	for _, op := range h.request.TakeTimerOps() {
		if op.Register {
			h.timers[op.ID] = struct{}{}
		} else {
			if _, ok := h.timers[op.ID]; !ok {
				continue
			}
			delete(h.timers, op.ID)
		}
		res.TimerOps = append(res.TimerOps, op)
	}
}
