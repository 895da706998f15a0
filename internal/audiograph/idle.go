package audiograph

import (
	"github.com/roach88/plughost/internal/host"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// PluginTimerOp is a timer registration change of one plugin.
type PluginTimerOp struct {
	Plugin ir.PluginInstanceID
	Op     plugin.TimerOp
}

// IdleOutput is what one OnIdle call produced.
type IdleOutput struct {
	Events   []ir.Event
	TimerOps []PluginTimerOp
	// Removed lists plugins destroyed on this tick.
	Removed []ir.PluginInstanceID
}

// OnIdle drives every host's idle processing and returns the events to
// surface. Dirty reports afterwards whether a recompile is due.
func (a *AudioGraph) OnIdle() IdleOutput {
	var out IdleOutput
	for _, e := range a.entries() {
		if e.host == nil {
			continue
		}
		res := e.host.OnIdle(a.helper)
		a.collect(e.host, res, &out)
		if edges := a.portEdges[e.id]; len(edges) > 0 {
			delete(a.portEdges, e.id)
			id := e.id
			out.Events = append(out.Events, ir.Event{
				Type:   ir.EventPortsRescanned,
				Plugin: &id,
				Ports: &ir.PortsChanged{
					AudioPorts:   e.host.AudioPorts().Clone(),
					NotePorts:    e.host.NotePorts().Clone(),
					Latency:      e.host.Latency(),
					RemovedEdges: edges,
				},
			})
		}
	}
	a.idleRemoving(&out)
	return out
}

// idleRemoving advances removed hosts and destroys those whose processor
// is gone. out may be nil.
func (a *AudioGraph) idleRemoving(out *IdleOutput) {
	kept := a.removing[:0]
	for _, h := range a.removing {
		res := h.OnIdle(a.helper)
		if res.Status != host.IdlePluginReadyToRemove {
			kept = append(kept, h)
			continue
		}
		h.Destroy()
		a.logger.Debug("plugin removed", "plugin", h.ID().String())
		if out != nil {
			id := h.ID()
			out.Removed = append(out.Removed, id)
			out.Events = append(out.Events, ir.Event{Type: ir.EventPluginRemoved, Plugin: &id})
		}
	}
	clear(a.removing[len(kept):])
	a.removing = kept
}

// collect turns one host idle result into events.
func (a *AudioGraph) collect(h *host.Host, res host.IdleResult, out *IdleOutput) {
	id := h.ID()
	event := func(e ir.Event) {
		pid := id
		e.Plugin = &pid
		out.Events = append(out.Events, e)
	}

	for i := range res.ParamChanges {
		c := res.ParamChanges[i]
		event(ir.Event{Type: ir.EventParamChanged, Param: &c})
	}
	for i := range res.GUIRequests {
		g := res.GUIRequests[i]
		event(ir.Event{Type: ir.EventGUIRequest, GUI: &g})
	}
	for _, op := range res.TimerOps {
		out.TimerOps = append(out.TimerOps, PluginTimerOp{Plugin: id, Op: op})
	}
	if res.MarkDirty {
		event(ir.Event{Type: ir.EventSaveStateDirty})
	}
	if res.PortsRescanned != nil {
		if edges := a.portEdges[id]; len(edges) > 0 {
			res.PortsRescanned.RemovedEdges = edges
			delete(a.portEdges, id)
		}
		event(ir.Event{Type: ir.EventPortsRescanned, Ports: res.PortsRescanned})
	}
	if res.Drop != nil {
		a.dirty = true
	}

	switch res.Status {
	case host.IdlePluginActivated:
		event(ir.Event{Type: ir.EventPluginActivated, Activated: res.Activated.Event()})
		if res.Activated.AnyChanged() {
			a.dirty = true
		}
	case host.IdlePluginDeactivated:
		d := &ir.PluginDeactivated{}
		if res.Err != nil {
			d.Error = res.Err.Error()
			a.logger.Warn("plugin deactivated with error", "plugin", id.String(), "error", res.Err)
		}
		event(ir.Event{Type: ir.EventPluginDeactivated, Deactivated: d})
	case host.IdlePluginFailedToActivate:
		event(ir.Event{Type: ir.EventPluginFailedToActivate, Deactivated: &ir.PluginDeactivated{Error: res.Err.Error()}})
	}
}
