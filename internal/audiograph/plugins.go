package audiograph

import (
	"fmt"

	"github.com/roach88/plughost/internal/host"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// NewPluginStatus is the outcome of adding a plugin.
type NewPluginStatus int

const (
	// PluginActivated was added and activated.
	PluginActivated NewPluginStatus = iota
	// PluginInactive was added inactive, as its save state asked.
	PluginInactive
	// PluginFailedToLoad was added around a placeholder because no
	// factory could instantiate it.
	PluginFailedToLoad
	// PluginFailedToActivate was added but its activation failed.
	PluginFailedToActivate
)

func (s NewPluginStatus) String() string {
	switch s {
	case PluginActivated:
		return "activated"
	case PluginInactive:
		return "inactive"
	case PluginFailedToLoad:
		return "failed_to_load"
	case PluginFailedToActivate:
		return "failed_to_activate"
	default:
		return fmt.Sprintf("NewPluginStatus(%d)", int(s))
	}
}

// NewPluginResult reports one added plugin.
type NewPluginResult struct {
	ID     ir.PluginInstanceID
	Status NewPluginStatus
	// Activation is set for PluginActivated.
	Activation *ir.PluginActivation
	// Err is the load or activation error.
	Err error
}

// AddPlugin instantiates the plugin of s on a new node and activates it if
// the save state marks it active.
func (a *AudioGraph) AddPlugin(s ir.PluginSaveState) NewPluginResult {
	factory := a.lookup(s.Key)
	typ := ir.PluginInstanceExternal
	if s.Key.Format == ir.FormatInternal {
		typ = ir.PluginInstanceInternal
	}

	n := a.g.AddNode()
	id := ir.PluginInstanceID{NodeIndex: n, UniqueID: a.uids.Next(), Type: typ, RDN: s.Key.RDN}
	cfg := host.Config{
		ID:            id,
		SaveState:     s,
		Factory:       factory,
		HostInfo:      a.cfg.HostInfo,
		Loader:        a.cfg.Loader,
		Logger:        a.logger,
		EventCapacity: a.cfg.EventCapacity,
	}
	h := host.NewHost(cfg)
	e := a.newEntry(id, h)
	a.syncPorts(e, wantedPorts(h))
	a.dirty = true

	res := NewPluginResult{ID: id, Status: PluginInactive}
	switch {
	case h.Missing():
		res.Status = PluginFailedToLoad
		res.Err = h.LoadError()
	case s.Active:
		status, err := h.Activate(a.cfg.SampleRate, a.cfg.MinFrames, a.cfg.MaxFrames, a.helper)
		if err != nil {
			res.Status = PluginFailedToActivate
			res.Err = err
			break
		}
		res.Status = PluginActivated
		res.Activation = status.Event()
	}
	a.logger.Debug("plugin added", "plugin", id.String(), "status", res.Status.String())
	return res
}

func (a *AudioGraph) lookup(key ir.PluginKey) plugin.Factory {
	if a.cfg.Catalog == nil {
		return nil
	}
	f, ok := a.cfg.Catalog.Factory(key)
	if !ok {
		return nil
	}
	return f
}

// RemovePlugins removes plugins and every edge attached to them. Unknown,
// duplicate and boundary ids are logged and skipped. Active plugins are
// destroyed after the audio thread dropped their processor; OnIdle reports
// when that happened.
func (a *AudioGraph) RemovePlugins(ids []ir.PluginInstanceID) (removed []ir.PluginInstanceID, removedEdges []ir.EdgeID) {
	seen := make(map[ir.PluginInstanceID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			a.logger.Warn("duplicate plugin id in removal request", "plugin", id.String())
			continue
		}
		seen[id] = true
		e, ok := a.byID[id]
		if !ok {
			a.logger.Warn("removal of unknown plugin", "plugin", id.String())
			continue
		}
		if e.host == nil {
			a.logger.Warn("boundary nodes cannot be removed", "plugin", id.String())
			continue
		}

		gids, err := a.g.RemoveNode(id.NodeIndex)
		if err != nil {
			a.logger.Error("remove node", "plugin", id.String(), "error", err)
		}
		removedEdges = append(removedEdges, a.forgetEdges(gids)...)
		delete(a.nodes, id.NodeIndex)
		delete(a.byID, id)
		delete(a.portEdges, id)

		if _, ready := e.host.ScheduleRemove(); ready {
			e.host.Destroy()
		} else {
			a.removing = append(a.removing, e.host)
		}
		removed = append(removed, id)
		a.dirty = true
	}
	return removed, removedEdges
}

// ActivatePlugin activates an inactive plugin.
func (a *AudioGraph) ActivatePlugin(id ir.PluginInstanceID) (host.ActivatedStatus, error) {
	h, ok := a.Host(id)
	if !ok {
		return host.ActivatedStatus{}, fmt.Errorf("activate %s: no such plugin", id)
	}
	return h.Activate(a.cfg.SampleRate, a.cfg.MinFrames, a.cfg.MaxFrames, a.helper)
}

// DeactivatePlugin starts deactivating an active plugin. OnIdle reports
// when it finished. It returns false if the plugin is not active.
func (a *AudioGraph) DeactivatePlugin(id ir.PluginInstanceID) bool {
	h, ok := a.Host(id)
	if !ok {
		return false
	}
	if h.ScheduleDeactivate() == nil {
		return false
	}
	a.dirty = true
	return true
}
