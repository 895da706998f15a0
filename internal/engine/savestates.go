package engine

import (
	"github.com/roach88/plughost/internal/ir"
)

// SaveStateEntry is the save state of one plugin.
type SaveStateEntry struct {
	ID    ir.PluginInstanceID
	State ir.PluginSaveState
	// Hash is the content hash of State, see ir.SaveStateHash.
	Hash string
}

// CollectLatestSaveStates returns the save state of every plugin whose
// save state changed since the previous call, in node order. The first
// call after a plugin was added always includes it.
func (e *Engine) CollectLatestSaveStates() []SaveStateEntry {
	if e.graph == nil {
		return nil
	}
	var out []SaveStateEntry
	for _, id := range e.graph.Plugins() {
		if id.IsBoundary() {
			continue
		}
		h, ok := e.graph.Host(id)
		if !ok {
			continue
		}
		s := h.SaveState()
		hash, err := ir.SaveStateHash(s)
		if err != nil {
			e.logger.Warn("failed to hash save state", "plugin", id.String(), "error", err)
			continue
		}
		if e.hashes[id.UniqueID] == hash {
			continue
		}
		e.hashes[id.UniqueID] = hash
		out = append(out, SaveStateEntry{ID: id, State: s, Hash: hash})
	}
	return out
}
