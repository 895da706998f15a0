package engine

import (
	"fmt"

	"github.com/roach88/plughost/internal/audiograph"
	"github.com/roach88/plughost/internal/ir"
)

// ConnectFailure is one edge of a request that could not be connected.
type ConnectFailure struct {
	// Index is the position of the edge in ModifyGraphRequest.Connect.
	Index int
	Req   ir.EdgeReq
	Err   error
}

// ModifyGraphResult reports what one ModifyGraph call did.
type ModifyGraphResult struct {
	// NewPlugins has one entry per added save state, in request order.
	NewPlugins []audiograph.NewPluginResult
	Removed    []ir.PluginInstanceID
	Connected  []ir.Edge
	// RemovedEdges lists edges that went away with a removed plugin.
	RemovedEdges []ir.EdgeID
	// Disconnected lists the requested disconnects that found their edge.
	Disconnected    []ir.EdgeID
	ConnectFailures []ConnectFailure
}

// ModifyGraph applies req in the order add, remove, disconnect, connect,
// then recompiles once. Failures of single items are reported in the
// result and never abort the batch. It fails with ErrNotActive while
// inactive.
//
// A recompile failure tears the whole graph down. The result is still
// returned and the crash is delivered as an EngineDeactivated event by
// the next OnTimer call.
func (e *Engine) ModifyGraph(req ir.ModifyGraphRequest) (*ModifyGraphResult, error) {
	if e.graph == nil {
		return nil, ErrNotActive
	}
	res := &ModifyGraphResult{}

	added := make([]ir.PluginInstanceID, 0, len(req.Add))
	for _, s := range req.Add {
		r := e.graph.AddPlugin(s)
		e.byUID[r.ID.UniqueID] = r.ID
		added = append(added, r.ID)
		res.NewPlugins = append(res.NewPlugins, r)
	}

	if len(req.Remove) > 0 {
		removed, edges := e.graph.RemovePlugins(req.Remove)
		for _, id := range removed {
			e.forgetPlugin(id)
		}
		res.Removed = removed
		res.RemovedEdges = append(res.RemovedEdges, edges...)
	}

	for _, id := range req.Disconnect {
		if e.graph.DisconnectEdge(id) {
			res.Disconnected = append(res.Disconnected, id)
			continue
		}
		e.logger.Warn("cannot disconnect unknown edge", "edge", id.String())
	}

	for i, er := range req.Connect {
		edge, err := e.connect(er, added)
		if err != nil {
			res.ConnectFailures = append(res.ConnectFailures, ConnectFailure{Index: i, Req: er, Err: err})
			continue
		}
		res.Connected = append(res.Connected, edge)
	}

	if e.graph.Dirty() {
		if err := e.graph.Compile(); err != nil {
			e.crash(err)
		}
	}

	e.logger.Debug("graph modified",
		"added", len(res.NewPlugins),
		"removed", len(res.Removed),
		"connected", len(res.Connected),
		"removed_edges", len(res.RemovedEdges),
		"disconnected", len(res.Disconnected),
		"connect_failures", len(res.ConnectFailures),
	)
	return res, nil
}

func (e *Engine) connect(req ir.EdgeReq, added []ir.PluginInstanceID) (ir.Edge, error) {
	src, ok := resolve(req.Src, added)
	if !ok {
		return ir.Edge{}, &audiograph.ConnectEdgeError{
			Code: audiograph.ErrCodeSrcPluginDoesNotExist,
			Err:  &Error{Code: ErrCodeUnknownPlugin, Message: fmt.Sprintf("source %s cannot be resolved", req.Src)},
		}
	}
	dst, ok := resolve(req.Dst, added)
	if !ok {
		return ir.Edge{}, &audiograph.ConnectEdgeError{
			Code: audiograph.ErrCodeDstPluginDoesNotExist,
			Err:  &Error{Code: ErrCodeUnknownPlugin, Message: fmt.Sprintf("destination %s cannot be resolved", req.Dst)},
		}
	}
	return e.graph.ConnectEdge(req, src, dst)
}

// resolve maps an endpoint to a plugin id. Existing ids are validated by
// the graph.
func resolve(r ir.PluginIDReq, added []ir.PluginInstanceID) (ir.PluginInstanceID, bool) {
	switch {
	case r.Existing != nil:
		return *r.Existing, true
	case r.Added != nil && *r.Added >= 0 && *r.Added < len(added):
		return added[*r.Added], true
	default:
		return ir.PluginInstanceID{}, false
	}
}

// forgetPlugin drops the engine's bookkeeping of a removed plugin.
func (e *Engine) forgetPlugin(id ir.PluginInstanceID) {
	if n := e.wheel.UnregisterAllOnPlugin(id.UniqueID); n > 0 {
		e.logger.Debug("plugin timers unregistered", "plugin", id.String(), "timers", n)
	}
	delete(e.byUID, id.UniqueID)
	delete(e.hashes, id.UniqueID)
}
