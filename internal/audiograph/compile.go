package audiograph

import (
	"time"

	"github.com/roach88/plughost/internal/collector"
	"github.com/roach88/plughost/internal/compiler"
	"github.com/roach88/plughost/internal/graph"
	"github.com/roach88/plughost/internal/host"
	"github.com/roach88/plughost/internal/schedule"
)

// Compile compiles the graph and publishes the schedule. On failure an
// empty schedule is published instead, so the audio thread never runs a
// schedule that references stale state, and the error is returned.
func (a *AudioGraph) Compile() error {
	version := a.versions.Next()
	drops := a.pendingDrops()

	nodes := make(map[graph.NodeID]*compiler.Node, len(a.nodes))
	for n, e := range a.nodes {
		nodes[n] = e.node
	}
	s, err := compiler.Compile(compiler.Input{
		Graph:       a.g,
		Nodes:       nodes,
		GraphIn:     a.graphIn.id.NodeIndex,
		GraphOut:    a.graphOut.id.NodeIndex,
		Version:     version,
		MaxFrames:   int(a.cfg.MaxFrames),
		NumInputs:   a.cfg.NumInputs,
		NumOutputs:  a.cfg.NumOutputs,
		Transport:   a.transport,
		ProcsToDrop: drops,
		Pool:        a.pool,
		MaxBuffers:  a.cfg.MaxBuffers,
	})
	a.dirty = false
	if err != nil {
		a.logger.Error("graph compile failed, publishing empty schedule", "version", version, "error", err)
		a.publishEmpty(version, drops)
		return err
	}
	a.publish(s)
	a.logger.Debug("schedule published",
		"version", version,
		"tasks", len(s.Tasks),
		"plugins", s.PluginTasks,
		"drops", len(drops),
	)
	return nil
}

func (a *AudioGraph) publish(s *schedule.Schedule) {
	pool := a.pool
	a.shared.Publish(collector.Register(a.collector, s, func(s *schedule.Schedule) { s.Release(pool) }))
}

func (a *AudioGraph) publishEmpty(version uint64, drops []schedule.NodeProcessor) {
	s := schedule.Empty(version, int(a.cfg.MaxFrames), a.cfg.NumInputs, a.cfg.NumOutputs, a.transport)
	s.ProcsToDrop = drops
	a.publish(s)
}

// pendingDrops lists every processor still awaiting its drop. A schedule
// that is replaced before the audio thread picks it up loses its drop
// list, so each schedule repeats the whole list; dropping is idempotent.
func (a *AudioGraph) pendingDrops() []schedule.NodeProcessor {
	var drops []schedule.NodeProcessor
	add := func(h *host.Host) {
		if p := h.PendingDrop(); p != nil {
			drops = append(drops, p)
		}
	}
	for _, e := range a.entries() {
		if e.host != nil {
			add(e.host)
		}
	}
	for _, h := range a.removing {
		add(h)
	}
	return drops
}

// Reset deactivates and removes every plugin, then rebuilds the boundary
// nodes with fresh ids. It publishes an empty schedule and polls idle
// processing until the audio thread dropped every processor, for at most
// the configured timeout; after that it warns and tears down anyway.
func (a *AudioGraph) Reset() {
	a.RemovePlugins(a.Plugins())
	a.publishEmpty(a.versions.Next(), a.pendingDrops())

	deadline := time.Now().Add(a.cfg.ResetTimeout)
	for len(a.removing) > 0 {
		a.idleRemoving(nil)
		if len(a.removing) == 0 {
			break
		}
		if time.Now().After(deadline) {
			a.logger.Warn("timed out waiting for plugins to drop, tearing down anyway",
				"timeout", a.cfg.ResetTimeout,
				"remaining", len(a.removing),
			)
			for _, h := range a.removing {
				h.ConfirmDropOffline()
			}
			a.idleRemoving(nil)
			for _, h := range a.removing {
				h.Destroy()
			}
			a.removing = nil
			break
		}
		time.Sleep(a.cfg.ResetPoll)
	}

	a.g.Clear()
	clear(a.nodes)
	clear(a.byID)
	clear(a.edges)
	clear(a.edgeByGraph)
	clear(a.portEdges)
	a.addBoundaries()
	a.logger.Debug("audio graph reset", "graph_in", a.graphIn.id.String(), "graph_out", a.graphOut.id.String())
}
