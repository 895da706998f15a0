package compiler

import (
	"slices"

	"github.com/roach88/plughost/internal/graph"
)

// orderResult is the topological order plus the edges scheduled as
// one-block-delayed reads.
type orderResult struct {
	order   []graph.NodeID
	delayed map[graph.EdgeID]bool
}

// topoOrder orders every node of g: graphIn first, graphOut last, the rest
// by Kahn's algorithm taking the lowest ready node each step.
//
// When no node is ready the lowest node whose remaining incoming edges all
// allow cycles is taken instead and those edges are marked delayed. If no
// such node exists the remaining graph holds a cycle that is not allowed.
func topoOrder(g *graph.Graph, graphIn, graphOut graph.NodeID) (orderResult, []graph.NodeID) {
	res := orderResult{delayed: make(map[graph.EdgeID]bool)}
	remaining := make(map[graph.NodeID]bool)
	for _, n := range g.Nodes() {
		if n != graphIn && n != graphOut {
			remaining[n] = true
		}
	}

	indeg := make(map[graph.NodeID]int, len(remaining))
	for n := range remaining {
		for _, e := range g.Incoming(n) {
			if remaining[e.Src] {
				indeg[n]++
			}
		}
	}

	res.order = append(res.order, graphIn)
	for len(remaining) > 0 {
		pending := sortedKeys(remaining)

		next, ok := graph.NodeID(0), false
		for _, n := range pending {
			if indeg[n] == 0 {
				next, ok = n, true
				break
			}
		}
		if !ok {
			for _, n := range pending {
				if allIncomingAllowCycle(g, n, remaining) {
					for _, e := range g.Incoming(n) {
						if remaining[e.Src] {
							res.delayed[e.ID] = true
						}
					}
					indeg[n] = 0
					next, ok = n, true
					break
				}
			}
		}
		if !ok {
			return res, cycleAmong(g, pending, remaining)
		}

		delete(remaining, next)
		res.order = append(res.order, next)
		for _, e := range g.Outgoing(next) {
			if remaining[e.Dst] && !res.delayed[e.ID] {
				indeg[e.Dst]--
			}
		}
	}
	res.order = append(res.order, graphOut)
	return res, nil
}

func allIncomingAllowCycle(g *graph.Graph, n graph.NodeID, remaining map[graph.NodeID]bool) bool {
	for _, e := range g.Incoming(n) {
		if remaining[e.Src] && !e.AllowCycle {
			return false
		}
	}
	return true
}

// cycleAmong returns one cycle of the subgraph induced by remaining.
func cycleAmong(g *graph.Graph, nodes []graph.NodeID, remaining map[graph.NodeID]bool) []graph.NodeID {
	succ := make(successors, len(nodes))
	for _, n := range nodes {
		for _, e := range g.Outgoing(n) {
			if remaining[e.Dst] && !slices.Contains(succ[n], e.Dst) {
				succ[n] = append(succ[n], e.Dst)
			}
		}
		slices.Sort(succ[n])
	}
	cycle := findCycle(nodes, succ)
	if cycle == nil {
		// The stuck set always holds a cycle; report every stuck node if
		// path reconstruction found none.
		return nodes
	}
	return cycle
}

func sortedKeys(m map[graph.NodeID]bool) []graph.NodeID {
	keys := make([]graph.NodeID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
