package compiler

import (
	"slices"

	"github.com/roach88/plughost/internal/graph"
)

// successors maps a node to the nodes it feeds, ascending.
type successors map[graph.NodeID][]graph.NodeID

// findCycle returns the members of one cycle among nodes, in cycle order
// starting from its lowest node, or nil if there is none.
//
// The algorithm:
//  1. Find strongly connected components with Tarjan's algorithm
//  2. Keep components with more than one node or a self loop
//  3. Reconstruct a path through the component with the lowest member
func findCycle(nodes []graph.NodeID, succ successors) []graph.NodeID {
	var best []graph.NodeID
	for _, scc := range tarjanSCC(nodes, succ) {
		if len(scc) == 1 && !slices.Contains(succ[scc[0]], scc[0]) {
			continue
		}
		slices.Sort(scc)
		if best == nil || scc[0] < best[0] {
			best = scc
		}
	}
	if best == nil {
		return nil
	}
	return reconstructCyclePath(best, succ)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in the given order so the result is deterministic.
func tarjanSCC(nodes []graph.NodeID, succ successors) [][]graph.NodeID {
	var (
		index   = 0
		stack   []graph.NodeID
		indices = make(map[graph.NodeID]int)
		lowlink = make(map[graph.NodeID]int)
		onStack = make(map[graph.NodeID]bool)
		sccs    [][]graph.NodeID
	)

	var strongConnect func(graph.NodeID)
	strongConnect = func(v graph.NodeID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succ[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []graph.NodeID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// reconstructCyclePath follows edges inside scc from its first member until
// it returns to the start. For a self loop the path is [n, n].
func reconstructCyclePath(scc []graph.NodeID, succ successors) []graph.NodeID {
	if len(scc) == 0 {
		return nil
	}
	inSCC := make(map[graph.NodeID]bool, len(scc))
	for _, n := range scc {
		inSCC[n] = true
	}

	start := scc[0]
	current := start
	path := []graph.NodeID{current}
	visited := make(map[graph.NodeID]bool)
	for {
		visited[current] = true
		next, found := graph.NodeID(0), false
		for _, w := range succ[current] {
			if inSCC[w] && (!visited[w] || w == start) {
				next, found = w, true
				break
			}
		}
		if !found {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
