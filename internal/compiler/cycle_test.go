package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/plughost/internal/graph"
)

func TestFindCycleNone(t *testing.T) {
	succ := successors{1: {2}, 2: {3}}
	assert.Nil(t, findCycle([]graph.NodeID{1, 2, 3}, succ))
}

func TestFindCycleThreeNodes(t *testing.T) {
	succ := successors{4: {2}, 2: {3}, 3: {4}}
	assert.Equal(t, []graph.NodeID{2, 3, 4, 2}, findCycle([]graph.NodeID{2, 3, 4}, succ))
}

func TestFindCyclePicksLowestComponent(t *testing.T) {
	succ := successors{
		5: {6}, 6: {5},
		1: {2}, 2: {1, 5},
	}
	assert.Equal(t, []graph.NodeID{1, 2, 1}, findCycle([]graph.NodeID{1, 2, 5, 6}, succ))
}

func TestFindCycleSelfLoop(t *testing.T) {
	succ := successors{7: {7}}
	assert.Equal(t, []graph.NodeID{7, 7}, findCycle([]graph.NodeID{7}, succ))
}

func TestTopoOrderBreaksOnAllowedEdge(t *testing.T) {
	g := graph.New()
	in, out := g.AddNode(), g.AddNode()
	a, b := g.AddNode(), g.AddNode()
	for _, n := range []graph.NodeID{a, b} {
		assert.NoError(t, g.AddPort(n, 0, 0, true))
		assert.NoError(t, g.AddPort(n, 1, 0, false))
	}
	_, err := g.AddEdge(a, 1, b, 0, false)
	assert.NoError(t, err)
	back, err := g.AddEdge(b, 1, a, 0, true)
	assert.NoError(t, err)

	res, cycle := topoOrder(g, in, out)
	assert.Nil(t, cycle)
	assert.Equal(t, []graph.NodeID{in, a, b, out}, res.order)
	assert.Equal(t, map[graph.EdgeID]bool{back: true}, res.delayed)
}
