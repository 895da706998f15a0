// Package graph is a generic directed graph of nodes with typed ports.
//
// It knows nothing about plugins: nodes are dense indices, ports carry a
// type and direction, and edges connect an output port to an input port of
// the same type. Edges that do not allow cycles are rejected if they would
// close a cycle among such edges; cycle-allowing edges are accepted and left
// for the compiler to break with a one-block delay.
package graph

import (
	"cmp"
	"slices"

	"github.com/roach88/plughost/internal/ir"
)

// NodeID is a dense node index. Removed ids are reused by later AddNode
// calls, lowest first.
type NodeID = ir.NodeIndex

// PortID is a graph-local port id, unique per node.
type PortID uint32

// EdgeID is the graph's own edge id. Removed ids are reused.
type EdgeID uint32

// Port is one port of a node.
type Port struct {
	ID      PortID
	Type    ir.PortType
	IsInput bool
}

// Edge connects an output port to an input port of the same type.
type Edge struct {
	ID         EdgeID
	Type       ir.PortType
	Src        NodeID
	SrcPort    PortID
	Dst        NodeID
	DstPort    PortID
	AllowCycle bool
}

type node struct {
	ports map[PortID]Port
	in    []EdgeID
	out   []EdgeID
}

// Graph is not safe for concurrent use. It lives on the control thread.
type Graph struct {
	nodes     []*node
	freeNodes []NodeID
	edges     map[EdgeID]*Edge
	freeEdges []EdgeID
	nextEdge  EdgeID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{edges: make(map[EdgeID]*Edge)}
}

// AddNode adds a node without ports.
func (g *Graph) AddNode() NodeID {
	n := &node{ports: make(map[PortID]Port)}
	if len(g.freeNodes) > 0 {
		slices.Sort(g.freeNodes)
		id := g.freeNodes[0]
		g.freeNodes = g.freeNodes[1:]
		g.nodes[id] = n
		return id
	}
	g.nodes = append(g.nodes, n)
	return NodeID(len(g.nodes) - 1)
}

func (g *Graph) node(id NodeID) (*node, error) {
	if int(id) >= len(g.nodes) || g.nodes[id] == nil {
		return nil, newError(ErrCodeNodeNotFound, "node %d", id)
	}
	return g.nodes[id], nil
}

// HasNode reports whether id is in the graph.
func (g *Graph) HasNode(id NodeID) bool {
	_, err := g.node(id)
	return err == nil
}

// AddPort adds a port to a node.
func (g *Graph) AddPort(id NodeID, port PortID, typ ir.PortType, isInput bool) error {
	n, err := g.node(id)
	if err != nil {
		return err
	}
	if _, ok := n.ports[port]; ok {
		return newError(ErrCodePortExists, "node %d port %d", id, port)
	}
	n.ports[port] = Port{ID: port, Type: typ, IsInput: isInput}
	return nil
}

// RemovePort removes a port and every edge attached to it, returning the
// removed edge ids.
func (g *Graph) RemovePort(id NodeID, port PortID) ([]EdgeID, error) {
	n, err := g.node(id)
	if err != nil {
		return nil, err
	}
	if _, ok := n.ports[port]; !ok {
		return nil, newError(ErrCodePortNotFound, "node %d port %d", id, port)
	}
	var removed []EdgeID
	for _, eid := range slices.Concat(n.in, n.out) {
		e := g.edges[eid]
		if e == nil {
			continue
		}
		if (e.Src == id && e.SrcPort == port) || (e.Dst == id && e.DstPort == port) {
			g.removeEdge(e)
			removed = append(removed, eid)
		}
	}
	delete(n.ports, port)
	return removed, nil
}

// Ports returns a node's ports ordered by id.
func (g *Graph) Ports(id NodeID) []Port {
	n, err := g.node(id)
	if err != nil {
		return nil
	}
	out := make([]Port, 0, len(n.ports))
	for _, p := range n.ports {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Port) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Port returns one port.
func (g *Graph) Port(id NodeID, port PortID) (Port, bool) {
	n, err := g.node(id)
	if err != nil {
		return Port{}, false
	}
	p, ok := n.ports[port]
	return p, ok
}

// RemoveNode removes a node, its ports and every edge attached to it, and
// returns the removed edge ids in ascending order.
func (g *Graph) RemoveNode(id NodeID) ([]EdgeID, error) {
	n, err := g.node(id)
	if err != nil {
		return nil, err
	}
	removed := slices.Concat(n.in, n.out)
	slices.Sort(removed)
	removed = slices.Compact(removed)
	for _, eid := range removed {
		g.removeEdge(g.edges[eid])
	}
	g.nodes[id] = nil
	g.freeNodes = append(g.freeNodes, id)
	return removed, nil
}

// AddEdge connects src's output port to dst's input port.
//
// Unless allowCycle is set, the edge is rejected with ErrCodeCycleDetected
// if dst already reaches src through edges that do not allow cycles.
func (g *Graph) AddEdge(src NodeID, srcPort PortID, dst NodeID, dstPort PortID, allowCycle bool) (EdgeID, error) {
	sn, err := g.node(src)
	if err != nil {
		return 0, err
	}
	dn, err := g.node(dst)
	if err != nil {
		return 0, err
	}
	sp, ok := sn.ports[srcPort]
	if !ok {
		return 0, newError(ErrCodePortNotFound, "source node %d port %d", src, srcPort)
	}
	dp, ok := dn.ports[dstPort]
	if !ok {
		return 0, newError(ErrCodePortNotFound, "destination node %d port %d", dst, dstPort)
	}
	if sp.IsInput || !dp.IsInput {
		return 0, newError(ErrCodeInvalidEdge, "edges run from an output to an input")
	}
	if sp.Type != dp.Type {
		return 0, newError(ErrCodeInvalidEdge, "port types differ: %s -> %s", sp.Type, dp.Type)
	}
	for _, eid := range sn.out {
		e := g.edges[eid]
		if e.SrcPort == srcPort && e.Dst == dst && e.DstPort == dstPort {
			return 0, newError(ErrCodeEdgeAlreadyExists, "edge %d already connects these ports", eid)
		}
	}
	if !allowCycle && g.reaches(dst, src) {
		return 0, newError(ErrCodeCycleDetected, "edge %d -> %d would create a cycle", src, dst)
	}

	id := g.allocEdgeID()
	g.edges[id] = &Edge{
		ID: id, Type: sp.Type,
		Src: src, SrcPort: srcPort,
		Dst: dst, DstPort: dstPort,
		AllowCycle: allowCycle,
	}
	sn.out = append(sn.out, id)
	dn.in = append(dn.in, id)
	return id, nil
}

// reaches reports whether to is reachable from from along edges that do not
// allow cycles.
func (g *Graph) reaches(from, to NodeID) bool {
	if from == to {
		return true
	}
	seen := make(map[NodeID]bool)
	stack := []NodeID{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		for _, eid := range g.nodes[n].out {
			e := g.edges[eid]
			if !e.AllowCycle && !seen[e.Dst] {
				stack = append(stack, e.Dst)
			}
		}
	}
	return false
}

func (g *Graph) allocEdgeID() EdgeID {
	if len(g.freeEdges) > 0 {
		slices.Sort(g.freeEdges)
		id := g.freeEdges[0]
		g.freeEdges = g.freeEdges[1:]
		return id
	}
	id := g.nextEdge
	g.nextEdge++
	return id
}

// RemoveEdge removes one edge.
func (g *Graph) RemoveEdge(id EdgeID) error {
	e, ok := g.edges[id]
	if !ok {
		return newError(ErrCodeEdgeNotFound, "edge %d", id)
	}
	g.removeEdge(e)
	return nil
}

func (g *Graph) removeEdge(e *Edge) {
	if sn := g.nodes[e.Src]; sn != nil {
		sn.out = slices.DeleteFunc(sn.out, func(x EdgeID) bool { return x == e.ID })
	}
	if dn := g.nodes[e.Dst]; dn != nil {
		dn.in = slices.DeleteFunc(dn.in, func(x EdgeID) bool { return x == e.ID })
	}
	delete(g.edges, e.ID)
	g.freeEdges = append(g.freeEdges, e.ID)
}

// Edge returns one edge.
func (g *Graph) Edge(id EdgeID) (Edge, bool) {
	e, ok := g.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Edges returns every edge ordered by id.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Edge) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Incoming returns the edges into a node, ordered by id.
func (g *Graph) Incoming(id NodeID) []Edge {
	return g.collect(id, true)
}

// Outgoing returns the edges out of a node, ordered by id.
func (g *Graph) Outgoing(id NodeID) []Edge {
	return g.collect(id, false)
}

func (g *Graph) collect(id NodeID, incoming bool) []Edge {
	n, err := g.node(id)
	if err != nil {
		return nil
	}
	ids := n.out
	if incoming {
		ids = n.in
	}
	out := make([]Edge, 0, len(ids))
	for _, eid := range ids {
		out = append(out, *g.edges[eid])
	}
	slices.SortFunc(out, func(a, b Edge) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Nodes returns every node id in ascending order.
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, 0, len(g.nodes))
	for i, n := range g.nodes {
		if n != nil {
			out = append(out, NodeID(i))
		}
	}
	return out
}

// NumNodes returns the number of nodes.
func (g *Graph) NumNodes() int {
	return len(g.Nodes())
}

// NumEdges returns the number of edges.
func (g *Graph) NumEdges() int {
	return len(g.edges)
}

// Clear removes every node and edge and resets id allocation.
func (g *Graph) Clear() {
	*g = Graph{edges: make(map[EdgeID]*Edge)}
}
