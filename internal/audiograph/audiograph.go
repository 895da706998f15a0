// Package audiograph binds plugin hosts to the nodes of an abstract graph.
//
// It resolves plugin port identities to graph-local ports, keeps the two
// boundary nodes, and compiles the graph into schedules that it publishes
// to the audio thread. Everything here runs on the control thread.
package audiograph

import (
	"cmp"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/plughost/internal/collector"
	"github.com/roach88/plughost/internal/compiler"
	"github.com/roach88/plughost/internal/graph"
	"github.com/roach88/plughost/internal/host"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/schedule"
)

// DefaultResetTimeout bounds how long Reset waits for the audio thread to
// drop every processor.
const DefaultResetTimeout = 10 * time.Second

// Catalog finds the factory of a plugin type.
type Catalog interface {
	Factory(key ir.PluginKey) (plugin.Factory, bool)
}

// Config configures an AudioGraph. The graph exists for one engine
// activation, so the activation parameters are fixed.
type Config struct {
	NumInputs  int
	NumOutputs int

	SampleRate float64
	MinFrames  uint32
	MaxFrames  uint32

	// EventCapacity sizes note and automation buffers.
	EventCapacity int
	// MaxBuffers caps the slot buffers of a schedule. Zero uses the
	// compiler default.
	MaxBuffers int

	Catalog   Catalog
	HostInfo  ir.HostInfo
	Loader    plugin.ResourceLoader
	Transport *schedule.Transport
	Collector *collector.Collector
	// UniqueIDs hands out plugin unique ids. Sharing one clock between
	// graphs keeps ids unique for the process lifetime.
	UniqueIDs *ir.Clock
	Logger    *slog.Logger

	ResetTimeout time.Duration
	// ResetPoll is the idle interval of Reset's wait loop.
	ResetPoll time.Duration
}

// entry is one graph node: a plugin host or a boundary node.
type entry struct {
	id   ir.PluginInstanceID
	host *host.Host // nil for boundary nodes
	node *compiler.Node

	byChannel map[ir.PortChannelID]graph.PortID
	nextPort  graph.PortID
}

// AudioGraph is the plugin-aware graph. Not safe for concurrent use.
type AudioGraph struct {
	cfg    Config
	logger *slog.Logger

	g        *graph.Graph
	versions *ir.Clock
	uids     *ir.Clock
	edgeUID  uint64

	nodes    map[graph.NodeID]*entry
	byID     map[ir.PluginInstanceID]*entry
	graphIn  *entry
	graphOut *entry

	edges       map[ir.EdgeID]ir.Edge
	edgeByGraph map[graph.EdgeID]ir.EdgeID

	// removing holds hosts removed from the graph whose processors are not
	// dropped yet.
	removing []*host.Host
	// portEdges collects edges removed by port changes, per plugin, until
	// the next idle tick reports them.
	portEdges map[ir.PluginInstanceID][]ir.EdgeID

	dirty     bool
	shared    *schedule.SharedSchedule
	pool      *schedule.BufferPool
	collector *collector.Collector
	transport *schedule.Transport
	helper    graphHelper
}

// New creates a graph holding only the two boundary nodes.
func New(cfg Config) *AudioGraph {
	cfg.EventCapacity = cmp.Or(cfg.EventCapacity, host.DefaultEventCapacity)
	cfg.ResetTimeout = cmp.Or(cfg.ResetTimeout, DefaultResetTimeout)
	cfg.ResetPoll = cmp.Or(cfg.ResetPoll, time.Millisecond)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Collector == nil {
		cfg.Collector = collector.New()
	}
	if cfg.UniqueIDs == nil {
		cfg.UniqueIDs = ir.NewClock()
	}
	if cfg.Transport == nil {
		cfg.Transport = schedule.NewTransport(cfg.SampleRate, 0, ir.LoopState{}, ir.DefaultTempoMap())
	}
	a := &AudioGraph{
		cfg:         cfg,
		logger:      cfg.Logger,
		g:           graph.New(),
		versions:    ir.NewClock(),
		uids:        cfg.UniqueIDs,
		nodes:       make(map[graph.NodeID]*entry),
		byID:        make(map[ir.PluginInstanceID]*entry),
		edges:       make(map[ir.EdgeID]ir.Edge),
		edgeByGraph: make(map[graph.EdgeID]ir.EdgeID),
		portEdges:   make(map[ir.PluginInstanceID][]ir.EdgeID),
		shared:      schedule.NewSharedSchedule(),
		pool:        schedule.NewBufferPool(int(cfg.MaxFrames), cfg.EventCapacity),
		collector:   cfg.Collector,
		transport:   cfg.Transport,
	}
	a.helper = graphHelper{a}
	a.addBoundaries()
	return a
}

func (a *AudioGraph) addBoundaries() {
	a.graphIn = a.addBoundary(ir.PluginInstanceGraphInput, ir.GraphInputRDN, a.cfg.NumInputs, false)
	a.graphOut = a.addBoundary(ir.PluginInstanceGraphOutput, ir.GraphOutputRDN, a.cfg.NumOutputs, true)
	a.dirty = true
}

// addBoundary adds a boundary node with one audio port of the given width.
// The graph input's port is an output and vice versa.
func (a *AudioGraph) addBoundary(typ ir.PluginInstanceType, rdn string, channels int, isInput bool) *entry {
	n := a.g.AddNode()
	e := a.newEntry(ir.PluginInstanceID{NodeIndex: n, UniqueID: a.uids.Next(), Type: typ, RDN: rdn}, nil)
	want := make(map[ir.PortChannelID]int, channels)
	for c := range channels {
		want[ir.PortChannelID{StableID: 0, IsInput: isInput, Type: ir.PortTypeAudio, Channel: uint16(c)}] = 0
	}
	a.syncPorts(e, want)
	return e
}

func (a *AudioGraph) newEntry(id ir.PluginInstanceID, h *host.Host) *entry {
	e := &entry{
		id:        id,
		host:      h,
		node:      &compiler.Node{ID: id, Ports: make(map[graph.PortID]compiler.PortDesc)},
		byChannel: make(map[ir.PortChannelID]graph.PortID),
	}
	if h != nil {
		e.node.Slot = h.Slot()
	}
	a.nodes[id.NodeIndex] = e
	a.byID[id] = e
	return e
}

// GraphInput returns the id of the graph-input boundary node. It changes
// on Reset.
func (a *AudioGraph) GraphInput() ir.PluginInstanceID { return a.graphIn.id }

// GraphOutput returns the id of the graph-output boundary node. It changes
// on Reset.
func (a *AudioGraph) GraphOutput() ir.PluginInstanceID { return a.graphOut.id }

// SharedSchedule is the mailbox the audio thread reads schedules from.
func (a *AudioGraph) SharedSchedule() *schedule.SharedSchedule { return a.shared }

// Transport returns the transport every schedule references.
func (a *AudioGraph) Transport() *schedule.Transport { return a.transport }

// Dirty reports whether the graph changed since the last compile.
func (a *AudioGraph) Dirty() bool { return a.dirty }

// Host returns the host of a plugin.
func (a *AudioGraph) Host(id ir.PluginInstanceID) (*host.Host, bool) {
	e, ok := a.byID[id]
	if !ok || e.host == nil {
		return nil, false
	}
	return e.host, true
}

// Plugins returns the ids of every hosted plugin, by node index.
func (a *AudioGraph) Plugins() []ir.PluginInstanceID {
	var ids []ir.PluginInstanceID
	for _, e := range a.entries() {
		if e.host != nil {
			ids = append(ids, e.id)
		}
	}
	return ids
}

// Edges returns every edge, oldest first.
func (a *AudioGraph) Edges() []ir.Edge {
	out := make([]ir.Edge, 0, len(a.edges))
	for _, e := range a.edges {
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y ir.Edge) int { return cmp.Compare(x.ID.UniqueID, y.ID.UniqueID) })
	return out
}

// entries returns every node entry by ascending node index.
func (a *AudioGraph) entries() []*entry {
	out := make([]*entry, 0, len(a.nodes))
	for _, e := range a.nodes {
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y *entry) int { return cmp.Compare(x.id.NodeIndex, y.id.NodeIndex) })
	return out
}

// wantedPorts lists the port channels a host exposes, with the index of
// each port among the host's ports of the same type and direction.
func wantedPorts(h *host.Host) map[ir.PortChannelID]int {
	want := make(map[ir.PortChannelID]int)
	audio := h.AudioPorts()
	for dir, ports := range [][]ir.AudioPortInfo{audio.Outputs, audio.Inputs} {
		for i, p := range ports {
			for c := range p.ChannelCount {
				want[ir.PortChannelID{StableID: p.StableID, IsInput: dir == 1, Type: ir.PortTypeAudio, Channel: c}] = i
			}
		}
	}
	notes := h.NotePorts()
	for dir, ports := range [][]ir.NotePortInfo{notes.Outputs, notes.Inputs} {
		for i, p := range ports {
			want[ir.PortChannelID{StableID: p.StableID, IsInput: dir == 1, Type: ir.PortTypeNote}] = i
		}
	}
	if h.HasAutomationPorts() {
		for _, isInput := range []bool{false, true} {
			want[ir.PortChannelID{StableID: ir.AutomationPortStableID, IsInput: isInput, Type: ir.PortTypeAutomation}] = 0
		}
	}
	return want
}

// syncPorts makes the node's graph ports match want. Ports whose channel
// survives keep their graph id and edges; the edges of removed ports are
// returned.
func (a *AudioGraph) syncPorts(e *entry, want map[ir.PortChannelID]int) []ir.EdgeID {
	n := e.id.NodeIndex
	var removed []ir.EdgeID
	for pc, pid := range e.byChannel {
		if _, ok := want[pc]; ok {
			continue
		}
		gids, err := a.g.RemovePort(n, pid)
		if err != nil {
			a.logger.Error("remove port", "plugin", e.id.String(), "port", pc.String(), "error", err)
		}
		removed = append(removed, a.forgetEdges(gids)...)
		delete(e.byChannel, pc)
		delete(e.node.Ports, pid)
	}

	added := make([]ir.PortChannelID, 0, len(want))
	for pc := range want {
		if _, ok := e.byChannel[pc]; !ok {
			added = append(added, pc)
		}
	}
	// Deterministic port ids.
	slices.SortFunc(added, comparePortChannel)
	for _, pc := range added {
		pid := e.nextPort
		e.nextPort++
		if err := a.g.AddPort(n, pid, pc.Type, pc.IsInput); err != nil {
			a.logger.Error("add port", "plugin", e.id.String(), "port", pc.String(), "error", err)
			continue
		}
		e.byChannel[pc] = pid
	}
	for pc, pid := range e.byChannel {
		e.node.Ports[pid] = compiler.PortDesc{PortChannelID: pc, Index: want[pc]}
	}
	slices.SortFunc(removed, func(x, y ir.EdgeID) int { return cmp.Compare(x.UniqueID, y.UniqueID) })
	return removed
}

func comparePortChannel(x, y ir.PortChannelID) int {
	return cmp.Or(
		cmp.Compare(x.Type, y.Type),
		compareBool(x.IsInput, y.IsInput),
		cmp.Compare(x.StableID, y.StableID),
		cmp.Compare(x.Channel, y.Channel),
	)
}

func compareBool(x, y bool) int {
	switch {
	case x == y:
		return 0
	case x:
		return 1
	default:
		return -1
	}
}

// forgetEdges drops the bookkeeping of edges the abstract graph removed.
func (a *AudioGraph) forgetEdges(gids []graph.EdgeID) []ir.EdgeID {
	out := make([]ir.EdgeID, 0, len(gids))
	for _, gid := range gids {
		id, ok := a.edgeByGraph[gid]
		if !ok {
			continue
		}
		delete(a.edgeByGraph, gid)
		delete(a.edges, id)
		out = append(out, id)
	}
	if len(out) > 0 {
		a.dirty = true
	}
	return out
}

// graphHelper is the graph's side of host activations.
type graphHelper struct{ a *AudioGraph }

var _ host.GraphHelper = graphHelper{}

func (g graphHelper) PortsChanged(h *host.Host) {
	e, ok := g.a.byID[h.ID()]
	if !ok {
		return
	}
	removed := g.a.syncPorts(e, wantedPorts(h))
	if len(removed) > 0 {
		g.a.portEdges[e.id] = append(g.a.portEdges[e.id], removed...)
	}
	g.a.dirty = true
}

func (g graphHelper) PendingVersion() (uint64, bool) {
	if !g.a.dirty {
		return 0, false
	}
	return g.a.versions.Current() + 1, true
}
