// Package compiler turns an audio graph into an executable schedule.
//
// Compilation runs in four phases:
//  1. Order: Kahn's algorithm over the abstract graph, graph input first and
//     graph output last. Edges marked as allowing cycles are broken into
//     one-block-delayed reads when nothing else is ready.
//  2. Allocate: every output port gets a buffer slot from a per-kind free
//     list. A slot returns to the list after its last reader has run.
//  3. Emit: one task per node, plus sum tasks for ports with several
//     incoming edges and delay tasks for delayed edges.
//  4. Verify: simulate the schedule and reject any slot aliasing.
package compiler

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/plughost/internal/graph"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/schedule"
)

// DefaultMaxBuffers bounds the number of slot buffers of each kind.
const DefaultMaxBuffers = 4096

// PortDesc binds a graph-local port to its plugin-facing identity.
type PortDesc struct {
	ir.PortChannelID
	// Index is the position of the port among the plugin's ports of the
	// same type and direction.
	Index int
}

// Node binds a graph node to what the compiler needs to emit its task.
type Node struct {
	ID    ir.PluginInstanceID
	Slot  *schedule.ProcessorSlot
	Ports map[graph.PortID]PortDesc
}

// Input is everything one compilation reads.
type Input struct {
	Graph    *graph.Graph
	Nodes    map[graph.NodeID]*Node
	GraphIn  graph.NodeID
	GraphOut graph.NodeID

	Version     uint64
	MaxFrames   int
	NumInputs   int
	NumOutputs  int
	Transport   *schedule.Transport
	ProcsToDrop []schedule.NodeProcessor
	Pool        *schedule.BufferPool

	// MaxBuffers overrides DefaultMaxBuffers when positive.
	MaxBuffers int
}

// portKey identifies one graph port.
type portKey struct {
	node graph.NodeID
	port graph.PortID
}

// expectation names the producer a task read must observe.
type expectation struct {
	writer   int
	constant bool
	delayOf  *portKey
}

type slot struct {
	idx    int
	audio  *plugin.AudioBuffer
	events *plugin.EventBuffer
}

// inputRead is the resolved buffer of one input port.
type inputRead struct {
	ref schedule.BufRef
	exp expectation
	// from is the port whose reader count the read consumes, nil for
	// constant and delayed reads.
	from *portKey
	// sum is set when the read owns a sum buffer.
	sum *slot
}

func (s slot) ref() schedule.BufRef {
	return schedule.BufRef{Audio: s.audio, Events: s.events}
}

type compiler struct {
	in         Input
	maxBuffers int
	delayed    map[graph.EdgeID]bool

	audioSlots []*plugin.AudioBuffer
	eventSlots []*plugin.EventBuffer
	audioFree  []int
	eventFree  []int

	silence *plugin.AudioBuffer
	empty   *plugin.EventBuffer

	// live holds the slot currently carrying each output port, with the
	// number of reads still to come.
	live      map[portKey]slot
	readers   map[portKey]int
	writerOf  map[portKey]int
	delayBufs map[portKey]slot
	delayTask map[portKey]int

	ownedAudio  []*plugin.AudioBuffer
	ownedEvents []*plugin.EventBuffer

	tasks   []schedule.Task
	expects [][]expectation
	plugins int
}

// Compile builds a schedule from in. On error every buffer taken from the
// pool is returned to it.
func Compile(in Input) (*schedule.Schedule, error) {
	if in.Pool == nil {
		in.Pool = schedule.NewBufferPool(in.MaxFrames, 256)
	}
	c := &compiler{
		in:         in,
		maxBuffers: cmp.Or(in.MaxBuffers, DefaultMaxBuffers),
		live:       make(map[portKey]slot),
		readers:    make(map[portKey]int),
		writerOf:   make(map[portKey]int),
		delayBufs:  make(map[portKey]slot),
		delayTask:  make(map[portKey]int),
	}
	s, err := c.compile()
	if err != nil {
		c.release()
		return nil, err
	}
	return s, nil
}

func (c *compiler) compile() (*schedule.Schedule, error) {
	g := c.in.Graph
	if err := c.checkBindings(); err != nil {
		return nil, err
	}

	res, cycle := topoOrder(g, c.in.GraphIn, c.in.GraphOut)
	if cycle != nil {
		ids := make([]ir.PluginInstanceID, len(cycle))
		for i, n := range cycle {
			ids[i] = c.in.Nodes[n].ID
		}
		return nil, &CompileError{
			Code:    ErrCodeCycleDetected,
			Message: "graph contains a cycle through edges that do not allow cycles",
			Cycle:   ids,
		}
	}
	c.delayed = res.delayed

	c.silence = c.in.Pool.GetAudio(0, true)
	c.silence.Label = "silence"
	c.ownedAudio = append(c.ownedAudio, c.silence)
	c.empty = plugin.NewEmptyEventBuffer()
	c.empty.Label = "empty"

	for _, n := range res.order {
		if err := c.emitNode(n); err != nil {
			return nil, err
		}
	}

	for _, exps := range c.expects {
		for i := range exps {
			if exps[i].delayOf != nil {
				exps[i].writer = c.delayTask[*exps[i].delayOf]
				exps[i].delayOf = nil
			}
		}
	}
	if err := verify(c.tasks, c.expects); err != nil {
		return nil, err
	}

	c.ownedAudio = append(c.ownedAudio, c.audioSlots...)
	c.ownedEvents = append(c.ownedEvents, c.eventSlots...)
	return &schedule.Schedule{
		Version:      c.in.Version,
		Tasks:        c.tasks,
		Transport:    c.in.Transport,
		ProcsToDrop:  c.in.ProcsToDrop,
		MaxFrames:    c.in.MaxFrames,
		NumInputs:    c.in.NumInputs,
		NumOutputs:   c.in.NumOutputs,
		PluginTasks:  c.plugins,
		AudioBuffers: c.ownedAudio,
		EventBuffers: c.ownedEvents,
	}, nil
}

func (c *compiler) checkBindings() error {
	g := c.in.Graph
	for _, n := range []graph.NodeID{c.in.GraphIn, c.in.GraphOut} {
		if !g.HasNode(n) {
			return unknownNode("boundary node %d is not in the graph", n)
		}
	}
	for _, n := range g.Nodes() {
		if c.in.Nodes[n] == nil {
			return unknownNode("node %d has no binding", n)
		}
	}
	for _, e := range g.Edges() {
		src, dst := c.in.Nodes[e.Src], c.in.Nodes[e.Dst]
		if src == nil || dst == nil {
			return unknownNode("edge %d references an unbound node", e.ID)
		}
		if _, ok := src.Ports[e.SrcPort]; !ok {
			return unknownNode("edge %d references unbound port %d of %s", e.ID, e.SrcPort, src.ID)
		}
		if _, ok := dst.Ports[e.DstPort]; !ok {
			return unknownNode("edge %d references unbound port %d of %s", e.ID, e.DstPort, dst.ID)
		}
	}
	return nil
}

func unknownNode(format string, args ...any) error {
	return &CompileError{Code: ErrCodeUnknownNode, Message: fmt.Sprintf(format, args...)}
}

// boundPort is a graph port with its description.
type boundPort struct {
	id   graph.PortID
	desc PortDesc
}

// ports returns the node's ports of one direction in plugin order: audio
// ports by index then channel, note ports by index, then automation.
func (c *compiler) ports(n graph.NodeID, isInput bool) []boundPort {
	var out []boundPort
	for id, d := range c.in.Nodes[n].Ports {
		if d.IsInput == isInput {
			out = append(out, boundPort{id: id, desc: d})
		}
	}
	slices.SortFunc(out, func(a, b boundPort) int {
		return cmp.Or(
			cmp.Compare(a.desc.Type, b.desc.Type),
			cmp.Compare(a.desc.Index, b.desc.Index),
			cmp.Compare(a.desc.Channel, b.desc.Channel),
			cmp.Compare(a.id, b.id),
		)
	})
	return out
}

// emitNode appends the tasks of node n.
func (c *compiler) emitNode(n graph.NodeID) error {
	g := c.in.Graph

	inputs := c.ports(n, true)
	reads := make([]inputRead, len(inputs))
	for i, p := range inputs {
		edges := edgesInto(g, n, p.id)
		isAudio := p.desc.Type == ir.PortTypeAudio
		switch len(edges) {
		case 0:
			if isAudio {
				reads[i] = inputRead{ref: schedule.BufRef{Audio: c.silence}, exp: expectation{constant: true}}
			} else {
				reads[i] = inputRead{ref: schedule.BufRef{Events: c.empty}, exp: expectation{constant: true}}
			}
		case 1:
			ref, exp, from, err := c.source(edges[0])
			if err != nil {
				return err
			}
			reads[i] = inputRead{ref: ref, exp: exp, from: from}
		default:
			ref, s, err := c.emitSum(edges, isAudio)
			if err != nil {
				return err
			}
			reads[i] = inputRead{ref: ref, exp: expectation{writer: len(c.tasks) - 1}, sum: &s}
		}
	}

	outputs := c.ports(n, false)
	outSlots := make([]slot, len(outputs))
	for i, p := range outputs {
		s, err := c.alloc(p.desc.Type == ir.PortTypeAudio)
		if err != nil {
			return err
		}
		outSlots[i] = s
		key := portKey{n, p.id}
		c.live[key] = s
		c.readers[key] = c.readerCount(key)
	}

	inRefs := make([]schedule.BufRef, len(reads))
	exps := make([]expectation, len(reads))
	for i, r := range reads {
		inRefs[i], exps[i] = r.ref, r.exp
	}
	task := c.buildTask(n, inputs, inRefs, outputs, outSlots)
	idx := c.appendTask(task, exps)
	for _, p := range outputs {
		c.writerOf[portKey{n, p.id}] = idx
	}

	// Delay copies run right after the source so the next block's reader
	// sees this block's output.
	for _, p := range outputs {
		key := portKey{n, p.id}
		if !c.hasDelayedReader(key) {
			continue
		}
		ds, err := c.delayBuffer(key, p.desc.Type == ir.PortTypeAudio)
		if err != nil {
			return err
		}
		src := c.live[key]
		var dt schedule.Task
		if src.audio != nil {
			dt = &schedule.DelayTask{Src: src.audio, Dst: ds.audio}
		} else {
			dt = &schedule.EventDelayTask{Src: src.events, Dst: ds.events}
		}
		c.delayTask[key] = c.appendTask(dt, []expectation{{writer: idx}})
		c.consume(key)
	}

	for _, r := range reads {
		switch {
		case r.sum != nil:
			c.free(*r.sum)
		case r.from != nil:
			c.consume(*r.from)
		}
	}
	for _, p := range outputs {
		key := portKey{n, p.id}
		if c.readers[key] == 0 {
			c.consume(key)
		}
	}

	return nil
}

func (c *compiler) appendTask(t schedule.Task, exps []expectation) int {
	c.tasks = append(c.tasks, t)
	c.expects = append(c.expects, exps)
	return len(c.tasks) - 1
}

// source resolves the buffer an edge's destination reads.
func (c *compiler) source(e graph.Edge) (schedule.BufRef, expectation, *portKey, error) {
	key := portKey{e.Src, e.SrcPort}
	if c.delayed[e.ID] {
		s, err := c.delayBuffer(key, e.Type == ir.PortTypeAudio)
		if err != nil {
			return schedule.BufRef{}, expectation{}, nil, err
		}
		k := key
		return s.ref(), expectation{delayOf: &k}, nil, nil
	}
	s, ok := c.live[key]
	if !ok {
		return schedule.BufRef{}, expectation{}, nil, unknownNode("edge %d reads port %d of node %d before it is produced", e.ID, e.SrcPort, e.Src)
	}
	k := key
	return s.ref(), expectation{writer: c.writerOf[key]}, &k, nil
}

// emitSum appends a sum task merging edges into a fresh slot.
func (c *compiler) emitSum(edges []graph.Edge, isAudio bool) (schedule.BufRef, slot, error) {
	refs := make([]schedule.BufRef, len(edges))
	exps := make([]expectation, len(edges))
	var froms []portKey
	for i, e := range edges {
		ref, exp, from, err := c.source(e)
		if err != nil {
			return schedule.BufRef{}, slot{}, err
		}
		refs[i], exps[i] = ref, exp
		if from != nil {
			froms = append(froms, *from)
		}
	}
	dst, err := c.alloc(isAudio)
	if err != nil {
		return schedule.BufRef{}, slot{}, err
	}

	var t schedule.Task
	if isAudio {
		srcs := make([]*plugin.AudioBuffer, len(refs))
		for i, r := range refs {
			srcs[i] = r.Audio
		}
		t = &schedule.SumTask{Srcs: srcs, Dst: dst.audio}
	} else {
		srcs := make([]*plugin.EventBuffer, len(refs))
		for i, r := range refs {
			srcs[i] = r.Events
		}
		t = &schedule.EventSumTask{Srcs: srcs, Dst: dst.events}
	}
	c.appendTask(t, exps)
	for _, k := range froms {
		c.consume(k)
	}
	return dst.ref(), dst, nil
}

// buildTask emits the boundary or plugin task of node n. Reads of the
// returned task are in the order of inputs.
func (c *compiler) buildTask(n graph.NodeID, inputs []boundPort, in []schedule.BufRef, outputs []boundPort, out []slot) schedule.Task {
	switch n {
	case c.in.GraphIn:
		bufs := make([]*plugin.AudioBuffer, 0, len(out))
		for _, s := range out {
			if s.audio != nil {
				bufs = append(bufs, s.audio)
			}
		}
		return &schedule.GraphInTask{Outs: bufs}
	case c.in.GraphOut:
		bufs := make([]*plugin.AudioBuffer, 0, len(in))
		for _, r := range in {
			if r.Audio != nil {
				bufs = append(bufs, r.Audio)
			}
		}
		return &schedule.GraphOutTask{Ins: bufs}
	}

	outRefs := make([]schedule.BufRef, len(out))
	for i, s := range out {
		outRefs[i] = s.ref()
	}
	audioIn, noteIn, autoIn := groupPorts(inputs, in)
	audioOut, noteOut, autoOut := groupPorts(outputs, outRefs)

	node := c.in.Nodes[n]
	c.plugins++
	return schedule.NewPluginTask(node.ID, node.Slot, audioIn, audioOut, schedule.EventIO{
		NoteIn:        noteIn,
		NoteOut:       noteOut,
		AutomationIn:  autoIn,
		AutomationOut: autoOut,
	})
}

// groupPorts folds sorted per-channel ports into plugin ports.
func groupPorts(ports []boundPort, refs []schedule.BufRef) ([]schedule.AudioPort, []*plugin.EventBuffer, *plugin.EventBuffer) {
	var (
		audio []schedule.AudioPort
		notes []*plugin.EventBuffer
		auto  *plugin.EventBuffer
	)
	lastIndex := -1
	for i, p := range ports {
		switch p.desc.Type {
		case ir.PortTypeAudio:
			if len(audio) == 0 || p.desc.Index != lastIndex {
				audio = append(audio, schedule.AudioPort{StableID: p.desc.StableID})
				lastIndex = p.desc.Index
			}
			last := &audio[len(audio)-1]
			last.Channels = append(last.Channels, refs[i].Audio)
		case ir.PortTypeNote:
			notes = append(notes, refs[i].Events)
		case ir.PortTypeAutomation:
			auto = refs[i].Events
		}
	}
	return audio, notes, auto
}

func edgesInto(g *graph.Graph, n graph.NodeID, port graph.PortID) []graph.Edge {
	var out []graph.Edge
	for _, e := range g.Incoming(n) {
		if e.DstPort == port {
			out = append(out, e)
		}
	}
	return out
}

// readerCount is the number of reads of an output port: one per
// undelayed edge plus one for the delay copy, if any.
func (c *compiler) readerCount(key portKey) int {
	n := 0
	for _, e := range c.in.Graph.Outgoing(key.node) {
		if e.SrcPort == key.port && !c.delayed[e.ID] {
			n++
		}
	}
	if c.hasDelayedReader(key) {
		n++
	}
	return n
}

func (c *compiler) hasDelayedReader(key portKey) bool {
	for _, e := range c.in.Graph.Outgoing(key.node) {
		if e.SrcPort == key.port && c.delayed[e.ID] {
			return true
		}
	}
	return false
}

// consume records one read of key and frees its slot after the last.
func (c *compiler) consume(key portKey) {
	c.readers[key]--
	if c.readers[key] > 0 {
		return
	}
	if s, ok := c.live[key]; ok {
		c.free(s)
		delete(c.live, key)
	}
}

// alloc takes the lowest free slot of a kind, creating one if none is
// free.
func (c *compiler) alloc(isAudio bool) (slot, error) {
	if isAudio {
		if len(c.audioFree) > 0 {
			idx := takeLowest(&c.audioFree)
			return slot{idx: idx, audio: c.audioSlots[idx]}, nil
		}
		if len(c.audioSlots) >= c.maxBuffers {
			return slot{}, overflow("audio", c.maxBuffers)
		}
		idx := len(c.audioSlots)
		b := c.in.Pool.GetAudio(uint32(idx), false)
		c.audioSlots = append(c.audioSlots, b)
		return slot{idx: idx, audio: b}, nil
	}
	if len(c.eventFree) > 0 {
		idx := takeLowest(&c.eventFree)
		return slot{idx: idx, events: c.eventSlots[idx]}, nil
	}
	if len(c.eventSlots) >= c.maxBuffers {
		return slot{}, overflow("event", c.maxBuffers)
	}
	idx := len(c.eventSlots)
	b := c.in.Pool.GetEvents()
	b.Label = fmt.Sprintf("e%d", idx)
	c.eventSlots = append(c.eventSlots, b)
	return slot{idx: idx, events: b}, nil
}

func (c *compiler) free(s slot) {
	if s.audio != nil {
		c.audioFree = append(c.audioFree, s.idx)
	} else {
		c.eventFree = append(c.eventFree, s.idx)
	}
}

func takeLowest(free *[]int) int {
	i := slices.Index(*free, slices.Min(*free))
	idx := (*free)[i]
	*free = slices.Delete(*free, i, i+1)
	return idx
}

func overflow(kind string, limit int) error {
	return &CompileError{
		Code:    ErrCodeBufferOverflow,
		Message: fmt.Sprintf("graph needs more than %d %s buffers", limit, kind),
	}
}

// delayBuffer returns the delay buffer of an output port, creating it on
// first use.
func (c *compiler) delayBuffer(key portKey, isAudio bool) (slot, error) {
	if s, ok := c.delayBufs[key]; ok {
		return s, nil
	}
	idx := len(c.delayBufs)
	if idx >= c.maxBuffers {
		return slot{}, overflow("delay", c.maxBuffers)
	}
	var s slot
	if isAudio {
		b := c.in.Pool.GetAudio(uint32(idx), false)
		b.Label = fmt.Sprintf("d%d", idx)
		c.ownedAudio = append(c.ownedAudio, b)
		s = slot{idx: idx, audio: b}
	} else {
		b := c.in.Pool.GetEvents()
		b.Label = fmt.Sprintf("ed%d", idx)
		c.ownedEvents = append(c.ownedEvents, b)
		s = slot{idx: idx, events: b}
	}
	c.delayBufs[key] = s
	return s, nil
}

// release returns every buffer taken so far to the pool.
func (c *compiler) release() {
	for _, b := range append(c.ownedAudio, c.audioSlots...) {
		c.in.Pool.PutAudio(b)
	}
	for _, b := range append(c.ownedEvents, c.eventSlots...) {
		c.in.Pool.PutEvents(b)
	}
}
