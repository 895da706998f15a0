package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plughost/internal/graph"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/schedule"
)

const outBase = graph.PortID(100)

// fixture builds compiler inputs: boundary ports use the channel as port
// id, plugin inputs use 0.. and plugin outputs use 100..
type fixture struct {
	g        *graph.Graph
	nodes    map[graph.NodeID]*Node
	in, out  graph.NodeID
	channels int
	uid      uint64
}

func newFixture(t *testing.T, channels int) *fixture {
	t.Helper()
	f := &fixture{g: graph.New(), nodes: make(map[graph.NodeID]*Node), channels: channels}
	f.in = f.g.AddNode()
	f.out = f.g.AddNode()
	f.nodes[f.in] = &Node{ID: f.id(f.in, ir.PluginInstanceGraphInput, ir.GraphInputRDN), Ports: map[graph.PortID]PortDesc{}}
	f.nodes[f.out] = &Node{ID: f.id(f.out, ir.PluginInstanceGraphOutput, ir.GraphOutputRDN), Ports: map[graph.PortID]PortDesc{}}
	for c := 0; c < channels; c++ {
		f.audioPort(t, f.in, graph.PortID(c), false, 0, c)
		f.audioPort(t, f.out, graph.PortID(c), true, 0, c)
	}
	return f
}

func (f *fixture) id(n graph.NodeID, typ ir.PluginInstanceType, rdn string) ir.PluginInstanceID {
	f.uid++
	return ir.PluginInstanceID{NodeIndex: n, UniqueID: f.uid, Type: typ, RDN: rdn}
}

func (f *fixture) audioPort(t *testing.T, n graph.NodeID, port graph.PortID, isInput bool, index, channel int) {
	t.Helper()
	require.NoError(t, f.g.AddPort(n, port, ir.PortTypeAudio, isInput))
	f.nodes[n].Ports[port] = PortDesc{
		PortChannelID: ir.PortChannelID{StableID: uint32(index), IsInput: isInput, Type: ir.PortTypeAudio, Channel: uint16(channel)},
		Index:         index,
	}
}

func (f *fixture) eventPort(t *testing.T, n graph.NodeID, port graph.PortID, typ ir.PortType, isInput bool) {
	t.Helper()
	require.NoError(t, f.g.AddPort(n, port, typ, isInput))
	stable := uint32(0)
	if typ == ir.PortTypeAutomation {
		stable = ir.AutomationPortStableID
	}
	f.nodes[n].Ports[port] = PortDesc{PortChannelID: ir.PortChannelID{StableID: stable, IsInput: isInput, Type: typ}}
}

// addPlugin adds a plugin with one audio port per direction.
func (f *fixture) addPlugin(t *testing.T, rdn string, ins, outs int) graph.NodeID {
	t.Helper()
	n := f.g.AddNode()
	f.nodes[n] = &Node{ID: f.id(n, ir.PluginInstanceInternal, rdn), Slot: &schedule.ProcessorSlot{}, Ports: map[graph.PortID]PortDesc{}}
	for c := 0; c < ins; c++ {
		f.audioPort(t, n, graph.PortID(c), true, 0, c)
	}
	for c := 0; c < outs; c++ {
		f.audioPort(t, n, outBase+graph.PortID(c), false, 0, c)
	}
	return n
}

func (f *fixture) connect(t *testing.T, src graph.NodeID, srcPort graph.PortID, dst graph.NodeID, dstPort graph.PortID, allowCycle bool) graph.EdgeID {
	t.Helper()
	id, err := f.g.AddEdge(src, srcPort, dst, dstPort, allowCycle)
	require.NoError(t, err)
	return id
}

func (f *fixture) input(version uint64) Input {
	return Input{
		Graph:      f.g,
		Nodes:      f.nodes,
		GraphIn:    f.in,
		GraphOut:   f.out,
		Version:    version,
		MaxFrames:  64,
		NumInputs:  f.channels,
		NumOutputs: f.channels,
		Pool:       schedule.NewBufferPool(64, 16),
	}
}

func describe(s *schedule.Schedule) []string {
	out := make([]string, len(s.Tasks))
	for i, t := range s.Tasks {
		out[i] = t.Describe()
	}
	return out
}

func TestCompileEmptyGraph(t *testing.T) {
	f := newFixture(t, 2)
	s, err := Compile(f.input(1))
	require.NoError(t, err)

	assert.Equal(t, 0, s.PluginTasks)
	assert.Equal(t, []string{"graph_in", "graph_out"}, describe(s))
	assert.Equal(t, "schedule v1 frames=64 in=2 out=2 tasks=2 plugins=0 audio_buffers=3 event_buffers=0 drops=0\n"+
		"0 graph_in out=[a0 a1]\n"+
		"1 graph_out in=[silence silence]\n", s.Dump())
}

func TestCompileEmptyGraphOutputsSilence(t *testing.T) {
	f := newFixture(t, 2)
	s, err := Compile(f.input(1))
	require.NoError(t, err)

	ctx := &schedule.BlockContext{
		Frames:  4,
		Version: 1,
		In:      [][]float64{{1, 1, 1, 1}, {1, 1, 1, 1}},
		Out:     [][]float64{{9, 9, 9, 9}, {9, 9, 9, 9}},
	}
	for _, task := range s.Tasks {
		task.Run(ctx)
	}
	assert.Equal(t, [][]float64{{0, 0, 0, 0}, {0, 0, 0, 0}}, ctx.Out)
}

func TestCompilePassThroughPlugin(t *testing.T) {
	f := newFixture(t, 2)
	a := f.addPlugin(t, "test.a", 2, 2)
	for c := graph.PortID(0); c < 2; c++ {
		f.connect(t, f.in, c, a, c, false)
		f.connect(t, a, outBase+c, f.out, c, false)
	}

	s, err := Compile(f.input(3))
	require.NoError(t, err)
	require.Len(t, s.Tasks, 3)
	assert.Equal(t, 1, s.PluginTasks)
	assert.Equal(t, []ir.PluginInstanceID{f.nodes[a].ID}, s.PluginOrder())
	assert.Equal(t, "schedule v3 frames=64 in=2 out=2 tasks=3 plugins=1 audio_buffers=5 event_buffers=0 drops=0\n"+
		"0 graph_in out=[a0 a1]\n"+
		"1 plugin test.a_3 in=[a0 a1] out=[a2 a3]\n"+
		"2 graph_out in=[a2 a3]\n", s.Dump())

	pt := s.Tasks[1].(*schedule.PluginTask)
	require.Len(t, pt.AudioIn, 1)
	assert.Len(t, pt.AudioIn[0].Channels, 2)
}

func TestCompileAllowedCycleUsesDelayedRead(t *testing.T) {
	f := newFixture(t, 1)
	a := f.addPlugin(t, "test.a", 1, 1)
	b := f.addPlugin(t, "test.b", 1, 1)
	f.connect(t, f.in, 0, a, 0, false)
	f.connect(t, a, outBase, b, 0, false)
	f.connect(t, b, outBase, a, 0, true)
	f.connect(t, b, outBase, f.out, 0, false)

	s, err := Compile(f.input(1))
	require.NoError(t, err)
	assert.Equal(t, "schedule v1 frames=64 in=1 out=1 tasks=6 plugins=2 audio_buffers=4 event_buffers=0 drops=0\n"+
		"0 graph_in out=[a0]\n"+
		"1 sum in=[a0 d0] out=[a1]\n"+
		"2 plugin test.a_3 in=[a1] out=[a0]\n"+
		"3 plugin test.b_4 in=[a0] out=[a1]\n"+
		"4 delay in=[a1] out=[d0]\n"+
		"5 graph_out in=[a1]\n", s.Dump())
}

func TestCompileSelfLoop(t *testing.T) {
	f := newFixture(t, 1)
	a := f.addPlugin(t, "test.a", 1, 1)
	f.connect(t, a, outBase, a, 0, true)
	f.connect(t, a, outBase, f.out, 0, false)

	s, err := Compile(f.input(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"graph_in", "plugin test.a_3", "delay", "graph_out"}, describe(s))
}

func TestCompileReusesSlotsAlongChain(t *testing.T) {
	f := newFixture(t, 1)
	prev, prevPort := f.in, graph.PortID(0)
	for _, name := range []string{"test.a", "test.b", "test.c", "test.d"} {
		n := f.addPlugin(t, name, 1, 1)
		f.connect(t, prev, prevPort, n, 0, false)
		prev, prevPort = n, outBase
	}
	f.connect(t, prev, prevPort, f.out, 0, false)

	s, err := Compile(f.input(1))
	require.NoError(t, err)
	assert.Equal(t, 4, s.PluginTasks)
	// Two slots alternate along the chain, plus the silence buffer.
	assert.Len(t, s.AudioBuffers, 3)
}

func TestCompileFanInSums(t *testing.T) {
	f := newFixture(t, 1)
	a := f.addPlugin(t, "test.a", 0, 1)
	b := f.addPlugin(t, "test.b", 0, 1)
	f.connect(t, a, outBase, f.out, 0, false)
	f.connect(t, b, outBase, f.out, 0, false)

	s, err := Compile(f.input(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"graph_in", "plugin test.a_3", "plugin test.b_4", "sum", "graph_out"}, describe(s))
}

func TestCompileFanOutToOneNode(t *testing.T) {
	f := newFixture(t, 1)
	a := f.addPlugin(t, "test.a", 2, 1)
	f.connect(t, f.in, 0, a, 0, false)
	f.connect(t, f.in, 0, a, 1, false)

	s, err := Compile(f.input(1))
	require.NoError(t, err)
	pt := s.Tasks[1].(*schedule.PluginTask)
	assert.Same(t, pt.AudioIn[0].Channels[0], pt.AudioIn[0].Channels[1])
}

func TestCompileEventPorts(t *testing.T) {
	f := newFixture(t, 1)
	a := f.addPlugin(t, "test.seq", 0, 0)
	b := f.addPlugin(t, "test.synth", 0, 1)
	f.eventPort(t, a, 200, ir.PortTypeNote, false)
	f.eventPort(t, b, 0, ir.PortTypeNote, true)
	f.eventPort(t, b, 1, ir.PortTypeAutomation, true)
	f.connect(t, a, 200, b, 0, false)
	f.connect(t, b, outBase, f.out, 0, false)

	s, err := Compile(f.input(1))
	require.NoError(t, err)
	assert.Len(t, s.EventBuffers, 1)

	seq := s.Tasks[1].(*schedule.PluginTask)
	synth := s.Tasks[2].(*schedule.PluginTask)
	require.Len(t, seq.Events.NoteOut, 1)
	require.Len(t, synth.Events.NoteIn, 1)
	assert.Same(t, seq.Events.NoteOut[0], synth.Events.NoteIn[0])
	require.NotNil(t, synth.Events.AutomationIn)
	assert.True(t, synth.Events.AutomationIn.ReadOnly(), "unconnected automation input reads the empty buffer")
}

func TestCompileCarriesDropsAndTransport(t *testing.T) {
	f := newFixture(t, 1)
	in := f.input(7)
	in.Transport = schedule.NewTransport(48000, 0, ir.LoopState{}, ir.DefaultTempoMap())
	in.ProcsToDrop = []schedule.NodeProcessor{nil}

	s, err := Compile(in)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), s.Version)
	assert.Same(t, in.Transport, s.Transport)
	assert.Len(t, s.ProcsToDrop, 1)
}

func TestCompileBufferOverflow(t *testing.T) {
	f := newFixture(t, 2)
	in := f.input(1)
	in.MaxBuffers = 1

	_, err := Compile(in)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrCodeBufferOverflow, ce.Code)

	audio, _ := in.Pool.Idle()
	assert.Equal(t, 2, audio, "buffers taken before the failure go back to the pool")
}

func TestCompileUnboundNode(t *testing.T) {
	f := newFixture(t, 1)
	f.g.AddNode()

	_, err := Compile(f.input(1))
	require.Error(t, err)
	assert.True(t, IsInternalError(err))
	assert.False(t, IsCycleError(err))
}

func TestCompileIsDeterministic(t *testing.T) {
	build := func() string {
		f := newFixture(t, 2)
		a := f.addPlugin(t, "test.a", 2, 2)
		b := f.addPlugin(t, "test.b", 2, 2)
		for c := graph.PortID(0); c < 2; c++ {
			f.connect(t, f.in, c, a, c, false)
			f.connect(t, f.in, c, b, c, false)
			f.connect(t, a, outBase+c, f.out, c, false)
			f.connect(t, b, outBase+c, f.out, c, false)
		}
		s, err := Compile(f.input(1))
		require.NoError(t, err)
		return s.Dump()
	}
	assert.Equal(t, build(), build())
}

func TestVerifyRejectsStaleRead(t *testing.T) {
	a0 := plugin.NewAudioBuffer(0, 8)
	a1 := plugin.NewAudioBuffer(1, 8)
	tasks := []schedule.Task{
		&schedule.GraphInTask{Outs: []*plugin.AudioBuffer{a0}},
		&schedule.DelayTask{Src: a1, Dst: a0},
		&schedule.GraphOutTask{Ins: []*plugin.AudioBuffer{a0}},
	}
	expects := [][]expectation{nil, {{writer: 0}}, {{writer: 0}}}

	err := verify(tasks, expects)
	require.Error(t, err)
	assert.True(t, IsInternalError(err))
}

func TestVerifyRejectsConstantWrite(t *testing.T) {
	silence := plugin.NewSilenceBuffer(0, 8)
	tasks := []schedule.Task{&schedule.GraphInTask{Outs: []*plugin.AudioBuffer{silence}}}
	require.Error(t, verify(tasks, [][]expectation{nil}))
}

func TestVerifyRejectsInPlaceAlias(t *testing.T) {
	a0 := plugin.NewAudioBuffer(0, 8)
	tasks := []schedule.Task{
		&schedule.GraphInTask{Outs: []*plugin.AudioBuffer{a0}},
		&schedule.SumTask{Srcs: []*plugin.AudioBuffer{a0}, Dst: a0},
	}
	require.Error(t, verify(tasks, [][]expectation{nil, {{writer: 0}}}))
}
