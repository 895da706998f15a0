package audiograph

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plughost/internal/host"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/schedule"
	"github.com/roach88/plughost/internal/testutil"
)

// mapCatalog resolves factories by key.
type mapCatalog map[ir.PluginKey]plugin.Factory

func (c mapCatalog) Factory(key ir.PluginKey) (plugin.Factory, bool) {
	f, ok := c[key]
	return f, ok
}

const testFrames = 16

func newTestGraph(t *testing.T, factories ...plugin.Factory) *AudioGraph {
	t.Helper()
	cat := mapCatalog{}
	for _, f := range factories {
		cat[f.Descriptor().Key()] = f
	}
	return New(Config{
		NumInputs:    2,
		NumOutputs:   2,
		SampleRate:   48000,
		MinFrames:    1,
		MaxFrames:    testFrames,
		Catalog:      cat,
		HostInfo:     ir.DefaultHostInfo(),
		ResetTimeout: 50 * time.Millisecond,
	})
}

// latest takes the newest published schedule off the mailbox, as the
// audio thread would.
func latest(t *testing.T, a *AudioGraph) *schedule.Schedule {
	t.Helper()
	h := a.SharedSchedule().Take()
	require.NotNil(t, h)
	t.Cleanup(h.Drop)
	return h.Get()
}

func describe(s *schedule.Schedule) []string {
	out := make([]string, len(s.Tasks))
	for i, task := range s.Tasks {
		out[i] = task.Describe()
	}
	return out
}

func add(t *testing.T, a *AudioGraph, f plugin.Factory, active bool) ir.PluginInstanceID {
	t.Helper()
	s := ir.NewSaveState(f.Descriptor().Key())
	s.Active = active
	res := a.AddPlugin(s)
	want := PluginInactive
	if active {
		want = PluginActivated
	}
	require.Equal(t, want, res.Status, "add %s: %v", s.Key, res.Err)
	return res.ID
}

func audioEdge(src, dst ir.PluginInstanceID, channel uint16) ir.EdgeReq {
	return ir.EdgeReq{
		Type:       ir.PortTypeAudio,
		Src:        ir.ExistingPlugin(src),
		SrcPort:    ir.MainPort(),
		SrcChannel: channel,
		Dst:        ir.ExistingPlugin(dst),
		DstPort:    ir.MainPort(),
		DstChannel: channel,
	}
}

func connect(t *testing.T, a *AudioGraph, src, dst ir.PluginInstanceID, allowCycle bool) []ir.Edge {
	t.Helper()
	var edges []ir.Edge
	for c := range uint16(2) {
		req := audioEdge(src, dst, c)
		req.AllowCycle = allowCycle
		e, err := a.ConnectEdge(req, src, dst)
		require.NoError(t, err)
		edges = append(edges, e)
	}
	return edges
}

// runBlock runs one block of constant input through a fresh runner.
func runBlock(r *schedule.Runner, in float64) [][]float64 {
	inBuf := [][]float64{make([]float64, testFrames), make([]float64, testFrames)}
	for _, ch := range inBuf {
		for i := range ch {
			ch[i] = in
		}
	}
	out := [][]float64{make([]float64, testFrames), make([]float64, testFrames)}
	r.Process(inBuf, out, testFrames)
	return out
}

func TestNew_BoundaryNodes(t *testing.T) {
	a := newTestGraph(t)

	assert.Equal(t, ir.PluginInstanceGraphInput, a.GraphInput().Type)
	assert.Equal(t, ir.PluginInstanceGraphOutput, a.GraphOutput().Type)
	assert.True(t, a.GraphInput().IsBoundary())
	assert.NotEqual(t, a.GraphInput().UniqueID, a.GraphOutput().UniqueID)
	assert.Empty(t, a.Plugins())
	assert.True(t, a.Dirty())
}

func TestCompile_EmptyGraphIsSilent(t *testing.T) {
	a := newTestGraph(t)
	require.NoError(t, a.Compile())
	assert.False(t, a.Dirty())

	r := schedule.NewRunner(a.SharedSchedule(), testFrames, 2, 2)
	defer r.Close()
	out := runBlock(r, 0.75)

	assert.Equal(t, uint64(1), r.LiveVersion())
	for _, ch := range out {
		assert.Equal(t, make([]float64, testFrames), ch, "no edges: outputs are cleared")
	}
}

func TestCompile_EmptyGraphSchedule(t *testing.T) {
	a := newTestGraph(t)
	require.NoError(t, a.Compile())

	s := latest(t, a)
	assert.Equal(t, 0, s.PluginTasks)
	assert.Equal(t, []string{"graph_in", "graph_out"}, describe(s))
}

func TestCompile_PassThroughPlugin(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, true)
	connect(t, a, a.GraphInput(), id, false)
	connect(t, a, id, a.GraphOutput(), false)
	require.NoError(t, a.Compile())

	r := schedule.NewRunner(a.SharedSchedule(), testFrames, 2, 2)
	defer r.Close()
	out := runBlock(r, 0.5)

	for _, ch := range out {
		assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}, ch, 1e-12)
	}
	assert.Equal(t, int64(1), f.Last().Processor().Blocks.Load())
}

func TestCompile_PluginBetweenBoundaries(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, true)
	connect(t, a, a.GraphInput(), id, false)
	connect(t, a, id, a.GraphOutput(), false)
	require.NoError(t, a.Compile())

	s := latest(t, a)
	assert.Equal(t, []string{"graph_in", "plugin " + id.String(), "graph_out"}, describe(s))
	assert.Equal(t, []ir.PluginInstanceID{id}, s.PluginOrder())
}

func TestCompile_AllowedCycleIsDelayed(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	pa := add(t, a, f, true)
	pb := add(t, a, f, true)
	connect(t, a, pa, pb, false)
	connect(t, a, pb, pa, true)
	require.NoError(t, a.Compile())

	s := latest(t, a)
	assert.Equal(t, []ir.PluginInstanceID{pa, pb}, s.PluginOrder())
	assert.Contains(t, describe(s), "delay")
}

func TestConnectEdge_CycleWithoutAllow(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	pa := add(t, a, f, false)
	pb := add(t, a, f, false)
	connect(t, a, pa, pb, false)

	_, err := a.ConnectEdge(audioEdge(pb, pa, 0), pb, pa)
	assert.Equal(t, ErrCodeCycle, ConnectErrorCodeOf(err))

	require.NoError(t, a.Compile())
}

func TestConnectEdge_Errors(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, false)
	gone := ir.PluginInstanceID{NodeIndex: 40, UniqueID: 999, Type: ir.PluginInstanceInternal, RDN: "gone"}

	tests := []struct {
		name     string
		req      ir.EdgeReq
		src, dst ir.PluginInstanceID
		code     ConnectErrorCode
	}{
		{"unknown source", audioEdge(gone, id, 0), gone, id, ErrCodeSrcPluginDoesNotExist},
		{"unknown destination", audioEdge(id, gone, 0), id, gone, ErrCodeDstPluginDoesNotExist},
		{"source channel", audioEdge(a.GraphInput(), id, 5), a.GraphInput(), id, ErrCodeSrcPortDoesNotExist},
		{"stable id", ir.EdgeReq{Type: ir.PortTypeAudio, SrcPort: ir.StablePort(77), DstPort: ir.MainPort()}, id, a.GraphOutput(), ErrCodeSrcPortDoesNotExist},
		{"no note input", ir.EdgeReq{Type: ir.PortTypeNote, SrcPort: ir.MainPort(), DstPort: ir.MainPort()}, a.GraphInput(), id, ErrCodeSrcPortDoesNotExist},
		{"no automation ports", ir.EdgeReq{Type: ir.PortTypeAutomation, SrcPort: ir.MainPort(), DstPort: ir.MainPort()}, id, id, ErrCodeSrcPortDoesNotExist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ConnectEdge(tt.req, tt.src, tt.dst)
			assert.Equal(t, tt.code, ConnectErrorCodeOf(err))
		})
	}

	connect(t, a, a.GraphInput(), id, false)
	_, err := a.ConnectEdge(audioEdge(a.GraphInput(), id, 0), a.GraphInput(), id)
	assert.Equal(t, ErrCodeEdgeAlreadyExists, ConnectErrorCodeOf(err))
}

func TestConnectEdge_AutomationAndNotes(t *testing.T) {
	params := testutil.NewFakeFactory(testutil.FakeConfig{
		RDN:    "test.params",
		Params: []plugin.ParamInfo{{ID: 1, Name: "p", Max: 1, Flags: plugin.ParamAutomatable}},
		Notes: &ir.NotePortsConfig{
			Inputs:          []ir.NotePortInfo{{StableID: 4}},
			Outputs:         []ir.NotePortInfo{{StableID: 5}},
			MainInputIndex:  ir.IntPtr(0),
			MainOutputIndex: ir.IntPtr(0),
		},
	})
	a := newTestGraph(t, params)
	pa := add(t, a, params, true)
	pb := add(t, a, params, true)

	_, err := a.ConnectEdge(ir.EdgeReq{Type: ir.PortTypeAutomation, SrcPort: ir.MainPort(), DstPort: ir.MainPort()}, pa, pb)
	require.NoError(t, err)
	e, err := a.ConnectEdge(ir.EdgeReq{Type: ir.PortTypeNote, SrcPort: ir.StablePort(5), DstPort: ir.MainPort()}, pa, pb)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), e.DstPort.StableID)

	require.NoError(t, a.Compile())
	assert.Equal(t, []ir.PluginInstanceID{pa, pb}, latest(t, a).PluginOrder())
}

func TestRemovePlugins_ReportsEdges(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, false)
	in := audioEdge(a.GraphInput(), id, 0)
	e1, err := a.ConnectEdge(in, a.GraphInput(), id)
	require.NoError(t, err)
	e2, err := a.ConnectEdge(audioEdge(id, a.GraphOutput(), 1), id, a.GraphOutput())
	require.NoError(t, err)

	removed, edges := a.RemovePlugins([]ir.PluginInstanceID{id, id})

	assert.Equal(t, []ir.PluginInstanceID{id}, removed, "duplicates are skipped")
	assert.ElementsMatch(t, []ir.EdgeID{e1.ID, e2.ID}, edges)
	assert.Empty(t, a.Edges())
	assert.False(t, a.DisconnectEdge(e1.ID), "stale edge ids do not resolve")
	assert.True(t, f.Last().Destroyed, "inactive plugins are destroyed at once")

	_, err = a.ConnectEdge(in, a.GraphInput(), id)
	assert.Equal(t, ErrCodeDstPluginDoesNotExist, ConnectErrorCodeOf(err))
}

func TestRemovePlugins_SkipsUnknownAndBoundary(t *testing.T) {
	a := newTestGraph(t)
	removed, edges := a.RemovePlugins([]ir.PluginInstanceID{a.GraphInput(), {UniqueID: 1234}})
	assert.Empty(t, removed)
	assert.Empty(t, edges)
	_, ok := a.byID[a.GraphInput()]
	assert.True(t, ok)
}

func TestRemovePlugins_ActiveWaitsForDrop(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, true)
	connect(t, a, a.GraphInput(), id, false)
	connect(t, a, id, a.GraphOutput(), false)
	require.NoError(t, a.Compile())

	r := schedule.NewRunner(a.SharedSchedule(), testFrames, 2, 2)
	defer r.Close()
	runBlock(r, 0.5)

	removed, _ := a.RemovePlugins([]ir.PluginInstanceID{id})
	require.Equal(t, []ir.PluginInstanceID{id}, removed)
	assert.False(t, f.Last().Destroyed)

	out := a.OnIdle()
	assert.Empty(t, out.Removed, "the audio thread has not dropped the processor")

	require.NoError(t, a.Compile())
	runBlock(r, 0.5)

	out = a.OnIdle()
	assert.Equal(t, []ir.PluginInstanceID{id}, out.Removed)
	require.Len(t, out.Events, 1)
	assert.Equal(t, ir.EventPluginRemoved, out.Events[0].Type)
	assert.True(t, f.Last().Destroyed)
	assert.Equal(t, 1, f.Last().Deactivations)
}

func TestAddPlugin_MissingFactory(t *testing.T) {
	a := newTestGraph(t)
	s := ir.NewSaveState(ir.PluginKey{RDN: "com.vendor.gone", Format: ir.FormatCLAP})
	s.BackupAudioPorts = testutil.StereoEffectPorts()

	res := a.AddPlugin(s)

	assert.Equal(t, PluginFailedToLoad, res.Status)
	assert.Error(t, res.Err)
	assert.Equal(t, ir.PluginInstanceExternal, res.ID.Type)
	connect(t, a, a.GraphInput(), res.ID, false)
	require.NoError(t, a.Compile())
}

func TestAddPlugin_ActivationFailure(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{ActivateErr: testutil.ErrFake})
	a := newTestGraph(t, f)

	res := a.AddPlugin(ir.NewSaveState(f.Descriptor().Key()))

	assert.Equal(t, PluginFailedToActivate, res.Status)
	assert.ErrorIs(t, res.Err, testutil.ErrFake)
	h, ok := a.Host(res.ID)
	require.True(t, ok)
	assert.Equal(t, host.StateInactiveWithError, h.State())
}

func TestAddPlugin_ProcessorWaitsForSchedule(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	require.NoError(t, a.Compile())

	id := add(t, a, f, true)
	h, _ := a.Host(id)
	v, ok := h.Slot().MinVersion()
	require.True(t, ok)
	assert.Equal(t, uint64(2), v, "the next compile produces version 2")
}

func TestOnIdle_PortChangeRemovesEdges(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, true)
	edges := connect(t, a, id, a.GraphOutput(), false)
	require.NoError(t, a.Compile())
	r := schedule.NewRunner(a.SharedSchedule(), testFrames, 2, 2)
	defer r.Close()
	runBlock(r, 0)

	p := f.Last()
	p.Update(func(cfg *testutil.FakeConfig) {
		cfg.Audio = testutil.StereoEffectPorts()
		cfg.Audio.Outputs[0].StableID = 9
	})
	p.Request.Request(plugin.RequestRescanAudioPorts)

	a.OnIdle()
	require.True(t, a.Dirty(), "the restart needs a schedule carrying the drop")
	require.NoError(t, a.Compile())
	runBlock(r, 0)

	out := a.OnIdle()
	var rescanned *ir.PortsChanged
	var activated bool
	for _, e := range out.Events {
		switch e.Type {
		case ir.EventPortsRescanned:
			rescanned = e.Ports
		case ir.EventPluginActivated:
			activated = e.Activated.AudioPortsChanged
		}
	}
	assert.True(t, activated)
	require.NotNil(t, rescanned)
	assert.ElementsMatch(t, []ir.EdgeID{edges[0].ID, edges[1].ID}, rescanned.RemovedEdges)
	assert.Empty(t, a.Edges())
	assert.True(t, a.Dirty())

	req := audioEdge(id, a.GraphOutput(), 0)
	req.SrcPort = ir.StablePort(9)
	_, err := a.ConnectEdge(req, id, a.GraphOutput())
	assert.NoError(t, err)
}

func TestOnIdle_SurfacesPluginEvents(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, false)

	req := f.Last().Request
	req.Request(plugin.RequestMarkDirty | plugin.RequestGUIHide)
	timer := req.RegisterTimer(5 * time.Millisecond)

	out := a.OnIdle()
	require.Len(t, out.Events, 2)
	assert.Equal(t, ir.EventGUIRequest, out.Events[0].Type)
	assert.Equal(t, ir.EventSaveStateDirty, out.Events[1].Type)
	assert.Equal(t, id, *out.Events[1].Plugin)
	require.Len(t, out.TimerOps, 1)
	assert.Equal(t, PluginTimerOp{Plugin: id, Op: plugin.TimerOp{ID: timer, Period: 5 * time.Millisecond, Register: true}}, out.TimerOps[0])
}

func TestDeactivatePlugin(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, true)
	require.NoError(t, a.Compile())
	r := schedule.NewRunner(a.SharedSchedule(), testFrames, 2, 2)
	defer r.Close()

	require.True(t, a.DeactivatePlugin(id))
	assert.False(t, a.DeactivatePlugin(id))
	require.NoError(t, a.Compile())
	runBlock(r, 0)

	out := a.OnIdle()
	require.Len(t, out.Events, 1)
	assert.Equal(t, ir.EventPluginDeactivated, out.Events[0].Type)

	_, err := a.ActivatePlugin(id)
	require.NoError(t, err)
}

func TestReset_WithRunningAudioThread(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	id := add(t, a, f, true)
	connect(t, a, a.GraphInput(), id, false)
	require.NoError(t, a.Compile())
	oldIn := a.GraphInput()

	r := schedule.NewRunner(a.SharedSchedule(), testFrames, 2, 2)
	defer r.Close()
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				runBlock(r, 0.1)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	a.Reset()
	close(stop)
	wg.Wait()

	assert.Empty(t, a.Plugins())
	assert.Empty(t, a.Edges())
	assert.True(t, f.Last().Destroyed)
	assert.Equal(t, 1, f.Last().Deactivations, "deactivated gracefully")
	assert.NotEqual(t, oldIn.UniqueID, a.GraphInput().UniqueID, "boundary ids are fresh")
	require.NoError(t, a.Compile())
}

func TestReset_TimesOutWithoutAudioThread(t *testing.T) {
	f := testutil.NewFakeFactory(testutil.FakeConfig{})
	a := newTestGraph(t, f)
	add(t, a, f, true)

	start := time.Now()
	a.Reset()

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.True(t, f.Last().Destroyed, "torn down after the timeout")
	assert.Empty(t, a.Plugins())
}
