package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plughost/internal/collector"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// scaleProc multiplies its first input port into its first output port.
type scaleProc struct {
	factor  float64
	calls   int
	dropped int
	lastVer uint64
}

func (p *scaleProc) ProcessBlock(ctx *BlockContext, bufs *plugin.ProcBuffers, _ *EventIO) {
	p.calls++
	p.lastVer = ctx.Version
	for c, out := range bufs.AudioOut[0].Channels {
		in := bufs.AudioIn[0].Channels[c]
		for i := range out {
			out[i] = in[i] * p.factor
		}
	}
}

func (p *scaleProc) DropOnAudioThread() { p.dropped++ }

// passThrough builds graph_in -> plugin -> graph_out over mono buffers.
func passThrough(version uint64, slot *ProcessorSlot) *Schedule {
	a0 := plugin.NewAudioBuffer(0, 64)
	a1 := plugin.NewAudioBuffer(1, 64)
	pt := NewPluginTask(
		ir.PluginInstanceID{UniqueID: 3, RDN: "scale"},
		slot,
		[]AudioPort{{Channels: []*plugin.AudioBuffer{a0}}},
		[]AudioPort{{Channels: []*plugin.AudioBuffer{a1}}},
		EventIO{},
	)
	return &Schedule{
		Version:      version,
		MaxFrames:    64,
		NumInputs:    1,
		NumOutputs:   1,
		PluginTasks:  1,
		Tasks:        []Task{&GraphInTask{Outs: []*plugin.AudioBuffer{a0}}, pt, &GraphOutTask{Ins: []*plugin.AudioBuffer{a1}}},
		AudioBuffers: []*plugin.AudioBuffer{a0, a1},
	}
}

func TestRunnerRunsLatestSchedule(t *testing.T) {
	c := collector.New()
	shared := NewSharedSchedule()
	slot := &ProcessorSlot{}
	proc := &scaleProc{factor: 2}
	slot.Publish(proc, 1)

	shared.Publish(collector.Register(c, passThrough(1, slot), nil))
	r := NewRunner(shared, 64, 1, 1)

	in := [][]float64{{1, 2, 3, 4}}
	out := [][]float64{make([]float64, 4)}
	r.Process(in, out, 4)

	assert.Equal(t, []float64{2, 4, 6, 8}, out[0])
	assert.Equal(t, uint64(1), r.LiveVersion())
	assert.False(t, shared.Pending())
}

func TestRunnerSplitsIntoBlocks(t *testing.T) {
	c := collector.New()
	shared := NewSharedSchedule()
	slot := &ProcessorSlot{}
	proc := &scaleProc{factor: 1}
	slot.Publish(proc, 0)
	shared.Publish(collector.Register(c, passThrough(1, slot), nil))

	r := NewRunner(shared, 4, 1, 1)
	in := [][]float64{{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}}
	out := [][]float64{make([]float64, 10)}
	r.Process(in, out, 10)

	assert.Equal(t, in[0], out[0])
	assert.Equal(t, 3, proc.calls)
	assert.Equal(t, uint64(3), r.Blocks())
}

func TestRunnerWithoutScheduleClearsOutput(t *testing.T) {
	r := NewRunner(NewSharedSchedule(), 8, 0, 1)
	out := [][]float64{{1, 1, 1}}
	r.Process(nil, out, 3)
	assert.Equal(t, []float64{0, 0, 0}, out[0])
}

func TestProcessorWaitsForMinVersion(t *testing.T) {
	c := collector.New()
	shared := NewSharedSchedule()
	slot := &ProcessorSlot{}
	proc := &scaleProc{factor: 3}
	slot.Publish(proc, 2)

	shared.Publish(collector.Register(c, passThrough(1, slot), nil))
	r := NewRunner(shared, 64, 1, 1)
	out := [][]float64{make([]float64, 2)}
	r.Process([][]float64{{1, 1}}, out, 2)
	assert.Equal(t, 0, proc.calls, "processor must not run against an older schedule")
	assert.Equal(t, []float64{0, 0}, out[0])

	shared.Publish(collector.Register(c, passThrough(2, slot), nil))
	r.Process([][]float64{{1, 1}}, out, 2)
	assert.Equal(t, 1, proc.calls)
	assert.Equal(t, uint64(2), proc.lastVer)
	assert.Equal(t, []float64{3, 3}, out[0])
}

func TestSharedScheduleLatestWins(t *testing.T) {
	c := collector.New()
	shared := NewSharedSchedule()
	torn := map[uint64]bool{}
	reg := func(v uint64) *Handle {
		return collector.Register(c, Empty(v, 64, 0, 0, nil), func(s *Schedule) { torn[s.Version] = true })
	}

	shared.Publish(reg(1))
	shared.Publish(reg(2))
	assert.Equal(t, 1, c.Collect(), "unpicked schedule 1 is retired")
	assert.True(t, torn[1])

	h := shared.Take()
	require.NotNil(t, h)
	assert.Equal(t, uint64(2), h.Get().Version)
	assert.Nil(t, shared.Take())

	published, picked := shared.Counts()
	assert.Equal(t, uint64(2), published)
	assert.Equal(t, uint64(1), picked)
	h.Drop()
	assert.Equal(t, 1, c.Collect())
}

func TestRunnerDropsSupersededScheduleAndProcessors(t *testing.T) {
	c := collector.New()
	shared := NewSharedSchedule()
	slot := &ProcessorSlot{}
	shared.Publish(collector.Register(c, passThrough(1, slot), nil))

	r := NewRunner(shared, 64, 1, 1)
	out := [][]float64{make([]float64, 1)}
	r.Process([][]float64{{0}}, out, 1)

	gone := &scaleProc{}
	next := Empty(2, 64, 1, 1, nil)
	next.ProcsToDrop = []NodeProcessor{gone}
	shared.Publish(collector.Register(c, next, nil))

	assert.Equal(t, 0, c.Collect(), "schedule 1 is still live")
	r.Process([][]float64{{0}}, out, 1)
	assert.Equal(t, 1, gone.dropped)
	assert.Equal(t, 1, c.Collect(), "schedule 1 retired after the swap")

	r.Close()
	assert.Equal(t, 1, c.Collect())
	assert.Equal(t, int64(0), c.Live())
}

func TestSumAndDelayTasks(t *testing.T) {
	a := plugin.NewAudioBuffer(0, 4)
	b := plugin.NewAudioBuffer(1, 4)
	dst := plugin.NewAudioBuffer(2, 4)
	copy(a.BorrowWrite(4), []float64{1, 2, 3, 4})
	a.Release()
	a.SetSilent(false)
	copy(b.BorrowWrite(4), []float64{10, 10, 10, 10})
	b.Release()
	b.SetSilent(false)

	ctx := &BlockContext{Frames: 4}
	(&SumTask{Srcs: []*plugin.AudioBuffer{a, b}, Dst: dst}).Run(ctx)
	assert.Equal(t, []float64{11, 12, 13, 14}, dst.BorrowRead(4))
	dst.Release()
	assert.False(t, dst.Silent())

	delay := plugin.NewAudioBuffer(3, 4)
	(&DelayTask{Src: dst, Dst: delay}).Run(&BlockContext{Frames: 2})
	assert.Equal(t, []float64{11, 12, 0, 0}, delay.BorrowRead(4))
	delay.Release()
}

func TestEventSumTaskMergesByTime(t *testing.T) {
	a := plugin.NewEventBuffer(4)
	b := plugin.NewEventBuffer(4)
	a.Push(plugin.Event{Time: 3, Key: 1})
	b.Push(plugin.Event{Time: 1, Key: 2})
	dst := plugin.NewEventBuffer(4)
	dst.Push(plugin.Event{Time: 0, Key: 9})

	(&EventSumTask{Srcs: []*plugin.EventBuffer{a, b}, Dst: dst}).Run(nil)
	require.Equal(t, 2, dst.Len())
	assert.Equal(t, int16(2), dst.Events()[0].Key)
	assert.Equal(t, int16(1), dst.Events()[1].Key)

	delayed := plugin.NewEventBuffer(4)
	(&EventDelayTask{Src: dst, Dst: delayed}).Run(nil)
	assert.Equal(t, 2, delayed.Len())
}

func TestScheduleDump(t *testing.T) {
	s := passThrough(7, &ProcessorSlot{})
	want := "schedule v7 frames=64 in=1 out=1 tasks=3 plugins=1 audio_buffers=2 event_buffers=0 drops=0\n" +
		"0 graph_in out=[a0]\n" +
		"1 plugin scale_3 in=[a0] out=[a1]\n" +
		"2 graph_out in=[a1]\n"
	assert.Equal(t, want, s.Dump())
	assert.Equal(t, []ir.PluginInstanceID{{UniqueID: 3, RDN: "scale"}}, s.PluginOrder())
}

func TestBufferPoolReuse(t *testing.T) {
	p := NewBufferPool(16, 8)
	b := p.GetAudio(5, false)
	assert.Equal(t, uint32(5), b.ID())
	p.PutAudio(b)
	again := p.GetAudio(9, true)
	assert.Same(t, b, again)
	assert.True(t, again.IsConstant())

	p.PutAudio(plugin.NewAudioBuffer(1, 4))
	audio, _ := p.Idle()
	assert.Equal(t, 0, audio, "foreign-sized buffer is not pooled")

	e := p.GetEvents()
	e.Push(plugin.Event{})
	p.PutEvents(e)
	assert.Equal(t, 0, p.GetEvents().Len())
}

func TestScheduleRelease(t *testing.T) {
	pool := NewBufferPool(64, 8)
	s := passThrough(1, &ProcessorSlot{})
	s.Release(pool)
	audio, _ := pool.Idle()
	assert.Equal(t, 2, audio)
	assert.Nil(t, s.AudioBuffers)
}
