package builtin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// block is a ready-to-process set of buffers.
type block struct {
	bufs   plugin.ProcBuffers
	events plugin.ProcEvents
	info   plugin.ProcInfo
}

func newBlock(frames, ins, outs int) *block {
	b := &block{info: plugin.ProcInfo{Frames: frames}}
	if ins > 0 {
		port := plugin.PortBuffer{}
		for c := 0; c < ins; c++ {
			port.Channels = append(port.Channels, make([]float64, frames))
		}
		b.bufs.AudioIn = []plugin.PortBuffer{port}
	}
	if outs > 0 {
		port := plugin.PortBuffer{}
		for c := 0; c < outs; c++ {
			port.Channels = append(port.Channels, make([]float64, frames))
		}
		b.bufs.AudioOut = []plugin.PortBuffer{port}
	}
	b.bufs.Frames = frames
	b.events.In = plugin.NewEventBuffer(16)
	b.events.Out = plugin.NewEventBuffer(16)
	return b
}

func (b *block) run(p plugin.Processor) plugin.ProcessStatus {
	return p.Process(&b.info, &b.bufs, &b.events)
}

func activate(t *testing.T, f plugin.Factory, ctx plugin.Context) (plugin.MainThread, plugin.ActivatedPlugin) {
	t.Helper()
	mt, err := f.New(ctx)
	require.NoError(t, err)
	act, err := mt.Activate(48000, 1, 64)
	require.NoError(t, err)
	require.NoError(t, act.Processor.StartProcessing())
	return mt, act
}

func TestFactoriesHaveUniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for _, f := range Factories() {
		d := f.Descriptor()
		assert.False(t, seen[d.ID], d.ID)
		seen[d.ID] = true
		assert.Equal(t, ir.FormatInternal, d.Format)
	}
	assert.Len(t, seen, 3)
}

func TestGainScalesAndBypasses(t *testing.T) {
	mt, act := activate(t, GainFactory{}, plugin.Context{})
	require.Equal(t, plugin.InternalGain, act.Internal.Kind)
	require.NotNil(t, act.Internal.Gain)

	b := newBlock(4, 2, 2)
	copy(b.bufs.AudioIn[0].Channels[0], []float64{1, 2, 3, 4})
	copy(b.bufs.AudioIn[0].Channels[1], []float64{1, 1, 1, 1})
	b.events.In.Push(plugin.Event{Kind: plugin.EventParamValue, ParamID: GainParamGain, Value: 0.5})

	assert.Equal(t, plugin.ProcessContinueIfNotQuiet, b.run(act.Processor))
	assert.Equal(t, []float64{0.5, 1, 1.5, 2}, b.bufs.AudioOut[0].Channels[0])
	v, ok := mt.ParamValue(GainParamGain)
	require.True(t, ok)
	assert.Equal(t, 0.5, v, "processor-applied value is visible on the main thread")

	act.Internal.Gain.Set(2)
	b.events.In.Clear()
	b.run(act.Processor)
	assert.Equal(t, []float64{1, 2, 3, 4}, b.bufs.AudioOut[0].Channels[0])

	b.events.In.Push(plugin.Event{Kind: plugin.EventParamValue, ParamID: GainParamBypass, Value: 1})
	b.run(act.Processor)
	assert.Equal(t, []float64{1, 2, 3, 4}, b.bufs.AudioOut[0].Channels[0])
	assert.Equal(t, []float64{1, 1, 1, 1}, b.bufs.AudioOut[0].Channels[1])
}

func TestGainSilentInputSleeps(t *testing.T) {
	_, act := activate(t, GainFactory{}, plugin.Context{})
	b := newBlock(4, 2, 2)
	b.bufs.AudioIn[0].ConstantMask = 0b11

	assert.Equal(t, plugin.ProcessSleep, b.run(act.Processor))
	assert.Equal(t, uint64(0b11), b.bufs.AudioOut[0].ConstantMask)
}

func TestGainStateRoundTrip(t *testing.T) {
	mt, err := GainFactory{}.New(plugin.Context{})
	require.NoError(t, err)
	mt.ParamFlush([]plugin.Event{{Kind: plugin.EventParamValue, ParamID: GainParamGain, Value: 5}}, plugin.NewEventBuffer(1))

	v, _ := mt.ParamValue(GainParamGain)
	assert.Equal(t, 2.0, v, "flushed values are clamped")

	raw, err := mt.SaveState()
	require.NoError(t, err)

	other, err := GainFactory{}.New(plugin.Context{})
	require.NoError(t, err)
	require.NoError(t, other.LoadState(raw))
	v, _ = other.ParamValue(GainParamGain)
	assert.Equal(t, 2.0, v)

	assert.Error(t, other.LoadState([]byte("{")))
}

func TestToneRendersNoteAndEnds(t *testing.T) {
	mt, act := activate(t, ToneFactory{}, plugin.Context{})
	notes, err := mt.NotePorts()
	require.NoError(t, err)
	_, ok := plugin.MainNotePort(notes, true)
	assert.True(t, ok)

	b := newBlock(32, 0, 2)
	assert.Equal(t, plugin.ProcessSleep, b.run(act.Processor), "no voices sleeps")

	b.events.In.Push(plugin.Event{Time: 8, Kind: plugin.EventNoteOn, Key: 69, NoteID: 1, Velocity: 1})
	assert.Equal(t, plugin.ProcessContinue, b.run(act.Processor))
	left := b.bufs.AudioOut[0].Channels[0]
	assert.Equal(t, 0.0, left[0], "silent before the note starts")
	assert.NotEqual(t, 0.0, left[10])
	assert.Equal(t, left, b.bufs.AudioOut[0].Channels[1])

	b.events.In.Clear()
	b.events.Out.Clear()
	b.events.In.Push(plugin.Event{Time: 0, Kind: plugin.EventNoteOff, Key: 69, NoteID: 1})
	assert.Equal(t, plugin.ProcessSleep, b.run(act.Processor))
	require.Equal(t, 1, b.events.Out.Len())
	assert.Equal(t, plugin.EventNoteEnd, b.events.Out.Events()[0].Kind)
}

func TestSamplerPlaysLoadedSample(t *testing.T) {
	loader := plugin.NewMapLoader()
	loader.Put(&plugin.Sample{Key: "click", SampleRate: 48000, Channels: [][]float64{{1, 1, 1, 1, 1, 1}}})
	req := plugin.NewHostRequest()
	ctx := plugin.Context{Loader: loader, Request: req}

	mt, err := SamplerFactory{}.New(ctx)
	require.NoError(t, err)
	require.NoError(t, mt.LoadState([]byte(`{"params":{"gain":0.5},"sample":"click"}`)))
	assert.True(t, req.Take().Has(plugin.RequestMarkDirty))

	act, err := mt.Activate(48000, 1, 4)
	require.NoError(t, err)
	ops := req.TakeTimerOps()
	require.Len(t, ops, 1)
	assert.True(t, ops[0].Register)
	assert.Equal(t, 100*time.Millisecond, ops[0].Period)

	b := newBlock(4, 0, 2)
	b.events.In.Push(plugin.Event{Time: 2, Kind: plugin.EventNoteOn, Key: 60, Velocity: 1})
	assert.Equal(t, plugin.ProcessContinue, b.run(act.Processor))
	assert.Equal(t, []float64{0, 0, 0.5, 0.5}, b.bufs.AudioOut[0].Channels[0])
	assert.Equal(t, []float64{0, 0, 0.5, 0.5}, b.bufs.AudioOut[0].Channels[1], "mono sample feeds both channels")

	b.events.In.Clear()
	b.run(act.Processor)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, b.bufs.AudioOut[0].Channels[0])

	assert.Equal(t, plugin.ProcessSleep, b.run(act.Processor), "sample finished")

	raw, err := mt.SaveState()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sample":"click"`)
}

func TestSamplerSwapsSampleWhileActive(t *testing.T) {
	loader := plugin.NewMapLoader()
	loader.Put(&plugin.Sample{Key: "a", Channels: [][]float64{{1}}})
	loader.Put(&plugin.Sample{Key: "b", Channels: [][]float64{{2}}})
	ctx := plugin.Context{Loader: loader, Request: plugin.NewHostRequest()}
	mt, act := activate(t, SamplerFactory{}, ctx)
	require.NoError(t, mt.LoadState([]byte(`{"sample":"a"}`)))

	b := newBlock(1, 0, 1)
	b.run(act.Processor)
	require.NoError(t, mt.LoadState([]byte(`{"sample":"b"}`)))
	b.run(act.Processor)

	retired := act.Internal.Sampler.TakeRetired()
	require.NotNil(t, retired)
	assert.Equal(t, "a", retired.Key)
}

func TestSamplerMissingSample(t *testing.T) {
	mt, err := SamplerFactory{}.New(plugin.Context{Loader: plugin.NewMapLoader()})
	require.NoError(t, err)
	assert.Error(t, mt.LoadState([]byte(`{"sample":"nope"}`)))
}
