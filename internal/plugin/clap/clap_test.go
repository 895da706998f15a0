//go:build darwin || linux

package clap

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

func TestStructLayouts(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layouts are checked on 64-bit targets")
	}
	tests := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"descriptor", unsafe.Sizeof(clapPluginDescriptor{}), 88},
		{"host", unsafe.Sizeof(clapHost{}), 88},
		{"plugin", unsafe.Sizeof(clapPlugin{}), 96},
		{"process", unsafe.Sizeof(clapProcess{}), 64},
		{"audio buffer", unsafe.Sizeof(clapAudioBuffer{}), 32},
		{"event header", unsafe.Sizeof(clapEventHeader{}), 16},
		{"note", unsafe.Sizeof(clapEventNote{}), 40},
		{"param value", unsafe.Sizeof(clapEventParamValue{}), 56},
		{"param gesture", unsafe.Sizeof(clapEventParamGesture{}), 20},
		{"transport", unsafe.Sizeof(clapEventTransport{}), 104},
		{"audio port info", unsafe.Sizeof(clapAudioPortInfo{}), 288},
		{"note port info", unsafe.Sizeof(clapNotePortInfo{}), 268},
		{"param info", unsafe.Sizeof(clapParamInfo{}), 1320},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got, tt.name)
	}
	assert.Equal(t, uintptr(32), unsafe.Offsetof(clapEventNote{}.Velocity))
	assert.Equal(t, uintptr(48), unsafe.Offsetof(clapEventParamValue{}.Value))
	assert.Equal(t, uintptr(272), unsafe.Offsetof(clapAudioPortInfo{}.PortType))
}

func TestNoteEventConversion(t *testing.T) {
	in := plugin.Event{Time: 12, Kind: plugin.EventNoteOff, Port: 1, Channel: 3, Key: 64, NoteID: 9, Velocity: 0.25}
	c := toClapNote(in)
	assert.Equal(t, uint16(eventNoteOff), c.Header.Type)
	assert.Equal(t, uint32(40), c.Header.Size)

	out, ok := fromClapEvent(uintptr(unsafe.Pointer(&c)))
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestParamEventConversion(t *testing.T) {
	for _, kind := range []plugin.EventKind{plugin.EventParamValue, plugin.EventParamMod} {
		in := plugin.Event{Time: 3, Kind: kind, ParamID: 7, Value: 0.5, Cookie: 42}
		c := toClapParam(in)
		assert.Equal(t, int32(-1), c.NoteID, "param events are not note-scoped")

		out, ok := fromClapEvent(uintptr(unsafe.Pointer(&c)))
		require.True(t, ok)
		assert.Equal(t, in, out)
	}

	g := toClapGesture(plugin.Event{Kind: plugin.EventParamGestureEnd, ParamID: 2})
	out, ok := fromClapEvent(uintptr(unsafe.Pointer(&g)))
	require.True(t, ok)
	assert.Equal(t, plugin.EventParamGestureEnd, out.Kind)
	assert.Equal(t, ir.ParamID(2), out.ParamID)
}

func TestForeignEventsIgnored(t *testing.T) {
	c := toClapNote(plugin.Event{Kind: plugin.EventNoteOn})
	c.Header.SpaceID = 3
	_, ok := fromClapEvent(uintptr(unsafe.Pointer(&c)))
	assert.False(t, ok)

	tr := clapEventTransport{Header: clapEventHeader{Type: eventTransport}}
	_, ok = fromClapEvent(uintptr(unsafe.Pointer(&tr)))
	assert.False(t, ok)
}

func TestStringHelpers(t *testing.T) {
	s := cstring("clap.params")
	assert.Equal(t, "clap.params", goString(bytePtr(s)))
	assert.Equal(t, "", goString(0))

	var name [16]byte
	copy(name[:], "main")
	assert.Equal(t, "main", fixedString(name[:]))

	a, b := cstring("audio-effect"), cstring("stereo")
	arr := []uintptr{bytePtr(a), bytePtr(b), 0}
	assert.Equal(t, []string{"audio-effect", "stereo"}, stringArray(uintptr(unsafe.Pointer(&arr[0]))))
}

func TestReadDescriptor(t *testing.T) {
	id, name, vendor := cstring("org.example.delay"), cstring("Delay"), cstring("Example")
	feat := cstring("audio-effect")
	features := []uintptr{bytePtr(feat), 0}
	d := clapPluginDescriptor{
		ID:       bytePtr(id),
		Name:     bytePtr(name),
		Vendor:   bytePtr(vendor),
		Features: uintptr(unsafe.Pointer(&features[0])),
	}
	desc := readDescriptor(&d, "/plugins/delay.clap")
	assert.Equal(t, "org.example.delay", desc.ID)
	assert.Equal(t, "Delay", desc.Name)
	assert.Equal(t, ir.FormatCLAP, desc.Format)
	assert.Equal(t, []string{"audio-effect"}, desc.Features)
	assert.Equal(t, ir.PluginKey{RDN: "org.example.delay", Format: ir.FormatCLAP}, desc.Key())
}

func TestRegistryReusesIDs(t *testing.T) {
	var r registry[int]
	a, b := 1, 2
	ida, err := r.add(&a)
	require.NoError(t, err)
	idb, err := r.add(&b)
	require.NoError(t, err)
	assert.NotZero(t, ida)
	assert.NotEqual(t, ida, idb)
	assert.Same(t, &b, r.get(idb))

	r.remove(ida)
	assert.Nil(t, r.get(ida))
	idc, err := r.add(&a)
	require.NoError(t, err)
	assert.Equal(t, ida, idc)
	assert.Nil(t, r.get(0))
	assert.Nil(t, r.get(maxInstances))
}

func TestHostCallbacksRaiseRequests(t *testing.T) {
	h := &hostContext{request: plugin.NewHostRequest(), rdn: "org.example.delay"}
	id, err := hosts.add(h)
	require.NoError(t, err)
	defer hosts.remove(id)
	h.c.HostData = id
	ptr := uintptr(unsafe.Pointer(&h.c))

	var timer uint32
	assert.Equal(t, uintptr(1), hostRegisterTimer(ptr, 30, uintptr(unsafe.Pointer(&timer))))
	assert.NotZero(t, timer)
	assert.Equal(t, uintptr(1), hostGUIRequestResize(ptr, 640, 480))
	hostGUIClosed(ptr, 1)
	raise(ptr, plugin.RequestMarkDirty)

	flags := h.request.Take()
	assert.True(t, flags.Has(plugin.RequestTimers|plugin.RequestGUIResize|plugin.RequestGUIDestroyed|plugin.RequestMarkDirty))
	assert.False(t, flags.Has(plugin.RequestGUIClosed))
	assert.Equal(t, ir.GUISize{Width: 640, Height: 480}, h.request.GUISize())
	assert.Equal(t, []plugin.TimerOp{{ID: ir.TimerID(timer), Period: 30 * time.Millisecond, Register: true}}, h.request.TakeTimerOps())
}

func TestHostGetExtension(t *testing.T) {
	params := cstring(extParams)
	assert.Equal(t, uintptr(unsafe.Pointer(&hostParamsExt)), hostGetExtension(0, bytePtr(params)))
	unknown := cstring("clap.unknown")
	assert.Zero(t, hostGetExtension(0, bytePtr(unknown)))
}

func TestParamFlagsMapping(t *testing.T) {
	f := paramFlags(clapParamIsStepped | clapParamIsBypass | clapParamIsModulatable)
	assert.Equal(t, plugin.ParamStepped|plugin.ParamBypass|plugin.ParamModulatable, f)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, plugin.ProcessSleep, statuses[processSleep])
	assert.Equal(t, plugin.ProcessContinueIfNotQuiet, statuses[processContinueIfNotQuiet])
	assert.Equal(t, plugin.ProcessError, statuses[processError])
}

func TestBindPortsConverts32Bit(t *testing.T) {
	layout := []portLayout{{channels: 2}}
	bufs := make([]clapAudioBuffer, 1)
	ptrs, scratch := allocChannels(layout, 4)
	src := []plugin.PortBuffer{{Channels: [][]float64{{1, 2, 3, 4}, {0.5, 0.5, 0.5, 0.5}}, ConstantMask: 0b10}}

	var pin runtime.Pinner
	defer pin.Unpin()
	bindPorts(&pin, layout, bufs, ptrs, scratch, src, 4, true)
	assert.NotZero(t, bufs[0].Data32)
	assert.Zero(t, bufs[0].Data64)
	assert.Equal(t, uint64(0b10), bufs[0].ConstantMask)
	assert.Equal(t, []float32{1, 2, 3, 4}, scratch[0])

	scratch[1][0] = 0.75
	dst := []plugin.PortBuffer{{Channels: [][]float64{make([]float64, 4), make([]float64, 4)}}}
	bufs[0].ConstantMask = 0b01
	unbindOutputs(layout, bufs, scratch, dst, 4)
	assert.Equal(t, 0.75, dst[0].Channels[1][0])
	assert.Equal(t, uint64(0b01), dst[0].ConstantMask)
}

func TestBindPorts64Bit(t *testing.T) {
	layout := []portLayout{{channels: 1, supports64: true}}
	bufs := make([]clapAudioBuffer, 1)
	ptrs, scratch := allocChannels(layout, 2)
	ch := make([]float64, 2)
	ch[0], ch[1] = 1, 2

	var pin runtime.Pinner
	defer pin.Unpin()
	bindPorts(&pin, layout, bufs, ptrs, scratch, []plugin.PortBuffer{{Channels: [][]float64{ch}}}, 2, true)
	assert.NotZero(t, bufs[0].Data64)
	assert.Zero(t, bufs[0].Data32)
	assert.Equal(t, uintptr(unsafe.Pointer(&ch[0])), ptrs[0])
	assert.Equal(t, uintptr(unsafe.Pointer(&ptrs[0])), bufs[0].Data64)
	assert.Equal(t, 2.0, *(*float64)(unsafe.Add(unsafe.Pointer(ptrs[0]), unsafe.Sizeof(float64(0)))))
}

func TestBindPortsMissingChannelUsesSilence(t *testing.T) {
	layout := []portLayout{{channels: 2, supports64: true}}
	bufs := make([]clapAudioBuffer, 1)
	ptrs, scratch := allocChannels(layout, 2)
	scratch[1][0] = 9

	var pin runtime.Pinner
	defer pin.Unpin()
	bindPorts(&pin, layout, bufs, ptrs, scratch, []plugin.PortBuffer{{Channels: [][]float64{{1, 1}}}}, 2, true)
	// One channel short: the whole port falls back to 32-bit scratch.
	assert.NotZero(t, bufs[0].Data32)
	assert.Zero(t, bufs[0].Data64)
	assert.Equal(t, []float32{0, 0}, scratch[1])
	assert.Equal(t, uintptr(unsafe.Pointer(&scratch[1][0])), ptrs[1])
}

func TestStartProcessingReportsRefusal(t *testing.T) {
	for _, accept := range []bool{true, false} {
		inst := &instance{
			desc:            plugin.Descriptor{ID: "org.example.delay"},
			host:            &hostContext{},
			startProcessing: func(uintptr) bool { return accept },
		}
		p := &processor{inst: inst}

		err := p.StartProcessing()
		if accept {
			require.NoError(t, err)
			assert.True(t, inst.host.processing.Load())
			continue
		}
		require.Error(t, err)
		assert.Contains(t, err.Error(), "start_processing failed")
		assert.False(t, inst.host.processing.Load())
	}
}

func TestTransportFixedPoint(t *testing.T) {
	p := &processor{sampleRate: 48000}
	p.fillTransport(&plugin.TransportInfo{
		Playing: true, PlayheadFrame: 96000, BPM: 120,
		Numerator: 4, Denominator: 4, BeatPosition: 4,
	})
	assert.Equal(t, int64(4*beatTimeFactor), p.transport.SongPosBeats)
	assert.Equal(t, int64(2*secTimeFactor), p.transport.SongPosSeconds)
	assert.Equal(t, int32(1), p.transport.BarNumber)
	assert.NotZero(t, p.transport.Flags&transportIsPlaying)
	assert.Zero(t, p.transport.Flags&transportIsLoopActive)
}

func TestOpenMissingPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.clap"), Options{})
	require.Error(t, err)
}
