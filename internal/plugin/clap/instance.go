//go:build darwin || linux

package clap

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// mainEventCapacity bounds the events of one inactive param flush.
const mainEventCapacity = 512

// instance is the main-thread half of a CLAP plugin.
type instance struct {
	lib    *Library
	desc   plugin.Descriptor
	host   *hostContext
	p      uintptr
	vt     *clapPlugin
	logger *slog.Logger

	activate        func(p uintptr, sampleRate float64, minFrames, maxFrames uint32) bool
	startProcessing func(p uintptr) bool

	audioPorts *clapPluginAudioPorts
	notePorts  *clapPluginNotePorts
	params     *clapPluginParams
	latency    *clapPluginLatency
	state      *clapPluginState
	gui        *clapPluginGUI
	timers     *clapPluginTimerSupport

	events    *eventList
	proc      *processor
	active    bool
	destroyed bool
}

func newInstance(l *Library, desc plugin.Descriptor, host *hostContext, p uintptr, logger *slog.Logger) *instance {
	inst := &instance{
		lib:    l,
		desc:   desc,
		host:   host,
		p:      p,
		vt:     (*clapPlugin)(unsafe.Pointer(p)),
		logger: logger,
	}
	purego.RegisterFunc(&inst.activate, inst.vt.Activate)
	purego.RegisterFunc(&inst.startProcessing, inst.vt.StartProcessing)
	return inst
}

func (i *instance) extension(id string) unsafe.Pointer {
	cid := cstring(id)
	r, _, _ := purego.SyscallN(i.vt.GetExtension, i.p, uintptr(unsafe.Pointer(&cid[0])))
	return unsafe.Pointer(r)
}

// loadExtensions resolves the plugin extensions the host calls. A plugin
// may only query host extensions once init returned, so this runs after it.
func (i *instance) loadExtensions() {
	i.audioPorts = (*clapPluginAudioPorts)(i.extension(extAudioPorts))
	i.notePorts = (*clapPluginNotePorts)(i.extension(extNotePorts))
	i.params = (*clapPluginParams)(i.extension(extParams))
	i.latency = (*clapPluginLatency)(i.extension(extLatency))
	i.state = (*clapPluginState)(i.extension(extState))
	i.gui = (*clapPluginGUI)(i.extension(extGUI))
	i.timers = (*clapPluginTimerSupport)(i.extension(extTimerSupport))
}

// portLayout is the activation-time shape of one audio port.
type portLayout struct {
	channels   int
	supports64 bool
}

func (i *instance) Activate(sampleRate float64, minFrames, maxFrames uint32) (plugin.ActivatedPlugin, error) {
	if i.active {
		return plugin.ActivatedPlugin{}, errors.New("clap: already active")
	}
	ins, err := i.portLayouts(true)
	if err != nil {
		return plugin.ActivatedPlugin{}, err
	}
	outs, err := i.portLayouts(false)
	if err != nil {
		return plugin.ActivatedPlugin{}, err
	}
	proc, err := newProcessor(i, ins, outs, sampleRate, int(maxFrames))
	if err != nil {
		return plugin.ActivatedPlugin{}, err
	}
	if !i.activate(i.p, sampleRate, minFrames, maxFrames) {
		proc.release()
		return plugin.ActivatedPlugin{}, fmt.Errorf("clap: %s refused activation at %g Hz", i.desc.ID, sampleRate)
	}
	i.active, i.proc = true, proc
	return plugin.ActivatedPlugin{Processor: proc}, nil
}

func (i *instance) Deactivate() {
	if !i.active {
		return
	}
	purego.SyscallN(i.vt.Deactivate, i.p)
	i.proc.release()
	i.active, i.proc = false, nil
}

func (i *instance) audioPortInfo(index uint32, input bool) (clapAudioPortInfo, bool) {
	var info clapAudioPortInfo
	r, _, _ := purego.SyscallN(i.audioPorts.Get, i.p, uintptr(index), boolArg(input), uintptr(unsafe.Pointer(&info)))
	return info, cbool(r)
}

func (i *instance) audioPortCount(input bool) uint32 {
	if i.audioPorts == nil {
		return 0
	}
	r, _, _ := purego.SyscallN(i.audioPorts.Count, i.p, boolArg(input))
	return uint32(r)
}

func (i *instance) portLayouts(input bool) ([]portLayout, error) {
	n := i.audioPortCount(input)
	out := make([]portLayout, 0, n)
	for idx := range n {
		info, ok := i.audioPortInfo(idx, input)
		if !ok {
			return nil, fmt.Errorf("clap: %s: audio port %d unavailable", i.desc.ID, idx)
		}
		out = append(out, portLayout{
			channels:   int(info.ChannelCount),
			supports64: info.Flags&audioPortSupports64Bits != 0,
		})
	}
	return out, nil
}

func (i *instance) AudioPorts() (*ir.AudioPortsConfig, error) {
	cfg := &ir.AudioPortsConfig{}
	for _, input := range []bool{true, false} {
		n := i.audioPortCount(input)
		ports := make([]ir.AudioPortInfo, 0, n)
		isMain := make([]bool, 0, n)
		for idx := range n {
			info, ok := i.audioPortInfo(idx, input)
			if !ok {
				return nil, fmt.Errorf("clap: %s: audio port %d unavailable", i.desc.ID, idx)
			}
			if info.ChannelCount > 0xffff {
				return nil, fmt.Errorf("clap: %s: audio port %d has %d channels", i.desc.ID, idx, info.ChannelCount)
			}
			p := ir.AudioPortInfo{
				StableID:     info.ID,
				Name:         fixedString(info.Name[:]),
				ChannelCount: uint16(info.ChannelCount),
			}
			if info.InPlacePair != invalidID {
				pair := info.InPlacePair
				p.InPlacePair = &pair
			}
			ports = append(ports, p)
			isMain = append(isMain, info.Flags&audioPortIsMain != 0)
		}
		if input {
			cfg.Inputs = ports
			cfg.MainInputIndex = plugin.MainPortIndex(i.logger, i.desc.ID, "audio inputs", isMain)
		} else {
			cfg.Outputs = ports
			cfg.MainOutputIndex = plugin.MainPortIndex(i.logger, i.desc.ID, "audio outputs", isMain)
		}
	}
	return cfg, nil
}

func (i *instance) NotePorts() (*ir.NotePortsConfig, error) {
	cfg := &ir.NotePortsConfig{}
	if i.notePorts == nil {
		return cfg, nil
	}
	for _, input := range []bool{true, false} {
		r, _, _ := purego.SyscallN(i.notePorts.Count, i.p, boolArg(input))
		n := uint32(r)
		ports := make([]ir.NotePortInfo, 0, n)
		for idx := range n {
			var info clapNotePortInfo
			r, _, _ := purego.SyscallN(i.notePorts.Get, i.p, uintptr(idx), boolArg(input), uintptr(unsafe.Pointer(&info)))
			if !cbool(r) {
				return nil, fmt.Errorf("clap: %s: note port %d unavailable", i.desc.ID, idx)
			}
			if info.SupportedDialects&noteDialectCLAP == 0 {
				i.logger.Debug("note port without CLAP dialect", "port", info.ID)
			}
			ports = append(ports, ir.NotePortInfo{StableID: info.ID, Name: fixedString(info.Name[:])})
		}
		// CLAP has no main flag on note ports; the first one is main.
		var main *int
		if len(ports) > 0 {
			main = ir.IntPtr(0)
		}
		if input {
			cfg.Inputs, cfg.MainInputIndex = ports, main
		} else {
			cfg.Outputs, cfg.MainOutputIndex = ports, main
		}
	}
	return cfg, nil
}

func (i *instance) Latency() int64 {
	if i.latency == nil || !i.active {
		return 0
	}
	r, _, _ := purego.SyscallN(i.latency.Get, i.p)
	return int64(uint32(r))
}

func (i *instance) NumParams() int {
	if i.params == nil {
		return 0
	}
	r, _, _ := purego.SyscallN(i.params.Count, i.p)
	return int(uint32(r))
}

func (i *instance) ParamInfo(index int) (plugin.ParamInfo, bool) {
	if i.params == nil || index < 0 {
		return plugin.ParamInfo{}, false
	}
	var info clapParamInfo
	r, _, _ := purego.SyscallN(i.params.GetInfo, i.p, uintptr(uint32(index)), uintptr(unsafe.Pointer(&info)))
	if !cbool(r) {
		return plugin.ParamInfo{}, false
	}
	return plugin.ParamInfo{
		ID:      ir.ParamID(info.ID),
		Name:    fixedString(info.Name[:]),
		Module:  fixedString(info.Module[:]),
		Min:     info.MinValue,
		Max:     info.MaxValue,
		Default: info.DefaultValue,
		Flags:   paramFlags(info.Flags),
		Cookie:  info.Cookie,
	}, true
}

var paramFlagMap = [...]struct {
	clap uint32
	host plugin.ParamFlags
}{
	{clapParamIsStepped, plugin.ParamStepped},
	{clapParamIsPeriodic, plugin.ParamPeriodic},
	{clapParamIsHidden, plugin.ParamHidden},
	{clapParamIsReadonly, plugin.ParamReadOnly},
	{clapParamIsBypass, plugin.ParamBypass},
	{clapParamIsAutomatable, plugin.ParamAutomatable},
	{clapParamIsModulatable, plugin.ParamModulatable},
	{clapParamRequiresProcess, plugin.ParamRequiresProcess},
	{clapParamIsEnum, plugin.ParamEnum},
}

func paramFlags(f uint32) plugin.ParamFlags {
	var out plugin.ParamFlags
	for _, m := range paramFlagMap {
		if f&m.clap != 0 {
			out |= m.host
		}
	}
	return out
}

func (i *instance) ParamValue(id ir.ParamID) (float64, bool) {
	if i.params == nil {
		return 0, false
	}
	var v float64
	r, _, _ := purego.SyscallN(i.params.GetValue, i.p, uintptr(uint32(id)), uintptr(unsafe.Pointer(&v)))
	return v, cbool(r)
}

func (i *instance) ParamFlush(in []plugin.Event, out *plugin.EventBuffer) {
	if i.params == nil {
		return
	}
	if i.events == nil {
		l, err := newEventList(mainEventCapacity)
		if err != nil {
			i.logger.Error("param flush", "error", err)
			return
		}
		i.events = l
	}
	i.events.fill(in, out)
	purego.SyscallN(i.params.Flush, i.p, i.events.inPtr(), i.events.outPtr())
	i.events.fill(nil, nil)
}

func (i *instance) SaveState() ([]byte, error) {
	if i.state == nil {
		return nil, nil
	}
	s, err := newStream(nil)
	if err != nil {
		return nil, err
	}
	defer s.release()
	r, _, _ := purego.SyscallN(i.state.Save, i.p, uintptr(unsafe.Pointer(&s.out)))
	if !cbool(r) {
		return nil, fmt.Errorf("clap: %s: state save failed", i.desc.ID)
	}
	return s.buf.Bytes(), nil
}

func (i *instance) LoadState(raw []byte) error {
	if i.state == nil || len(raw) == 0 {
		return nil
	}
	s, err := newStream(raw)
	if err != nil {
		return err
	}
	defer s.release()
	r, _, _ := purego.SyscallN(i.state.Load, i.p, uintptr(unsafe.Pointer(&s.in)))
	if !cbool(r) {
		return fmt.Errorf("clap: %s: state load failed", i.desc.ID)
	}
	return nil
}

// windowAPI is the native window API name of this platform.
func windowAPI() string {
	if runtime.GOOS == "darwin" {
		return "cocoa"
	}
	return "x11"
}

func (i *instance) GUI() plugin.GUIInfo {
	if i.gui == nil {
		return plugin.GUIInfo{}
	}
	api := cstring(windowAPI())
	supported := func(floating bool) bool {
		r, _, _ := purego.SyscallN(i.gui.IsAPISupported, i.p, uintptr(unsafe.Pointer(&api[0])), boolArg(floating))
		return cbool(r)
	}
	return plugin.GUIInfo{Floating: supported(true), Embedded: supported(false)}
}

func (i *instance) OnMainThread() {
	purego.SyscallN(i.vt.OnMainThread, i.p)
}

func (i *instance) OnTimer(id ir.TimerID) {
	if i.timers == nil {
		return
	}
	purego.SyscallN(i.timers.OnTimer, i.p, uintptr(uint32(id)))
}

func (i *instance) Destroy() {
	if i.destroyed {
		return
	}
	i.Deactivate()
	purego.SyscallN(i.vt.Destroy, i.p)
	i.destroyed = true
	if i.events != nil {
		i.events.release()
	}
	i.host.release()
	i.lib.live.Add(-1)
}
