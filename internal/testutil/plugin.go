package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
)

// FakeConfig configures the plugins a FakeFactory creates. Error fields
// make the matching call fail.
type FakeConfig struct {
	RDN    string
	Audio  *ir.AudioPortsConfig
	Notes  *ir.NotePortsConfig
	Params []plugin.ParamInfo

	Latency int64
	// Status is returned by every Process call.
	Status plugin.ProcessStatus
	// Panic makes Process panic.
	Panic bool

	NewErr        error
	ActivateErr   error
	AudioPortsErr error
	NotePortsErr  error
	LoadStateErr  error
	StartErr      error
}

// ErrFake is a convenience error for FakeConfig fields.
var ErrFake = errors.New("fake plugin failure")

// StereoEffectPorts is a config with one stereo main input and output.
func StereoEffectPorts() *ir.AudioPortsConfig {
	return &ir.AudioPortsConfig{
		Inputs:          []ir.AudioPortInfo{{StableID: 0, Name: "in", ChannelCount: 2}},
		Outputs:         []ir.AudioPortInfo{{StableID: 0, Name: "out", ChannelCount: 2}},
		MainInputIndex:  ir.IntPtr(0),
		MainOutputIndex: ir.IntPtr(0),
	}
}

// FakeFactory creates FakePlugins and keeps every instance it created.
type FakeFactory struct {
	mu        sync.Mutex
	cfg       FakeConfig
	instances []*FakePlugin
}

// NewFakeFactory returns a factory for cfg. An empty RDN becomes
// "test.fake"; nil port configs become a stereo effect without notes.
func NewFakeFactory(cfg FakeConfig) *FakeFactory {
	if cfg.RDN == "" {
		cfg.RDN = "test.fake"
	}
	if cfg.Audio == nil {
		cfg.Audio = StereoEffectPorts()
	}
	if cfg.Notes == nil {
		cfg.Notes = &ir.NotePortsConfig{}
	}
	return &FakeFactory{cfg: cfg}
}

func (f *FakeFactory) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		ID:      f.cfg.RDN,
		Name:    f.cfg.RDN,
		Vendor:  "test",
		Version: "0.0.1",
		Format:  ir.FormatInternal,
	}
}

func (f *FakeFactory) New(ctx plugin.Context) (plugin.MainThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cfg.NewErr != nil {
		return nil, f.cfg.NewErr
	}
	p := &FakePlugin{
		cfg:     f.cfg,
		Request: ctx.Request,
		values:  make(map[ir.ParamID]float64, len(f.cfg.Params)),
	}
	for _, info := range f.cfg.Params {
		p.values[info.ID] = info.Default
	}
	f.instances = append(f.instances, p)
	return p, nil
}

// Instances returns every plugin created so far.
func (f *FakeFactory) Instances() []*FakePlugin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakePlugin(nil), f.instances...)
}

// Last returns the most recently created plugin, or nil.
func (f *FakeFactory) Last() *FakePlugin {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instances) == 0 {
		return nil
	}
	return f.instances[len(f.instances)-1]
}

// FakePlugin is a scripted plugin. Its processor copies each input port to
// the output port of the same index and records the events it receives.
type FakePlugin struct {
	mu  sync.Mutex
	cfg FakeConfig
	// Request is the host's request handle from the factory context.
	Request *plugin.HostRequest

	values map[ir.ParamID]float64
	state  []byte

	Activations   int
	Deactivations int
	MainCallbacks int
	Destroyed     bool
	Flushed       []plugin.Event
	TimersFired   []ir.TimerID

	proc *FakeProcessor
}

// Update changes the plugin's configuration, e.g. to make it report new
// ports on the next rescan.
func (p *FakePlugin) Update(fn func(cfg *FakeConfig)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.cfg)
}

// Processor returns the processor of the current or last activation.
func (p *FakePlugin) Processor() *FakeProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.proc
}

func (p *FakePlugin) Activate(_ float64, _, _ uint32) (plugin.ActivatedPlugin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.ActivateErr != nil {
		return plugin.ActivatedPlugin{}, p.cfg.ActivateErr
	}
	p.Activations++
	p.proc = &FakeProcessor{cfg: p.cfg}
	p.proc.Crash.Store(p.cfg.Panic)
	return plugin.ActivatedPlugin{Processor: p.proc}, nil
}

func (p *FakePlugin) Deactivate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Deactivations++
}

func (p *FakePlugin) AudioPorts() (*ir.AudioPortsConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.AudioPortsErr != nil {
		return nil, p.cfg.AudioPortsErr
	}
	return p.cfg.Audio.Clone(), nil
}

func (p *FakePlugin) NotePorts() (*ir.NotePortsConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.NotePortsErr != nil {
		return nil, p.cfg.NotePortsErr
	}
	return p.cfg.Notes.Clone(), nil
}

func (p *FakePlugin) Latency() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Latency
}

func (p *FakePlugin) NumParams() int { return len(p.cfg.Params) }

func (p *FakePlugin) ParamInfo(i int) (plugin.ParamInfo, bool) {
	if i < 0 || i >= len(p.cfg.Params) {
		return plugin.ParamInfo{}, false
	}
	return p.cfg.Params[i], true
}

func (p *FakePlugin) ParamValue(id ir.ParamID) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[id]
	return v, ok
}

// SetValue changes a value as if the plugin's own GUI moved it.
func (p *FakePlugin) SetValue(id ir.ParamID, v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[id] = v
}

// ParamFlush records in and echoes every value event back to out.
func (p *FakePlugin) ParamFlush(in []plugin.Event, out *plugin.EventBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Flushed = append(p.Flushed, in...)
	for _, e := range in {
		if e.Kind == plugin.EventParamValue {
			p.values[e.ParamID] = e.Value
			out.Push(e)
		}
	}
}

func (p *FakePlugin) SaveState() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.state...), nil
}

func (p *FakePlugin) LoadState(raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.LoadStateErr != nil {
		return p.cfg.LoadStateErr
	}
	p.state = append([]byte(nil), raw...)
	return nil
}

// SetState replaces the raw state SaveState returns.
func (p *FakePlugin) SetState(raw []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = append([]byte(nil), raw...)
}

func (p *FakePlugin) GUI() plugin.GUIInfo { return plugin.GUIInfo{} }

func (p *FakePlugin) OnMainThread() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.MainCallbacks++
}

func (p *FakePlugin) OnTimer(id ir.TimerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TimersFired = append(p.TimersFired, id)
}

func (p *FakePlugin) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Destroyed = true
}

// FakeProcessor is the processor of a FakePlugin.
type FakeProcessor struct {
	cfg FakeConfig

	// Crash makes the next Process call panic.
	Crash   atomic.Bool
	Blocks  atomic.Int64
	Started atomic.Bool
	Stopped atomic.Bool

	mu     sync.Mutex
	events []plugin.Event
	// emit is pushed to the output events of the next block.
	emit []plugin.Event
}

func (p *FakeProcessor) StartProcessing() error {
	if p.cfg.StartErr != nil {
		return p.cfg.StartErr
	}
	p.Started.Store(true)
	return nil
}

func (p *FakeProcessor) StopProcessing() { p.Stopped.Store(true) }

func (p *FakeProcessor) Process(_ *plugin.ProcInfo, bufs *plugin.ProcBuffers, events *plugin.ProcEvents) plugin.ProcessStatus {
	if p.Crash.Load() {
		panic("fake processor panic")
	}
	p.Blocks.Add(1)
	p.mu.Lock()
	p.events = append(p.events, events.In.Events()...)
	for _, e := range p.emit {
		events.Out.Push(e)
	}
	p.emit = p.emit[:0]
	p.mu.Unlock()

	for i := range bufs.AudioOut {
		out := &bufs.AudioOut[i]
		if i >= len(bufs.AudioIn) {
			for _, ch := range out.Channels {
				clear(ch)
			}
			out.ConstantMask = ^uint64(0)
			continue
		}
		in := bufs.AudioIn[i]
		for c, ch := range out.Channels {
			if c < len(in.Channels) {
				copy(ch, in.Channels[c])
			} else {
				clear(ch)
			}
		}
		out.ConstantMask = in.ConstantMask
	}
	return p.cfg.Status
}

// Events returns every input event the processor received.
func (p *FakeProcessor) Events() []plugin.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]plugin.Event(nil), p.events...)
}

// Emit queues events for the output of the next block.
func (p *FakeProcessor) Emit(events ...plugin.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emit = append(p.emit, events...)
}
