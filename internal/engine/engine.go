package engine

import (
	"cmp"
	"log/slog"
	"time"

	"github.com/roach88/plughost/internal/audiograph"
	"github.com/roach88/plughost/internal/collector"
	"github.com/roach88/plughost/internal/config"
	"github.com/roach88/plughost/internal/host"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/plugin/clap"
	"github.com/roach88/plughost/internal/scanner"
	"github.com/roach88/plughost/internal/schedule"
	"github.com/roach88/plughost/internal/timer"
)

// Engine is the control-thread orchestrator.
//
// It owns the audio graph, the timer wheel, the collector and the plugin
// scanner, and turns everything that happens inside them into the event
// stream returned by OnTimer.
//
// Thread-safety model:
//   - Every method must be called from the control thread
//   - The runner returned by ActivateEngine belongs to the audio thread
//   - Wake() may be read from any goroutine
type Engine struct {
	hostInfo ir.HostInfo
	settings config.Settings
	logger   *slog.Logger

	now        TimeSource
	sessionIDs SessionIDGenerator
	loader     plugin.ResourceLoader
	open       scanner.OpenFunc
	openSet    bool

	sessionID string
	scanner   *scanner.Scanner
	wheel     *timer.Wheel
	collector *collector.Collector
	// uids outlives graphs so plugin unique ids are never reused.
	uids  *ir.Clock
	queue *eventQueue

	graph  *audiograph.AudioGraph
	active *ActivatedInfo
	byUID  map[uint64]ir.PluginInstanceID
	hashes map[uint64]string

	lastCrash error
	keys      []timer.Key
}

// Option allows configuration of engine collaborators.
type Option func(*Engine)

// WithTimeSource sets the time source the timer wheel is driven with.
//
// Default: SystemTime
func WithTimeSource(ts TimeSource) Option {
	return func(e *Engine) { e.now = ts }
}

// WithSessionIDGenerator sets the session id generator.
//
// Default: UUIDv7Generator
func WithSessionIDGenerator(g SessionIDGenerator) Option {
	return func(e *Engine) { e.sessionIDs = g }
}

// WithCLAPOpener sets how discovered binaries are opened. A nil opener
// disables external plugins.
//
// Default: scanner.CLAPOpener with the engine's host info
func WithCLAPOpener(open scanner.OpenFunc) Option {
	return func(e *Engine) {
		e.open = open
		e.openSet = true
	}
}

// WithLogger sets the logger.
//
// Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithResourceLoader sets the loader handed to every plugin instance.
func WithResourceLoader(l plugin.ResourceLoader) Option {
	return func(e *Engine) { e.loader = l }
}

// New creates an inactive engine. It returns the instant OnTimer must
// first be called at and the descriptors of the internal plugins.
// Binaries in the settings' plugin directories are found by RescanPlugins.
func New(hostInfo ir.HostInfo, settings config.Settings, internal []plugin.Factory, opts ...Option) (*Engine, time.Time, []plugin.Descriptor) {
	e := &Engine{
		hostInfo:   hostInfo,
		settings:   withDefaults(settings),
		logger:     slog.Default(),
		now:        SystemTime{},
		sessionIDs: UUIDv7Generator{},
		wheel:      timer.New(),
		collector:  collector.New(),
		uids:       ir.NewClock(),
		queue:      newEventQueue(),
	}

	// Apply options
	for _, opt := range opts {
		opt(e)
	}
	if !e.openSet {
		e.open = scanner.CLAPOpener(clap.Options{HostInfo: hostInfo, Logger: e.logger})
	}

	e.sessionID = e.sessionIDs.Generate()
	e.scanner = scanner.New(scanner.Config{
		Internal: internal,
		Dirs:     e.settings.PluginDirs,
		Open:     e.open,
		Logger:   e.logger,
	})

	now := e.now.Now()
	e.wheel.RegisterMainIdle(now, e.settings.IdlePeriod)
	e.wheel.RegisterGarbageCollect(now, e.settings.GCPeriod)
	next, _ := e.wheel.NextExpectedTick()

	e.logger.Info("engine created", "session", e.sessionID, "internal_plugins", len(internal))
	return e, next, e.scanner.Internal()
}

// withDefaults fills zero fields from config.Default. Channel counts
// of zero are valid and kept.
func withDefaults(s config.Settings) config.Settings {
	d := config.Default()
	s.SampleRate = cmp.Or(s.SampleRate, d.SampleRate)
	s.MinFrames = cmp.Or(s.MinFrames, d.MinFrames)
	s.MaxFrames = cmp.Or(s.MaxFrames, d.MaxFrames)
	s.IdlePeriod = cmp.Or(s.IdlePeriod, d.IdlePeriod)
	s.GCPeriod = cmp.Or(s.GCPeriod, d.GCPeriod)
	s.ResetTimeout = cmp.Or(s.ResetTimeout, d.ResetTimeout)
	s.EventCapacity = cmp.Or(s.EventCapacity, d.EventCapacity)
	s.MaxBuffers = cmp.Or(s.MaxBuffers, d.MaxBuffers)
	return s
}

// SessionID returns the id save states of this engine are persisted
// under.
func (e *Engine) SessionID() string { return e.sessionID }

// Settings returns the current settings.
func (e *Engine) Settings() config.Settings { return e.settings }

// HostInfo returns the host info handed to plugins.
func (e *Engine) HostInfo() ir.HostInfo { return e.hostInfo }

// Wake signals when events are queued for the next OnTimer call.
func (e *Engine) Wake() <-chan struct{} { return e.queue.Wait() }

// LastCrash returns the error that last tore the engine down, or nil.
func (e *Engine) LastCrash() error { return e.lastCrash }

// Activation parameterizes ActivateEngine.
type Activation struct {
	SeekFrame uint64
	Loop      ir.LoopState
	// Tempo defaults to ir.DefaultTempoMap when BPM is zero.
	Tempo ir.TempoMap
	// Settings replace the settings given to New when set.
	Settings *config.Settings
}

// ActivatedInfo describes an active engine.
type ActivatedInfo struct {
	GraphInput  ir.PluginInstanceID
	GraphOutput ir.PluginInstanceID
	SampleRate  float64
	MinFrames   uint32
	MaxFrames   uint32
	NumInputs   int
	NumOutputs  int
	Transport   *schedule.Transport
}

// ActivateEngine builds an empty graph and returns the runner the audio
// thread must drive. It fails with ErrAlreadyActive while active.
func (e *Engine) ActivateEngine(act Activation) (*ActivatedInfo, *schedule.Runner, error) {
	if e.graph != nil {
		return nil, nil, ErrAlreadyActive
	}
	if act.Settings != nil {
		s := withDefaults(*act.Settings)
		if err := s.Validate(); err != nil {
			return nil, nil, &Error{Code: ErrCodeInvalidSettings, Message: "activation settings rejected", Err: err}
		}
		e.settings = s
		e.scanner.SetDirs(s.PluginDirs)
		now := e.now.Now()
		e.wheel.RegisterMainIdle(now, s.IdlePeriod)
		e.wheel.RegisterGarbageCollect(now, s.GCPeriod)
	}
	s := e.settings

	tempo := act.Tempo
	if tempo.BPM <= 0 {
		tempo = ir.DefaultTempoMap()
	}
	transport := schedule.NewTransport(s.SampleRate, act.SeekFrame, act.Loop, tempo)
	g := audiograph.New(audiograph.Config{
		NumInputs:     s.NumInputs,
		NumOutputs:    s.NumOutputs,
		SampleRate:    s.SampleRate,
		MinFrames:     s.MinFrames,
		MaxFrames:     s.MaxFrames,
		EventCapacity: s.EventCapacity,
		MaxBuffers:    s.MaxBuffers,
		Catalog:       e.scanner,
		HostInfo:      e.hostInfo,
		Loader:        e.loader,
		Transport:     transport,
		Collector:     e.collector,
		UniqueIDs:     e.uids,
		Logger:        e.logger,
		ResetTimeout:  s.ResetTimeout,
	})
	if err := g.Compile(); err != nil {
		return nil, nil, &Error{Code: ErrCodeCompileFailed, Message: "empty graph could not be compiled", Err: err}
	}

	e.graph = g
	e.byUID = make(map[uint64]ir.PluginInstanceID)
	e.hashes = make(map[uint64]string)
	e.active = &ActivatedInfo{
		GraphInput:  g.GraphInput(),
		GraphOutput: g.GraphOutput(),
		SampleRate:  s.SampleRate,
		MinFrames:   s.MinFrames,
		MaxFrames:   s.MaxFrames,
		NumInputs:   s.NumInputs,
		NumOutputs:  s.NumOutputs,
		Transport:   transport,
	}
	runner := schedule.NewRunner(g.SharedSchedule(), int(s.MaxFrames), s.NumInputs, s.NumOutputs)

	e.logger.Info("engine activated",
		"sample_rate", s.SampleRate,
		"max_frames", s.MaxFrames,
		"inputs", s.NumInputs,
		"outputs", s.NumOutputs,
	)
	info := *e.active
	return &info, runner, nil
}

// Active returns the activation info, or nil while inactive.
func (e *Engine) Active() *ActivatedInfo {
	if e.active == nil {
		return nil
	}
	info := *e.active
	return &info
}

// DeactivateEngine gracefully removes every plugin and reports whether
// the engine was active. An EngineDeactivated event is delivered by the
// next OnTimer call. The audio thread must keep running its runner until
// DeactivateEngine returns, or the teardown waits for the reset timeout.
func (e *Engine) DeactivateEngine() bool {
	if e.graph == nil {
		return false
	}
	e.teardown()
	e.queue.Enqueue(ir.Event{Type: ir.EventEngineDeactivated, Engine: &ir.EngineStopped{}})
	e.logger.Info("engine deactivated")
	return true
}

// crash tears the graph down after a failed compile.
func (e *Engine) crash(err error) {
	e.logger.Error("graph compile failed, tearing down the engine", "error", err)
	e.lastCrash = &Error{Code: ErrCodeCompileFailed, Message: "graph could not be compiled", Err: err}
	e.teardown()
	e.queue.Enqueue(ir.Event{
		Type:   ir.EventEngineDeactivated,
		Engine: &ir.EngineStopped{Crashed: true, Reason: err.Error()},
	})
}

func (e *Engine) teardown() {
	e.graph.Reset()
	for uid := range e.byUID {
		e.wheel.UnregisterAllOnPlugin(uid)
	}
	e.graph = nil
	e.active = nil
	e.byUID = nil
	e.hashes = nil
	e.collector.Collect()
}

// Close deactivates the engine and unloads every plugin binary.
func (e *Engine) Close() error {
	e.DeactivateEngine()
	e.collector.Collect()
	return e.scanner.Close()
}

// Host returns the host of a plugin, for parameter and bypass control.
func (e *Engine) Host(id ir.PluginInstanceID) (*host.Host, bool) {
	if e.graph == nil {
		return nil, false
	}
	return e.graph.Host(id)
}

// Plugins returns the ids of every hosted plugin.
func (e *Engine) Plugins() []ir.PluginInstanceID {
	if e.graph == nil {
		return nil
	}
	return e.graph.Plugins()
}

// Edges returns every edge of the graph.
func (e *Engine) Edges() []ir.Edge {
	if e.graph == nil {
		return nil
	}
	return e.graph.Edges()
}

// RescanPlugins rescans the plugin directories.
func (e *Engine) RescanPlugins() scanner.Result {
	res := e.scanner.Rescan()
	e.logger.Info("plugins rescanned", "plugins", len(res.Plugins), "failures", len(res.Failures))
	return res
}

// AvailablePlugins returns every plugin the engine can instantiate.
func (e *Engine) AvailablePlugins() []plugin.Descriptor { return e.scanner.Plugins() }
