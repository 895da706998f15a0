package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/plughost/internal/config"
	"github.com/roach88/plughost/internal/engine"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin"
	"github.com/roach88/plughost/internal/plugin/builtin"
	"github.com/roach88/plughost/internal/schedule"
	"github.com/roach88/plughost/internal/store"
	"github.com/roach88/plughost/internal/testutil"
)

const (
	// DefaultFrames is the block size scenarios render with.
	DefaultFrames = 32
	// SessionID is the fixed session id of every run.
	SessionID = "harness-session"
)

// Options configure a run.
type Options struct {
	// Factories replace the builtin plugins.
	Factories []plugin.Factory
	Logger    *slog.Logger
}

// Harness is the scenario execution engine.
//
// The audio side runs on the calling goroutine: every rendered block is
// followed by one engine tick, so runs are deterministic. Tearing down a
// crashed graph with active plugins therefore waits out the reset
// timeout.
type Harness struct {
	engine  *engine.Engine
	runner  *schedule.Runner
	builder *Builder
	store   *store.Store
	clock   *testutil.ManualClock
	next    time.Time
	logger  *slog.Logger

	in, out [][]float64
	frames  int
}

// Run executes a scenario with the builtin plugins.
func Run(scenario *Scenario) (*Result, error) {
	return RunWith(scenario, Options{})
}

// RunWith executes a scenario and returns the result.
//
// Each scenario runs on a fresh engine and a fresh in-memory database.
//
// Execution flow:
// 1. Create engine and activate it with the scenario's settings
// 2. Apply every step as one ModifyGraph call, then render its blocks
// 3. Persist the latest save states
// 4. Evaluate assertions
func RunWith(scenario *Scenario, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	}
	factories := opts.Factories
	if factories == nil {
		factories = builtin.Factories()
	}
	settings := scenarioSettings(scenario.Settings)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewManualClock(time.Time{})
	hostInfo := ir.HostInfo{Name: "plughost-harness", Version: ir.EngineVersion}
	eng, next, _ := engine.New(hostInfo, settings, factories,
		engine.WithTimeSource(clock),
		engine.WithSessionIDGenerator(testutil.NewFixedIDGenerator(SessionID)),
		engine.WithCLAPOpener(nil),
		engine.WithLogger(logger),
	)

	info, runner, err := eng.ActivateEngine(engine.Activation{})
	if err != nil {
		eng.Close()
		return nil, fmt.Errorf("failed to activate engine: %w", err)
	}

	h := &Harness{
		engine:  eng,
		runner:  runner,
		store:   st,
		clock:   clock,
		next:    next,
		logger:  logger,
		builder: NewBuilder(eng, info, logger),
		frames:  int(settings.MaxFrames),
		in:      channels(settings.NumInputs, int(settings.MaxFrames), scenario.Input),
		out:     channels(settings.NumOutputs, int(settings.MaxFrames), 0),
	}
	defer h.close()

	ctx := context.Background()
	if err := st.WriteSession(ctx, store.Session{
		ID:            eng.SessionID(),
		StartedAt:     clock.Now(),
		Host:          hostInfo,
		EngineVersion: ir.EngineVersion,
		SampleRate:    settings.SampleRate,
		MaxFrames:     settings.MaxFrames,
	}); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute step %d: %w", i, err)
		}
		if result.Crashed {
			break
		}
	}
	h.snapshot(result)

	if err := h.persist(ctx, result); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

func scenarioSettings(o *SettingsOverride) config.Settings {
	s := config.Default()
	s.MaxFrames = DefaultFrames
	s.ResetTimeout = 100 * time.Millisecond
	return o.Apply(s)
}

// Apply returns s with the overridden fields replaced. A nil override
// returns s unchanged.
func (o *SettingsOverride) Apply(s config.Settings) config.Settings {
	if o == nil {
		return s
	}
	if o.SampleRate != nil {
		s.SampleRate = *o.SampleRate
	}
	if o.MaxFrames != nil {
		s.MaxFrames = *o.MaxFrames
	}
	if o.NumInputs != nil {
		s.NumInputs = *o.NumInputs
	}
	if o.NumOutputs != nil {
		s.NumOutputs = *o.NumOutputs
	}
	if o.MaxBuffers != nil {
		s.MaxBuffers = *o.MaxBuffers
	}
	return s
}

func channels(n, frames int, value float64) [][]float64 {
	out := make([][]float64, n)
	for c := range out {
		out[c] = make([]float64, frames)
		for i := range out[c] {
			out[c][i] = value
		}
	}
	return out
}

// executeStep applies one step and renders at least one block so the
// runner adopts the schedule the step compiled.
func (h *Harness) executeStep(index int, step Step, result *Result) error {
	res, failures, err := h.builder.Apply(index, step)
	if err != nil {
		return err
	}
	result.Failures = append(result.Failures, failures...)
	result.RemovedEdges += len(res.RemovedEdges)

	for range max(step.Render, 1) {
		h.render()
		h.tick(result)
		if result.Crashed {
			break
		}
	}
	return nil
}

func (h *Harness) render() {
	h.runner.Process(h.in, h.out, h.frames)
}

// tick advances the clock to the next deadline and records the events of
// one OnTimer call.
func (h *Harness) tick(result *Result) {
	h.clock.Set(h.next)
	events, next := h.engine.OnTimer()
	h.next = next
	for _, e := range events {
		plugin := ""
		if e.Plugin != nil {
			plugin = h.builder.Name(e.Plugin.UniqueID)
		}
		detail := ""
		switch {
		case e.Engine != nil:
			detail = e.Engine.Reason
			if e.Engine.Crashed {
				result.Crashed = true
				result.CrashReason = e.Engine.Reason
			}
		case e.Deactivated != nil:
			detail = e.Deactivated.Error
		}
		result.AddEvent(e.Type.String(), plugin, detail)
	}
}

// snapshot records the live schedule and the last rendered block.
func (h *Harness) snapshot(result *Result) {
	if s := h.runner.Current(); s != nil {
		result.Schedule = s.Dump()
		result.Tasks = len(s.Tasks)
		for _, id := range s.PluginOrder() {
			result.Order = append(result.Order, h.builder.Name(id.UniqueID))
		}
	}
	result.Output = make([][]float64, len(h.out))
	for c, ch := range h.out {
		result.Output[c] = append([]float64(nil), ch...)
	}
}

func (h *Harness) persist(ctx context.Context, result *Result) error {
	entries := h.engine.CollectLatestSaveStates()
	snaps := make([]store.Snapshot, 0, len(entries))
	for i, e := range entries {
		snaps = append(snaps, store.Snapshot{
			SessionID: h.engine.SessionID(),
			Seq:       int64(i + 1),
			UniqueID:  e.ID.UniqueID,
			Plugin:    e.ID.String(),
			State:     e.State,
			Hash:      e.Hash,
		})
	}
	if _, err := h.store.WriteSnapshots(ctx, snaps); err != nil {
		return fmt.Errorf("persist save states: %w", err)
	}
	latest, err := h.store.LatestStates(ctx, h.engine.SessionID())
	if err != nil {
		return fmt.Errorf("read save states: %w", err)
	}
	result.SavedStates = len(latest)
	return nil
}

// close deactivates the engine while a goroutine keeps the runner going,
// so active plugins are dropped without waiting for the reset timeout.
func (h *Harness) close() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		out := channels(len(h.out), h.frames, 0)
		for {
			select {
			case <-stop:
				return
			default:
				h.runner.Process(h.in, out, h.frames)
				time.Sleep(100 * time.Microsecond)
			}
		}
	}()
	h.engine.DeactivateEngine()
	close(stop)
	wg.Wait()

	h.runner.Close()
	if err := h.engine.Close(); err != nil {
		h.logger.Warn("failed to close engine", "error", err)
	}
}
