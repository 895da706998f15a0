package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/plughost/internal/audio"
	"github.com/roach88/plughost/internal/engine"
	"github.com/roach88/plughost/internal/harness"
	"github.com/roach88/plughost/internal/ir"
	"github.com/roach88/plughost/internal/plugin/builtin"
	"github.com/roach88/plughost/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database     string
	Settings     string
	Duration     time.Duration
	PersistEvery time.Duration
	UseDevice    bool

	// SessionIDs allows overriding the session id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	SessionIDs engine.SessionIDGenerator
}

// RunSummary is printed when the engine stops.
type RunSummary struct {
	SessionID string                  `json:"session_id"`
	Blocks    uint64                  `json:"blocks"`
	Plugins   int                     `json:"plugins"`
	Failures  []harness.FailureRecord `json:"failures,omitempty"`
	Persisted int                     `json:"persisted"`
	Crashed   bool                    `json:"crashed"`
	Reason    string                  `json:"crash_reason,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run the engine on an audio backend",
		Long: `Activate the engine, build the scenario's graph and render it in real
time until interrupted or --duration elapses.

Changed plugin save states are written to the SQLite database every
--persist interval and once more on shutdown. Audio goes to a null
backend unless --device selects the system output device.

Example:
  plughost run --db ./plughost.db ./scenarios/gain.yaml
  plughost run --db /tmp/test.db --duration 10s --device ./scenarios/tone.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Settings, "settings", "", "CUE settings file (defaults apply when omitted)")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.PersistEvery, "persist", time.Second, "save-state persistence interval")
	cmd.Flags().BoolVar(&opts.UseDevice, "device", false, "render to the system audio device")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runEngine(opts *RunOptions, scenarioPath string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	if opts.PersistEvery <= 0 {
		return NewExitError(ExitCommandError, "--persist must be positive")
	}
	scenario, err := LoadScenario(scenarioPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	settings, err := LoadSettings(opts.Settings)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load settings", err)
	}
	settings = scenario.Settings.Apply(settings)
	if err := settings.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err)
	}

	slog.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if opts.SessionIDs != nil {
		engineOpts = append(engineOpts, engine.WithSessionIDGenerator(opts.SessionIDs))
	}
	hostInfo := ir.HostInfo{Name: "plughost", Version: ir.EngineVersion}
	eng, next, available := engine.New(hostInfo, settings, builtin.Factories(), engineOpts...)
	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			slog.Error("error closing engine", "error", closeErr)
		}
	}()
	if len(settings.PluginDirs) > 0 {
		available = eng.RescanPlugins().Plugins
	}
	slog.Info("plugins available", "count", len(available))

	info, runner, err := eng.ActivateEngine(engine.Activation{})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to activate engine", err)
	}
	defer runner.Close()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	if err := st.WriteSession(parentCtx, store.Session{
		ID:            eng.SessionID(),
		StartedAt:     time.Now().UTC(),
		Host:          hostInfo,
		EngineVersion: ir.EngineVersion,
		SampleRate:    info.SampleRate,
		MaxFrames:     info.MaxFrames,
	}); err != nil {
		return WrapExitError(ExitCommandError, "failed to write session", err)
	}
	pers, err := newPersister(parentCtx, st, eng)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	backend, err := openBackend(opts, audio.Config{
		SampleRate:  info.SampleRate,
		NumInputs:   info.NumInputs,
		NumOutputs:  info.NumOutputs,
		BlockFrames: int(info.MaxFrames),
	}, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open audio backend", err)
	}
	if err := backend.Start(runner); err != nil {
		_ = backend.Close()
		return WrapExitError(ExitCommandError, "failed to start audio backend", err)
	}

	summary := RunSummary{SessionID: eng.SessionID()}
	builder := harness.NewBuilder(eng, info, logger)
	for i, step := range scenario.Steps {
		res, failures, err := builder.Apply(i, step)
		if err != nil {
			_ = backend.Close()
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to apply step %d", i), err)
		}
		for _, f := range failures {
			slog.Warn("edge not connected", "step", i, "edge", f.Edge, "code", f.Code)
		}
		summary.Failures = append(summary.Failures, failures...)
		slog.Debug("step applied", "step", i, "added", len(res.NewPlugins), "removed", len(res.Removed))

		// A compile failure tears the engine down; the event arrives here.
		events, n := eng.OnTimer()
		next = n
		if err := handleEvents(parentCtx, events, pers, &summary); err != nil {
			_ = backend.Close()
			return WrapExitError(ExitCommandError, "engine error", err)
		}
		if summary.Crashed {
			break
		}
		summary.Plugins = len(eng.Plugins())
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var loopErr error
	if !summary.Crashed {
		slog.Info("engine started", "session", eng.SessionID(), "db", opts.Database, "scenario", scenario.Name)
		fmt.Fprintln(cmd.ErrOrStderr(), "Engine running. Press Ctrl-C to stop.")
		loopErr = loop(ctx, eng, pers, next, opts.PersistEvery, &summary)
	}

	// Deactivate while the backend still runs so processors drop on the
	// audio thread.
	if err := pers.Flush(parentCtx); err != nil && loopErr == nil {
		loopErr = err
	}
	eng.DeactivateEngine()
	if err := backend.Close(); err != nil {
		slog.Warn("failed to close audio backend", "error", err)
	}
	summary.Blocks = runner.Blocks()
	summary.Persisted = pers.written
	slog.Info("engine stopped", "blocks", summary.Blocks, "persisted", summary.Persisted)

	if err := outputRunSummary(opts.RootOptions, cmd, summary); err != nil {
		return err
	}
	if loopErr != nil {
		return WrapExitError(ExitCommandError, "engine error", loopErr)
	}
	if summary.Crashed {
		return NewExitError(ExitFailure, "engine crashed: "+summary.Reason)
	}
	return nil
}

func openBackend(opts *RunOptions, cfg audio.Config, logger *slog.Logger) (audio.Backend, error) {
	if !opts.UseDevice {
		return audio.NewNull(cfg, logger), nil
	}
	if opts.Device == nil {
		return nil, errors.New("no audio device support in this build")
	}
	return opts.Device(cfg, logger)
}

// loop drives the engine's timers until ctx is done or the engine
// crashes.
func loop(ctx context.Context, eng *engine.Engine, pers *persister, next time.Time, persistEvery time.Duration, summary *RunSummary) error {
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	persistTicker := time.NewTicker(persistEvery)
	defer persistTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-persistTicker.C:
			if err := pers.Flush(ctx); err != nil {
				return err
			}
			continue
		case <-eng.Wake():
		case <-timer.C:
		}

		events, n := eng.OnTimer()
		if err := handleEvents(ctx, events, pers, summary); err != nil {
			return err
		}
		if summary.Crashed {
			return nil
		}
		summary.Plugins = len(eng.Plugins())
		timer.Reset(time.Until(n))
	}
}

// handleEvents logs events, records a crash in summary and writes removal
// records for plugins that left the graph.
func handleEvents(ctx context.Context, events []ir.Event, pers *persister, summary *RunSummary) error {
	for _, e := range events {
		logEvent(e)
		if e.Type == ir.EventEngineDeactivated && e.Engine != nil && e.Engine.Crashed {
			summary.Crashed = true
			summary.Reason = e.Engine.Reason
		}
	}
	return pers.Removed(ctx, events)
}

func logEvent(e ir.Event) {
	attrs := []any{"type", e.Type.String()}
	if e.Plugin != nil {
		attrs = append(attrs, "plugin", e.Plugin.String())
	}
	switch {
	case e.Engine != nil && e.Engine.Crashed:
		slog.Error("engine crashed", append(attrs, "reason", e.Engine.Reason)...)
	case e.Deactivated != nil && e.Deactivated.Error != "":
		slog.Warn("plugin deactivated", append(attrs, "error", e.Deactivated.Error)...)
	default:
		slog.Debug("engine event", attrs...)
	}
}

func outputRunSummary(opts *RootOptions, cmd *cobra.Command, summary RunSummary) error {
	var crash *CLIError
	if summary.Crashed {
		crash = &CLIError{Code: ErrCodeEngine, Message: "engine crashed: " + summary.Reason}
	}
	return newFormatter(opts, cmd).Session(summary.SessionID, summary, crash)
}

// WriteText renders the summary for text output.
func (s RunSummary) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Session %s\n", s.SessionID)
	fmt.Fprintf(w, "  plugins    %d\n", s.Plugins)
	fmt.Fprintf(w, "  blocks     %d\n", s.Blocks)
	fmt.Fprintf(w, "  persisted  %d snapshot(s)\n", s.Persisted)
	for _, f := range s.Failures {
		fmt.Fprintf(w, "✗ step %d: %s %s\n", f.Step, f.Edge, f.Code)
	}
	if s.Crashed {
		fmt.Fprintf(w, "✗ engine crashed: %s\n", s.Reason)
	}
	return nil
}
