package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/plughost/internal/harness"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the live schedule after a scenario's last step.
type CompilationResult struct {
	Scenario string                  `json:"scenario"`
	Schedule string                  `json:"schedule"`
	Order    []string                `json:"order"`
	Tasks    int                     `json:"tasks"`
	Failures []harness.FailureRecord `json:"failures,omitempty"`
	Crashed  bool                    `json:"crashed"`
	Reason   string                  `json:"crash_reason,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <scenario.yaml>",
		Short: "Compile a scenario graph and print its schedule",
		Long: `Build the graph a scenario describes on a headless engine and print the
compiled processor schedule: one line per task with the buffers it reads
and writes.

Edges that failed to connect are listed after the dump. Assertions of the
scenario are not evaluated; use "plughost test" for that.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the schedule dump to a file")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	scenario, err := LoadScenario(path)
	if err != nil {
		return outputCompileError(formatter, loadErrorCode(err), err.Error())
	}
	// Assertions belong to the test command.
	scenario.Assertions = nil

	formatter.VerboseLog("Compiling scenario %s (%d step(s))", scenario.Name, len(scenario.Steps))
	result, err := harness.RunWith(scenario, harness.Options{Logger: newLogger(opts.RootOptions, formatter.GetErrWriter())})
	if err != nil {
		return outputCompileError(formatter, ErrCodeEngine, err.Error())
	}

	out := CompilationResult{
		Scenario: scenario.Name,
		Schedule: result.Schedule,
		Order:    result.Order,
		Tasks:    result.Tasks,
		Failures: result.Failures,
		Crashed:  result.Crashed,
		Reason:   result.CrashReason,
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, []byte(result.Schedule), 0644); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("failed to write output: %v", err))
		}
		formatter.VerboseLog("Wrote schedule to %s", opts.Output)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		outputCompileText(formatter, out)
	}

	if out.Crashed {
		return NewExitError(ExitFailure, "engine crashed: "+out.Reason)
	}
	return nil
}

func outputCompileText(formatter *OutputFormatter, out CompilationResult) {
	w := formatter.Writer
	if out.Crashed {
		fmt.Fprintf(w, "✗ %s: engine crashed: %s\n", out.Scenario, out.Reason)
	} else {
		fmt.Fprintf(w, "✓ Compiled %s: %d task(s), %d plugin(s)\n", out.Scenario, out.Tasks, len(out.Order))
	}
	fmt.Fprint(w, out.Schedule)
	for _, f := range out.Failures {
		fmt.Fprintf(w, "✗ step %d: %s %s\n", f.Step, f.Edge, f.Code)
	}
}

// outputCompileError outputs a compile error in the configured format.
func outputCompileError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}
