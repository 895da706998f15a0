package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/plughost/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Settings *SettingsSummary  `json:"settings,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// ValidationError is one problem found in a settings file.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// SettingsSummary is the effective settings after schema defaults.
type SettingsSummary struct {
	SampleRate     float64  `json:"sample_rate"`
	MinFrames      uint32   `json:"min_frames"`
	MaxFrames      uint32   `json:"max_frames"`
	NumInputs      int      `json:"num_inputs"`
	NumOutputs     int      `json:"num_outputs"`
	IdlePeriodMS   int64    `json:"idle_period_ms"`
	GCPeriodMS     int64    `json:"gc_period_ms"`
	ResetTimeoutMS int64    `json:"reset_timeout_ms"`
	EventCapacity  int      `json:"event_capacity"`
	MaxBuffers     int      `json:"max_buffers"`
	PluginDirs     []string `json:"plugin_dirs,omitempty"`
}

func summarize(s config.Settings) *SettingsSummary {
	return &SettingsSummary{
		SampleRate:     s.SampleRate,
		MinFrames:      s.MinFrames,
		MaxFrames:      s.MaxFrames,
		NumInputs:      s.NumInputs,
		NumOutputs:     s.NumOutputs,
		IdlePeriodMS:   s.IdlePeriod.Milliseconds(),
		GCPeriodMS:     s.GCPeriod.Milliseconds(),
		ResetTimeoutMS: s.ResetTimeout.Milliseconds(),
		EventCapacity:  s.EventCapacity,
		MaxBuffers:     s.MaxBuffers,
		PluginDirs:     s.PluginDirs,
	}
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <settings.cue>",
		Short: "Validate an engine settings file",
		Long: `Validate a CUE settings file against the embedded settings schema.

Unknown fields, out of range values and inconsistent frame sizes are
reported with their line. Omitted fields take the schema defaults; the
effective settings are printed on success.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	formatter.VerboseLog("Validating %s", path)

	settings, err := LoadSettings(path)
	if err != nil {
		var le *LoadError
		if !errors.As(err, &le) {
			return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
		}
		switch le.Code {
		case ErrCodeNotFound, ErrCodeLoadFailed, ErrCodeSettingsSchema:
			return outputValidateError(formatter, le.Code, le.Message, nil)
		}
		return outputValidationErrors(formatter, []ValidationError{{
			Code:    le.Code,
			Message: le.Message,
			Line:    le.Line,
		}})
	}

	return outputValidateSuccess(formatter, settings)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, s config.Settings) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Settings: summarize(s)})
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Settings valid")
	fmt.Fprintf(w, "  sample rate  %g Hz\n", s.SampleRate)
	fmt.Fprintf(w, "  frames       %d..%d\n", s.MinFrames, s.MaxFrames)
	fmt.Fprintf(w, "  channels     %d in, %d out\n", s.NumInputs, s.NumOutputs)
	fmt.Fprintf(w, "  idle / gc    %v / %v\n", s.IdlePeriod, s.GCPeriod)
	fmt.Fprintf(w, "  reset after  %v\n", s.ResetTimeout)
	for _, dir := range s.PluginDirs {
		fmt.Fprintf(w, "  plugin dir   %s\n", dir)
	}
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Unreadable input is a command-level error (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
