package cli

import (
	"errors"
	"fmt"
	"os"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/plughost/internal/config"
	"github.com/roach88/plughost/internal/harness"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeLoadFailed  = "E004" // File could not be read or parsed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error

	// Settings errors
	ErrCodeSettingsSchema  = "E101" // Embedded schema does not compile
	ErrCodeSettingsInvalid = "E102" // Settings violate the schema or constraints

	// Scenario errors
	ErrCodeScenarioInvalid = "E111" // Scenario YAML is malformed or inconsistent
	ErrCodeFilterInvalid   = "E112" // State filter expression is malformed

	// Runtime errors
	ErrCodeEngine = "E201" // Engine failed to activate or crashed
	ErrCodeStore  = "E202" // Database error
)

// LoadError represents an error that occurred while loading an input file.
type LoadError struct {
	Code    string
	File    string
	Message string
	Line    int // 1-based line in File, 0 if unknown
	Err     error
}

func (e *LoadError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Code, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadSettings reads a CUE settings file. An empty path returns the
// defaults.
func LoadSettings(path string) (config.Settings, error) {
	if path == "" {
		return config.Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		return config.Settings{}, &LoadError{Code: ErrCodeNotFound, File: path, Message: "settings file not found", Err: err}
	}
	s, err := config.Load(path)
	if err != nil {
		return config.Settings{}, convertSettingsError(path, err)
	}
	return s, nil
}

// convertSettingsError converts a config error to a LoadError with the
// line of the first CUE error, if any.
func convertSettingsError(path string, err error) *LoadError {
	le := &LoadError{Code: ErrCodeGeneric, File: path, Message: err.Error(), Err: err}
	var se *config.SettingsError
	if !errors.As(err, &se) {
		return le
	}
	le.Message = se.Message
	switch se.Code {
	case config.ErrCodeRead:
		le.Code = ErrCodeLoadFailed
	case config.ErrCodeSchema:
		le.Code = ErrCodeSettingsSchema
	case config.ErrCodeInvalid:
		le.Code = ErrCodeSettingsInvalid
	}
	for _, e := range cueerrors.Errors(se.Err) {
		if line := lineIn(path, e); line > 0 {
			le.Line = line
			break
		}
	}
	return le
}

func lineIn(path string, e cueerrors.Error) int {
	positions := append([]token.Pos{e.Position()}, e.InputPositions()...)
	for _, pos := range positions {
		if pos.IsValid() && pos.Filename() == path {
			return pos.Line()
		}
	}
	return 0
}

// LoadScenario reads a scenario YAML file.
func LoadScenario(path string) (*harness.Scenario, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, File: path, Message: "scenario file not found", Err: err}
	}
	s, err := harness.LoadScenario(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScenarioInvalid, File: path, Message: err.Error(), Err: err}
	}
	return s, nil
}

// loadErrorCode returns the code of a LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}
