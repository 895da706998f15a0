// Package config loads engine settings from CUE. A settings file is
// unified with the embedded #Settings schema, so unknown fields and out of
// range values are rejected and omitted fields take schema defaults.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource []byte

// Schema returns the CUE source of the settings schema.
func Schema() string { return string(schemaSource) }

// Settings are the engine settings.
type Settings struct {
	SampleRate float64
	MinFrames  uint32
	MaxFrames  uint32
	NumInputs  int
	NumOutputs int

	IdlePeriod   time.Duration
	GCPeriod     time.Duration
	ResetTimeout time.Duration

	EventCapacity int
	MaxBuffers    int
	PluginDirs    []string
}

// Default returns the schema defaults.
func Default() Settings {
	return Settings{
		SampleRate:    48000,
		MinFrames:     1,
		MaxFrames:     512,
		NumInputs:     2,
		NumOutputs:    2,
		IdlePeriod:    16 * time.Millisecond,
		GCPeriod:      3 * time.Second,
		ResetTimeout:  10 * time.Second,
		EventCapacity: 256,
		MaxBuffers:    4096,
	}
}

// file is the decoded form of a settings file.
type file struct {
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
	PluginDirs     []string `json:"plugin_dirs"`
}

// Error codes of a SettingsError.
const (
	ErrCodeRead    = "READ_FAILED"
	ErrCodeSchema  = "SCHEMA_INVALID"
	ErrCodeInvalid = "INVALID_SETTINGS"
)

// SettingsError reports a settings file that failed to load.
type SettingsError struct {
	Code    string
	File    string
	Message string
	Err     error
}

func (e *SettingsError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SettingsError) Unwrap() error { return e.Err }

// IsInvalid reports whether err is a settings validation failure.
func IsInvalid(err error) bool {
	var se *SettingsError
	return errors.As(err, &se) && se.Code == ErrCodeInvalid
}

// Load reads and validates the settings file at path.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, &SettingsError{Code: ErrCodeRead, File: path, Message: err.Error(), Err: err}
	}
	return Parse(data, path)
}

// Parse validates CUE settings source. filename is used in messages.
func Parse(data []byte, filename string) (Settings, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Settings{}, &SettingsError{Code: ErrCodeSchema, Message: err.Error(), Err: err}
	}
	def := schema.LookupPath(cue.ParsePath("#Settings"))

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return Settings{}, invalid(filename, err)
	}
	v := def.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Settings{}, invalid(filename, err)
	}

	var f file
	if err := v.Decode(&f); err != nil {
		return Settings{}, invalid(filename, err)
	}
	s := Settings{
		SampleRate:    f.SampleRate,
		MinFrames:     f.MinFrames,
		MaxFrames:     f.MaxFrames,
		NumInputs:     f.NumInputs,
		NumOutputs:    f.NumOutputs,
		IdlePeriod:    time.Duration(f.IdlePeriodMS) * time.Millisecond,
		GCPeriod:      time.Duration(f.GCPeriodMS) * time.Millisecond,
		ResetTimeout:  time.Duration(f.ResetTimeoutMS) * time.Millisecond,
		EventCapacity: f.EventCapacity,
		MaxBuffers:    f.MaxBuffers,
	}
	if len(f.PluginDirs) > 0 {
		s.PluginDirs = f.PluginDirs
	}
	if err := s.Validate(); err != nil {
		return Settings{}, &SettingsError{Code: ErrCodeInvalid, File: filename, Message: err.Error(), Err: err}
	}
	return s, nil
}

func invalid(filename string, err error) error {
	return &SettingsError{
		Code:    ErrCodeInvalid,
		File:    filename,
		Message: cueerrors.Details(err, nil),
		Err:     err,
	}
}

// Validate checks constraints spanning several fields.
func (s Settings) Validate() error {
	switch {
	case s.SampleRate <= 0:
		return fmt.Errorf("sample rate %v is not positive", s.SampleRate)
	case s.MinFrames == 0:
		return errors.New("min frames must be at least 1")
	case s.MinFrames > s.MaxFrames:
		return fmt.Errorf("min frames %d exceeds max frames %d", s.MinFrames, s.MaxFrames)
	case s.EventCapacity <= 0:
		return errors.New("event capacity must be positive")
	case s.MaxBuffers <= 0:
		return errors.New("max buffers must be positive")
	}
	return nil
}
