package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyActive is returned by ActivateEngine while the engine runs.
	ErrAlreadyActive = errors.New("engine: already active")
	// ErrNotActive is returned by operations that need an active engine.
	ErrNotActive = errors.New("engine: not active")
)

// Error represents an engine-level failure.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeInvalidSettings indicates activation settings failed validation.
	ErrCodeInvalidSettings ErrorCode = "INVALID_SETTINGS"

	// ErrCodeCompileFailed indicates the graph could not be compiled and
	// the engine tore it down.
	ErrCodeCompileFailed ErrorCode = "COMPILE_FAILED"

	// ErrCodeUnknownPlugin indicates a connect request addressed a plugin
	// that is neither in the graph nor in the request's add list.
	ErrCodeUnknownPlugin ErrorCode = "UNKNOWN_PLUGIN"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of an engine Error, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
