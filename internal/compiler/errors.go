package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/plughost/internal/ir"
)

// ErrorCode categorizes compile errors.
type ErrorCode string

const (
	// ErrCodeCycleDetected indicates a cycle with at least one edge that
	// does not allow cycles.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// ErrCodeUnknownNode indicates an edge or ordering step referenced a node
	// without a binding. This is an internal invariant violation.
	ErrCodeUnknownNode ErrorCode = "UNKNOWN_NODE_REFERENCED_BY_EDGE"

	// ErrCodeBufferOverflow indicates the graph needs more buffers than the
	// allocation limit.
	ErrCodeBufferOverflow ErrorCode = "BUFFER_ALLOCATION_OVERFLOW"

	// ErrCodeVerifyFailed indicates the verifier rejected the schedule.
	// This is an internal invariant violation.
	ErrCodeVerifyFailed ErrorCode = "VERIFY_FAILED"
)

// CompileError is returned by Compile.
type CompileError struct {
	Code    ErrorCode
	Message string
	// Cycle lists the members of the offending cycle, in cycle order, for
	// ErrCodeCycleDetected.
	Cycle []ir.PluginInstanceID
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if len(e.Cycle) > 0 {
		names := make([]string, len(e.Cycle))
		for i, id := range e.Cycle {
			names[i] = id.String()
		}
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(names, " → "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCycleError reports whether err is a cycle error.
func IsCycleError(err error) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeCycleDetected
	}
	return false
}

// IsInternalError reports whether err signals a compiler or verifier bug
// rather than a property of the graph.
func IsInternalError(err error) bool {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeUnknownNode || ce.Code == ErrCodeVerifyFailed
	}
	return false
}
