package graph

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes graph errors.
type ErrorCode string

const (
	// ErrCodeCycleDetected indicates the edge would close a cycle of edges
	// that do not allow cycles.
	ErrCodeCycleDetected ErrorCode = "CYCLE_DETECTED"

	// ErrCodeEdgeAlreadyExists indicates the same two ports are already
	// connected.
	ErrCodeEdgeAlreadyExists ErrorCode = "EDGE_ALREADY_EXISTS"

	// ErrCodeNodeNotFound indicates a node id that is not in the graph.
	ErrCodeNodeNotFound ErrorCode = "NODE_NOT_FOUND"

	// ErrCodePortNotFound indicates a port id that is not on the node.
	ErrCodePortNotFound ErrorCode = "PORT_NOT_FOUND"

	// ErrCodePortExists indicates AddPort with an id already on the node.
	ErrCodePortExists ErrorCode = "PORT_EXISTS"

	// ErrCodeEdgeNotFound indicates an edge id that is not in the graph.
	ErrCodeEdgeNotFound ErrorCode = "EDGE_NOT_FOUND"

	// ErrCodeInvalidEdge indicates mismatched port types or directions.
	ErrCodeInvalidEdge ErrorCode = "INVALID_EDGE"
)

// Error is returned by every fallible Graph operation.
type Error struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the ErrorCode of err, or "" if err is not a graph error.
func CodeOf(err error) ErrorCode {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsCycleError reports whether err is a cycle error.
func IsCycleError(err error) bool { return CodeOf(err) == ErrCodeCycleDetected }

// IsEdgeAlreadyExists reports whether err is a duplicate edge error.
func IsEdgeAlreadyExists(err error) bool { return CodeOf(err) == ErrCodeEdgeAlreadyExists }

// IsNotFound reports whether err is a node, port or edge not-found error.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNodeNotFound, ErrCodePortNotFound, ErrCodeEdgeNotFound:
		return true
	}
	return false
}
