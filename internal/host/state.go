package host

import (
	"fmt"
	"sync/atomic"
)

// ActiveState is the lifecycle state of a plugin host.
type ActiveState int32

const (
	// StateInactive has no processor.
	StateInactive ActiveState = iota
	// StateActive has a processor published to the audio thread.
	StateActive
	// StateWaitingToDrop has its processor on the drop list of the next
	// schedule.
	StateWaitingToDrop
	// StateDroppedAndReadyToDeactivate is set by the audio thread once it
	// released the processor.
	StateDroppedAndReadyToDeactivate
	// StateInactiveWithError failed to activate. It is never left.
	StateInactiveWithError
)

var stateNames = [...]string{
	StateInactive:                    "inactive",
	StateActive:                      "active",
	StateWaitingToDrop:               "waiting_to_drop",
	StateDroppedAndReadyToDeactivate: "dropped_and_ready_to_deactivate",
	StateInactiveWithError:           "inactive_with_error",
}

// String implements fmt.Stringer.
func (s ActiveState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ActiveState(%d)", int32(s))
}

// IsActive reports whether a processor exists for the state.
func (s ActiveState) IsActive() bool {
	return s == StateActive || s == StateWaitingToDrop || s == StateDroppedAndReadyToDeactivate
}

// transitions lists every legal edge of the state machine. The audio
// thread only ever takes WaitingToDrop -> DroppedAndReadyToDeactivate.
var transitions = map[ActiveState][]ActiveState{
	StateInactive:                    {StateActive, StateInactiveWithError},
	StateActive:                      {StateWaitingToDrop},
	StateWaitingToDrop:               {StateDroppedAndReadyToDeactivate},
	StateDroppedAndReadyToDeactivate: {StateInactive},
}

func allowed(from, to ActiveState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a rejected state change.
type TransitionError struct {
	From, To ActiveState
	// Actual is the state found when the transition was attempted.
	Actual ActiveState
}

func (e *TransitionError) Error() string {
	if !allowed(e.From, e.To) {
		return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("transition %s -> %s: state is %s", e.From, e.To, e.Actual)
}

// shared is the part of a host both threads touch.
type shared struct {
	state    atomic.Int32
	bypassed atomic.Bool
	// wake asks a sleeping processor to run its next block.
	wake atomic.Bool
	// crashed is set by the audio thread when the processor panicked or
	// failed to start processing.
	crashed atomic.Bool
}

func (s *shared) load() ActiveState { return ActiveState(s.state.Load()) }

// transition moves from -> to if the table allows it and the state still
// is from.
func (s *shared) transition(from, to ActiveState) error {
	if !allowed(from, to) {
		return &TransitionError{From: from, To: to, Actual: s.load()}
	}
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return &TransitionError{From: from, To: to, Actual: s.load()}
	}
	return nil
}
