package harness

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Events   []EventRecord // Full event stream for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nEvents:\n")
		for i, ev := range e.Events {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", i+1, ev.Type, ev.Plugin)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertPluginOrder:
		return assertPluginOrder(result, a)
	case AssertTaskCount:
		return assertCount(a.Type, "tasks", a.Count, result.Tasks)
	case AssertOutput:
		return assertOutput(result, a)
	case AssertConnectFailure:
		return assertConnectFailure(result, a)
	case AssertEventCount:
		return assertEventCount(result, a)
	case AssertRemovedEdges:
		return assertCount(a.Type, "removed edges", a.Count, result.RemovedEdges)
	case AssertCrashed:
		if result.Crashed != a.Expect {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("crashed = %v", a.Expect),
				Actual:   fmt.Sprintf("crashed = %v %s", result.Crashed, result.CrashReason),
				Events:   result.Events,
			}
		}
		return nil
	case AssertSavedStates:
		return assertCount(a.Type, "saved states", a.Count, result.SavedStates)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertCount(typ, what string, want, got int) error {
	if want == got {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%d %s", want, what),
		Actual:   fmt.Sprintf("%d %s", got, what),
	}
}

// assertPluginOrder checks the exact execution order of plugin tasks.
func assertPluginOrder(result *Result, a Assertion) error {
	if slices.Equal(result.Order, a.Plugins) {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("plugins in order: %v", a.Plugins),
		Actual:   fmt.Sprintf("%v", result.Order),
	}
}

// assertOutput checks that every sample of the selected output channels
// of the last block is within tolerance of the expected value.
func assertOutput(result *Result, a Assertion) error {
	tol := a.Tolerance
	if tol == 0 {
		tol = 1e-9
	}
	chans := result.Output
	first := 0
	if a.Channel != nil {
		if *a.Channel < 0 || *a.Channel >= len(result.Output) {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("output channel %d", *a.Channel),
				Actual:   fmt.Sprintf("%d output channels", len(result.Output)),
			}
		}
		first = *a.Channel
		chans = result.Output[first : first+1]
	}
	for c, ch := range chans {
		for i, v := range ch {
			if math.Abs(v-a.Value) > tol {
				return &AssertionError{
					Type:     a.Type,
					Expected: fmt.Sprintf("all samples %v ± %v", a.Value, tol),
					Actual:   fmt.Sprintf("channel %d frame %d = %v", first+c, i, v),
				}
			}
		}
	}
	return nil
}

// assertConnectFailure checks how many edges failed with the given code.
func assertConnectFailure(result *Result, a Assertion) error {
	count := 0
	for _, f := range result.Failures {
		if f.Code == a.Code {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d failures with code %s", a.Count, a.Code),
		Actual:   fmt.Sprintf("%d (all failures: %v)", count, result.Failures),
	}
}

// assertEventCount checks the number of events of one type.
func assertEventCount(result *Result, a Assertion) error {
	count := 0
	for _, e := range result.Events {
		if e.Type == a.Event {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
		Actual:   fmt.Sprintf("%d occurrences", count),
		Events:   result.Events,
	}
}
