package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders the deterministic part of a result as text: the live
// schedule, the plugin order, connect failures and the event stream.
// Output samples are left out.
func Snapshot(name string, r *Result) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "scenario %s\n", name)
	fmt.Fprintf(&sb, "order %s\n", strings.Join(r.Order, " "))
	fmt.Fprintf(&sb, "removed_edges %d\n", r.RemovedEdges)
	fmt.Fprintf(&sb, "saved_states %d\n", r.SavedStates)
	if r.Crashed {
		fmt.Fprintf(&sb, "crashed %s\n", r.CrashReason)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&sb, "failure step=%d %s %s\n", f.Step, f.Edge, f.Code)
	}
	for _, e := range r.Events {
		fmt.Fprintf(&sb, "event %s", e.Type)
		if e.Plugin != "" {
			fmt.Fprintf(&sb, " %s", e.Plugin)
		}
		if e.Detail != "" {
			fmt.Fprintf(&sb, " (%s)", e.Detail)
		}
		sb.WriteByte('\n')
	}
	sb.WriteString(r.Schedule)
	return []byte(sb.String())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the snapshot of an existing result against a
// golden file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Snapshot(scenarioName, result))
}
