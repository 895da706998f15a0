package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_EmptyGraph(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/empty_graph.yaml")
	require.NoError(t, err)

	// Regenerate with:
	//   go test ./internal/harness -run TestRunWithGolden_EmptyGraph -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestSnapshot_Format(t *testing.T) {
	r := NewResult()
	r.Order = []string{"a", "b"}
	r.RemovedEdges = 2
	r.Crashed = true
	r.CrashReason = "BUFFER_ALLOCATION_OVERFLOW: too many"
	r.Failures = []FailureRecord{{Step: 1, Edge: "b->a", Code: "CYCLE"}}
	r.AddEvent("plugin_removed", "a", "")
	r.AddEvent("engine_deactivated", "", "overflow")
	r.Schedule = "schedule v3\n"

	want := "scenario snap\n" +
		"order a b\n" +
		"removed_edges 2\n" +
		"saved_states 0\n" +
		"crashed BUFFER_ALLOCATION_OVERFLOW: too many\n" +
		"failure step=1 b->a CYCLE\n" +
		"event plugin_removed a\n" +
		"event engine_deactivated (overflow)\n" +
		"schedule v3\n"
	assert.Equal(t, want, string(Snapshot("snap", r)))
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/gain_chain.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, string(Snapshot(scenario.Name, first)), string(Snapshot(scenario.Name, second)))
}
