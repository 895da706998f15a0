// Package harness runs graph scenarios against a real engine.
//
// A scenario builds a graph step by step from the builtin plugins, renders
// audio through it and asserts on the outcome. Runs are deterministic, so
// the live schedule and event stream can be compared with golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: gain_chain
//	description: "Two gains in series scale the input"
//	input: 0.5
//	steps:
//	  - add:
//	      - { name: a, plugin: app.plughost.gain, params: { gain: 0.5 } }
//	    connect:
//	      - { from: graph_in, to: a }
//	      - { from: a, to: graph_out }
//	    render: 2
//	  - remove: [a]
//	assertions:
//	  - type: output
//	    value: 0.25
//
// Plugin names are local to the scenario; graph_in and graph_out name the
// boundary nodes. Audio edges connect two channels of the main ports
// unless channels says otherwise.
//
// # Assertion Types
//
//   - plugin_order: exact execution order of plugin tasks
//   - task_count: number of tasks in the live schedule
//   - output: every sample of the last block equals value ± tolerance
//   - connect_failure: number of edges that failed with code
//   - event_count: number of events of one type
//   - removed_edges: edges removed by requests
//   - crashed: whether the engine tore the graph down
//   - saved_states: plugins persisted at the end of the run
//
// # Deterministic Testing
//
// The harness uses:
//   - A fixed session id and a manual clock (testutil)
//   - The audio side on the calling goroutine, one engine tick per block
//   - In-memory SQLite database (isolated per run)
//
// This ensures identical snapshots across runs for golden file comparison.
package harness
