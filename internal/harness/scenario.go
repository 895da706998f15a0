package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/plughost/internal/ir"
)

// Reserved endpoint names of the graph boundary nodes.
const (
	GraphIn  = "graph_in"
	GraphOut = "graph_out"
)

// Scenario describes a graph built step by step, the audio rendered
// through it and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Settings override the engine defaults.
	Settings *SettingsOverride `yaml:"settings,omitempty"`

	// Input is the constant sample value fed to every graph input.
	Input float64 `yaml:"input,omitempty"`

	// Steps are applied in order, one ModifyGraph call each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final outcome.
	// Supported types: plugin_order, task_count, output, connect_failure,
	// event_count, removed_edges, crashed, saved_states
	Assertions []Assertion `yaml:"assertions"`
}

// SettingsOverride lists the settings a scenario may change.
type SettingsOverride struct {
	SampleRate *float64 `yaml:"sample_rate,omitempty"`
	MaxFrames  *uint32  `yaml:"max_frames,omitempty"`
	NumInputs  *int     `yaml:"num_inputs,omitempty"`
	NumOutputs *int     `yaml:"num_outputs,omitempty"`
	MaxBuffers *int     `yaml:"max_buffers,omitempty"`
}

// Step is one graph modification followed by rendering.
type Step struct {
	Add        []PluginStep `yaml:"add,omitempty"`
	Remove     []string     `yaml:"remove,omitempty"`
	Connect    []EdgeStep   `yaml:"connect,omitempty"`
	Disconnect []int        `yaml:"disconnect,omitempty"`

	// Render is the number of blocks processed after the modification.
	// Every block is followed by one engine tick.
	Render int `yaml:"render,omitempty"`
}

// PluginStep adds one plugin under a scenario-local name.
type PluginStep struct {
	Name   string `yaml:"name"`
	Plugin string `yaml:"plugin"`
	// Format defaults to internal.
	Format string `yaml:"format,omitempty"`
	// Inactive adds the plugin without activating it.
	Inactive bool `yaml:"inactive,omitempty"`
	Bypassed bool `yaml:"bypassed,omitempty"`
	// Params become the raw state of builtin plugins.
	Params map[string]float64 `yaml:"params,omitempty"`
}

// EdgeStep connects From to To. Audio edges connect Channels channels of
// the main ports, starting at channel 0.
type EdgeStep struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	// Type defaults to audio.
	Type       string `yaml:"type,omitempty"`
	Channels   int    `yaml:"channels,omitempty"`
	AllowCycle bool   `yaml:"allow_cycle,omitempty"`
}

// Assertion validates the outcome of a run.
type Assertion struct {
	Type string `yaml:"type"`

	// Plugins is the expected execution order (plugin_order).
	Plugins []string `yaml:"plugins,omitempty"`

	// Count is the expected number of tasks, failures, events, edges or
	// saved states.
	Count int `yaml:"count"`

	// Value and Tolerance describe the expected output samples (output).
	// Channel selects one output channel; nil checks all of them.
	Value     float64 `yaml:"value,omitempty"`
	Tolerance float64 `yaml:"tolerance,omitempty"`
	Channel   *int    `yaml:"channel,omitempty"`

	// Code is the expected connect error code (connect_failure).
	Code string `yaml:"code,omitempty"`

	// Event is the event type counted (event_count).
	Event string `yaml:"event,omitempty"`

	// Expect is the expected value of crashed.
	Expect bool `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertPluginOrder    = "plugin_order"
	AssertTaskCount      = "task_count"
	AssertOutput         = "output"
	AssertConnectFailure = "connect_failure"
	AssertEventCount     = "event_count"
	AssertRemovedEdges   = "removed_edges"
	AssertCrashed        = "crashed"
	AssertSavedStates    = "saved_states"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarioDir loads every .yaml file in dir, ordered by file name.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	slices.Sort(matches)

	var out []*Scenario
	seen := make(map[string]string)
	for _, path := range matches {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", path, s.Name, prev)
		}
		seen[s.Name] = path
		out = append(out, s)
	}
	return out, nil
}

// validateScenario checks that required fields are present and that every
// name a step refers to is defined by an earlier step.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	names := map[string]bool{GraphIn: true, GraphOut: true}
	for i, step := range s.Steps {
		for j, p := range step.Add {
			switch {
			case p.Name == "":
				return fmt.Errorf("steps[%d].add[%d]: name is required", i, j)
			case names[p.Name]:
				return fmt.Errorf("steps[%d].add[%d]: name %q is already defined", i, j, p.Name)
			case p.Plugin == "":
				return fmt.Errorf("steps[%d].add[%d]: plugin is required", i, j)
			}
			names[p.Name] = true
		}
		for j, name := range step.Remove {
			if !names[name] || name == GraphIn || name == GraphOut {
				return fmt.Errorf("steps[%d].remove[%d]: unknown plugin %q", i, j, name)
			}
		}
		for j, e := range step.Connect {
			if !names[e.From] {
				return fmt.Errorf("steps[%d].connect[%d]: unknown source %q", i, j, e.From)
			}
			if !names[e.To] {
				return fmt.Errorf("steps[%d].connect[%d]: unknown destination %q", i, j, e.To)
			}
			if e.Type != "" {
				if _, err := ir.ParsePortType(e.Type); err != nil {
					return fmt.Errorf("steps[%d].connect[%d]: %w", i, j, err)
				}
			}
			if e.Channels < 0 {
				return fmt.Errorf("steps[%d].connect[%d]: channels must be non-negative", i, j)
			}
		}
		if step.Render < 0 {
			return fmt.Errorf("steps[%d]: render must be non-negative", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertPluginOrder:
		if a.Plugins == nil {
			return fmt.Errorf("assertions[%d]: plugins list is required for plugin_order", index)
		}
	case AssertConnectFailure:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for connect_failure", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
	case AssertTaskCount, AssertOutput, AssertRemovedEdges, AssertCrashed, AssertSavedStates:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
