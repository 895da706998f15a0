package harness

// EventRecord is one engine event with plugin ids replaced by scenario
// names.
type EventRecord struct {
	Type   string `json:"type"`
	Plugin string `json:"plugin,omitempty"`
	// Detail is the deactivation error or crash reason, if any.
	Detail string `json:"detail,omitempty"`
}

// FailureRecord is one edge that could not be connected.
type FailureRecord struct {
	Step int    `json:"step"`
	Edge string `json:"edge"`
	Code string `json:"code"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Schedule is the dump of the schedule live after the last step.
	Schedule string `json:"schedule"`

	// Order lists plugin names in execution order of the live schedule.
	Order []string `json:"order"`
	Tasks int      `json:"tasks"`

	// Output is the last rendered block, one slice per output channel.
	Output [][]float64 `json:"output"`

	Events       []EventRecord   `json:"events"`
	Failures     []FailureRecord `json:"failures,omitempty"`
	RemovedEdges int             `json:"removed_edges"`

	Crashed     bool   `json:"crashed"`
	CrashReason string `json:"crash_reason,omitempty"`

	// SavedStates is the number of plugins persisted at the end of the run.
	SavedStates int `json:"saved_states"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Order:  []string{},
		Events: []EventRecord{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends an event to the result.
func (r *Result) AddEvent(typ, plugin, detail string) {
	r.Events = append(r.Events, EventRecord{Type: typ, Plugin: plugin, Detail: detail})
}
