package harness

import (
	"github.com/roach88/causalverse/internal/emergence"
	"github.com/roach88/causalverse/internal/ir"
)

// Trace entry types.
const (
	TraceAccepted = "event"
	TraceRejected = "rejected"
	TraceDrive    = "drive"
)

// TraceEvent is one entry of a scenario trace. Ids and timestamps are left
// out so traces are stable across refactors of the id scheme.
type TraceEvent struct {
	// Type is "event", "rejected" or "drive".
	Type string `json:"type"`

	// Step is the zero-based index of the step that produced the entry.
	Step int `json:"step"`

	// Seq numbers entries from 1.
	Seq int64 `json:"seq"`

	Store string `json:"store,omitempty"`

	// Kind, Value, Parents and Tags describe an accepted event.
	Kind    string     `json:"kind,omitempty"`
	Value   ir.IRValue `json:"value,omitempty"`
	Parents int        `json:"parents,omitempty"`
	Tags    []string   `json:"tags,omitempty"`

	// Action and Error describe a rejected step.
	Action string `json:"action,omitempty"`
	Error  string `json:"error,omitempty"`

	// Ticks is the length of a drive step.
	Ticks int `json:"ticks,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if no step failed unexpectedly and every assertion held.
	Pass bool `json:"pass"`

	// Trace holds accepted events, rejected steps and drive markers in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final value of every store.
	State map[string]ir.IRValue `json:"state,omitempty"`

	// Patterns holds every pattern the detector reported.
	Patterns []emergence.Pattern `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]ir.IRValue),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(e TraceEvent) {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
}
