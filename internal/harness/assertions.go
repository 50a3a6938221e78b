package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/causalverse/internal/emergence"
	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/universe"
)

// Assertion validates the final state of a run.
type Assertion struct {
	// Type specifies the assertion type:
	//   - "final_value": Store holds Value
	//   - "branch": Store's active branch is Branch
	//   - "event_count": Store has recorded Count events
	//   - "history": Store's active lineage carries Values, oldest first
	//   - "dependency": the universe observed From -> To
	//   - "state": the universe is in lifecycle State
	//   - "pattern": a Kind pattern was reported, involving Stores, with
	//     at least MinConfidence
	//   - "no_pattern": no Kind pattern was reported
	//   - "rejected_count": Count steps returned an error
	Type string `yaml:"type"`

	Store  string `yaml:"store,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Values []any  `yaml:"values,omitempty"`
	Branch string `yaml:"branch,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	From  string `yaml:"from,omitempty"`
	To    string `yaml:"to,omitempty"`
	State string `yaml:"state,omitempty"`

	Kind          emergence.Kind `yaml:"kind,omitempty"`
	Stores        []string       `yaml:"stores,omitempty"`
	MinConfidence float64        `yaml:"min_confidence,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalValue    = "final_value"
	AssertBranch        = "branch"
	AssertEventCount    = "event_count"
	AssertHistory       = "history"
	AssertDependency    = "dependency"
	AssertState         = "state"
	AssertPattern       = "pattern"
	AssertNoPattern     = "no_pattern"
	AssertRejectedCount = "rejected_count"
)

// AssertionContext gives assertions access to the live run.
type AssertionContext struct {
	Universe *universe.Manager
	Detector *emergence.Detector
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertFinalValue, AssertBranch, AssertEventCount, AssertHistory:
		if a.Store == "" {
			return fmt.Errorf("%s requires store", a.Type)
		}
	case AssertDependency:
		if a.From == "" || a.To == "" {
			return fmt.Errorf("dependency requires from and to")
		}
	case AssertState:
		if a.State == "" {
			return fmt.Errorf("state requires state")
		}
	case AssertPattern, AssertNoPattern:
		if !a.Kind.Valid() {
			return fmt.Errorf("%s: unknown pattern kind %q", a.Type, a.Kind)
		}
	case AssertRejectedCount:
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertFinalValue:
		want, err := ir.FromGo(a.Value)
		if err != nil {
			return err
		}
		got, ok := result.State[a.Store]
		if !ok {
			return fail(a, "store "+a.Store, "no such store")
		}
		if !valuesMatch(want, got) {
			return fail(a, render(want), render(got))
		}
	case AssertBranch:
		s, err := actx.Universe.Store(a.Store)
		if err != nil {
			return err
		}
		if got := s.ActiveBranch(); got != a.Branch {
			return fail(a, a.Branch, got)
		}
	case AssertEventCount:
		s, err := actx.Universe.Store(a.Store)
		if err != nil {
			return err
		}
		if got := s.Len(); got != a.Count {
			return fail(a, fmt.Sprint(a.Count), fmt.Sprint(got))
		}
	case AssertHistory:
		return assertHistory(a, actx)
	case AssertDependency:
		if !slices.Contains(actx.Universe.Dependencies(), [2]string{a.From, a.To}) {
			return fail(a, a.From+" -> "+a.To, fmt.Sprint(actx.Universe.Dependencies()))
		}
	case AssertState:
		if got := string(actx.Universe.State()); got != a.State {
			return fail(a, a.State, got)
		}
	case AssertPattern:
		for _, p := range result.Patterns {
			if p.Kind == a.Kind && p.Confidence >= a.MinConfidence && involvesAll(p, a.Stores) {
				return nil
			}
		}
		return fail(a, describePattern(a), fmt.Sprintf("%d patterns without a match", len(result.Patterns)))
	case AssertNoPattern:
		for _, p := range result.Patterns {
			if p.Kind == a.Kind {
				return fail(a, "no "+string(a.Kind), fmt.Sprintf("%s on %v (confidence %.2f)", p.Kind, p.Stores, p.Confidence))
			}
		}
	case AssertRejectedCount:
		got := 0
		for _, e := range result.Trace {
			if e.Type == TraceRejected {
				got++
			}
		}
		if got != a.Count {
			return fail(a, fmt.Sprint(a.Count), fmt.Sprint(got))
		}
	}
	return nil
}

func assertHistory(a Assertion, actx *AssertionContext) error {
	s, err := actx.Universe.Store(a.Store)
	if err != nil {
		return err
	}
	events, err := s.History()
	if err != nil {
		return err
	}
	got := make([]ir.IRValue, len(events))
	for i, e := range events {
		got[i] = e.Value
	}
	want := make([]ir.IRValue, len(a.Values))
	for i, v := range a.Values {
		if want[i], err = ir.FromGo(v); err != nil {
			return err
		}
	}
	if len(got) != len(want) {
		return fail(a, renderAll(want), renderAll(got))
	}
	for i := range want {
		if !valuesMatch(want[i], got[i]) {
			return fail(a, renderAll(want), renderAll(got))
		}
	}
	return nil
}

// valuesMatch compares numbers by value, so YAML 0 matches a stored 0.0.
func valuesMatch(want, got ir.IRValue) bool {
	wf, wok := want.(ir.IRInt)
	gf, gok := got.(ir.IRFloat)
	if wok && gok {
		return float64(wf) == float64(gf)
	}
	if wf, ok := want.(ir.IRFloat); ok {
		if gi, ok := got.(ir.IRInt); ok {
			return float64(wf) == float64(gi)
		}
	}
	return ir.Equal(want, got)
}

func involvesAll(p emergence.Pattern, stores []string) bool {
	for _, s := range stores {
		if !p.Involves(s) {
			return false
		}
	}
	return true
}

func describePattern(a Assertion) string {
	desc := string(a.Kind)
	if len(a.Stores) > 0 {
		desc += " on " + strings.Join(a.Stores, ", ")
	}
	if a.MinConfidence > 0 {
		desc += fmt.Sprintf(" with confidence >= %.2f", a.MinConfidence)
	}
	return desc
}

func render(v ir.IRValue) string {
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

func renderAll(vs []ir.IRValue) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = render(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func fail(a Assertion, expected, actual string) error {
	return &AssertionError{Type: a.Type, Expected: expected, Actual: actual}
}
