package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/causalverse/internal/ir"
)

// TraceSnapshot captures the trace and final state of a scenario run.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Final        map[string]ir.IRValue
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Empty fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, e := range s.Trace {
		m := map[string]any{
			"type": e.Type,
			"step": e.Step,
			"seq":  e.Seq,
		}
		if e.Store != "" {
			m["store"] = e.Store
		}
		if e.Kind != "" {
			m["kind"] = e.Kind
		}
		if e.Value != nil {
			m["value"] = e.Value
		}
		if e.Parents > 0 {
			m["parents"] = e.Parents
		}
		if len(e.Tags) > 0 {
			tags := make([]any, len(e.Tags))
			for j, t := range e.Tags {
				tags[j] = t
			}
			m["tags"] = tags
		}
		if e.Action != "" {
			m["action"] = e.Action
		}
		if e.Error != "" {
			m["error"] = e.Error
		}
		if e.Ticks > 0 {
			m["ticks"] = e.Ticks
		}
		traceList[i] = m
	}

	final := make(map[string]any, len(s.Final))
	for k, v := range s.Final {
		final[k] = v
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"final":         final,
	}
}

// MarshalTrace renders a result as canonical JSON.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Final:        result.State,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
