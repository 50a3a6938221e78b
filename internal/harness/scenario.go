package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/causalverse/internal/emergence"
)

// Scenario defines a universe, a sequence of steps to run against it and
// assertions over the result.
type Scenario struct {
	// Name uniquely identifies this scenario. Used as the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Universe is the universe id. Defaults to "scenario".
	Universe string `yaml:"universe,omitempty"`

	// AutoRepair enables repairs. Defaults to true.
	AutoRepair *bool `yaml:"auto_repair,omitempty"`

	// MaxIterations bounds enforcement rounds. Zero keeps the default.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	Constraints []ConstraintSpec `yaml:"constraints,omitempty"`

	// Stores are created in order before the first step.
	Stores []StoreSpec `yaml:"stores"`

	// Emergence overrides the detector defaults.
	Emergence *EmergenceSpec `yaml:"emergence,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// StoreSpec declares one store and its initial value.
type StoreSpec struct {
	Key     string `yaml:"key"`
	Initial any    `yaml:"initial"`
}

// ConstraintSpec declares a substrate constraint.
type ConstraintSpec struct {
	Name       string          `yaml:"name"`
	Stores     []string        `yaml:"stores,omitempty"`
	Invariants []InvariantSpec `yaml:"invariants,omitempty"`
	Repair     *RepairSpec     `yaml:"repair,omitempty"`
	Relations  []RelationSpec  `yaml:"relations,omitempty"`
}

// InvariantSpec is a CUE expression every covered value must satisfy.
type InvariantSpec struct {
	Name string `yaml:"name"`
	CUE  string `yaml:"cue"`
}

// RepairSpec clamps numeric values into [Min, Max]. Either bound may be
// omitted.
type RepairSpec struct {
	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`
}

// RelationSpec recomputes Store whenever a covered store changes.
//
// Ops:
//   - copy:  store = from
//   - scale: store = factor * from
//   - add:   store = store + from
type RelationSpec struct {
	Store  string   `yaml:"store"`
	From   string   `yaml:"from"`
	Op     string   `yaml:"op"`
	Factor *float64 `yaml:"factor,omitempty"`
}

// Relation ops.
const (
	OpCopy  = "copy"
	OpScale = "scale"
	OpAdd   = "add"
)

// EmergenceSpec overrides detector configuration. Zero fields keep
// emergence.DefaultConfig values.
type EmergenceSpec struct {
	WindowSize    int              `yaml:"window_size,omitempty"`
	MinSamples    int              `yaml:"min_samples,omitempty"`
	MinConfidence *float64         `yaml:"min_confidence,omitempty"`
	Patterns      []emergence.Kind `yaml:"patterns,omitempty"`
}

// Config applies the overrides to the detector defaults.
func (s *EmergenceSpec) Config() emergence.Config {
	cfg := emergence.DefaultConfig()
	if s == nil {
		return cfg
	}
	if s.WindowSize > 0 {
		cfg.WindowSize = s.WindowSize
	}
	if s.MinSamples > 0 {
		cfg.MinSamples = s.MinSamples
	}
	if s.MinConfidence != nil {
		cfg.MinConfidence = *s.MinConfidence
	}
	if len(s.Patterns) > 0 {
		cfg.EnabledPatterns = slices.Clone(s.Patterns)
	}
	return cfg
}

// Step is one operation against the universe.
type Step struct {
	// Action selects the operation; see the Action constants.
	Action string `yaml:"action"`

	Store string `yaml:"store,omitempty"`

	// Value is written by set and create.
	Value any `yaml:"value,omitempty"`

	// Branch names the branch for branch and switch.
	Branch string `yaml:"branch,omitempty"`

	// Source, Target, Strategy and FastForward configure merge.
	Source      string `yaml:"source,omitempty"`
	Target      string `yaml:"target,omitempty"`
	Strategy    string `yaml:"strategy,omitempty"`
	FastForward bool   `yaml:"fast_forward,omitempty"`

	// Snapshot labels the snapshot taken, or the one restored.
	Snapshot string `yaml:"snapshot,omitempty"`

	// Ticks and Series configure drive and tick.
	Ticks  int                   `yaml:"ticks,omitempty"`
	Series map[string]SeriesSpec `yaml:"series,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	ActionCreate   = "create"
	ActionSet      = "set"
	ActionDelete   = "delete"
	ActionBranch   = "branch"
	ActionSwitch   = "switch"
	ActionMerge    = "merge"
	ActionSnapshot = "snapshot"
	ActionRestore  = "restore"
	ActionStart    = "start"
	ActionPause    = "pause"
	ActionResume   = "resume"
	ActionDrive    = "drive"
	ActionTick     = "tick"
)

// SeriesSpec describes a synthetic signal for drive steps.
//
// Kinds and their fields:
//   - constant: value
//   - ramp:     start, slope
//   - sine:     amplitude, period, offset
//   - step:     before, after, at
//   - noise:    seed, scale
//
// A positive lag delays any kind by that many ticks.
type SeriesSpec struct {
	Kind      string  `yaml:"kind"`
	Value     float64 `yaml:"value,omitempty"`
	Start     float64 `yaml:"start,omitempty"`
	Slope     float64 `yaml:"slope,omitempty"`
	Amplitude float64 `yaml:"amplitude,omitempty"`
	Period    float64 `yaml:"period,omitempty"`
	Offset    float64 `yaml:"offset,omitempty"`
	Before    float64 `yaml:"before,omitempty"`
	After     float64 `yaml:"after,omitempty"`
	At        int     `yaml:"at,omitempty"`
	Seed      int64   `yaml:"seed,omitempty"`
	Scale     float64 `yaml:"scale,omitempty"`
	Lag       int     `yaml:"lag,omitempty"`
}

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

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Stores) == 0 {
		return fmt.Errorf("stores list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, st := range s.Stores {
		if st.Key == "" {
			return fmt.Errorf("store %d: key is required", i)
		}
	}
	for i, c := range s.Constraints {
		if c.Name == "" {
			return fmt.Errorf("constraint %d: name is required", i)
		}
		for j, r := range c.Relations {
			if r.Store == "" || r.From == "" {
				return fmt.Errorf("constraint %s: relation %d: store and from are required", c.Name, j)
			}
			switch r.Op {
			case OpCopy, OpAdd:
			case OpScale:
				if r.Factor == nil {
					return fmt.Errorf("constraint %s: relation %d: scale requires factor", c.Name, j)
				}
			default:
				return fmt.Errorf("constraint %s: relation %d: unknown op %q", c.Name, j, r.Op)
			}
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateStep(s Step) error {
	need := func(fields ...string) error {
		for _, f := range fields {
			var empty bool
			switch f {
			case "store":
				empty = s.Store == ""
			case "branch":
				empty = s.Branch == ""
			case "source":
				empty = s.Source == ""
			case "target":
				empty = s.Target == ""
			case "snapshot":
				empty = s.Snapshot == ""
			}
			if empty {
				return fmt.Errorf("%s requires %s", s.Action, f)
			}
		}
		return nil
	}

	switch s.Action {
	case ActionCreate, ActionSet, ActionDelete:
		return need("store")
	case ActionBranch, ActionSwitch:
		return need("store", "branch")
	case ActionMerge:
		if err := need("store", "source", "target"); err != nil {
			return err
		}
		if s.Strategy != "" {
			if _, err := parseStrategy(s.Strategy); err != nil {
				return err
			}
		}
		return nil
	case ActionSnapshot, ActionRestore:
		return need("snapshot")
	case ActionStart, ActionPause, ActionResume:
		return nil
	case ActionDrive:
		if s.Ticks <= 0 {
			return fmt.Errorf("drive requires ticks > 0")
		}
		if len(s.Series) == 0 {
			return fmt.Errorf("drive requires series")
		}
		for key, spec := range s.Series {
			if _, err := spec.build(); err != nil {
				return fmt.Errorf("series %s: %w", key, err)
			}
		}
		return nil
	case ActionTick:
		if s.Ticks <= 0 {
			return fmt.Errorf("tick requires ticks > 0")
		}
		return nil
	case "":
		return fmt.Errorf("action is required")
	}
	return fmt.Errorf("unknown action %q", s.Action)
}
