package substrate

import (
	"fmt"
	"log/slog"

	"github.com/roach88/causalverse/internal/ir"
)

// Options configures validation and enforcement.
type Options struct {
	// AutoRepair applies a constraint's Repair to a violating value and
	// re-validates once.
	AutoRepair bool

	// MaxIterations bounds the number of rounds (default 10).
	MaxIterations int

	// Logger receives repair and divergence events (default slog.Default()).
	Logger *slog.Logger
}

// Repair records one applied repair.
type Repair struct {
	Constraint string
	Store      string
	Before     ir.IRValue
	After      ir.IRValue
}

// Reaction records one relation that wrote a new value.
type Reaction struct {
	Constraint string
	Source     string // the store whose change fired the relation
	Target     string // the store the relation wrote
	Value      ir.IRValue
}

// Report is the outcome of ValidateSubstrate and Enforce.
type Report struct {
	Valid      bool
	Violations []Violation
	Repairs    []Repair
	Reactions  []Reaction
	Rounds     int
}

// Edges returns the distinct source -> target store pairs of the reactions,
// in first-seen order.
func (r Report) Edges() [][2]string {
	seen := make(map[[2]string]bool)
	var edges [][2]string
	for _, re := range r.Reactions {
		e := [2]string{re.Source, re.Target}
		if !seen[e] {
			seen[e] = true
			edges = append(edges, e)
		}
	}
	return edges
}

// ValidateSubstrate checks every store against every applicable constraint.
//
// Without AutoRepair, violations are returned in the report (Valid=false)
// and nothing is written. With AutoRepair, each violation is repaired and
// re-validated once; a missing repair or a repaired value that still fails
// is a terminal INVARIANT_VIOLATION. Repairs are propagated through
// relations like any other write.
func ValidateSubstrate(w World, sub *Substrate, opts Options) (Report, error) {
	return run(w, sub, nil, opts, false)
}

// Enforce propagates a mutation of the changed stores: relations fire,
// invariants are checked and repaired, and the loop repeats until no round
// writes anything. Unlike ValidateSubstrate, any violation that cannot be
// repaired is an error, so the caller can reject the mutation.
func Enforce(w World, sub *Substrate, changed []string, opts Options) (Report, error) {
	return run(w, sub, changed, opts, true)
}

func run(w World, sub *Substrate, changed []string, opts Options, strict bool) (Report, error) {
	report := Report{Valid: true}
	if sub == nil {
		return report, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queue := newWorkQueue(changed...)
	budget := newRoundBudget(opts.MaxIterations)

	for {
		if err := budget.Check(sub.Name); err != nil {
			logger.Warn("substrate diverged",
				"substrate", sub.Name,
				"rounds", report.Rounds,
				"reactions", len(report.Reactions),
				"repairs", len(report.Repairs),
			)
			return report, err
		}
		report.Rounds = budget.Current()

		for _, source := range queue.Generation() {
			if err := fireRelations(w, sub, source, queue, &report, logger); err != nil {
				return report, err
			}
		}

		violations, err := checkInvariants(w, sub, opts, strict, queue, &report, logger)
		if err != nil {
			return report, err
		}
		if len(violations) > 0 {
			report.Valid = false
			report.Violations = violations
			return report, nil
		}
		if queue.Len() == 0 {
			return report, nil
		}
	}
}

// fireRelations runs, in declaration order, every relation of every
// constraint that applies to source.
func fireRelations(w World, sub *Substrate, source string, queue *workQueue, report *Report, logger *slog.Logger) error {
	for _, c := range sub.Constraints {
		if len(c.Relations) == 0 || !c.AppliesTo(source) {
			continue
		}
		for _, rel := range c.Relations {
			local, ok := w.Value(rel.StoreKey)
			if !ok {
				continue
			}
			next := rel.React(local, snapshot(w))
			if next == nil {
				next = ir.IRNull{}
			}
			if ir.Equal(next, local) {
				continue
			}
			if err := w.Write(rel.StoreKey, next); err != nil {
				return fmt.Errorf("relation %s -> %s: %w", c.Name, rel.StoreKey, err)
			}
			report.Reactions = append(report.Reactions, Reaction{
				Constraint: c.Name,
				Source:     source,
				Target:     rel.StoreKey,
				Value:      ir.Clone(next),
			})
			logger.Debug("relation fired",
				"substrate", sub.Name,
				"constraint", c.Name,
				"source", source,
				"target", rel.StoreKey,
			)
			queue.Enqueue(rel.StoreKey)
		}
	}
	return nil
}

// checkInvariants validates every store in world order. It returns the
// violations left unrepaired when repair is disabled and strict is false.
func checkInvariants(w World, sub *Substrate, opts Options, strict bool, queue *workQueue, report *Report, logger *slog.Logger) ([]Violation, error) {
	var remaining []Violation
	for _, key := range w.StoreKeys() {
		for _, c := range sub.Constraints {
			value, ok := w.Value(key)
			if !ok {
				continue
			}
			res := validateValue(key, value, c)
			if res.Valid {
				continue
			}
			first := res.Violations[0]

			if !opts.AutoRepair && !strict {
				remaining = append(remaining, res.Violations...)
				continue
			}
			if !opts.AutoRepair || c.Repair == nil {
				return nil, violationError(sub, first, "invariant does not hold and no repair applies")
			}

			repaired := c.Repair(ir.Clone(value))
			if repaired == nil {
				repaired = ir.IRNull{}
			}
			if again := validateValue(key, repaired, c); !again.Valid {
				return nil, violationError(sub, again.Violations[0], "invariant still fails after repair")
			}
			if err := w.Write(key, repaired); err != nil {
				return nil, fmt.Errorf("repair %s on %s: %w", c.Name, key, err)
			}
			report.Repairs = append(report.Repairs, Repair{
				Constraint: c.Name,
				Store:      key,
				Before:     ir.Clone(value),
				After:      ir.Clone(repaired),
			})
			logger.Info("invariant repaired",
				"substrate", sub.Name,
				"constraint", c.Name,
				"invariant", first.Invariant,
				"store", key,
			)
			queue.Enqueue(key)
		}
	}
	return remaining, nil
}

func violationError(sub *Substrate, v Violation, msg string) *SubstrateError {
	return &SubstrateError{
		Code:       ErrCodeInvariantViolation,
		Message:    msg,
		Substrate:  sub.Name,
		Constraint: v.Constraint,
		Store:      v.Store,
		Invariant:  v.Invariant,
	}
}
