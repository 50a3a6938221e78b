package substrate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/causalverse/internal/ir"
)

// State is a read-only view of every store's current value.
type State map[string]ir.IRValue

// Invariant is a named predicate over one store value.
type Invariant struct {
	Name  string
	Holds func(value ir.IRValue) bool
}

// Relation recomputes StoreKey whenever a store the constraint applies to
// changes. React receives StoreKey's current value and a snapshot of all
// stores, and returns StoreKey's new value. Returning a value equal to the
// current one writes nothing.
type Relation struct {
	StoreKey string
	React    func(local ir.IRValue, world State) ir.IRValue
}

// Constraint declares invariants over a set of stores, with an optional
// repair and optional cross-store relations.
//
// Stores limits which stores the invariants apply to and which stores
// trigger the relations; empty means every store.
type Constraint struct {
	Name       string
	Stores     []string
	Invariants []Invariant
	Repair     func(value ir.IRValue) ir.IRValue
	Relations  []Relation
}

// AppliesTo reports whether the constraint covers store key.
func (c Constraint) AppliesTo(key string) bool {
	return len(c.Stores) == 0 || slices.Contains(c.Stores, key)
}

// Substrate is a named, ordered collection of constraints.
type Substrate struct {
	Name        string
	Constraints []Constraint
}

// DefineConstraint validates a constraint declaration and returns a copy
// that later edits to c's slices cannot affect.
func DefineConstraint(c Constraint) (Constraint, error) {
	invalid := func(format string, args ...any) error {
		return &SubstrateError{
			Code:       ErrCodeInvalidConstraint,
			Message:    fmt.Sprintf(format, args...),
			Constraint: c.Name,
		}
	}

	if c.Name == "" {
		return Constraint{}, invalid("constraint name is empty")
	}
	if len(c.Invariants) == 0 && len(c.Relations) == 0 {
		return Constraint{}, invalid("constraint declares neither invariants nor relations")
	}
	for i, inv := range c.Invariants {
		if inv.Name == "" {
			return Constraint{}, invalid("invariant %d has no name", i)
		}
		if inv.Holds == nil {
			return Constraint{}, invalid("invariant %s has no predicate", inv.Name)
		}
	}
	for i, rel := range c.Relations {
		if rel.StoreKey == "" {
			return Constraint{}, invalid("relation %d has no store key", i)
		}
		if rel.React == nil {
			return Constraint{}, invalid("relation on %s has no reaction", rel.StoreKey)
		}
	}

	return Constraint{
		Name:       c.Name,
		Stores:     slices.Clone(c.Stores),
		Invariants: slices.Clone(c.Invariants),
		Repair:     c.Repair,
		Relations:  slices.Clone(c.Relations),
	}, nil
}

// NewSubstrate validates constraints and collects them under name.
// Declaration order is preserved; it is the order relations fire in.
func NewSubstrate(name string, constraints ...Constraint) (*Substrate, error) {
	if name == "" {
		return nil, &SubstrateError{Code: ErrCodeInvalidConstraint, Message: "substrate name is empty"}
	}
	seen := make(map[string]bool, len(constraints))
	sub := &Substrate{Name: name}
	for _, c := range constraints {
		defined, err := DefineConstraint(c)
		if err != nil {
			var se *SubstrateError
			if errors.As(err, &se) {
				se.Substrate = name
			}
			return nil, err
		}
		if seen[defined.Name] {
			return nil, &SubstrateError{
				Code:       ErrCodeInvalidConstraint,
				Message:    "duplicate constraint name",
				Substrate:  name,
				Constraint: defined.Name,
			}
		}
		seen[defined.Name] = true
		sub.Constraints = append(sub.Constraints, defined)
	}
	return sub, nil
}

// Violation is one invariant that does not hold.
type Violation struct {
	Constraint string
	Invariant  string
	Store      string
	Value      ir.IRValue
}

// Result is the outcome of ValidateState.
type Result struct {
	Valid      bool
	Violations []Violation
}

// Reader is the read side of a store.
type Reader interface {
	Key() string
	Get() ir.IRValue
}

// ValidateState runs every invariant of c against the store's current value.
// A constraint that does not apply to the store is trivially valid.
func ValidateState(s Reader, c Constraint) Result {
	return validateValue(s.Key(), s.Get(), c)
}

func validateValue(key string, value ir.IRValue, c Constraint) Result {
	res := Result{Valid: true}
	if !c.AppliesTo(key) {
		return res
	}
	for _, inv := range c.Invariants {
		if !inv.Holds(value) {
			res.Valid = false
			res.Violations = append(res.Violations, Violation{
				Constraint: c.Name,
				Invariant:  inv.Name,
				Store:      key,
				Value:      ir.Clone(value),
			})
		}
	}
	return res
}
