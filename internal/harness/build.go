package harness

import (
	"fmt"
	"math"

	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/store"
	"github.com/roach88/causalverse/internal/substrate"
	"github.com/roach88/causalverse/internal/testutil"
)

// buildSubstrate compiles the scenario's constraints. Returns nil when the
// scenario declares none.
func buildSubstrate(name string, specs []ConstraintSpec) (*substrate.Substrate, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	constraints := make([]substrate.Constraint, 0, len(specs))
	for _, spec := range specs {
		c := substrate.Constraint{Name: spec.Name, Stores: spec.Stores}
		for _, inv := range spec.Invariants {
			compiled, err := substrate.CUEInvariant(inv.Name, inv.CUE)
			if err != nil {
				return nil, fmt.Errorf("constraint %s: %w", spec.Name, err)
			}
			c.Invariants = append(c.Invariants, compiled)
		}
		if spec.Repair != nil {
			c.Repair = clampRepair(spec.Repair.Min, spec.Repair.Max)
		}
		for _, rel := range spec.Relations {
			c.Relations = append(c.Relations, buildRelation(rel))
		}
		constraints = append(constraints, c)
	}
	return substrate.NewSubstrate(name, constraints...)
}

// clampRepair moves numeric values into [min, max]. Integers stay integers
// when the bound is integral.
func clampRepair(min, max *float64) func(ir.IRValue) ir.IRValue {
	return func(v ir.IRValue) ir.IRValue {
		f, ok := ir.Numeric(v)
		if !ok {
			return v
		}
		switch {
		case min != nil && f < *min:
			return number(*min, isInt(v))
		case max != nil && f > *max:
			return number(*max, isInt(v))
		}
		return v
	}
}

func buildRelation(spec RelationSpec) substrate.Relation {
	return substrate.Relation{
		StoreKey: spec.Store,
		React: func(local ir.IRValue, world substrate.State) ir.IRValue {
			from, ok := world[spec.From]
			if !ok {
				return local
			}
			fv, ok := ir.Numeric(from)
			if !ok {
				return local
			}
			switch spec.Op {
			case OpCopy:
				return ir.Clone(from)
			case OpScale:
				return number(*spec.Factor*fv, isInt(from))
			case OpAdd:
				lv, ok := ir.Numeric(local)
				if !ok {
					return local
				}
				return number(lv+fv, isInt(local) && isInt(from))
			}
			return local
		},
	}
}

func isInt(v ir.IRValue) bool {
	_, ok := v.(ir.IRInt)
	return ok
}

// number returns f as an IRInt when integral is requested and f has no
// fractional part.
func number(f float64, integral bool) ir.IRValue {
	if integral && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return ir.IRInt(int64(f))
	}
	return ir.IRFloat(f)
}

func (s SeriesSpec) build() (testutil.Series, error) {
	var series testutil.Series
	switch s.Kind {
	case "constant":
		series = testutil.Constant(s.Value)
	case "ramp":
		series = testutil.Ramp(s.Start, s.Slope)
	case "sine":
		if s.Period <= 0 {
			return nil, fmt.Errorf("sine requires period > 0")
		}
		series = testutil.Sine(s.Amplitude, s.Period, s.Offset)
	case "step":
		series = testutil.Step(s.Before, s.After, s.At)
	case "noise":
		scale := s.Scale
		if scale == 0 {
			scale = 1
		}
		series = testutil.Noise(s.Seed, scale)
	default:
		return nil, fmt.Errorf("unknown series kind %q", s.Kind)
	}
	if s.Lag < 0 {
		return nil, fmt.Errorf("lag must not be negative")
	}
	if s.Lag > 0 {
		series = testutil.Delay(series, s.Lag, 0)
	}
	return series, nil
}

func parseStrategy(name string) (store.Strategy, error) {
	if name == "" {
		return store.StrategyLastWrite, nil
	}
	return store.ParseStrategy(name)
}
