package store

import (
	"fmt"
	"slices"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
)

// Strategy decides divergent keys during a merge.
type Strategy string

const (
	// StrategyOurs keeps the target branch's value.
	StrategyOurs Strategy = "ours"

	// StrategyTheirs takes the source branch's value.
	StrategyTheirs Strategy = "theirs"

	// StrategyLastWrite takes the side whose head is deeper in the causal
	// graph; equal depth falls back to the later logical timestamp. The
	// result does not depend on which branch is source and which is target.
	StrategyLastWrite Strategy = "last-write"

	// StrategyManual writes nothing when keys diverge and returns a Conflict
	// for the caller to Resolve.
	StrategyManual Strategy = "manual"
)

// MergeTag is attached to every merge event.
const MergeTag = "merge"

// ParseStrategy converts a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(name)
	switch s {
	case StrategyOurs, StrategyTheirs, StrategyLastWrite, StrategyManual:
		return s, nil
	}
	return "", fmt.Errorf("unknown merge strategy %q", name)
}

// MergeOutcome describes what Merge did.
type MergeOutcome string

const (
	OutcomeNoOp        MergeOutcome = "noop"
	OutcomeFastForward MergeOutcome = "fast-forward"
	OutcomeMerged      MergeOutcome = "merged"
	OutcomeConflict    MergeOutcome = "conflict"
)

// MergeResult is returned by Merge. Event is set for OutcomeMerged,
// Conflict for OutcomeConflict.
type MergeResult struct {
	Outcome  MergeOutcome
	Event    causal.Event
	Conflict *Conflict
}

// Conflict describes a manual merge awaiting resolution.
type Conflict struct {
	Store       string
	Source      string
	Target      string
	SourceHead  string
	TargetHead  string
	BaseID      string
	Base        ir.IRValue
	SourceValue ir.IRValue
	TargetValue ir.IRValue
	Keys        []ConflictKey
}

// ConflictKey is one divergent key. Key is empty when the values are not
// both objects. A nil value means the key is absent on that side.
type ConflictKey struct {
	Key    string
	Base   ir.IRValue
	Source ir.IRValue
	Target ir.IRValue
}

// MergeOption configures Merge.
type MergeOption func(*mergeConfig)

type mergeConfig struct {
	fastForward bool
}

// FastForward moves target's head to source's head, without recording a
// merge event, when target is an ancestor of source.
func FastForward() MergeOption {
	return func(c *mergeConfig) {
		c.fastForward = true
	}
}

// Merge joins branch source into branch target.
//
//   - source == target, or source already contained in target: no-op
//   - target is an ancestor of source and FastForward is given: target's
//     head moves and no event is recorded
//   - otherwise the values are merged three-way against the common
//     ancestor and a merge event with causedBy [sourceHead, targetHead] is
//     appended to target
//
// Fast-forward is opt-in. Without FastForward, a target that is merely an
// ancestor of source still gets a two-parent merge event.
//
// Object values merge key by key; a key changed on only one side takes that
// side's value, and keys changed on both sides are decided by strategy.
func (s *Store) Merge(source, target string, strategy Strategy, opts ...MergeOption) (MergeResult, error) {
	var cfg mergeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return MergeResult{}, err
	}
	var result MergeResult
	err := s.mutate(func() ([]causal.Event, error) {
		r, err := s.merge(source, target, strategy, cfg)
		if err != nil {
			return nil, err
		}
		result = r
		if r.Outcome != OutcomeMerged {
			return nil, nil
		}
		return []causal.Event{r.Event}, nil
	})
	if err != nil {
		return MergeResult{}, err
	}
	return result, nil
}

// Resolve completes a manual merge with value. It fails with
// CONFLICT_UNRESOLVED if either branch moved after the conflict was reported.
func (s *Store) Resolve(c *Conflict, value ir.IRValue) (causal.Event, error) {
	if c == nil {
		return causal.Event{}, fmt.Errorf("resolve: nil conflict")
	}
	var merged causal.Event
	err := s.mutate(func() ([]causal.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		sh, okS := s.heads[c.Source]
		th, okT := s.heads[c.Target]
		if !okS || !okT || s.arena[sh].ID != c.SourceHead || s.arena[th].ID != c.TargetHead {
			return nil, &MergeError{
				Code:    ErrCodeConflictUnresolved,
				Store:   s.key,
				Source:  c.Source,
				Target:  c.Target,
				Message: "branch heads moved since the conflict was reported",
			}
		}
		merged = s.appendMergeLocked(c.Target, sh, th, value)
		return []causal.Event{merged}, nil
	})
	if err != nil {
		return causal.Event{}, err
	}
	return merged, nil
}

func (s *Store) merge(source, target string, strategy Strategy, cfg mergeConfig) (MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sh, ok := s.heads[source]
	if !ok {
		return MergeResult{}, fmt.Errorf("%w: %s", ErrUnknownBranch, source)
	}
	th, ok := s.heads[target]
	if !ok {
		return MergeResult{}, fmt.Errorf("%w: %s", ErrUnknownBranch, target)
	}
	if source == target || sh == th {
		return MergeResult{Outcome: OutcomeNoOp}, nil
	}

	g, err := s.graphLocked()
	if err != nil {
		return MergeResult{}, err
	}
	src, tgt := s.arena[sh], s.arena[th]

	if g.IsAncestor(src.ID, tgt.ID) {
		return MergeResult{Outcome: OutcomeNoOp}, nil
	}
	if cfg.fastForward && g.IsAncestor(tgt.ID, src.ID) {
		s.heads[target] = sh
		if target == s.active {
			s.current = ir.Clone(src.Value)
		}
		s.reach = nil
		s.logger.Debug("merge fast-forward", "store", s.key, "source", source, "target", target)
		return MergeResult{Outcome: OutcomeFastForward}, nil
	}

	base, ok, err := g.CommonAncestor(src.ID, tgt.ID)
	if err != nil {
		return MergeResult{}, err
	}
	if !ok {
		return MergeResult{}, &MergeError{
			Code:    ErrCodeNoCommonAncestor,
			Store:   s.key,
			Source:  source,
			Target:  target,
			Message: "histories are disjoint",
		}
	}

	winner, err := s.winnerLocked(g, strategy, src, tgt)
	if err != nil {
		return MergeResult{}, err
	}
	resolved, conflicts := mergeValues(base.Value, src.Value, tgt.Value, winner)

	if strategy == StrategyManual && len(conflicts) > 0 {
		return MergeResult{
			Outcome: OutcomeConflict,
			Conflict: &Conflict{
				Store:       s.key,
				Source:      source,
				Target:      target,
				SourceHead:  src.ID,
				TargetHead:  tgt.ID,
				BaseID:      base.ID,
				Base:        ir.Clone(base.Value),
				SourceValue: ir.Clone(src.Value),
				TargetValue: ir.Clone(tgt.Value),
				Keys:        conflicts,
			},
		}, nil
	}

	e := s.appendMergeLocked(target, sh, th, resolved)
	s.logger.Debug("merge recorded",
		"store", s.key,
		"source", source,
		"target", target,
		"strategy", strategy,
		"conflicts", len(conflicts),
		"event", e.ID,
	)
	return MergeResult{Outcome: OutcomeMerged, Event: e}, nil
}

// side names which branch wins a divergent key.
type side int

const (
	sideNone side = iota
	sideSource
	sideTarget
)

func (s *Store) winnerLocked(g *causal.Graph, strategy Strategy, src, tgt causal.Event) (side, error) {
	switch strategy {
	case StrategyOurs:
		return sideTarget, nil
	case StrategyTheirs:
		return sideSource, nil
	case StrategyManual:
		return sideNone, nil
	}
	ds, err := g.Depth(src.ID)
	if err != nil {
		return sideNone, err
	}
	dt, err := g.Depth(tgt.ID)
	if err != nil {
		return sideNone, err
	}
	switch {
	case ds > dt:
		return sideSource, nil
	case dt > ds:
		return sideTarget, nil
	case src.Timestamp >= tgt.Timestamp:
		return sideSource, nil
	}
	return sideTarget, nil
}

func (s *Store) appendMergeLocked(target string, sh, th int, value ir.IRValue) causal.Event {
	e := s.appendLocked(causal.KindUpdate, value, []int{sh, th}, causal.WithTags(MergeTag))
	h := len(s.arena) - 1
	s.heads[target] = h
	if target == s.active {
		s.current = ir.Clone(e.Value)
	}
	return e.Copy()
}

// mergeValues merges source and target three-way against base. Objects
// merge per key; any other pair of values is treated as a single key.
func mergeValues(base, source, target ir.IRValue, winner side) (ir.IRValue, []ConflictKey) {
	srcObj, okS := source.(ir.IRObject)
	tgtObj, okT := target.(ir.IRObject)
	if !okS || !okT {
		v, conflict := mergeKey("", base, true, source, true, target, true, winner)
		var conflicts []ConflictKey
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
		if v == nil {
			v = ir.IRNull{}
		}
		return v, conflicts
	}

	baseObj, _ := base.(ir.IRObject)
	keys := make(map[string]bool)
	for k := range baseObj {
		keys[k] = true
	}
	for k := range srcObj {
		keys[k] = true
	}
	for k := range tgtObj {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	slices.Sort(sorted)

	out := ir.IRObject{}
	var conflicts []ConflictKey
	for _, k := range sorted {
		b, hasB := baseObj[k]
		sv, hasS := srcObj[k]
		tv, hasT := tgtObj[k]
		v, conflict := mergeKey(k, b, hasB, sv, hasS, tv, hasT, winner)
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
		if v != nil {
			out[k] = v
		}
	}
	return out, conflicts
}

// mergeKey resolves one key. A nil result means the key is absent.
func mergeKey(key string, b ir.IRValue, hasB bool, sv ir.IRValue, hasS bool, tv ir.IRValue, hasT bool, winner side) (ir.IRValue, *ConflictKey) {
	pick := func(v ir.IRValue, ok bool) ir.IRValue {
		if !ok {
			return nil
		}
		return ir.Clone(v)
	}
	same := func(a ir.IRValue, okA bool, b ir.IRValue, okB bool) bool {
		return okA == okB && (!okA || ir.Equal(a, b))
	}

	switch {
	case same(sv, hasS, tv, hasT):
		return pick(sv, hasS), nil
	case same(sv, hasS, b, hasB):
		return pick(tv, hasT), nil
	case same(tv, hasT, b, hasB):
		return pick(sv, hasS), nil
	}

	conflict := &ConflictKey{Key: key, Base: pick(b, hasB), Source: pick(sv, hasS), Target: pick(tv, hasT)}
	switch winner {
	case sideSource:
		return pick(sv, hasS), conflict
	case sideTarget:
		return pick(tv, hasT), conflict
	}
	return nil, conflict
}
