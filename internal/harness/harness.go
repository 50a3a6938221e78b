package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/emergence"
	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/store"
	"github.com/roach88/causalverse/internal/substrate"
	"github.com/roach88/causalverse/internal/testutil"
	"github.com/roach88/causalverse/internal/universe"
)

// DefaultUniverse is the universe id used when a scenario names none.
const DefaultUniverse = "scenario"

// Harness is the scenario execution engine.
// It runs steps against one universe with deterministic clocks and ids.
type Harness struct {
	universe  *universe.Manager
	detector  *emergence.Detector
	snapshots map[string]universe.Snapshot
	result    *Result
	step      int
	driving   bool
	logger    *slog.Logger
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
	sink   universe.Sink
}

// WithLogger routes universe and detector logs to l. Logs are discarded by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithSink journals every accepted event to s in addition to tracing it.
func WithSink(s universe.Sink) Option {
	return func(c *runConfig) {
		c.sink = s
	}
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Build the substrate and a fresh universe
//  2. Create the declared stores
//  3. Execute steps, tracing accepted events and rejected steps
//  4. Record final state and evaluate assertions
//
// An error is returned only when the scenario cannot be set up; step
// failures and failed assertions are reported in Result.Errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := newHarness(scenario, opts...)
	if err != nil {
		return nil, err
	}
	// stores declared up front are traced as step -1
	h.step = -1
	for _, spec := range scenario.Stores {
		initial, err := ir.FromGo(spec.Initial)
		if err != nil {
			return nil, fmt.Errorf("store %s: initial value: %w", spec.Key, err)
		}
		if _, err := h.universe.CreateStore(spec.Key, initial); err != nil {
			return nil, fmt.Errorf("failed to create store %s: %w", spec.Key, err)
		}
	}

	for i, step := range scenario.Steps {
		h.step = i
		err := h.execute(step)
		h.check(step, err)
	}

	for _, key := range h.universe.StoreKeys() {
		if v, ok := h.universe.Value(key); ok {
			h.result.State[key] = v
		}
	}
	h.result.Patterns = h.detector.Patterns(emergence.Filter{})

	actx := &AssertionContext{Universe: h.universe, Detector: h.detector}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(scenario *Scenario, opts ...Option) (*Harness, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := scenario.Universe
	if id == "" {
		id = DefaultUniverse
	}
	sub, err := buildSubstrate(id, scenario.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to build substrate: %w", err)
	}

	h := &Harness{
		snapshots: make(map[string]universe.Snapshot),
		result:    NewResult(),
		logger:    cfg.logger,
	}

	autoRepair := true
	if scenario.AutoRepair != nil {
		autoRepair = *scenario.AutoRepair
	}
	uopts := []universe.Option{
		universe.WithClock(causal.NewClock()),
		universe.WithIDGenerator(causal.NewSequenceGenerator("e")),
		universe.WithLogger(cfg.logger),
		universe.WithAutoRepair(autoRepair),
		universe.WithSink(&traceSink{h: h, next: cfg.sink}),
	}
	if sub != nil {
		uopts = append(uopts, universe.WithSubstrate(sub))
	}
	if scenario.MaxIterations > 0 {
		uopts = append(uopts, universe.WithMaxIterations(scenario.MaxIterations))
	}
	h.universe = universe.New(id, uopts...)

	clock := testutil.NewDeterministicClock(time.Unix(0, 0), 100*time.Millisecond)
	h.detector = emergence.New(h.universe,
		emergence.WithLogger(cfg.logger),
		emergence.WithNow(clock.Now),
	)
	if err := h.detector.Configure(scenario.Emergence.Config()); err != nil {
		return nil, fmt.Errorf("failed to configure detector: %w", err)
	}
	return h, nil
}

// traceSink records accepted events in the trace, then forwards them.
type traceSink struct {
	h    *Harness
	next universe.Sink
}

func (s *traceSink) Append(ctx context.Context, events []causal.Event) error {
	if !s.h.driving {
		for _, e := range events {
			s.h.result.add(TraceEvent{
				Type:    TraceAccepted,
				Step:    s.h.step,
				Store:   e.StoreKey,
				Kind:    string(e.Kind),
				Value:   ir.Clone(e.Value),
				Parents: len(e.CausedBy),
				Tags:    slices.Clone(e.Tags),
			})
		}
	}
	if s.next == nil {
		return nil
	}
	return s.next.Append(ctx, events)
}

// check compares a step's outcome with its expectation.
func (h *Harness) check(step Step, err error) {
	if err != nil {
		h.result.add(TraceEvent{
			Type:   TraceRejected,
			Step:   h.step,
			Store:  step.Store,
			Action: step.Action,
			Error:  errorCode(err),
		})
	}
	switch {
	case err != nil && step.ExpectError == "":
		h.result.AddError(fmt.Sprintf("step %d (%s): unexpected error: %v", h.step, step.Action, err))
	case err == nil && step.ExpectError != "":
		h.result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got none", h.step, step.Action, step.ExpectError))
	case err != nil && errorCode(err) != step.ExpectError:
		h.result.AddError(fmt.Sprintf("step %d (%s): expected error %s, got %s", h.step, step.Action, step.ExpectError, errorCode(err)))
	}
}

func (h *Harness) execute(step Step) error {
	switch step.Action {
	case ActionCreate:
		v, err := ir.FromGo(step.Value)
		if err != nil {
			return err
		}
		_, err = h.universe.CreateStore(step.Store, v)
		return err
	case ActionSet:
		s, err := h.universe.Store(step.Store)
		if err != nil {
			return err
		}
		v, err := ir.FromGo(step.Value)
		if err != nil {
			return err
		}
		return s.Set(v)
	case ActionDelete:
		s, err := h.universe.Store(step.Store)
		if err != nil {
			return err
		}
		return s.Delete()
	case ActionBranch:
		s, err := h.universe.Store(step.Store)
		if err != nil {
			return err
		}
		return s.Branch(step.Branch)
	case ActionSwitch:
		s, err := h.universe.Store(step.Store)
		if err != nil {
			return err
		}
		return s.SwitchBranch(step.Branch)
	case ActionMerge:
		return h.merge(step)
	case ActionSnapshot:
		snap, err := h.universe.Snapshot()
		if err != nil {
			return err
		}
		h.snapshots[step.Snapshot] = snap
		return nil
	case ActionRestore:
		snap, ok := h.snapshots[step.Snapshot]
		if !ok {
			return &universe.UniverseError{
				Code:     universe.ErrCodeUnknownSnapshot,
				Message:  "no snapshot labelled " + step.Snapshot,
				Universe: h.universe.ID(),
				Snapshot: step.Snapshot,
			}
		}
		return h.universe.Restore(snap)
	case ActionStart:
		return h.universe.Start()
	case ActionPause:
		return h.universe.Pause()
	case ActionResume:
		return h.universe.Resume()
	case ActionDrive:
		return h.drive(step)
	case ActionTick:
		for range step.Ticks {
			h.detector.Tick()
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", step.Action)
}

func (h *Harness) merge(step Step) error {
	s, err := h.universe.Store(step.Store)
	if err != nil {
		return err
	}
	strategy, err := parseStrategy(step.Strategy)
	if err != nil {
		return err
	}
	var opts []store.MergeOption
	if step.FastForward {
		opts = append(opts, store.FastForward())
	}
	res, err := s.Merge(step.Source, step.Target, strategy, opts...)
	if err != nil {
		return err
	}
	if res.Outcome == store.OutcomeConflict {
		return &store.MergeError{
			Code:    store.ErrCodeConflictUnresolved,
			Store:   step.Store,
			Source:  step.Source,
			Target:  step.Target,
			Message: "manual merge left conflicts unresolved",
		}
	}
	return nil
}

// drive writes each series into its store once per tick, in key order,
// then samples the detector.
func (h *Harness) drive(step Step) error {
	keys := make([]string, 0, len(step.Series))
	series := make(map[string]testutil.Series, len(step.Series))
	for key, spec := range step.Series {
		s, err := spec.build()
		if err != nil {
			return fmt.Errorf("series %s: %w", key, err)
		}
		keys = append(keys, key)
		series[key] = s
	}
	slices.Sort(keys)

	stores := make(map[string]*store.Store, len(keys))
	for _, key := range keys {
		s, err := h.universe.Store(key)
		if err != nil {
			return err
		}
		stores[key] = s
	}

	h.driving = true
	defer func() { h.driving = false }()
	h.result.add(TraceEvent{Type: TraceDrive, Step: h.step, Ticks: step.Ticks})

	for tick := range step.Ticks {
		for _, key := range keys {
			if err := stores[key].Set(ir.IRFloat(series[key](tick))); err != nil {
				return fmt.Errorf("tick %d: %w", tick, err)
			}
		}
		h.detector.Tick()
	}
	return nil
}

// errorCode extracts the code of a typed error, or "ERROR".
func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrUnknownBranch):
		return "UNKNOWN_BRANCH"
	case errors.Is(err, store.ErrBranchExists):
		return "BRANCH_EXISTS"
	}
	var (
		ue *universe.UniverseError
		se *substrate.SubstrateError
		te *store.TemporalError
		me *store.MergeError
		ge *causal.GraphError
	)
	switch {
	case errors.As(err, &ue):
		return string(ue.Code)
	case errors.As(err, &se):
		return string(se.Code)
	case errors.As(err, &te):
		return string(te.Code)
	case errors.As(err, &me):
		return string(me.Code)
	case errors.As(err, &ge):
		return string(ge.Code)
	}
	return "ERROR"
}
