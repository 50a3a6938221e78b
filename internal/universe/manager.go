package universe

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/store"
	"github.com/roach88/causalverse/internal/substrate"
)

// State is the lifecycle state of a universe.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateDestroyed State = "destroyed"
)

// Sink receives every accepted event, after subscribers have been notified.
// Implemented by the journals in internal/journal.
type Sink interface {
	Append(ctx context.Context, events []causal.Event) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithSubstrate installs the laws every mutation is enforced against.
func WithSubstrate(sub *substrate.Substrate) Option {
	return func(m *Manager) {
		m.substrate = sub
	}
}

// WithAutoRepair enables or disables repairs on the mutation path
// (default: enabled). Without repairs any violation rejects the mutation.
func WithAutoRepair(enabled bool) Option {
	return func(m *Manager) {
		m.autoRepair = enabled
	}
}

// WithMaxIterations sets the substrate round budget (default 10).
func WithMaxIterations(n int) Option {
	return func(m *Manager) {
		m.maxIterations = n
	}
}

// WithLogger sets the structured logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock stamps events and snapshots from c instead of the process clock.
func WithClock(c *causal.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithIDGenerator generates event and snapshot ids from g.
func WithIDGenerator(g causal.IDGenerator) Option {
	return func(m *Manager) {
		m.ids = g
	}
}

// WithSink streams accepted events to a durable journal. Sink failures are
// logged and do not fail the mutation.
func WithSink(s Sink) Option {
	return func(m *Manager) {
		m.sink = s
	}
}

// Manager is a UniverseManager.
type Manager struct {
	mu sync.Mutex

	id            string
	state         State
	order         []string
	stores        map[string]*store.Store
	substrate     *substrate.Substrate
	autoRepair    bool
	maxIterations int
	deps          [][2]string
	snapshots     map[string]Snapshot

	clock  *causal.Clock
	ids    causal.IDGenerator
	logger *slog.Logger
	sink   Sink
}

// New creates an idle universe with no stores.
func New(id string, opts ...Option) *Manager {
	m := &Manager{
		id:         id,
		state:      StateIdle,
		stores:     make(map[string]*store.Store),
		snapshots:  make(map[string]Snapshot),
		autoRepair: true,
		clock:      causal.ProcessClock(),
		ids:        causal.UUIDv7Generator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the universe id.
func (m *Manager) ID() string {
	return m.id
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Substrate returns the installed substrate, or nil.
func (m *Manager) Substrate() *substrate.Substrate {
	return m.substrate
}

// CreateStore creates a guarded store holding initial. The initial value is
// enforced like any other write; if the substrate rejects it, no store is
// created.
func (m *Manager) CreateStore(key string, initial ir.IRValue) (*store.Store, error) {
	m.mu.Lock()
	if m.state == StateDestroyed {
		m.mu.Unlock()
		return nil, m.destroyedError()
	}
	if _, exists := m.stores[key]; exists {
		m.mu.Unlock()
		return nil, &UniverseError{Code: ErrCodeStoreExists, Message: "store already exists", Universe: m.id, Store: key}
	}

	s, err := store.New(key, initial, m.storeOptions()...)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("universe %s: %w", m.id, err)
	}

	marks := m.markLocked()
	m.order = append(m.order, key)
	m.stores[key] = s

	if _, err := m.enforceLocked([]string{key}); err != nil {
		m.rollbackLocked(marks)
		m.order = m.order[:len(m.order)-1]
		delete(m.stores, key)
		m.mu.Unlock()
		return nil, err
	}
	published := m.sinceLocked(marks)
	m.mu.Unlock()

	m.logger.Info("store created", "universe", m.id, "store", key)
	m.deliver(published)
	return s, nil
}

// Store returns the store registered under key.
func (m *Manager) Store(key string) (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return nil, m.destroyedError()
	}
	s, ok := m.stores[key]
	if !ok {
		return nil, &UniverseError{Code: ErrCodeUnknownStore, Message: "no such store", Universe: m.id, Store: key}
	}
	return s, nil
}

// StoreKeys returns the store keys in creation order.
func (m *Manager) StoreKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// Value returns the current value of a store. It is the read-only view
// consumed by the emergence detector.
func (m *Manager) Value(key string) (ir.IRValue, bool) {
	m.mu.Lock()
	s, ok := m.stores[key]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return s.Get(), true
}

// Dependencies returns the distinct store -> store edges produced by
// relations so far, sorted.
func (m *Manager) Dependencies() [][2]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.deps)
}

// Start moves an idle universe to running.
func (m *Manager) Start() error {
	return m.transition(StateIdle, StateRunning)
}

// Pause stops a running universe from accepting mutations.
func (m *Manager) Pause() error {
	return m.transition(StateRunning, StatePaused)
}

// Resume moves a paused universe back to running.
func (m *Manager) Resume() error {
	return m.transition(StatePaused, StateRunning)
}

func (m *Manager) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return m.destroyedError()
	}
	if m.state != from {
		return &UniverseError{
			Code:     ErrCodeInvalidTransition,
			Message:  "cannot move from " + string(m.state) + " to " + string(to),
			Universe: m.id,
		}
	}
	m.state = to
	m.logger.Info("universe state changed", "universe", m.id, "from", from, "to", to)
	return nil
}

// Destroy releases every store and subscriber. Every later operation fails
// with DESTROYED; stores obtained earlier reject writes.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return m.destroyedError()
	}
	for _, s := range m.stores {
		s.Close()
	}
	m.stores = make(map[string]*store.Store)
	m.order = nil
	m.snapshots = make(map[string]Snapshot)
	m.deps = nil
	m.state = StateDestroyed
	m.logger.Info("universe destroyed", "universe", m.id)
	return nil
}

// Mutate implements store.Guard. It runs write and the substrate as one
// atomic step: either every resulting event is kept and published, or the
// universe is rolled back to where it was.
func (m *Manager) Mutate(s *store.Store, write func() ([]causal.Event, error)) error {
	m.mu.Lock()
	if err := m.writableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.stores[s.Key()] != s {
		m.mu.Unlock()
		return &UniverseError{Code: ErrCodeUnknownStore, Message: "store is not owned by this universe", Universe: m.id, Store: s.Key()}
	}

	marks := m.markLocked()
	events, err := write()
	if err != nil {
		m.rollbackLocked(marks)
		m.mu.Unlock()
		return err
	}
	if len(events) > 0 {
		if _, err := m.enforceLocked([]string{s.Key()}); err != nil {
			m.rollbackLocked(marks)
			m.mu.Unlock()
			m.logger.Warn("mutation rejected", "universe", m.id, "store", s.Key(), "error", err)
			return err
		}
	}
	published := m.sinceLocked(marks)
	m.mu.Unlock()

	m.deliver(published)
	return nil
}

// Validate checks every store against the installed substrate. With
// auto-repair on, violating values are repaired through the same guarded
// path as a mutation: the repairs and their reactions are published and
// appended to the sink, or rolled back together if a repair fails. With
// auto-repair off, violations are only reported.
func (m *Manager) Validate() (substrate.Report, error) {
	m.mu.Lock()
	check := m.writableLocked
	if !m.autoRepair {
		check = func() error {
			if m.state == StateDestroyed {
				return m.destroyedError()
			}
			return nil
		}
	}
	if err := check(); err != nil {
		m.mu.Unlock()
		return substrate.Report{}, err
	}

	marks := m.markLocked()
	report, err := substrate.ValidateSubstrate(m.worldLocked(), m.substrate, substrate.Options{
		AutoRepair:    m.autoRepair,
		MaxIterations: m.maxIterations,
		Logger:        m.logger,
	})
	if err != nil {
		m.rollbackLocked(marks)
		m.mu.Unlock()
		m.logger.Warn("validation failed", "universe", m.id, "error", err)
		return report, err
	}
	m.recordEdgesLocked(report)
	published := m.sinceLocked(marks)
	m.mu.Unlock()

	m.deliver(published)
	return report, nil
}

func (m *Manager) writableLocked() error {
	switch m.state {
	case StateDestroyed:
		return m.destroyedError()
	case StatePaused:
		return &UniverseError{Code: ErrCodePaused, Message: "universe is paused", Universe: m.id}
	}
	return nil
}

func (m *Manager) enforceLocked(changed []string) (substrate.Report, error) {
	report, err := substrate.Enforce(m.worldLocked(), m.substrate, changed, substrate.Options{
		AutoRepair:    m.autoRepair,
		MaxIterations: m.maxIterations,
		Logger:        m.logger,
	})
	if err != nil {
		return report, err
	}
	m.recordEdgesLocked(report)
	return report, nil
}

func (m *Manager) recordEdgesLocked(report substrate.Report) {
	for _, e := range report.Edges() {
		if !slices.Contains(m.deps, e) {
			m.deps = append(m.deps, e)
		}
	}
	slices.SortFunc(m.deps, func(a, b [2]string) int {
		if c := strings.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return strings.Compare(a[1], b[1])
	})
}

func (m *Manager) worldLocked() *substrate.StoreWorld {
	stores := make([]*store.Store, 0, len(m.order))
	for _, key := range m.order {
		stores = append(stores, m.stores[key])
	}
	return substrate.NewStoreWorld(stores...)
}

func (m *Manager) storeOptions() []store.Option {
	return []store.Option{
		store.WithUniverse(m.id),
		store.WithClock(m.clock),
		store.WithIDGenerator(m.ids),
		store.WithLogger(m.logger),
		store.WithGuard(m),
	}
}

// storeMark pairs a store with its pre-mutation mark.
type storeMark struct {
	store *store.Store
	mark  store.Mark
}

func (m *Manager) markLocked() []storeMark {
	marks := make([]storeMark, 0, len(m.order))
	for _, key := range m.order {
		s := m.stores[key]
		marks = append(marks, storeMark{store: s, mark: s.Mark()})
	}
	return marks
}

func (m *Manager) rollbackLocked(marks []storeMark) {
	for _, sm := range marks {
		sm.store.Rollback(sm.mark)
	}
}

// published is one store's accepted events.
type published struct {
	store  *store.Store
	events []causal.Event
}

func (m *Manager) sinceLocked(marks []storeMark) []published {
	var out []published
	seen := make(map[*store.Store]bool, len(marks))
	for _, sm := range marks {
		seen[sm.store] = true
		if events := sm.store.Since(sm.mark); len(events) > 0 {
			out = append(out, published{store: sm.store, events: events})
		}
	}
	// stores created during this mutation have no mark
	for _, key := range m.order {
		s := m.stores[key]
		if !seen[s] {
			out = append(out, published{store: s, events: s.Events()})
		}
	}
	return out
}

// deliver notifies subscribers, then the sink. Called without the lock.
func (m *Manager) deliver(batches []published) {
	var all []causal.Event
	for _, b := range batches {
		b.store.Publish(b.events...)
		all = append(all, b.events...)
	}
	if m.sink == nil || len(all) == 0 {
		return
	}
	if err := m.sink.Append(context.Background(), all); err != nil {
		m.logger.Error("journal append failed", "universe", m.id, "events", len(all), "error", err)
	}
}

func (m *Manager) destroyedError() *UniverseError {
	return &UniverseError{Code: ErrCodeDestroyed, Message: "universe has been destroyed", Universe: m.id}
}
