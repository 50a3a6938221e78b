package store

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
)

// DefaultBranch is the branch every store starts on.
const DefaultBranch = "main"

// Subscriber is notified of every accepted event with the value it produced.
type Subscriber func(value ir.IRValue, event causal.Event)

// Guard intercepts writes to a store owned by a larger structure.
//
// Mutate must call write exactly once, and is responsible for publishing
// the resulting events (see Store.Publish) once the write is accepted.
// write returns the events it appended; a write that only moved pointers
// returns none.
type Guard interface {
	Mutate(s *Store, write func() ([]causal.Event, error)) error
}

// Option configures a Store.
type Option func(*Store)

// WithUniverse sets the universe id stamped on new events.
func WithUniverse(id string) Option {
	return func(s *Store) {
		s.universeID = id
	}
}

// WithClock stamps events from c instead of the process clock.
func WithClock(c *causal.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithIDGenerator overrides the UUIDv7 event id generator.
func WithIDGenerator(g causal.IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// WithObserver records observerID on every new event.
func WithObserver(observerID string) Option {
	return func(s *Store) {
		s.observerID = observerID
	}
}

// WithLogger sets the structured logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithGuard routes writes through g.
func WithGuard(g Guard) Option {
	return func(s *Store) {
		s.guard = g
	}
}

// Store is a CausalStore.
type Store struct {
	mu sync.RWMutex

	key        string
	universeID string
	observerID string
	clock      *causal.Clock
	ids        causal.IDGenerator
	logger     *slog.Logger
	guard      Guard

	arena    []causal.Event
	index    map[string]int
	parents  [][]int
	heads    map[string]int
	active   string
	detached []int
	current  ir.IRValue

	subscribers []subscription
	nextSub     int

	// caches, rebuilt on demand
	graph   *causal.Graph
	reach   map[int]bool
	lineage lineageCache
}

type subscription struct {
	id int
	fn Subscriber
}

type lineageCache struct {
	head    int
	handles []int // sorted by (timestamp, handle)
}

// New creates a store whose history starts with a create event for initial.
func New(key string, initial ir.IRValue, opts ...Option) (*Store, error) {
	if key == "" {
		return nil, fmt.Errorf("store key must not be empty")
	}
	s := newEmpty(key, opts...)
	e := s.appendLocked(causal.KindCreate, initial, nil)
	s.heads[DefaultBranch] = 0
	s.active = DefaultBranch
	s.current = ir.Clone(e.Value)
	return s, nil
}

func newEmpty(key string, opts ...Option) *Store {
	s := &Store{
		key:     key,
		clock:   causal.ProcessClock(),
		ids:     causal.UUIDv7Generator{},
		logger:  slog.Default(),
		index:   make(map[string]int),
		heads:   make(map[string]int),
		lineage: lineageCache{head: -1},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the store key.
func (s *Store) Key() string {
	return s.key
}

// UniverseID returns the universe id stamped on new events.
func (s *Store) UniverseID() string {
	return s.universeID
}

// Get returns the value at the active branch head.
func (s *Store) Get() ir.IRValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ir.Clone(s.current)
}

// Head returns the event at the active branch head.
func (s *Store) Head() causal.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena[s.heads[s.active]].Copy()
}

// HeadOf returns the head event of a branch.
func (s *Store) HeadOf(branch string) (causal.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.heads[branch]
	if !ok {
		return causal.Event{}, fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	return s.arena[h].Copy(), nil
}

// Set records value as a new event on the active branch.
func (s *Store) Set(value ir.IRValue) error {
	return s.mutate(func() ([]causal.Event, error) {
		return []causal.Event{s.Record(causal.KindUpdate, value)}, nil
	})
}

// Delete records a delete event; the store value becomes null.
func (s *Store) Delete() error {
	return s.mutate(func() ([]causal.Event, error) {
		return []causal.Event{s.Record(causal.KindDelete, ir.IRNull{})}, nil
	})
}

// Record appends an event on the active branch without consulting the
// guard or notifying subscribers. It is the write-back path for guards and
// constraint reactions, which publish once the whole mutation is accepted.
func (s *Store) Record(kind causal.Kind, value ir.IRValue) causal.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.heads[s.active]
	e := s.appendLocked(kind, value, []int{head})
	h := len(s.arena) - 1
	s.heads[s.active] = h
	s.current = ir.Clone(e.Value)

	s.logger.Debug("event recorded",
		"store", s.key,
		"branch", s.active,
		"event", e.ID,
		"kind", e.Kind,
	)
	return e.Copy()
}

// Subscribe registers fn for every accepted event. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.subscribers = append(s.subscribers, subscription{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.subscribers = slices.DeleteFunc(s.subscribers, func(sub subscription) bool {
			return sub.id == id
		})
	}
}

// Publish notifies subscribers of events, in order. Must not be called
// while holding a lock the subscribers may need.
func (s *Store) Publish(events ...causal.Event) {
	if len(events) == 0 {
		return
	}
	s.mu.RLock()
	subs := slices.Clone(s.subscribers)
	s.mu.RUnlock()

	for _, e := range events {
		for _, sub := range subs {
			sub.fn(ir.Clone(e.Value), e.Copy())
		}
	}
}

// Close drops every subscriber. The history stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = nil
}

// Branch creates a branch pointing at the active head. No events are copied.
func (s *Store) Branch(name string) error {
	return s.mutate(func() ([]causal.Event, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if name == "" {
			return nil, fmt.Errorf("branch name must not be empty")
		}
		if _, exists := s.heads[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrBranchExists, name)
		}
		s.heads[name] = s.heads[s.active]
		return nil, nil
	})
}

// SwitchBranch makes name the active branch for Get and Set.
func (s *Store) SwitchBranch(name string) error {
	return s.mutate(func() ([]causal.Event, error) {
		return nil, s.Activate(name)
	})
}

// Activate switches the active branch without consulting the guard.
func (s *Store) Activate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.heads[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, name)
	}
	s.active = name
	s.current = ir.Clone(s.arena[h].Value)
	return nil
}

// Has reports whether eventID is in the store's arena.
func (s *Store) Has(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[eventID]
	return ok
}

// ActiveBranch returns the name of the active branch.
func (s *Store) ActiveBranch() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Branches returns the branch pointers and detached tips.
func (s *Store) Branches() BranchState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.branchStateLocked()
}

func (s *Store) branchStateLocked() BranchState {
	st := BranchState{
		Active: s.active,
		Heads:  make(map[string]string, len(s.heads)),
	}
	for name, h := range s.heads {
		st.Heads[name] = s.arena[h].ID
	}
	for _, h := range s.detached {
		st.Detached = append(st.Detached, s.arena[h].ID)
	}
	return st
}

// ResetHead moves branch to the event id without creating events. If the
// old head is not an ancestor of the new one it is kept as a detached tip,
// so AtEvent can still address it.
func (s *Store) ResetHead(branch, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.heads[branch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	h, ok := s.index[eventID]
	if !ok {
		return &TemporalError{Code: ErrCodeUnknownEvent, Store: s.key, EventID: eventID}
	}
	if old == h {
		return nil
	}
	if !s.reachesLocked(h, old) && !slices.Contains(s.detached, old) {
		s.detached = append(s.detached, old)
	}
	s.heads[branch] = h
	if branch == s.active {
		s.current = ir.Clone(s.arena[h].Value)
	}
	s.pruneDetachedLocked()
	s.reach = nil
	s.logger.Debug("head reset", "store", s.key, "branch", branch, "event", eventID)
	return nil
}

// At returns the value of the latest event on the active branch's history
// whose timestamp is at or before ts.
func (s *Store) At(ts int64) (ir.IRValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lin := s.lineageLocked(s.heads[s.active])
	i := sort.Search(len(lin), func(i int) bool {
		return s.arena[lin[i]].Timestamp > ts
	}) - 1
	if i < 0 {
		return nil, &TemporalError{Code: ErrCodeBeforeGenesis, Store: s.key, Timestamp: ts}
	}
	return ir.Clone(s.arena[lin[i]].Value), nil
}

// AtEvent returns the value produced by eventID. The event must be
// reachable from a branch head or a detached tip.
func (s *Store) AtEvent(eventID string) (ir.IRValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.index[eventID]
	if !ok || !s.reachableLocked()[h] {
		return nil, &TemporalError{Code: ErrCodeUnknownEvent, Store: s.key, EventID: eventID}
	}
	return ir.Clone(s.arena[h].Value), nil
}

// Graph returns the causal graph over every event in the store. The graph
// is cached until the next append.
func (s *Store) Graph() (*causal.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graphLocked()
}

// History returns the active branch's lineage in causal order.
func (s *Store) History() ([]causal.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, err := s.graphLocked()
	if err != nil {
		return nil, err
	}
	return g.Lineage(s.arena[s.heads[s.active]].ID)
}

// Events returns every event in append order.
func (s *Store) Events() []causal.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]causal.Event, len(s.arena))
	for i, e := range s.arena {
		out[i] = e.Copy()
	}
	return out
}

// Len returns the number of events in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arena)
}

// Clone returns an independent copy of the store with the full history and
// branch pointers. New events are stamped with universeID. Subscribers and
// the guard are not copied; pass WithGuard to install one.
func (s *Store) Clone(universeID string, opts ...Option) *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()

	base := []Option{
		WithClock(s.clock),
		WithIDGenerator(s.ids),
		WithLogger(s.logger),
		WithObserver(s.observerID),
	}
	c := newEmpty(s.key, append(base, opts...)...)
	c.universeID = universeID
	c.arena = make([]causal.Event, len(s.arena))
	c.parents = make([][]int, len(s.parents))
	for i, e := range s.arena {
		c.arena[i] = e.Copy()
		c.index[e.ID] = i
		c.parents[i] = slices.Clone(s.parents[i])
	}
	for name, h := range s.heads {
		c.heads[name] = h
	}
	c.active = s.active
	c.detached = slices.Clone(s.detached)
	c.current = ir.Clone(s.current)
	return c
}

// mutate runs write through the guard, or directly when there is none.
func (s *Store) mutate(write func() ([]causal.Event, error)) error {
	if s.guard != nil {
		return s.guard.Mutate(s, write)
	}
	events, err := write()
	if err != nil {
		return err
	}
	s.Publish(events...)
	return nil
}

// appendLocked adds an event to the arena. The caller moves branch heads.
func (s *Store) appendLocked(kind causal.Kind, value ir.IRValue, parentHandles []int, extra ...causal.EventOption) causal.Event {
	parentIDs := make([]string, len(parentHandles))
	for i, p := range parentHandles {
		parentIDs[i] = s.arena[p].ID
	}
	opts := []causal.EventOption{causal.WithClock(s.clock), causal.WithIDGenerator(s.ids)}
	if s.observerID != "" {
		opts = append(opts, causal.WithObserver(s.observerID))
	}
	e := causal.NewEvent(s.key, kind, value, parentIDs, s.universeID, append(opts, extra...)...)

	s.index[e.ID] = len(s.arena)
	s.arena = append(s.arena, e)
	s.parents = append(s.parents, slices.Clone(parentHandles))
	s.graph = nil
	s.reach = nil
	return e
}

func (s *Store) graphLocked() (*causal.Graph, error) {
	if s.graph == nil {
		g, err := causal.BuildGraph(s.arena)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", s.key, err)
		}
		s.graph = g
	}
	return s.graph, nil
}

// walkLocked returns every handle reachable from the starts along parents.
func (s *Store) walkLocked(starts ...int) map[int]bool {
	seen := make(map[int]bool)
	queue := make([]int, 0, len(starts))
	for _, h := range starts {
		if !seen[h] {
			seen[h] = true
			queue = append(queue, h)
		}
	}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		for _, p := range s.parents[h] {
			if !seen[p] {
				seen[p] = true
				queue = append(queue, p)
			}
		}
	}
	return seen
}

// reachesLocked reports whether target is from or one of its ancestors.
func (s *Store) reachesLocked(from, target int) bool {
	return s.walkLocked(from)[target]
}

// pruneDetachedLocked drops detached tips that a branch head reaches again.
func (s *Store) pruneDetachedLocked() {
	if len(s.detached) == 0 {
		return
	}
	starts := make([]int, 0, len(s.heads))
	for _, h := range s.heads {
		starts = append(starts, h)
	}
	fromHeads := s.walkLocked(starts...)
	s.detached = slices.DeleteFunc(s.detached, func(h int) bool {
		return fromHeads[h]
	})
}

func (s *Store) reachableLocked() map[int]bool {
	if s.reach == nil {
		starts := slices.Clone(s.detached)
		for _, h := range s.heads {
			starts = append(starts, h)
		}
		s.reach = s.walkLocked(starts...)
	}
	return s.reach
}

func (s *Store) lineageLocked(head int) []int {
	if s.lineage.head == head && s.lineage.handles != nil {
		return s.lineage.handles
	}
	set := s.walkLocked(head)
	hs := make([]int, 0, len(set))
	for h := range set {
		hs = append(hs, h)
	}
	slices.SortFunc(hs, func(a, b int) int {
		if ta, tb := s.arena[a].Timestamp, s.arena[b].Timestamp; ta != tb {
			if ta < tb {
				return -1
			}
			return 1
		}
		return a - b
	})
	s.lineage = lineageCache{head: head, handles: hs}
	return hs
}
