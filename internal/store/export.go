package store

import (
	"fmt"
	"slices"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
)

// BranchState is the serializable form of a store's branch pointers.
type BranchState struct {
	Active   string            `json:"active"`
	Heads    map[string]string `json:"heads"`
	Detached []string          `json:"detached,omitempty"`
}

// Exported is the full, serializable content of a store.
type Exported struct {
	Key      string         `json:"key"`
	Events   []causal.Event `json:"events"`
	Branches BranchState    `json:"branches"`
}

// Export returns every event in append order plus the branch pointers.
func (s *Store) Export() Exported {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]causal.Event, len(s.arena))
	for i, e := range s.arena {
		events[i] = e.Copy()
	}
	return Exported{
		Key:      s.key,
		Events:   events,
		Branches: s.branchStateLocked(),
	}
}

// FromEvents rebuilds a store from events with a single main branch at the
// last event in causal order.
func FromEvents(key string, events []causal.Event, opts ...Option) (*Store, error) {
	return FromExport(Exported{Key: key, Events: events}, opts...)
}

// FromExport rebuilds a store from an export.
//
// The events are validated as a graph first (ids unique, parents present,
// no cycles) and replayed in causal order. Branch heads must name imported
// events; with no heads, main points at the last event in causal order.
// Leaves not reachable from any head are kept as detached tips. No event
// may carry a timestamp lower than a cause's. The clock is advanced past
// every imported timestamp.
func FromExport(x Exported, opts ...Option) (*Store, error) {
	if x.Key == "" {
		return nil, fmt.Errorf("store key must not be empty")
	}
	if len(x.Events) == 0 {
		return nil, fmt.Errorf("store %s: no events to import", x.Key)
	}
	for _, e := range x.Events {
		if e.StoreKey != x.Key {
			return nil, fmt.Errorf("store %s: event %s belongs to store %q", x.Key, e.ID, e.StoreKey)
		}
	}
	g, err := causal.BuildGraph(x.Events)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", x.Key, err)
	}

	s := newEmpty(x.Key, opts...)
	var maxTs int64
	for h, e := range g.Topological() {
		s.index[e.ID] = h
		s.arena = append(s.arena, e)
		parents := make([]int, len(e.CausedBy))
		for i, p := range e.CausedBy {
			parents[i] = s.index[p]
			if pt := s.arena[parents[i]].Timestamp; e.Timestamp < pt {
				return nil, fmt.Errorf("store %s: %w: %s at %d, %s at %d", x.Key, ErrClockOrder, e.ID, e.Timestamp, p, pt)
			}
		}
		s.parents = append(s.parents, parents)
		maxTs = max(maxTs, e.Timestamp)
	}
	s.clock.Observe(maxTs)
	if s.universeID == "" {
		s.universeID = s.arena[len(s.arena)-1].UniverseID
	}

	if len(x.Branches.Heads) == 0 {
		s.heads[DefaultBranch] = len(s.arena) - 1
		s.active = DefaultBranch
	} else {
		for name, id := range x.Branches.Heads {
			h, ok := s.index[id]
			if !ok {
				return nil, &TemporalError{Code: ErrCodeUnknownEvent, Store: x.Key, EventID: id}
			}
			s.heads[name] = h
		}
		s.active = x.Branches.Active
		if s.active == "" {
			s.active = DefaultBranch
		}
		if _, ok := s.heads[s.active]; !ok {
			return nil, fmt.Errorf("store %s: active %w: %s", x.Key, ErrUnknownBranch, s.active)
		}
	}

	for _, id := range x.Branches.Detached {
		h, ok := s.index[id]
		if !ok {
			return nil, &TemporalError{Code: ErrCodeUnknownEvent, Store: x.Key, EventID: id}
		}
		if !slices.Contains(s.detached, h) {
			s.detached = append(s.detached, h)
		}
	}
	reach := s.reachableLocked()
	for _, leaf := range g.Leaves() {
		h := s.index[leaf.ID]
		if !reach[h] {
			s.detached = append(s.detached, h)
		}
	}
	s.reach = nil

	s.current = ir.Clone(s.arena[s.heads[s.active]].Value)
	s.logger.Debug("store imported", "store", s.key, "events", len(s.arena), "branches", len(s.heads))
	return s, nil
}

// Import replaces the store's history with x. The store key must match.
// Subscribers are kept; nothing is published. A guarded store refuses the
// import with ErrGuarded.
func (s *Store) Import(x Exported) error {
	if s.guard != nil {
		return fmt.Errorf("store %s: import: %w", s.key, ErrGuarded)
	}
	if x.Key == "" {
		x.Key = s.key
	}
	if x.Key != s.key {
		return fmt.Errorf("store %s: cannot import store %q", s.key, x.Key)
	}
	s.mu.RLock()
	opts := []Option{
		WithUniverse(s.universeID),
		WithClock(s.clock),
		WithIDGenerator(s.ids),
		WithLogger(s.logger),
		WithObserver(s.observerID),
	}
	s.mu.RUnlock()

	fresh, err := FromExport(x, opts...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.arena = fresh.arena
	s.index = fresh.index
	s.parents = fresh.parents
	s.heads = fresh.heads
	s.active = fresh.active
	s.detached = fresh.detached
	s.current = fresh.current
	s.graph = nil
	s.reach = nil
	s.lineage = lineageCache{head: -1}
	return nil
}
