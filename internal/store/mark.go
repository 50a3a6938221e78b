package store

import (
	"maps"
	"slices"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
)

// Mark records a store's position so a rejected mutation can be undone.
type Mark struct {
	size     int
	heads    map[string]int
	active   string
	detached []int
}

// Mark captures the current arena size and branch pointers.
func (s *Store) Mark() Mark {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Mark{
		size:     len(s.arena),
		heads:    maps.Clone(s.heads),
		active:   s.active,
		detached: slices.Clone(s.detached),
	}
}

// Since returns the events appended after m, in append order.
func (s *Store) Since(m Mark) []causal.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m.size >= len(s.arena) {
		return nil
	}
	out := make([]causal.Event, 0, len(s.arena)-m.size)
	for _, e := range s.arena[m.size:] {
		out = append(out, e.Copy())
	}
	return out
}

// Rollback discards every event appended after m and restores the branch
// pointers captured by m. Subscribers never saw the discarded events.
func (s *Store) Rollback(m Mark) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.size < len(s.arena) {
		for _, e := range s.arena[m.size:] {
			delete(s.index, e.ID)
		}
		s.arena = s.arena[:m.size]
		s.parents = s.parents[:m.size]
	}
	s.heads = maps.Clone(m.heads)
	s.active = m.active
	s.detached = slices.Clone(m.detached)
	s.current = ir.Clone(s.arena[s.heads[s.active]].Value)

	s.graph = nil
	s.reach = nil
	s.lineage = lineageCache{head: -1}
	s.logger.Debug("store rolled back", "store", s.key, "events", len(s.arena))
}
