package universe

import (
	"maps"
	"slices"

	"github.com/roach88/causalverse/internal/store"
)

// Head is one store's position in a snapshot.
type Head struct {
	Branch  string `json:"branch"`
	EventID string `json:"event_id"`
}

// Snapshot records every store's active branch and head event.
// Taking one is O(store count); no history is copied.
type Snapshot struct {
	ID         string          `json:"id"`
	UniverseID string          `json:"universe_id"`
	Timestamp  int64           `json:"timestamp"`
	Heads      map[string]Head `json:"heads"`
}

// Snapshot captures the current heads and registers the snapshot so it can
// be restored by id.
func (m *Manager) Snapshot() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return Snapshot{}, m.destroyedError()
	}

	snap := Snapshot{
		ID:         m.ids.Generate(),
		UniverseID: m.id,
		Timestamp:  m.clock.Current(),
		Heads:      make(map[string]Head, len(m.order)),
	}
	for _, key := range m.order {
		s := m.stores[key]
		snap.Heads[key] = Head{Branch: s.ActiveBranch(), EventID: s.Head().ID}
	}
	m.snapshots[snap.ID] = copySnapshot(snap)
	m.logger.Debug("snapshot taken", "universe", m.id, "snapshot", snap.ID, "stores", len(snap.Heads))
	return snap, nil
}

// Snapshots returns the registered snapshots ordered by timestamp.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, snap := range m.snapshots {
		out = append(out, copySnapshot(snap))
	}
	slices.SortFunc(out, func(a, b Snapshot) int {
		if a.Timestamp != b.Timestamp {
			if a.Timestamp < b.Timestamp {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Restore moves every store recorded in snap back to its recorded branch
// and head. It is a pure pointer move: no events are created, and events
// recorded after the snapshot stay addressable through AtEvent. Stores
// created after the snapshot are left as they are.
//
// Every head is checked before anything moves; if one no longer exists the
// restore fails with UNKNOWN_SNAPSHOT and nothing changes.
func (m *Manager) Restore(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return m.destroyedError()
	}

	keys := slices.Sorted(maps.Keys(snap.Heads))
	for _, key := range keys {
		head := snap.Heads[key]
		s, ok := m.stores[key]
		if !ok || !s.Has(head.EventID) {
			return &UniverseError{
				Code:     ErrCodeUnknownSnapshot,
				Message:  "snapshot head " + head.EventID + " no longer exists",
				Universe: m.id,
				Store:    key,
				Snapshot: snap.ID,
			}
		}
		if _, err := s.HeadOf(head.Branch); err != nil {
			return &UniverseError{
				Code:     ErrCodeUnknownSnapshot,
				Message:  "snapshot branch " + head.Branch + " no longer exists",
				Universe: m.id,
				Store:    key,
				Snapshot: snap.ID,
			}
		}
	}

	for _, key := range keys {
		head := snap.Heads[key]
		s := m.stores[key]
		if err := s.ResetHead(head.Branch, head.EventID); err != nil {
			return err
		}
		if err := s.Activate(head.Branch); err != nil {
			return err
		}
	}
	m.logger.Info("snapshot restored", "universe", m.id, "snapshot", snap.ID)
	return nil
}

// RestoreID restores a snapshot previously taken by this universe.
func (m *Manager) RestoreID(id string) error {
	m.mu.Lock()
	snap, ok := m.snapshots[id]
	m.mu.Unlock()
	if !ok {
		return &UniverseError{Code: ErrCodeUnknownSnapshot, Message: "no such snapshot", Universe: m.id, Snapshot: id}
	}
	return m.Restore(snap)
}

// Fork returns a fully independent copy of the universe under newID: every
// store's history and branch pointers, the substrate, the recorded
// dependencies and snapshots. Subscribers and the journal sink are not
// copied; pass WithSink to journal the fork. Mutations to the fork never
// affect the original, and vice versa.
//
// opts are applied after the inherited configuration.
func (m *Manager) Fork(newID string, opts ...Option) (*Manager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return nil, m.destroyedError()
	}

	inherited := []Option{
		WithSubstrate(m.substrate),
		WithAutoRepair(m.autoRepair),
		WithMaxIterations(m.maxIterations),
		WithLogger(m.logger),
		WithClock(m.clock),
		WithIDGenerator(m.ids),
	}
	fork := New(newID, append(inherited, opts...)...)
	fork.state = m.state
	fork.deps = slices.Clone(m.deps)
	for id, snap := range m.snapshots {
		fork.snapshots[id] = copySnapshot(snap)
	}
	for _, key := range m.order {
		fork.order = append(fork.order, key)
		fork.stores[key] = m.stores[key].Clone(newID, fork.storeOptions()...)
	}

	m.logger.Info("universe forked", "universe", m.id, "fork", newID, "stores", len(m.order))
	return fork, nil
}

func copySnapshot(s Snapshot) Snapshot {
	s.Heads = maps.Clone(s.Heads)
	return s
}

var _ store.Guard = (*Manager)(nil)
