package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/store"
	"github.com/roach88/causalverse/internal/universe"
)

// ErrUnknownUniverse is returned when a journal holds no events for a
// universe.
var ErrUnknownUniverse = errors.New("unknown universe")

// Journal is a durable event log.
type Journal interface {
	// Append records events under universeID, skipping ids already present.
	Append(ctx context.Context, universeID string, events []causal.Event) error

	// SaveBranches replaces the saved branch pointers of the given stores.
	SaveBranches(ctx context.Context, universeID string, branches map[string]store.BranchState) error

	// Load returns every event of universeID ordered by timestamp, then id.
	Load(ctx context.Context, universeID string) ([]causal.Event, error)

	// Branches returns the saved branch pointers of universeID.
	Branches(ctx context.Context, universeID string) (map[string]store.BranchState, error)

	// Universes lists the journaled universe ids, sorted.
	Universes(ctx context.Context) ([]string, error)

	Close() error
}

// sink binds a journal to one universe.
type sink struct {
	j  Journal
	id string
}

func (s sink) Append(ctx context.Context, events []causal.Event) error {
	return s.j.Append(ctx, s.id, events)
}

// SinkFor adapts j to universe.Sink, recording every event under
// universeID.
func SinkFor(j Journal, universeID string) universe.Sink {
	return sink{j: j, id: universeID}
}

// Checkpoint writes the complete state of m: every event of every store
// (including history inherited from a fork parent) and the current branch
// pointers.
func Checkpoint(ctx context.Context, j Journal, m *universe.Manager) error {
	doc, err := m.Export()
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	var all []causal.Event
	for _, key := range doc.Keys() {
		all = append(all, doc.Stores[key]...)
	}
	if err := j.Append(ctx, doc.UniverseID, all); err != nil {
		return fmt.Errorf("checkpoint %s: %w", doc.UniverseID, err)
	}
	if err := j.SaveBranches(ctx, doc.UniverseID, doc.Branches); err != nil {
		return fmt.Errorf("checkpoint %s: %w", doc.UniverseID, err)
	}
	return nil
}

// LoadDocument assembles the journaled state of universeID as a document.
// Stores are ordered by their first event. Stores without saved branch
// pointers get a single main branch at their last event.
func LoadDocument(ctx context.Context, j Journal, universeID string) (*universe.Document, error) {
	events, err := j.Load(ctx, universeID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUniverse, universeID)
	}
	branches, err := j.Branches(ctx, universeID)
	if err != nil {
		return nil, err
	}

	doc := &universe.Document{
		Version:    universe.DocumentVersion,
		UniverseID: universeID,
		Stores:     make(map[string][]causal.Event),
	}
	for _, e := range events {
		if _, seen := doc.Stores[e.StoreKey]; !seen {
			doc.Order = append(doc.Order, e.StoreKey)
		}
		doc.Stores[e.StoreKey] = append(doc.Stores[e.StoreKey], e)
	}
	for key, b := range branches {
		if _, ok := doc.Stores[key]; !ok {
			continue
		}
		if doc.Branches == nil {
			doc.Branches = make(map[string]store.BranchState)
		}
		doc.Branches[key] = b
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Replay rebuilds universeID from the journal. The returned universe is
// idle; opts configure it like universe.New.
func Replay(ctx context.Context, j Journal, universeID string, opts ...universe.Option) (*universe.Manager, error) {
	doc, err := LoadDocument(ctx, j, universeID)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", universeID, err)
	}
	m, err := universe.Import(doc, opts...)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", universeID, err)
	}
	return m, nil
}
