package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/store"
)

// Key prefixes. Universe ids and event ids must not contain a NUL byte.
//
//	ev\x00<universe>\x00<timestamp %020d>\x00<id>  -> event row (JSON)
//	id\x00<universe>\x00<id>                       -> event key
//	br\x00<universe>\x00<store>                    -> branch state (JSON)
//	un\x00<universe>                               -> marker
const (
	prefixEvent    = "ev\x00"
	prefixID       = "id\x00"
	prefixBranch   = "br\x00"
	prefixUniverse = "un\x00"
)

// Badger is a Journal backed by an embedded BadgerDB.
type Badger struct {
	db *badger.DB
}

var _ Journal = (*Badger)(nil)

// OpenBadger creates or opens a journal in dir.
func OpenBadger(dir string) (*Badger, error) {
	return openBadger(badger.DefaultOptions(dir))
}

// OpenBadgerInMemory creates a journal that lives only as long as the
// process. Intended for tests and dry runs.
func OpenBadgerInMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true))
}

func openBadger(opts badger.Options) (*Badger, error) {
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the database.
func (b *Badger) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func eventKey(universeID string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%020d\x00%s", prefixEvent, universeID, ts, id))
}

func idKey(universeID, id string) []byte {
	return []byte(prefixID + universeID + "\x00" + id)
}

func branchKey(universeID, storeKey string) []byte {
	return []byte(prefixBranch + universeID + "\x00" + storeKey)
}

func universeKey(universeID string) []byte {
	return []byte(prefixUniverse + universeID)
}

// Append writes events in one transaction, skipping ids already present.
func (b *Badger) Append(ctx context.Context, universeID string, events []causal.Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, e := range events {
			ik := idKey(universeID, e.ID)
			if _, err := txn.Get(ik); err == nil {
				continue
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			r, err := encodeEvent(e)
			if err != nil {
				return err
			}
			data, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("event %s: %w", e.ID, err)
			}
			ek := eventKey(universeID, e.Timestamp, e.ID)
			if err := txn.Set(ek, data); err != nil {
				return err
			}
			if err := txn.Set(ik, ek); err != nil {
				return err
			}
		}
		return txn.Set(universeKey(universeID), nil)
	})
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// SaveBranches overwrites the saved branch state of each given store.
func (b *Badger) SaveBranches(ctx context.Context, universeID string, branches map[string]store.BranchState) error {
	if len(branches) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save branches: %w", err)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for key, st := range branches {
			state, err := marshalBranches(st)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if err := txn.Set(branchKey(universeID, key), []byte(state)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save branches: %w", err)
	}
	return nil
}

// Load returns the events of universeID in key order, which is timestamp
// then id.
func (b *Badger) Load(ctx context.Context, universeID string) ([]causal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", universeID, err)
	}
	prefix := []byte(prefixEvent + universeID + "\x00")
	events := []causal.Event{}
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r eventRow
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return fmt.Errorf("read %q: %w", it.Item().Key(), err)
			}
			e, err := decodeEvent(r)
			if err != nil {
				return err
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", universeID, err)
	}
	return events, nil
}

// Branches returns the saved branch pointers of universeID.
func (b *Badger) Branches(ctx context.Context, universeID string) (map[string]store.BranchState, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("branches of %s: %w", universeID, err)
	}
	prefix := []byte(prefixBranch + universeID + "\x00")
	out := make(map[string]store.BranchState)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			var st store.BranchState
			if err := item.Value(func(val []byte) error {
				var err error
				st, err = unmarshalBranches(string(val))
				return err
			}); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			out[key] = st
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("branches of %s: %w", universeID, err)
	}
	return out, nil
}

// Universes lists every universe with at least one journaled event.
func (b *Badger) Universes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("universes: %w", err)
	}
	prefix := []byte(prefixUniverse)
	ids := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), prefixUniverse))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("universes: %w", err)
	}
	return ids, nil
}
