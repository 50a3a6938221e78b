package substrate

import (
	"fmt"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/store"
)

// World is the set of stores a substrate governs.
//
// Write must append through the store's own write path; a substrate never
// edits a causal graph directly.
type World interface {
	StoreKeys() []string
	Value(key string) (ir.IRValue, bool)
	Write(key string, value ir.IRValue) error
}

// StoreWorld adapts a list of stores to World. Writes use Store.Record, so
// they are neither guarded nor published; the caller owns both.
type StoreWorld struct {
	keys   []string
	stores map[string]*store.Store
}

// NewStoreWorld builds a World over stores, in the given order.
func NewStoreWorld(stores ...*store.Store) *StoreWorld {
	w := &StoreWorld{stores: make(map[string]*store.Store, len(stores))}
	for _, s := range stores {
		if _, dup := w.stores[s.Key()]; dup {
			continue
		}
		w.keys = append(w.keys, s.Key())
		w.stores[s.Key()] = s
	}
	return w
}

// StoreKeys returns the store keys in world order.
func (w *StoreWorld) StoreKeys() []string {
	return append([]string(nil), w.keys...)
}

// Value returns the current value of a store.
func (w *StoreWorld) Value(key string) (ir.IRValue, bool) {
	s, ok := w.stores[key]
	if !ok {
		return nil, false
	}
	return s.Get(), true
}

// Write records value on the store's active branch.
func (w *StoreWorld) Write(key string, value ir.IRValue) error {
	s, ok := w.stores[key]
	if !ok {
		return fmt.Errorf("write to unknown store %q", key)
	}
	s.Record(causal.KindUpdate, value)
	return nil
}

// snapshot reads every store's value once.
func snapshot(w World) State {
	st := make(State)
	for _, key := range w.StoreKeys() {
		if v, ok := w.Value(key); ok {
			st[key] = v
		}
	}
	return st
}
