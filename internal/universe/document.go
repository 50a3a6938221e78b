package universe

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/store"
)

// DocumentVersion is the only persisted-state version this package reads.
const DocumentVersion = 1

//go:embed document.schema.json
var documentSchemaJSON string

var (
	documentSchemaOnce sync.Once
	documentSchema     *jsonschema.Schema
	documentSchemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	documentSchemaOnce.Do(func() {
		documentSchema, documentSchemaErr = jsonschema.CompileString("document.schema.json", documentSchemaJSON)
	})
	return documentSchema, documentSchemaErr
}

// Document is the persisted form of a universe: each store key maps to its
// events, plus optional branch pointers and store creation order.
//
// Branches absent for a store means a single main branch at the store's
// last event in causal order. Order absent means sorted keys.
type Document struct {
	Version    int                          `json:"version"`
	UniverseID string                       `json:"universe_id"`
	Order      []string                     `json:"order,omitempty"`
	Stores     map[string][]causal.Event    `json:"stores"`
	Branches   map[string]store.BranchState `json:"branches,omitempty"`
}

// Export captures every store's history and branch pointers.
func (m *Manager) Export() (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateDestroyed {
		return nil, m.destroyedError()
	}

	doc := &Document{
		Version:    DocumentVersion,
		UniverseID: m.id,
		Order:      slices.Clone(m.order),
		Stores:     make(map[string][]causal.Event, len(m.order)),
		Branches:   make(map[string]store.BranchState, len(m.order)),
	}
	for _, key := range m.order {
		x := m.stores[key].Export()
		doc.Stores[key] = x.Events
		doc.Branches[key] = x.Branches
	}
	return doc, nil
}

// DecodeDocument parses raw JSON into a Document. The input is checked
// against the document JSON Schema and the structural rules of Validate
// before anything is decoded into events; a malformed document is rejected
// with INVALID_DOCUMENT.
func DecodeDocument(raw []byte) (*Document, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, invalidDocument("", "document is not valid JSON: %v", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, invalidDocument("", "document does not match schema: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, invalidDocument("", "decode document: %v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the structural rules a JSON Schema cannot express.
func (d *Document) Validate() error {
	if d.Version != DocumentVersion {
		return invalidDocument(d.UniverseID, "unsupported version %d", d.Version)
	}
	if d.UniverseID == "" {
		return invalidDocument("", "universe id is empty")
	}
	if len(d.Stores) == 0 {
		return invalidDocument(d.UniverseID, "document has no stores")
	}
	for key, events := range d.Stores {
		if len(events) == 0 {
			return invalidDocument(d.UniverseID, "store %s has no events", key)
		}
		for _, e := range events {
			if e.StoreKey != key {
				return invalidDocument(d.UniverseID, "event %s in store %s belongs to %q", e.ID, key, e.StoreKey)
			}
			if err := e.Validate(); err != nil {
				return invalidDocument(d.UniverseID, "store %s: %v", key, err)
			}
		}
	}
	for key := range d.Branches {
		if _, ok := d.Stores[key]; !ok {
			return invalidDocument(d.UniverseID, "branches given for unknown store %s", key)
		}
	}
	if len(d.Order) > 0 {
		if len(d.Order) != len(d.Stores) {
			return invalidDocument(d.UniverseID, "order lists %d stores, document has %d", len(d.Order), len(d.Stores))
		}
		for _, key := range d.Order {
			if _, ok := d.Stores[key]; !ok {
				return invalidDocument(d.UniverseID, "order names unknown store %s", key)
			}
		}
	}
	return nil
}

// Keys returns the store keys in creation order.
func (d *Document) Keys() []string {
	if len(d.Order) > 0 {
		return slices.Clone(d.Order)
	}
	keys := make([]string, 0, len(d.Stores))
	for k := range d.Stores {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Digest returns the canonical content digest of the document. Two
// documents with the same stores, events and branches have the same digest.
func (d *Document) Digest() (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	v, err := ir.UnmarshalIRValue(raw)
	if err != nil {
		return "", err
	}
	return ir.Digest(ir.DomainDocument, v)
}

// Import rebuilds a universe from a document. The document is validated
// and every store's events are checked as a causal graph (unique ids, known
// parents, no cycles) before the universe is returned; nothing partial is
// ever returned. The universe starts idle, with the document's id unless
// opts override it.
func Import(doc *Document, opts ...Option) (*Manager, error) {
	if doc == nil {
		return nil, invalidDocument("", "document is nil")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	m := New(doc.UniverseID, opts...)
	for _, key := range doc.Keys() {
		x := store.Exported{Key: key, Events: doc.Stores[key]}
		if b, ok := doc.Branches[key]; ok {
			x.Branches = b
		}
		s, err := store.FromExport(x, m.storeOptions()...)
		if err != nil {
			return nil, invalidDocument(doc.UniverseID, "store %s: %v", key, err)
		}
		m.order = append(m.order, key)
		m.stores[key] = s
	}
	m.logger.Info("universe imported", "universe", m.id, "stores", len(m.order))
	return m, nil
}

func invalidDocument(universe, format string, args ...any) *UniverseError {
	return &UniverseError{
		Code:     ErrCodeInvalidDocument,
		Message:  fmt.Sprintf(format, args...),
		Universe: universe,
	}
}
