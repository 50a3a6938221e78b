package causal

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/causalverse/internal/ir"
)

// Kind classifies the mutation an event records.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	}
	return false
}

// Event is one immutable mutation of a store.
//
// Value is the value the store holds after the event. CausedBy lists the
// events this one depends on: empty for a root, one id for an ordinary
// update, two ids (source head, target head) for a merge.
//
// Events are values. Constructors copy the slices they are given and the
// accessors below return copies, so an Event held by a store cannot be
// changed through a reference handed to a caller.
type Event struct {
	ID         string
	Timestamp  int64
	StoreKey   string
	Kind       Kind
	Value      ir.IRValue
	CausedBy   []string
	UniverseID string
	ObserverID string
	Tags       []string
}

// EventOption configures NewEvent.
type EventOption func(*eventConfig)

type eventConfig struct {
	clock      *Clock
	ids        IDGenerator
	observerID string
	tags       []string
}

// WithClock stamps the event from c instead of the process clock.
func WithClock(c *Clock) EventOption {
	return func(cfg *eventConfig) {
		cfg.clock = c
	}
}

// WithIDGenerator generates the event id from g instead of UUIDv7.
func WithIDGenerator(g IDGenerator) EventOption {
	return func(cfg *eventConfig) {
		cfg.ids = g
	}
}

// WithObserver records which observer produced the event.
func WithObserver(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.observerID = id
	}
}

// WithTags attaches free-form tags used by Graph.Query.
func WithTags(tags ...string) EventOption {
	return func(cfg *eventConfig) {
		cfg.tags = append(cfg.tags, tags...)
	}
}

// NewEvent creates an event with a fresh id and a timestamp strictly
// greater than any timestamp previously issued by the same clock.
func NewEvent(storeKey string, kind Kind, value ir.IRValue, causedBy []string, universeID string, opts ...EventOption) Event {
	cfg := eventConfig{clock: processClock, ids: UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if value == nil {
		value = ir.IRNull{}
	}
	return Event{
		ID:         cfg.ids.Generate(),
		Timestamp:  cfg.clock.Next(),
		StoreKey:   storeKey,
		Kind:       kind,
		Value:      ir.Clone(value),
		CausedBy:   slices.Clone(causedBy),
		UniverseID: universeID,
		ObserverID: cfg.observerID,
		Tags:       slices.Clone(cfg.tags),
	}
}

// Parents returns a copy of the causedBy ids.
func (e Event) Parents() []string {
	return slices.Clone(e.CausedBy)
}

// IsMerge reports whether the event joins two histories.
func (e Event) IsMerge() bool {
	return len(e.CausedBy) > 1
}

// HasTag reports whether the event carries tag.
func (e Event) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// Copy returns a deep copy of e.
func (e Event) Copy() Event {
	out := e
	out.Value = ir.Clone(e.Value)
	out.CausedBy = slices.Clone(e.CausedBy)
	out.Tags = slices.Clone(e.Tags)
	return out
}

// Validate checks the fields every event must carry.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return &GraphError{Code: ErrCodeInvalidEvent, Message: "event id is empty"}
	case e.StoreKey == "":
		return &GraphError{Code: ErrCodeInvalidEvent, Message: "store key is empty", EventID: e.ID}
	case !e.Kind.Valid():
		return &GraphError{Code: ErrCodeInvalidEvent, Message: fmt.Sprintf("unknown kind %q", e.Kind), EventID: e.ID}
	case e.Timestamp <= 0:
		return &GraphError{Code: ErrCodeInvalidEvent, Message: "timestamp must be positive", EventID: e.ID}
	}
	seen := make(map[string]bool, len(e.CausedBy))
	for _, p := range e.CausedBy {
		if p == e.ID {
			return &GraphError{Code: ErrCodeCycle, Message: "event is its own parent", EventID: e.ID, Members: []string{e.ID}}
		}
		if seen[p] {
			return &GraphError{Code: ErrCodeInvalidEvent, Message: fmt.Sprintf("parent %s listed twice", p), EventID: e.ID}
		}
		seen[p] = true
	}
	return nil
}

// eventJSON is the wire form of an Event.
type eventJSON struct {
	ID         string          `json:"id"`
	Timestamp  int64           `json:"timestamp"`
	StoreKey   string          `json:"store_key"`
	Kind       Kind            `json:"kind"`
	Value      json.RawMessage `json:"value"`
	CausedBy   []string        `json:"caused_by"`
	UniverseID string          `json:"universe_id"`
	ObserverID string          `json:"observer_id,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
}

// MarshalJSON encodes the event with its value in IR form, so integers and
// floats keep their kind across export and import.
func (e Event) MarshalJSON() ([]byte, error) {
	value := e.Value
	if value == nil {
		value = ir.IRNull{}
	}
	raw, err := ir.MarshalIRValue(value)
	if err != nil {
		return nil, fmt.Errorf("event %s: value: %w", e.ID, err)
	}
	causedBy := e.CausedBy
	if causedBy == nil {
		causedBy = []string{}
	}
	return json.Marshal(eventJSON{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		StoreKey:   e.StoreKey,
		Kind:       e.Kind,
		Value:      raw,
		CausedBy:   causedBy,
		UniverseID: e.UniverseID,
		ObserverID: e.ObserverID,
		Tags:       e.Tags,
	})
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	var value ir.IRValue = ir.IRNull{}
	if len(w.Value) > 0 {
		v, err := ir.UnmarshalIRValue(w.Value)
		if err != nil {
			return fmt.Errorf("event %s: value: %w", w.ID, err)
		}
		value = v
	}
	*e = Event{
		ID:         w.ID,
		Timestamp:  w.Timestamp,
		StoreKey:   w.StoreKey,
		Kind:       w.Kind,
		Value:      value,
		CausedBy:   w.CausedBy,
		UniverseID: w.UniverseID,
		ObserverID: w.ObserverID,
		Tags:       w.Tags,
	}
	return nil
}
