package journal

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/store"
)

// eventRow is the column form of an event. The Badger backend stores it
// as JSON.
type eventRow struct {
	ID         string `json:"id"`
	StoreKey   string `json:"store_key"`
	Timestamp  int64  `json:"timestamp"`
	Kind       string `json:"kind"`
	Value      string `json:"value"`
	CausedBy   string `json:"caused_by"`
	Origin     string `json:"origin"`
	ObserverID string `json:"observer_id"`
	Tags       string `json:"tags"`
}

// encodeEvent serializes values as canonical JSON so identical histories
// produce identical rows.
func encodeEvent(e causal.Event) (eventRow, error) {
	value, err := ir.MarshalCanonical(e.Value)
	if err != nil {
		return eventRow{}, fmt.Errorf("event %s: marshal value: %w", e.ID, err)
	}
	causedBy, err := marshalStrings(e.CausedBy)
	if err != nil {
		return eventRow{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	tags, err := marshalStrings(e.Tags)
	if err != nil {
		return eventRow{}, fmt.Errorf("event %s: %w", e.ID, err)
	}
	return eventRow{
		ID:         e.ID,
		StoreKey:   e.StoreKey,
		Timestamp:  e.Timestamp,
		Kind:       string(e.Kind),
		Value:      string(value),
		CausedBy:   causedBy,
		Origin:     e.UniverseID,
		ObserverID: e.ObserverID,
		Tags:       tags,
	}, nil
}

func decodeEvent(r eventRow) (causal.Event, error) {
	value, err := ir.UnmarshalIRValue([]byte(r.Value))
	if err != nil {
		return causal.Event{}, fmt.Errorf("event %s: unmarshal value: %w", r.ID, err)
	}
	var causedBy []string
	if err := json.Unmarshal([]byte(r.CausedBy), &causedBy); err != nil {
		return causal.Event{}, fmt.Errorf("event %s: unmarshal caused_by: %w", r.ID, err)
	}
	if causedBy == nil {
		causedBy = []string{}
	}
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return causal.Event{}, fmt.Errorf("event %s: unmarshal tags: %w", r.ID, err)
	}
	if len(tags) == 0 {
		tags = nil
	}
	return causal.Event{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		StoreKey:   r.StoreKey,
		Kind:       causal.Kind(r.Kind),
		Value:      value,
		CausedBy:   causedBy,
		UniverseID: r.Origin,
		ObserverID: r.ObserverID,
		Tags:       tags,
	}, nil
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalBranches(b store.BranchState) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshal branches: %w", err)
	}
	return string(data), nil
}

func unmarshalBranches(data string) (store.BranchState, error) {
	var b store.BranchState
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return store.BranchState{}, fmt.Errorf("unmarshal branches: %w", err)
	}
	return b, nil
}
