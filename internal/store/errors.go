package store

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownBranch is returned when a branch name is not defined.
	ErrUnknownBranch = errors.New("unknown branch")

	// ErrBranchExists is returned by Branch when the name is taken.
	ErrBranchExists = errors.New("branch already exists")

	// ErrClockOrder is returned by FromExport when an event is stamped
	// earlier than one of its causes.
	ErrClockOrder = errors.New("event timestamp precedes its cause")

	// ErrGuarded is returned by Import on a store whose writes go through
	// a Guard. Guarded histories are replaced by rebuilding their owner.
	ErrGuarded = errors.New("store is guarded")
)

// TemporalError reports a time-travel query that cannot be answered.
type TemporalError struct {
	// Code identifies the error category.
	Code TemporalErrorCode

	// Store is the key of the queried store.
	Store string

	// EventID is set for UNKNOWN_EVENT.
	EventID string

	// Timestamp is set for BEFORE_GENESIS.
	Timestamp int64
}

// TemporalErrorCode categorizes temporal errors.
type TemporalErrorCode string

const (
	// ErrCodeUnknownEvent: the id is not reachable from any known head.
	ErrCodeUnknownEvent TemporalErrorCode = "UNKNOWN_EVENT"

	// ErrCodeBeforeGenesis: the timestamp precedes the root event.
	ErrCodeBeforeGenesis TemporalErrorCode = "BEFORE_GENESIS"
)

// Error implements the error interface.
func (e *TemporalError) Error() string {
	if e.Code == ErrCodeBeforeGenesis {
		return fmt.Sprintf("%s: store %s has no event at or before timestamp %d", e.Code, e.Store, e.Timestamp)
	}
	return fmt.Sprintf("%s: store %s has no reachable event %s", e.Code, e.Store, e.EventID)
}

// IsUnknownEventError returns true if err is a TemporalError with ErrCodeUnknownEvent.
func IsUnknownEventError(err error) bool {
	var te *TemporalError
	return errors.As(err, &te) && te.Code == ErrCodeUnknownEvent
}

// IsBeforeGenesisError returns true if err is a TemporalError with ErrCodeBeforeGenesis.
func IsBeforeGenesisError(err error) bool {
	var te *TemporalError
	return errors.As(err, &te) && te.Code == ErrCodeBeforeGenesis
}

// MergeError reports a merge that could not produce a merge event.
//
// A manual merge with conflicts is NOT an error: Merge returns the Conflict
// as data. MergeError is only raised when no merge is possible or when a
// conflict resolution no longer applies.
type MergeError struct {
	Code    MergeErrorCode
	Store   string
	Source  string
	Target  string
	Message string
}

// MergeErrorCode categorizes merge errors.
type MergeErrorCode string

const (
	// ErrCodeNoCommonAncestor: the two histories are disjoint.
	ErrCodeNoCommonAncestor MergeErrorCode = "NO_COMMON_ANCESTOR"

	// ErrCodeConflictUnresolved: a conflict was resolved against heads that
	// have since moved, or with an unknown strategy.
	ErrCodeConflictUnresolved MergeErrorCode = "CONFLICT_UNRESOLVED"
)

// Error implements the error interface.
func (e *MergeError) Error() string {
	return fmt.Sprintf("%s: %s (store=%s, source=%s, target=%s)", e.Code, e.Message, e.Store, e.Source, e.Target)
}

// IsNoCommonAncestorError returns true if err is a MergeError with ErrCodeNoCommonAncestor.
func IsNoCommonAncestorError(err error) bool {
	var me *MergeError
	return errors.As(err, &me) && me.Code == ErrCodeNoCommonAncestor
}

// IsConflictUnresolvedError returns true if err is a MergeError with ErrCodeConflictUnresolved.
func IsConflictUnresolvedError(err error) bool {
	var me *MergeError
	return errors.As(err, &me) && me.Code == ErrCodeConflictUnresolved
}
