package universe

import (
	"errors"
	"fmt"
)

// UniverseError reports an operation the universe cannot perform.
type UniverseError struct {
	// Code identifies the error category.
	Code UniverseErrorCode

	// Message is a human-readable description.
	Message string

	// Universe is the id of the universe.
	Universe string

	// Store names the store involved, when there is one.
	Store string

	// Snapshot names the snapshot involved, when there is one.
	Snapshot string
}

// UniverseErrorCode categorizes universe errors.
type UniverseErrorCode string

const (
	ErrCodeDestroyed         UniverseErrorCode = "DESTROYED"
	ErrCodeUnknownSnapshot   UniverseErrorCode = "UNKNOWN_SNAPSHOT"
	ErrCodePaused            UniverseErrorCode = "PAUSED"
	ErrCodeInvalidTransition UniverseErrorCode = "INVALID_TRANSITION"
	ErrCodeStoreExists       UniverseErrorCode = "STORE_EXISTS"
	ErrCodeUnknownStore      UniverseErrorCode = "UNKNOWN_STORE"
	ErrCodeInvalidDocument   UniverseErrorCode = "INVALID_DOCUMENT"
)

// Error implements the error interface.
func (e *UniverseError) Error() string {
	msg := fmt.Sprintf("%s: %s (universe=%s", e.Code, e.Message, e.Universe)
	if e.Store != "" {
		msg += ", store=" + e.Store
	}
	if e.Snapshot != "" {
		msg += ", snapshot=" + e.Snapshot
	}
	return msg + ")"
}

// IsDestroyed returns true if err is a UniverseError with ErrCodeDestroyed.
// Uses errors.As to handle wrapped errors.
func IsDestroyed(err error) bool {
	return hasCode(err, ErrCodeDestroyed)
}

// IsPaused returns true if err is a UniverseError with ErrCodePaused.
func IsPaused(err error) bool {
	return hasCode(err, ErrCodePaused)
}

// IsUnknownSnapshot returns true if err is a UniverseError with ErrCodeUnknownSnapshot.
func IsUnknownSnapshot(err error) bool {
	return hasCode(err, ErrCodeUnknownSnapshot)
}

// IsInvalidTransition returns true if err is a UniverseError with ErrCodeInvalidTransition.
func IsInvalidTransition(err error) bool {
	return hasCode(err, ErrCodeInvalidTransition)
}

// IsInvalidDocument returns true if err is a UniverseError with ErrCodeInvalidDocument.
func IsInvalidDocument(err error) bool {
	return hasCode(err, ErrCodeInvalidDocument)
}

// Code returns the UniverseErrorCode of err, or "" if err is not a UniverseError.
func Code(err error) UniverseErrorCode {
	var ue *UniverseError
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}

func hasCode(err error, code UniverseErrorCode) bool {
	return Code(err) == code
}
