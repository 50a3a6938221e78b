package emergence

import (
	"errors"
	"fmt"
)

// DetectorError reports a detector that cannot be configured or started.
type DetectorError struct {
	// Code identifies the error category.
	Code DetectorErrorCode

	// Message is a human-readable description.
	Message string

	// Field names the offending Config field, when there is one.
	Field string
}

// DetectorErrorCode categorizes detector errors.
type DetectorErrorCode string

const (
	// ErrCodeInvalidConfig indicates a Config that failed validation.
	ErrCodeInvalidConfig DetectorErrorCode = "INVALID_CONFIG"

	// ErrCodeAlreadyRunning indicates Start on a detector that is sampling.
	ErrCodeAlreadyRunning DetectorErrorCode = "ALREADY_RUNNING"
)

// Error implements the error interface.
func (e *DetectorError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvalidConfig returns true if err is a DetectorError with ErrCodeInvalidConfig.
func IsInvalidConfig(err error) bool {
	var de *DetectorError
	return errors.As(err, &de) && de.Code == ErrCodeInvalidConfig
}

// IsAlreadyRunning returns true if err is a DetectorError with ErrCodeAlreadyRunning.
func IsAlreadyRunning(err error) bool {
	var de *DetectorError
	return errors.As(err, &de) && de.Code == ErrCodeAlreadyRunning
}
