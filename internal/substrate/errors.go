package substrate

import (
	"errors"
	"fmt"
)

// SubstrateError reports a constraint failure that could not be recovered.
//
// Substrate errors include:
//   - Invariant violation: repair missing, or the repaired value still fails
//   - Repair divergence: relations and repairs kept writing past the round budget
//   - Invalid constraint: a declaration is incomplete
type SubstrateError struct {
	// Code identifies the error category.
	Code SubstrateErrorCode

	// Message is a human-readable description.
	Message string

	// Substrate, Constraint, Store and Invariant name the offender, when known.
	Substrate  string
	Constraint string
	Store      string
	Invariant  string

	// Rounds is the number of rounds run before a divergence was declared.
	Rounds int
}

// SubstrateErrorCode categorizes substrate errors.
type SubstrateErrorCode string

const (
	ErrCodeInvariantViolation SubstrateErrorCode = "INVARIANT_VIOLATION"
	ErrCodeRepairDivergence   SubstrateErrorCode = "REPAIR_DIVERGENCE"
	ErrCodeInvalidConstraint  SubstrateErrorCode = "INVALID_CONSTRAINT"
)

// Error implements the error interface.
func (e *SubstrateError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Substrate != "" {
		msg += fmt.Sprintf(" (substrate=%s", e.Substrate)
		if e.Constraint != "" {
			msg += ", constraint=" + e.Constraint
		}
		if e.Store != "" {
			msg += ", store=" + e.Store
		}
		if e.Invariant != "" {
			msg += ", invariant=" + e.Invariant
		}
		msg += ")"
	} else if e.Constraint != "" {
		msg += fmt.Sprintf(" (constraint=%s)", e.Constraint)
	}
	return msg
}

// IsInvariantViolation returns true if err is a SubstrateError with ErrCodeInvariantViolation.
// Uses errors.As to handle wrapped errors.
func IsInvariantViolation(err error) bool {
	return hasCode(err, ErrCodeInvariantViolation)
}

// IsRepairDivergence returns true if err is a SubstrateError with ErrCodeRepairDivergence.
func IsRepairDivergence(err error) bool {
	return hasCode(err, ErrCodeRepairDivergence)
}

// IsInvalidConstraint returns true if err is a SubstrateError with ErrCodeInvalidConstraint.
func IsInvalidConstraint(err error) bool {
	return hasCode(err, ErrCodeInvalidConstraint)
}

func hasCode(err error, code SubstrateErrorCode) bool {
	var se *SubstrateError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
