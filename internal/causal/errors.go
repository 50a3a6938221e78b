package causal

import (
	"errors"
	"fmt"
	"strings"
)

// GraphError reports a structural problem in a set of causal events.
//
// Graph errors include:
//   - Cycle: the causedBy edges form a loop (should never happen for
//     events created through a store; fails loudly when tripped)
//   - Unknown node: an event names a parent that is not in the set, or a
//     query names an id the graph does not contain
//   - Duplicate node: two events share an id
//   - Invalid event: a required field is missing
type GraphError struct {
	// Code identifies the error category.
	Code GraphErrorCode

	// Message is a human-readable description.
	Message string

	// EventID identifies the offending event, when there is one.
	EventID string

	// Members lists the events of a detected cycle.
	Members []string
}

// GraphErrorCode categorizes graph errors.
type GraphErrorCode string

const (
	ErrCodeCycle         GraphErrorCode = "CYCLE"
	ErrCodeUnknownNode   GraphErrorCode = "UNKNOWN_NODE"
	ErrCodeDuplicateNode GraphErrorCode = "DUPLICATE_NODE"
	ErrCodeInvalidEvent  GraphErrorCode = "INVALID_EVENT"
)

// Error implements the error interface.
func (e *GraphError) Error() string {
	switch {
	case len(e.Members) > 0:
		return fmt.Sprintf("%s: %s (members=%s)", e.Code, e.Message, strings.Join(e.Members, ","))
	case e.EventID != "":
		return fmt.Sprintf("%s: %s (event=%s)", e.Code, e.Message, e.EventID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCycleError returns true if err is a GraphError with ErrCodeCycle.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	return hasGraphCode(err, ErrCodeCycle)
}

// IsUnknownNodeError returns true if err is a GraphError with ErrCodeUnknownNode.
func IsUnknownNodeError(err error) bool {
	return hasGraphCode(err, ErrCodeUnknownNode)
}

// IsDuplicateNodeError returns true if err is a GraphError with ErrCodeDuplicateNode.
func IsDuplicateNodeError(err error) bool {
	return hasGraphCode(err, ErrCodeDuplicateNode)
}

func hasGraphCode(err error, code GraphErrorCode) bool {
	var ge *GraphError
	if errors.As(err, &ge) {
		return ge.Code == code
	}
	return false
}

func unknownNode(id, context string) *GraphError {
	return &GraphError{
		Code:    ErrCodeUnknownNode,
		Message: context,
		EventID: id,
	}
}
