package domain

import (
	"fmt"
	"strings"
)

var transitions = map[ComplianceStatus][]ComplianceStatus{
	StatusDraft:              {StatusValidated, StatusCancelled},
	StatusValidated:          {StatusReadyForSubmission},
	StatusReadyForSubmission: {StatusSubmitted},
	StatusSubmitted:          {StatusAccepted, StatusRejected, StatusRetrying, StatusFailed},
	StatusRejected:           {StatusRetrying, StatusFailed},
	StatusRetrying:           {StatusSubmitted},
	StatusAccepted:           {},
	StatusFailed:             {},
	StatusCancelled:          {},
}

// AllowedTransitions returns a copy of the statuses reachable from from.
func AllowedTransitions(from ComplianceStatus) []ComplianceStatus {
	allowed := transitions[from]
	out := make([]ComplianceStatus, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to ComplianceStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AssertTransition fails with *InvalidTransitionError when from -> to is not allowed.
func AssertTransition(from, to ComplianceStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return &InvalidTransitionError{
		From:    from,
		To:      to,
		Allowed: AllowedTransitions(from),
	}
}

// InvalidTransitionError carries the attempted transition and what was allowed.
type InvalidTransitionError struct {
	From    ComplianceStatus
	To      ComplianceStatus
	Allowed []ComplianceStatus
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("invalid state transition: %s -> %s (allowed from %s: [%s])",
		e.From, e.To, e.From, strings.Join(allowed, ", "))
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || target == ErrInvariantViolation
}
