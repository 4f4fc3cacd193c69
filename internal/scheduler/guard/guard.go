// Package guard holds the eligibility checks the scheduler applies before it
// touches a document.
package guard

import (
	"errors"
	"time"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
)

var (
	ErrNotRetrying          = errors.New("document_not_retrying")
	ErrBackoffPending       = errors.New("retry_backoff_pending")
	ErrNotRecoverable       = errors.New("document_not_recoverable")
	ErrTerminalEventPresent = errors.New("document_has_terminal_event")
	ErrNotSubmitted         = errors.New("document_not_submitted")
)

// recoverable are the statuses the processor can still drive forward.
var recoverable = map[domain.ComplianceStatus]bool{
	domain.StatusDraft:              true,
	domain.StatusValidated:          true,
	domain.StatusReadyForSubmission: true,
}

// RecoverableStatuses lists the statuses swept by the recovery job.
func RecoverableStatuses() []domain.ComplianceStatus {
	return []domain.ComplianceStatus{
		domain.StatusDraft,
		domain.StatusValidated,
		domain.StatusReadyForSubmission,
	}
}

// MaxBackoff caps the delay between automatic resubmissions.
const MaxBackoff = 30 * time.Minute

// NextAttemptAt is the earliest time a RETRYING document is resubmitted. The
// delay doubles with every recorded attempt.
func NextAttemptAt(doc *domain.ComplianceDocument, base time.Duration) time.Time {
	if base <= 0 {
		return doc.UpdatedAt
	}
	delay := base
	for i := 1; i < doc.SubmissionAttempts && delay < MaxBackoff; i++ {
		delay *= 2
	}
	if delay > MaxBackoff {
		delay = MaxBackoff
	}
	return doc.UpdatedAt.Add(delay)
}

func EnsureCanResubmit(doc *domain.ComplianceDocument, now time.Time, base time.Duration) error {
	if doc.ComplianceStatus != domain.StatusRetrying {
		return ErrNotRetrying
	}
	if now.Before(NextAttemptAt(doc, base)) {
		return ErrBackoffPending
	}
	return nil
}

// EnsureCanRecover rejects documents the processor already gave up on: when
// the latest event is VALIDATION_FAILED or FAILED the document needs a human,
// not another background run. A later event (a manual validate or submit)
// makes it recoverable again.
func EnsureCanRecover(doc *domain.ComplianceDocument, events []domain.ComplianceEvent) error {
	if !recoverable[doc.ComplianceStatus] {
		return ErrNotRecoverable
	}
	latest := latestEvent(events)
	if latest == nil {
		return nil
	}
	switch latest.EventType {
	case domain.EventValidationFailed, domain.EventFailed:
		return ErrTerminalEventPresent
	}
	return nil
}

func latestEvent(events []domain.ComplianceEvent) *domain.ComplianceEvent {
	var latest *domain.ComplianceEvent
	for i := range events {
		ev := &events[i]
		if latest == nil || ev.CreatedAt.After(latest.CreatedAt) ||
			(ev.CreatedAt.Equal(latest.CreatedAt) && ev.ID >= latest.ID) {
			latest = ev
		}
	}
	return latest
}

func EnsureStuck(doc *domain.ComplianceDocument) error {
	if doc.ComplianceStatus != domain.StatusSubmitted {
		return ErrNotSubmitted
	}
	return nil
}
