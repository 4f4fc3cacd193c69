package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/compliance/rules"
	"github.com/smallbiznis/etimsbridge/internal/regulatory/oscu"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	outcomeAccepted = "accepted"
	outcomeRetrying = "retrying"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"

	missingReceiptError = "missing receipt number"
	stuckRecoveryReason = "submission outcome unknown"
)

// Validate runs the rules engine on a DRAFT document. Any other status is
// reported back untouched with Transitioned=false.
func (s *Service) Validate(ctx context.Context, id snowflake.ID) (domain.ValidateResult, error) {
	ctx, span := s.startSpan(documentContext(ctx, id), "compliance.Validate", attribute.String("document_id", id.String()))
	defer span.End()

	var result domain.ValidateResult
	err := s.withDocumentLock(ctx, id, func(doc *domain.ComplianceDocument) error {
		if doc.ComplianceStatus != domain.StatusDraft {
			result = domain.ValidateResult{
				Document:   doc,
				Validation: domain.NewValidationResult(nil, nil),
			}
			result.Validation.IsValid = doc.ComplianceStatus == domain.StatusValidated
			return nil
		}

		items, err := s.items.FindByIDs(ctx, doc.ItemIDs())
		if err != nil {
			return err
		}
		validation := rules.Run(doc, rules.IndexItems(items))
		if !validation.IsValid {
			for _, issue := range validation.Errors {
				s.metrics.RecordValidationFailure(ctx, issue.Code)
			}
			result = domain.ValidateResult{Document: doc, Validation: validation}
			return nil
		}

		before := cloneLines(doc.Lines)
		if err := s.transition(ctx, doc, before, domain.StatusValidated); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, doc.ID, domain.EventValidated, map[string]any{
			"validation": validation.ToMap(),
		}, nil); err != nil {
			return err
		}
		result = domain.ValidateResult{Document: doc, Validation: validation, Transitioned: true}
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return domain.ValidateResult{}, err
	}
	return result, nil
}

// Prepare fills blank line snapshots from the item master and moves the
// document to READY_FOR_SUBMISSION. Populated snapshots are never replaced.
func (s *Service) Prepare(ctx context.Context, id snowflake.ID) (*domain.ComplianceDocument, error) {
	ctx, span := s.startSpan(documentContext(ctx, id), "compliance.Prepare", attribute.String("document_id", id.String()))
	defer span.End()

	var out *domain.ComplianceDocument
	err := s.withDocumentLock(ctx, id, func(doc *domain.ComplianceDocument) error {
		if doc.ComplianceStatus != domain.StatusValidated {
			return fmt.Errorf("%w: document must be VALIDATED to prepare (current %s)",
				domain.ErrInvalidState, doc.ComplianceStatus)
		}

		items, err := s.items.FindByIDs(ctx, doc.ItemIDs())
		if err != nil {
			return err
		}
		byID := rules.IndexItems(items)

		before := cloneLines(doc.Lines)
		enriched := 0
		for i := range doc.Lines {
			item, ok := byID[doc.Lines[i].ItemID]
			if !ok {
				continue
			}
			if doc.Lines[i].FillMissingSnapshots(item) {
				enriched++
			}
		}
		if err := domain.AssertSnapshotsPreserved(before, doc.Lines); err != nil {
			s.logger(ctx, doc).Error("snapshot invariant violated", zap.Error(err))
			return err
		}

		if err := s.transition(ctx, doc, before, domain.StatusReadyForSubmission); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, doc.ID, domain.EventPrepared, map[string]any{
			"prepared":      true,
			"enrichedLines": enriched,
		}, nil); err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return out, nil
}

// Submit sends a READY_FOR_SUBMISSION or RETRYING document to the regulator
// and records the outcome. A regulator rejection is not an error; it is
// reflected in the returned document status.
func (s *Service) Submit(ctx context.Context, id snowflake.ID) (domain.SubmitResult, error) {
	ctx, span := s.startSpan(documentContext(ctx, id), "compliance.Submit", attribute.String("document_id", id.String()))
	defer span.End()

	var result domain.SubmitResult
	err := s.withDocumentLock(ctx, id, func(doc *domain.ComplianceDocument) error {
		var err error
		result, err = s.submitLocked(ctx, doc)
		return err
	})
	if err != nil {
		recordSpanError(span, err)
		return domain.SubmitResult{}, err
	}
	span.SetAttributes(
		attribute.String("status", string(result.Document.ComplianceStatus)),
		attribute.Int("attempts", result.Document.SubmissionAttempts),
	)
	return result, nil
}

func (s *Service) submitLocked(ctx context.Context, doc *domain.ComplianceDocument) (domain.SubmitResult, error) {
	switch doc.ComplianceStatus {
	case domain.StatusReadyForSubmission, domain.StatusRetrying:
	default:
		return domain.SubmitResult{}, fmt.Errorf("%w: document must be READY_FOR_SUBMISSION or RETRYING to submit (current %s)",
			domain.ErrInvalidState, doc.ComplianceStatus)
	}

	conn, err := s.connections.FindByMerchantAndBranch(ctx, doc.MerchantID, doc.BranchID)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if conn == nil {
		return domain.SubmitResult{}, fmt.Errorf("%w: merchant %s branch %s", domain.ErrConnectionNotFound, doc.MerchantID, doc.BranchID)
	}
	if !conn.IsActive() {
		return domain.SubmitResult{}, fmt.Errorf("%w: status %s", domain.ErrConnectionInactive, conn.Status)
	}

	policy := s.policy.Get()
	now := s.clock.Now()
	req := oscu.BuildSalesRequest(doc, oscu.BuildOptions{
		Tin:      conn.KraPin,
		BranchID: conn.BranchID,
		CmcKey:   domain.StringValue(conn.CmcKey),
		Now:      now,
	})

	before := cloneLines(doc.Lines)
	previous := doc.SubmissionAttempts
	doc.SubmissionAttempts++
	if err := domain.AssertSubmissionIncrement(previous, doc.SubmissionAttempts); err != nil {
		s.logger(ctx, doc).Error("submission counter invariant violated", zap.Error(err))
		return domain.SubmitResult{}, err
	}
	doc.SubmittedAt = &now
	if err := s.transition(ctx, doc, before, domain.StatusSubmitted); err != nil {
		return domain.SubmitResult{}, err
	}

	started := time.Now()
	submission := s.callAdapter(ctx, req, domain.NewConnectionContext(conn), policy.AdapterTimeout)
	elapsed := time.Since(started)

	if err := s.appendEvent(ctx, doc.ID, domain.EventSubmitted, map[string]any{
		"payload": toJSONMap(req.Redacted()),
		"result":  submission.ToMap(),
	}, nil); err != nil {
		return domain.SubmitResult{}, err
	}

	log := s.logger(ctx, doc).With(zap.Int("attempt", doc.SubmissionAttempts))
	outcome := ""
	switch {
	case submission.Success:
		outcome = outcomeAccepted
		receipt := submission.ReceiptNumber
		doc.EtimsReceiptNumber = &receipt
		if err := s.transition(ctx, doc, before, domain.StatusAccepted); err != nil {
			return domain.SubmitResult{}, err
		}
		if err := s.appendEvent(ctx, doc.ID, domain.EventAccepted, map[string]any{
			"receiptNumber": receipt,
		}, submission.RawResponse); err != nil {
			return domain.SubmitResult{}, err
		}
		log.Info("document accepted by regulator", zap.String("receipt_number", receipt))

	case submission.Retryable() && doc.SubmissionAttempts >= policy.MaxAttempts:
		outcome = outcomeFailed
		if err := s.transition(ctx, doc, before, domain.StatusFailed); err != nil {
			return domain.SubmitResult{}, err
		}
		if err := s.appendEvent(ctx, doc.ID, domain.EventFailed, map[string]any{
			"error":       submission.Error,
			"retryable":   true,
			"attempts":    doc.SubmissionAttempts,
			"maxAttempts": policy.MaxAttempts,
		}, submission.RawResponse); err != nil {
			return domain.SubmitResult{}, err
		}
		log.Warn("submission attempts exhausted", zap.Int("max_attempts", policy.MaxAttempts), zap.String("error", submission.Error))

	case submission.Retryable():
		outcome = outcomeRetrying
		if err := s.transition(ctx, doc, before, domain.StatusRetrying); err != nil {
			return domain.SubmitResult{}, err
		}
		if err := s.appendEvent(ctx, doc.ID, domain.EventRejected, map[string]any{
			"error":     submission.Error,
			"raw":       submission.RawResponse,
			"retryable": true,
		}, submission.RawResponse); err != nil {
			return domain.SubmitResult{}, err
		}
		log.Warn("transient submission failure", zap.String("error", submission.Error))

	default:
		outcome = outcomeRejected
		if err := s.transition(ctx, doc, before, domain.StatusRejected); err != nil {
			return domain.SubmitResult{}, err
		}
		if err := s.appendEvent(ctx, doc.ID, domain.EventRejected, map[string]any{
			"error":     submission.Error,
			"raw":       submission.RawResponse,
			"retryable": false,
		}, submission.RawResponse); err != nil {
			return domain.SubmitResult{}, err
		}
		log.Warn("document rejected by regulator", zap.String("error", submission.Error))
	}

	s.metrics.RecordSubmission(ctx, outcome, string(conn.Environment), elapsed)
	return domain.SubmitResult{
		Document:      doc,
		ReceiptNumber: submission.ReceiptNumber,
		Result:        submission,
	}, nil
}

// callAdapter bounds the regulator call and normalizes its result. A Go error
// from the adapter is a transient failure; success without a receipt is a
// terminal one.
func (s *Service) callAdapter(ctx context.Context, req oscu.TrnsSalesSaveRequest, conn domain.ConnectionContext, timeout time.Duration) domain.SubmissionResult {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := s.adapter.SubmitInvoice(callCtx, req, conn)
	if err != nil {
		return domain.RetryableFailure(err.Error(), nil)
	}
	if !result.Success {
		return result
	}
	if strings.TrimSpace(result.ReceiptNumber) == "" {
		result.ReceiptNumber = oscu.ReceiptNumberFrom(result.RawResponse)
	}
	if strings.TrimSpace(result.ReceiptNumber) == "" {
		return domain.SubmissionResult{
			Error:       missingReceiptError,
			RawResponse: result.RawResponse,
		}
	}
	return result
}

// Cancel withdraws a DRAFT document.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*domain.ComplianceDocument, error) {
	return s.manualTransition(ctx, id, "compliance.Cancel", domain.StatusCancelled, func(doc *domain.ComplianceDocument) (domain.EventType, map[string]any, error) {
		return domain.EventCancelled, map[string]any{"from": string(domain.StatusDraft)}, nil
	})
}

// Retry re-queues a REJECTED document for submission.
func (s *Service) Retry(ctx context.Context, id snowflake.ID) (*domain.ComplianceDocument, error) {
	return s.manualTransition(ctx, id, "compliance.Retry", domain.StatusRetrying, func(doc *domain.ComplianceDocument) (domain.EventType, map[string]any, error) {
		return domain.EventRetryAttempted, map[string]any{
			"reason":   "manual retry",
			"from":     string(doc.ComplianceStatus),
			"attempts": doc.SubmissionAttempts,
		}, nil
	})
}

// Abandon gives up on a REJECTED document.
func (s *Service) Abandon(ctx context.Context, id snowflake.ID, reason string) (*domain.ComplianceDocument, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "abandoned"
	}
	return s.manualTransition(ctx, id, "compliance.Abandon", domain.StatusFailed, func(doc *domain.ComplianceDocument) (domain.EventType, map[string]any, error) {
		return domain.EventFailed, map[string]any{
			"reason":   reason,
			"from":     string(doc.ComplianceStatus),
			"attempts": doc.SubmissionAttempts,
		}, nil
	})
}

// RecoverStuck moves a SUBMITTED document whose last update is older than the
// cutoff back to RETRYING. The earlier call's outcome is unknown, so the
// document is resubmitted rather than guessed.
func (s *Service) RecoverStuck(ctx context.Context, id snowflake.ID, olderThan time.Time) (*domain.ComplianceDocument, error) {
	return s.manualTransition(ctx, id, "compliance.RecoverStuck", domain.StatusRetrying, func(doc *domain.ComplianceDocument) (domain.EventType, map[string]any, error) {
		if doc.ComplianceStatus != domain.StatusSubmitted {
			return "", nil, fmt.Errorf("%w: only SUBMITTED documents can be recovered (current %s)",
				domain.ErrInvalidState, doc.ComplianceStatus)
		}
		if !doc.UpdatedAt.Before(olderThan) {
			return "", nil, fmt.Errorf("%w: submission still in flight since %s",
				domain.ErrInvalidState, doc.UpdatedAt.Format(time.RFC3339))
		}
		return domain.EventRetryAttempted, map[string]any{
			"reason":   stuckRecoveryReason,
			"attempts": doc.SubmissionAttempts,
		}, nil
	})
}

type eventBuilder func(doc *domain.ComplianceDocument) (domain.EventType, map[string]any, error)

func (s *Service) manualTransition(ctx context.Context, id snowflake.ID, spanName string, to domain.ComplianceStatus, build eventBuilder) (*domain.ComplianceDocument, error) {
	ctx, span := s.startSpan(documentContext(ctx, id), spanName, attribute.String("document_id", id.String()))
	defer span.End()

	var out *domain.ComplianceDocument
	err := s.withDocumentLock(ctx, id, func(doc *domain.ComplianceDocument) error {
		eventType, payload, err := build(doc)
		if err != nil {
			return err
		}
		if err := s.transition(ctx, doc, cloneLines(doc.Lines), to); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, doc.ID, eventType, payload, nil); err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return out, nil
}

func cloneLines(lines []domain.ComplianceLine) []domain.ComplianceLine {
	out := make([]domain.ComplianceLine, len(lines))
	for i, line := range lines {
		out[i] = line.Clone()
	}
	return out
}
