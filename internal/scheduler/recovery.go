package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	obsmetrics "github.com/smallbiznis/etimsbridge/internal/observability/metrics"
	"github.com/smallbiznis/etimsbridge/internal/scheduler/guard"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const resourceDocument = "compliance_document"

// RetrySubmissionsJob resubmits RETRYING documents whose backoff has elapsed.
// Submissions run in parallel up to the configured concurrency.
func (s *Scheduler) RetrySubmissionsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRetrySubmissions, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()

	docs, err := s.documents.FindByStatuses(ctx, []domain.ComplianceStatus{domain.StatusRetrying}, now, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.document.fetch.failed", JobRetrySubmissions, "", err)
		return err
	}

	var (
		mu     sync.Mutex
		jobErr error
		g      errgroup.Group
	)
	g.SetLimit(s.cfg.Concurrency)

	for i := range docs {
		doc := docs[i]
		if err := guard.EnsureCanResubmit(&doc, now, s.cfg.RetryBackoff); err != nil {
			s.logDocumentSkipped(ctx, JobRetrySubmissions, &doc, err)
			continue
		}
		s.logDocumentClaimed(ctx, JobRetrySubmissions, &doc)

		g.Go(func() error {
			res, err := s.svc.Submit(ctx, doc.ID)
			if err != nil {
				if isRaceLoss(err) {
					s.logDocumentSkipped(ctx, JobRetrySubmissions, &doc, err)
					return nil
				}
				mu.Lock()
				jobErr = errors.Join(jobErr, err)
				mu.Unlock()
				s.logSchedulerError(ctx, run, "scheduler.document.process.failed", JobRetrySubmissions, doc.MerchantID, err,
					zap.String("document_id", doc.ID.String()),
				)
				return nil
			}
			run.AddProcessed(1)
			s.logger(ctx).Debug("scheduler.document.resubmitted",
				zap.String("document_id", doc.ID.String()),
				zap.String("status", string(res.Document.ComplianceStatus)),
				zap.Int("attempts", res.Document.SubmissionAttempts),
			)
			return nil
		})
	}
	_ = g.Wait()

	processed, _ := run.counts()
	obsmetrics.Scheduler().AddBatchProcessed(JobRetrySubmissions, resourceDocument, processed)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(jobErr, ctxErr)
	}
	return jobErr
}

// RecoverySweepJob re-enqueues documents the processor never finished, for
// example after a restart or a dropped enqueue.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRecoverySweep, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	cutoff := s.clock.Now().Add(-s.cfg.RecoveryAfter)

	docs, err := s.documents.FindByStatuses(ctx, guard.RecoverableStatuses(), cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.document.fetch.failed", JobRecoverySweep, "", err)
		return err
	}

	var jobErr error
	for i := range docs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		doc := &docs[i]

		events, err := s.events.FindByDocumentID(ctx, doc.ID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.document.process.failed", JobRecoverySweep, doc.MerchantID, err,
				zap.String("document_id", doc.ID.String()),
			)
			continue
		}
		if err := guard.EnsureCanRecover(doc, events); err != nil {
			s.logDocumentSkipped(ctx, JobRecoverySweep, doc, err)
			continue
		}

		if !s.queue.Enqueue(doc.ID) {
			// queue full; the remaining documents wait for the next tick
			obsmetrics.Scheduler().IncBatchDeferred(JobRecoverySweep, "queue_full")
			break
		}
		s.logDocumentClaimed(ctx, JobRecoverySweep, doc)
		run.AddProcessed(1)
	}

	processed, _ := run.counts()
	obsmetrics.Scheduler().AddBatchProcessed(JobRecoverySweep, resourceDocument, processed)
	return jobErr
}

// StuckSubmissionsJob moves documents left in SUBMITTED past the threshold
// back to RETRYING. A crash between the adapter call and the outcome leaves
// them there; resubmission is the only safe way forward.
func (s *Scheduler) StuckSubmissionsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobStuckSubmissions, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	cutoff := s.clock.Now().Add(-s.cfg.StuckAfter)

	docs, err := s.documents.FindByStatuses(ctx, []domain.ComplianceStatus{domain.StatusSubmitted}, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.document.fetch.failed", JobStuckSubmissions, "", err)
		return err
	}

	var jobErr error
	for i := range docs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		doc := &docs[i]
		if err := guard.EnsureStuck(doc); err != nil {
			s.logDocumentSkipped(ctx, JobStuckSubmissions, doc, err)
			continue
		}
		s.logDocumentClaimed(ctx, JobStuckSubmissions, doc)

		if _, err := s.svc.RecoverStuck(ctx, doc.ID, cutoff); err != nil {
			if isRaceLoss(err) {
				s.logDocumentSkipped(ctx, JobStuckSubmissions, doc, err)
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.logSchedulerError(ctx, run, "scheduler.document.process.failed", JobStuckSubmissions, doc.MerchantID, err,
				zap.String("document_id", doc.ID.String()),
			)
			continue
		}
		run.AddProcessed(1)
	}

	processed, _ := run.counts()
	obsmetrics.Scheduler().AddBatchProcessed(JobStuckSubmissions, resourceDocument, processed)
	return jobErr
}

// isRaceLoss reports errors caused by another worker moving the document
// between the fetch and the operation.
func isRaceLoss(err error) bool {
	return errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrConcurrentModification)
}
