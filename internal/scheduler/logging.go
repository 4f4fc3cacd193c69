package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	obscontext "github.com/smallbiznis/etimsbridge/internal/observability/context"
	obslogger "github.com/smallbiznis/etimsbridge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/etimsbridge/internal/observability/metrics"
	"go.uber.org/zap"
)

type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time

	mu             sync.Mutex
	processedCount int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.mu.Lock()
	r.processedCount += count
	r.mu.Unlock()
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.errorCount++
	r.mu.Unlock()
}

func (r *jobRun) counts() (processed, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processedCount, r.errorCount
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	ctx = s.withLogContext(ctx)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) withLogContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return obscontext.WithActor(ctx, "system", "scheduler")
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	processed, errs := run.counts()
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", processed),
		zap.Int("error_count", errs),
	}
	log := s.logger(ctx)
	if errs > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, job string, merchantID string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	if run != nil {
		run.IncError()
	}
	errorType := obsmetrics.ClassifySchedulerErrorType(err)
	retryable := obsmetrics.IsSchedulerErrorRetryable(err)
	baseFields := []zap.Field{
		zap.String("job", job),
		zap.String("merchant_id", merchantID),
		zap.String("error_type", errorType),
		zap.String("error", err.Error()),
		zap.Bool("retryable", retryable),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

func (s *Scheduler) logDocumentClaimed(ctx context.Context, job string, doc *domain.ComplianceDocument) {
	s.logger(ctx).Debug("scheduler.document.claimed",
		zap.String("job", job),
		zap.String("document_id", doc.ID.String()),
		zap.String("merchant_id", doc.MerchantID),
		zap.String("status", string(doc.ComplianceStatus)),
		zap.Int("attempts", doc.SubmissionAttempts),
	)
}

func (s *Scheduler) logDocumentSkipped(ctx context.Context, job string, doc *domain.ComplianceDocument, reason error) {
	s.logger(ctx).Debug("scheduler.document.skipped",
		zap.String("job", job),
		zap.String("document_id", doc.ID.String()),
		zap.String("status", string(doc.ComplianceStatus)),
		zap.String("reason", reason.Error()),
	)
}
