package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/etimsbridge/internal/clock"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/compliance/service"
	"github.com/smallbiznis/etimsbridge/internal/locker"
	obsmetrics "github.com/smallbiznis/etimsbridge/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Enqueuer hands a document to the background processor.
type Enqueuer interface {
	Enqueue(id snowflake.ID) bool
}

type Params struct {
	fx.In

	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config `optional:"true"`
	Service   domain.Service
	Processor *service.Processor
	Documents domain.DocumentRepository
	Events    domain.EventRepository
	Redis     redis.UniversalClient `optional:"true"`
}

type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	svc       domain.Service
	queue     Enqueuer
	documents domain.DocumentRepository
	events    domain.EventRepository
	jobLocks  locker.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Service == nil || p.Processor == nil || p.Documents == nil || p.Events == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()

	var jobLocks locker.Locker = locker.NewLocal()
	if p.Redis != nil && !cfg.DisableRedisLock {
		jobLocks = locker.NewRedis(p.Redis, p.Log, cfg.JobLockTTL)
	}

	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		svc:       p.Service,
		queue:     p.Processor,
		documents: p.Documents,
		events:    p.Events,
		jobLocks:  jobLocks,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	schedMetrics := obsmetrics.Scheduler()

	release, err := s.acquireJobLock(parent, name)
	if err != nil {
		if errors.Is(err, locker.ErrNotObtained) {
			schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			s.log.Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "lock_held"))
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	defer release()

	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the rest
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) acquireJobLock(ctx context.Context, name string) (locker.Release, error) {
	start := time.Now()
	release, err := s.jobLocks.TryLock(ctx, locker.JobKey(name))
	obsmetrics.Scheduler().ObserveLockWait(obsmetrics.LockResourceJob, time.Since(start))
	return release, err
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobStuckSubmissions, s.isJobEnabled(JobStuckSubmissions), func(ctx context.Context) error {
			return s.runJob(ctx, JobStuckSubmissions, s.cfg.BatchSize, s.cfg.JobTimeout, s.StuckSubmissionsJob)
		}},
		{JobRetrySubmissions, s.isJobEnabled(JobRetrySubmissions), func(ctx context.Context) error {
			return s.runJob(ctx, JobRetrySubmissions, s.cfg.BatchSize, s.cfg.JobTimeout, s.RetrySubmissionsJob)
		}},
		{JobRecoverySweep, s.isJobEnabled(JobRecoverySweep), func(ctx context.Context) error {
			return s.runJob(ctx, JobRecoverySweep, s.cfg.BatchSize, s.cfg.JobTimeout, s.RecoverySweepJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
