package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/config"
	obsmetrics "github.com/smallbiznis/etimsbridge/internal/observability/metrics"
	"go.uber.org/zap"
)

// Processor runs the validate -> prepare -> submit chain off the request path
// on a bounded pool of workers. Enqueue never blocks; a full queue drops the
// id and leaves the document to the recovery sweep.
type Processor struct {
	svc     *Service
	log     *zap.Logger
	queue   chan snowflake.ID
	workers int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newProcessor(svc *Service, policy config.SubmissionPolicy, log *zap.Logger) *Processor {
	policy = policy.WithDefaults()
	return &Processor{
		svc:     svc,
		log:     log.Named("compliance.processor"),
		queue:   make(chan snowflake.ID, policy.QueueSize),
		workers: policy.Workers,
	}
}

// Enqueue schedules id for background processing and reports whether it was
// accepted.
func (p *Processor) Enqueue(id snowflake.ID) bool {
	select {
	case p.queue <- id:
		obsmetrics.Scheduler().SetQueueDepth(len(p.queue))
		return true
	default:
		obsmetrics.Scheduler().IncQueueDropped()
		p.log.Warn("processing queue full, document left for recovery sweep",
			zap.String("document_id", id.String()),
			zap.Int("capacity", cap(p.queue)),
		)
		return false
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.log.Info("compliance processor started", zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.queue)))
}

// Stop cancels the workers and waits for in-flight documents or ctx.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			obsmetrics.Scheduler().SetQueueDepth(len(p.queue))
			_ = p.Process(ctx, id)
		}
	}
}

// Process drives one document as far as its status allows. Failures are
// recorded on the document and returned; panics are converted to errors.
func (p *Processor) Process(ctx context.Context, id snowflake.ID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
			p.log.Error("compliance processor panic",
				zap.String("document_id", id.String()),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		if err != nil {
			p.markFailed(ctx, id, err)
		}
	}()

	return p.run(ctx, id)
}

func (p *Processor) run(ctx context.Context, id snowflake.ID) error {
	doc, err := p.svc.Get(ctx, id)
	if err != nil {
		return err
	}

	if doc.ComplianceStatus == domain.StatusDraft {
		res, err := p.svc.Validate(ctx, id)
		if err != nil {
			return err
		}
		if !res.Transitioned {
			if res.Document.ComplianceStatus != domain.StatusDraft {
				return nil
			}
			return p.svc.appendEvent(ctx, id, domain.EventValidationFailed, map[string]any{
				"validation": res.Validation.ToMap(),
			}, nil)
		}
		doc = res.Document
	}

	if doc.ComplianceStatus == domain.StatusValidated {
		if doc, err = p.svc.Prepare(ctx, id); err != nil {
			return err
		}
	}

	if doc.ComplianceStatus == domain.StatusReadyForSubmission {
		if _, err := p.svc.Submit(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// markFailed appends a FAILED event and moves the document to FAILED when
// the state machine allows it. It never returns an error to the worker.
func (p *Processor) markFailed(ctx context.Context, id snowflake.ID, cause error) {
	log := p.log.With(zap.String("document_id", id.String()), zap.Error(cause))
	if isNotFound(cause) || errors.Is(cause, context.Canceled) {
		log.Warn("document processing aborted")
		return
	}
	log.Error("document processing failed")

	defer func() {
		if r := recover(); r != nil {
			log.Error("recording processing failure panicked", zap.Any("panic", r))
		}
	}()

	ctx = context.WithoutCancel(ctx)
	err := p.svc.withDocumentLock(ctx, id, func(doc *domain.ComplianceDocument) error {
		if err := p.svc.appendEvent(ctx, id, domain.EventFailed, map[string]any{
			"error": cause.Error(),
		}, nil); err != nil {
			return err
		}
		if !domain.CanTransition(doc.ComplianceStatus, domain.StatusFailed) {
			return nil
		}
		return p.svc.transition(ctx, doc, cloneLines(doc.Lines), domain.StatusFailed)
	})
	if err != nil {
		log.Error("recording processing failure failed", zap.NamedError("record_error", err))
	}
}
