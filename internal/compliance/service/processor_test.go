package service

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProcessDrivesDocumentToAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).Return(accepted("R-1"), nil).Once()

	created, err := f.svc.Create(ctx, saleRequest("1001"), domain.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Processor().Process(ctx, created.Document.ID))

	doc, err := f.svc.Get(ctx, created.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, doc.ComplianceStatus)
	assert.Equal(t, []domain.EventType{
		domain.EventDocumentCreated,
		domain.EventValidated,
		domain.EventPrepared,
		domain.EventSubmitted,
		domain.EventAccepted,
	}, f.eventTypes(t, doc.ID))

	// a second pass over a terminal document does nothing
	require.NoError(t, f.svc.Processor().Process(ctx, created.Document.ID))
	f.adapter.AssertExpectations(t)
}

func TestProcessResumesPreparedDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).Return(accepted("R-2"), nil).Once()

	id := f.prepared(t, "1001")
	require.NoError(t, f.svc.Processor().Process(ctx, id))

	doc, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAccepted, doc.ComplianceStatus)
}

func TestProcessRecordsValidationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())

	req := saleRequest("1001")
	req.Lines[0].TaxAmount = 10
	req.TotalTax = 10
	req.TotalAmount = 110
	created, err := f.svc.Create(ctx, req, domain.CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Processor().Process(ctx, created.Document.ID))

	doc, err := f.svc.Get(ctx, created.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, doc.ComplianceStatus)
	assert.Equal(t, []domain.EventType{domain.EventDocumentCreated, domain.EventValidationFailed}, f.eventTypes(t, doc.ID))

	failure := f.lastEvent(t, doc.ID, domain.EventValidationFailed)
	validation, ok := failure.PayloadSnapshot["validation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, validation["isValid"])
	f.adapter.AssertNotCalled(t, "SubmitInvoice", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessConvertsAdapterPanicToFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.SubmissionResult{}, nil).
		Run(func(mock.Arguments) { panic("adapter exploded") })

	id := f.prepared(t, "1001")
	err := f.svc.Processor().Process(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter exploded")

	doc, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, doc.ComplianceStatus)
	assert.Equal(t, 1, doc.SubmissionAttempts)

	failed := f.lastEvent(t, id, domain.EventFailed)
	assert.Contains(t, failed.PayloadSnapshot["error"], "adapter exploded")
}

func TestProcessorWorkersHandleEnqueuedDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).Return(accepted("R-3"), nil)

	p := f.svc.Processor()
	p.Start()
	p.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, p.Stop(stopCtx))
	}()

	created, err := f.svc.Create(ctx, saleRequest("1001"), domain.CreateOptions{EnqueueProcessing: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		doc, err := f.svc.Get(ctx, created.Document.ID)
		return err == nil && doc.ComplianceStatus == domain.StatusAccepted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueDropsWhenQueueIsFull(t *testing.T) {
	policy := config.DefaultSubmissionPolicy()
	policy.QueueSize = 1
	policy.Workers = 1
	f := newFixture(t, policy)

	p := f.svc.Processor()
	assert.True(t, p.Enqueue(1))
	assert.False(t, p.Enqueue(2))
}
