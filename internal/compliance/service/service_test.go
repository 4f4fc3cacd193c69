package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/clock"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/compliance/repository/memory"
	"github.com/smallbiznis/etimsbridge/internal/config"
	"github.com/smallbiznis/etimsbridge/internal/locker"
	"github.com/smallbiznis/etimsbridge/internal/regulatory/oscu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) SubmitInvoice(ctx context.Context, req oscu.TrnsSalesSaveRequest, conn domain.ConnectionContext) (domain.SubmissionResult, error) {
	args := m.Called(ctx, req, conn)
	return args.Get(0).(domain.SubmissionResult), args.Error(1)
}

type fixture struct {
	svc     *Service
	docs    domain.DocumentRepository
	events  domain.EventRepository
	items   *memory.ItemRepository
	conns   *memory.ConnectionRepository
	adapter *mockAdapter
	clock   *clock.FakeClock
}

func newFixture(t *testing.T, policy config.SubmissionPolicy) *fixture {
	t.Helper()
	items := memory.NewItemRepository(widget())
	conns := memory.NewConnectionRepository(activeConnection())
	return buildFixture(t, policy, memory.NewDocumentRepository(), memory.NewEventRepository(), items, conns, items, conns)
}

func buildFixture(
	t *testing.T,
	policy config.SubmissionPolicy,
	docs domain.DocumentRepository,
	events domain.EventRepository,
	items domain.ItemRepository,
	conns domain.ConnectionRepository,
	memItems *memory.ItemRepository,
	memConns *memory.ConnectionRepository,
) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		docs:    docs,
		events:  events,
		items:   memItems,
		conns:   memConns,
		adapter: &mockAdapter{},
		clock:   clock.NewFakeClock(base),
	}
	f.svc = NewService(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       f.clock,
		Documents:   docs,
		Events:      events,
		Items:       items,
		Connections: conns,
		Adapter:     f.adapter,
		Locker:      locker.NewLocal(),
		Policy:      config.NewStaticPolicy(policy),
	})
	return f
}

func widget() domain.ComplianceItem {
	return domain.ComplianceItem{
		ID:                 "item-1",
		MerchantID:         "m1",
		Name:               "Widget",
		ItemType:           domain.ItemTypeGoods,
		TaxCategory:        domain.TaxCategoryVATStandard,
		ClassificationCode: domain.StringPtr("ABCD1234"),
		UnitCode:           domain.StringPtr("U"),
		PackagingUnitCode:  domain.StringPtr("NT"),
		TaxTyCd:            domain.StringPtr("B"),
		ProductTypeCode:    domain.StringPtr("2"),
		Version:            1,
		CreatedAt:          base,
		UpdatedAt:          base,
	}
}

func activeConnection() domain.ComplianceConnection {
	return domain.ComplianceConnection{
		ID:          1,
		MerchantID:  "m1",
		BranchID:    "00",
		KraPin:      "P051234567X",
		DeviceID:    "KRACU0100000001",
		Environment: domain.EnvironmentSandbox,
		Status:      domain.ConnectionStatusActive,
		CmcKey:      domain.StringPtr("secret-cmc"),
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

func saleRequest(source string) domain.CreateDocumentRequest {
	return domain.CreateDocumentRequest{
		MerchantID:       "m1",
		BranchID:         "00",
		SourceSystem:     domain.SourceSystemAPI,
		SourceDocumentID: source,
		DocumentType:     domain.DocumentTypeSale,
		DocumentNumber:   "INV-" + source,
		SaleDate:         domain.StringPtr("2025-03-01"),
		Currency:         "KES",
		ExchangeRate:     1,
		SubtotalAmount:   100,
		TotalTax:         16,
		TotalAmount:      116,
		Lines: []domain.CreateLineRequest{{
			ItemID:      "item-1",
			Description: "Widget",
			Quantity:    1,
			UnitPrice:   100,
			TaxCategory: domain.TaxCategoryVATStandard,
			TaxAmount:   16,
		}},
	}
}

func accepted(receipt string) domain.SubmissionResult {
	return domain.SubmissionResult{
		Success:       true,
		ReceiptNumber: receipt,
		RawResponse: map[string]any{
			"resultCd":  "000",
			"resultMsg": "It is succeeded",
			"resultDt":  "20250301080000",
			"data": map[string]any{
				"curRcptNo":   receipt,
				"totRcptNo":   "7",
				"intrlData":   "INTRLDATA",
				"rcptSign":    "SIGNATURE",
				"sdcDateTime": "20250301080000",
			},
		},
	}
}

func (f *fixture) prepared(t *testing.T, source string) snowflake.ID {
	t.Helper()
	ctx := context.Background()
	created, err := f.svc.Create(ctx, saleRequest(source), domain.CreateOptions{})
	require.NoError(t, err)
	res, err := f.svc.Validate(ctx, created.Document.ID)
	require.NoError(t, err)
	require.True(t, res.Transitioned, "validation errors: %+v", res.Validation.Errors)
	_, err = f.svc.Prepare(ctx, created.Document.ID)
	require.NoError(t, err)
	return created.Document.ID
}

func (f *fixture) eventTypes(t *testing.T, id snowflake.ID) []domain.EventType {
	t.Helper()
	events, err := f.svc.Events(context.Background(), id)
	require.NoError(t, err)
	out := make([]domain.EventType, 0, len(events))
	for _, event := range events {
		out = append(out, event.EventType)
	}
	return out
}

func (f *fixture) lastEvent(t *testing.T, id snowflake.ID, eventType domain.EventType) domain.ComplianceEvent {
	t.Helper()
	events, err := f.svc.Events(context.Background(), id)
	require.NoError(t, err)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].EventType == eventType {
			return events[i]
		}
	}
	t.Fatalf("no %s event for document %s", eventType, id)
	return domain.ComplianceEvent{}
}

func TestCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())

	first, err := f.svc.Create(ctx, saleRequest("1001"), domain.CreateOptions{})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, domain.StatusDraft, first.Document.ComplianceStatus)
	assert.Equal(t, "m1:1001:SALE", first.Document.IdempotencyKey)

	second, err := f.svc.Create(ctx, saleRequest("1001"), domain.CreateOptions{})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Document.ID, second.Document.ID)

	assert.Equal(t, []domain.EventType{domain.EventDocumentCreated}, f.eventTypes(t, first.Document.ID))
	created := f.lastEvent(t, first.Document.ID, domain.EventDocumentCreated)
	assert.Equal(t, "1001", created.PayloadSnapshot["sourceDocumentId"])

	all, err := f.docs.FindByMerchant(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateSnapshotPrecedence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())

	req := saleRequest("1002")
	req.Lines[0].ClassificationCode = domain.StringPtr("OVR12345")
	blank := "   "
	req.Lines[0].UnitCode = &blank

	res, err := f.svc.Create(ctx, req, domain.CreateOptions{})
	require.NoError(t, err)
	line := res.Document.Lines[0]
	assert.Equal(t, "OVR12345", domain.StringValue(line.ClassificationCodeSnapshot))
	assert.Equal(t, "U", domain.StringValue(line.UnitCodeSnapshot))
	assert.Equal(t, "B", domain.StringValue(line.TaxTyCdSnapshot))
	assert.Equal(t, 1, line.LineNo)
}

func TestCreateRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())

	missingItem := saleRequest("1003")
	missingItem.Lines[0].ItemID = "ghost"
	_, err := f.svc.Create(ctx, missingItem, domain.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	noMerchant := saleRequest("1004")
	noMerchant.MerchantID = " "
	_, err = f.svc.Create(ctx, noMerchant, domain.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	badType := saleRequest("1005")
	badType.DocumentType = "RECEIPT"
	_, err = f.svc.Create(ctx, badType, domain.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestValidateFailureKeepsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())

	req := saleRequest("1006")
	req.TotalAmount = 200
	created, err := f.svc.Create(ctx, req, domain.CreateOptions{})
	require.NoError(t, err)

	res, err := f.svc.Validate(ctx, created.Document.ID)
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.False(t, res.Validation.IsValid)
	assert.True(t, res.Validation.HasError("STRUCTURAL_TOTAL_MISMATCH"))
	assert.Equal(t, domain.StatusDraft, res.Document.ComplianceStatus)

	_, err = f.svc.Prepare(ctx, created.Document.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestValidateIsNoOpOutsideDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1007")

	res, err := f.svc.Validate(ctx, id)
	require.NoError(t, err)
	assert.False(t, res.Transitioned)
	assert.False(t, res.Validation.IsValid)
	assert.Equal(t, domain.StatusReadyForSubmission, res.Document.ComplianceStatus)
}

func TestSubmitAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")

	f.adapter.On("SubmitInvoice", mock.Anything, mock.MatchedBy(func(req oscu.TrnsSalesSaveRequest) bool {
		return req.CmcKey == "secret-cmc" && req.Tin == "P051234567X" && req.TaxblAmtB == 100
	}), mock.MatchedBy(func(conn domain.ConnectionContext) bool {
		return conn.DeviceID == "KRACU0100000001" && conn.BranchID == "00"
	})).Return(accepted("R-1"), nil).Once()

	res, err := f.svc.Submit(ctx, id)
	require.NoError(t, err)
	f.adapter.AssertExpectations(t)

	assert.Equal(t, "R-1", res.ReceiptNumber)
	assert.Equal(t, domain.StatusAccepted, res.Document.ComplianceStatus)
	assert.Equal(t, 1, res.Document.SubmissionAttempts)
	require.NotNil(t, res.Document.SubmittedAt)

	stored, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "R-1", domain.StringValue(stored.EtimsReceiptNumber))

	assert.Equal(t, []domain.EventType{
		domain.EventDocumentCreated,
		domain.EventValidated,
		domain.EventPrepared,
		domain.EventSubmitted,
		domain.EventAccepted,
	}, f.eventTypes(t, id))

	acceptedEvent := f.lastEvent(t, id, domain.EventAccepted)
	assert.Equal(t, "000", acceptedEvent.ResponseSnapshot["resultCd"])

	submitted := f.lastEvent(t, id, domain.EventSubmitted)
	payload, ok := submitted.PayloadSnapshot["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[REDACTED]", payload["cmcKey"])
}

func TestSubmitRetryableFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")

	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.RetryableFailure("HTTP 503", map[string]any{"status": 503}), nil)

	res, err := f.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, res.Document.ComplianceStatus)
	assert.Empty(t, res.ReceiptNumber)

	types := f.eventTypes(t, id)
	assert.Equal(t, []domain.EventType{domain.EventSubmitted, domain.EventRejected}, types[len(types)-2:])
	rejected := f.lastEvent(t, id, domain.EventRejected)
	assert.Equal(t, true, rejected.PayloadSnapshot["retryable"])
}

func TestSubmitCountsEveryAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")

	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.SubmissionResult{}, fmt.Errorf("dial tcp: connection refused"))

	for i := 1; i <= 3; i++ {
		res, err := f.svc.Submit(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i, res.Document.SubmissionAttempts)
		assert.Equal(t, domain.StatusRetrying, res.Document.ComplianceStatus)
		assert.True(t, res.Result.Retryable())
	}

	submitted := 0
	for _, eventType := range f.eventTypes(t, id) {
		if eventType == domain.EventSubmitted {
			submitted++
		}
	}
	assert.Equal(t, 3, submitted)
}

func TestSubmitExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	policy := config.DefaultSubmissionPolicy()
	policy.MaxAttempts = 2
	f := newFixture(t, policy)
	id := f.prepared(t, "1001")

	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.RetryableFailure("HTTP 502", nil), nil)

	res, err := f.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, res.Document.ComplianceStatus)

	res, err = f.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Document.ComplianceStatus)
	failed := f.lastEvent(t, id, domain.EventFailed)
	assert.EqualValues(t, 2, failed.PayloadSnapshot["attempts"])

	_, err = f.svc.Submit(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSubmitTerminalRejectionThenRetryAndAbandon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")
	other := f.prepared(t, "1002")

	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.SubmissionResult{Error: "910: invalid item code", RawResponse: map[string]any{"resultCd": "910"}}, nil)

	res, err := f.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, res.Document.ComplianceStatus)
	rejected := f.lastEvent(t, id, domain.EventRejected)
	assert.Equal(t, false, rejected.PayloadSnapshot["retryable"])

	doc, err := f.svc.Retry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, doc.ComplianceStatus)
	assert.Equal(t, "manual retry", f.lastEvent(t, id, domain.EventRetryAttempted).PayloadSnapshot["reason"])

	_, err = f.svc.Abandon(ctx, id, "gave up")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.Submit(ctx, other)
	require.NoError(t, err)
	doc, err = f.svc.Abandon(ctx, other, "wrong customer")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, doc.ComplianceStatus)
	assert.Equal(t, "wrong customer", f.lastEvent(t, other, domain.EventFailed).PayloadSnapshot["reason"])
}

func TestSubmitSuccessWithoutReceiptIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")

	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.SubmissionResult{Success: true, RawResponse: map[string]any{"resultCd": "000"}}, nil)

	res, err := f.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, res.Document.ComplianceStatus)
	assert.Equal(t, missingReceiptError, res.Result.Error)
	assert.Nil(t, res.Document.EtimsReceiptNumber)
}

func TestSubmitRequiresActiveConnection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")

	inactive := activeConnection()
	inactive.Status = domain.ConnectionStatusSuspended
	f.conns.Put(inactive)
	_, err := f.svc.Submit(ctx, id)
	assert.ErrorIs(t, err, domain.ErrConnectionInactive)

	moved := activeConnection()
	moved.BranchID = "01"
	f.conns = memory.NewConnectionRepository(moved)
	f.svc.connections = f.conns
	_, err = f.svc.Submit(ctx, id)
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)

	doc, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReadyForSubmission, doc.ComplianceStatus)
	assert.Zero(t, doc.SubmissionAttempts)
	f.adapter.AssertNotCalled(t, "SubmitInvoice", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitRequiresReadyDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())

	created, err := f.svc.Create(ctx, saleRequest("1001"), domain.CreateOptions{})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, created.Document.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.svc.Submit(ctx, 424242)
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestConcurrentSubmitSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")

	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).Return(accepted("R-1"), nil)

	var (
		wg        sync.WaitGroup
		successes int32
		invalid   int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Submit(ctx, id)
			if err == nil {
				atomic.AddInt32(&successes, 1)
				return
			}
			if errors.Is(err, domain.ErrInvalidState) {
				atomic.AddInt32(&invalid, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(7), invalid)
	f.adapter.AssertNumberOfCalls(t, "SubmitInvoice", 1)

	doc, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.SubmissionAttempts)
}

func TestPrepareFillsOnlyBlankSnapshots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())

	bare := widget()
	bare.PackagingUnitCode = nil
	bare.ProductTypeCode = nil
	f.items.Put(bare)

	created, err := f.svc.Create(ctx, saleRequest("1001"), domain.CreateOptions{})
	require.NoError(t, err)
	require.Nil(t, created.Document.Lines[0].PackagingUnitCodeSnapshot)
	res, err := f.svc.Validate(ctx, created.Document.ID)
	require.NoError(t, err)
	require.True(t, res.Transitioned)

	updated := widget()
	updated.ClassificationCode = domain.StringPtr("ZZZZ9999")
	updated.PackagingUnitCode = domain.StringPtr("BX")
	f.items.Put(updated)

	doc, err := f.svc.Prepare(ctx, created.Document.ID)
	require.NoError(t, err)
	line := doc.Lines[0]
	assert.Equal(t, "ABCD1234", domain.StringValue(line.ClassificationCodeSnapshot))
	assert.Equal(t, "BX", domain.StringValue(line.PackagingUnitCodeSnapshot))
	assert.Equal(t, "2", domain.StringValue(line.ProductTypeCodeSnapshot))
	assert.Equal(t, domain.StatusReadyForSubmission, doc.ComplianceStatus)

	prepared := f.lastEvent(t, doc.ID, domain.EventPrepared)
	assert.EqualValues(t, 1, prepared.PayloadSnapshot["enrichedLines"])
}

func TestCancelDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())

	created, err := f.svc.Create(ctx, saleRequest("1001"), domain.CreateOptions{})
	require.NoError(t, err)

	doc, err := f.svc.Cancel(ctx, created.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, doc.ComplianceStatus)
	assert.Equal(t, []domain.EventType{domain.EventDocumentCreated, domain.EventCancelled}, f.eventTypes(t, doc.ID))

	_, err = f.svc.Cancel(ctx, created.Document.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRecoverStuckSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")

	doc, err := f.docs.FindByID(ctx, id)
	require.NoError(t, err)
	doc.SubmissionAttempts = 1
	require.NoError(t, doc.TransitionTo(domain.StatusSubmitted, f.clock.Now()))
	require.NoError(t, f.docs.Save(ctx, doc))

	_, err = f.svc.RecoverStuck(ctx, id, f.clock.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	f.clock.Advance(20 * time.Minute)
	recovered, err := f.svc.RecoverStuck(ctx, id, f.clock.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRetrying, recovered.ComplianceStatus)
	assert.Equal(t, stuckRecoveryReason, f.lastEvent(t, id, domain.EventRetryAttempted).PayloadSnapshot["reason"])

	_, err = f.svc.RecoverStuck(ctx, id, f.clock.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCreateCreditNote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	saleID := f.prepared(t, "1001")

	draft, err := f.svc.Create(ctx, saleRequest("1002"), domain.CreateOptions{})
	require.NoError(t, err)
	_, err = f.svc.CreateCreditNote(ctx, domain.CreateCreditNoteRequest{
		MerchantID: "m1", SaleID: draft.Document.ID, TraderInvoiceNumber: "CN-0",
	})
	assert.ErrorIs(t, err, domain.ErrSaleNotAccepted)

	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).Return(accepted("R-1"), nil)
	_, err = f.svc.Submit(ctx, saleID)
	require.NoError(t, err)

	req := domain.CreateCreditNoteRequest{
		MerchantID:          "m1",
		SaleID:              saleID,
		TraderInvoiceNumber: "CN-1",
		ReturnDate:          "2025-03-02",
	}
	res, err := f.svc.CreateCreditNote(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Created)

	note := res.Document
	assert.Equal(t, domain.DocumentTypeCreditNote, note.DocumentType)
	assert.Equal(t, "CN-1", note.DocumentNumber)
	assert.Equal(t, "CN-1", note.SourceDocumentID)
	assert.Equal(t, "INV-1001", domain.StringValue(note.OriginalDocumentNumber))
	require.NotNil(t, note.OriginalSaleID)
	assert.Equal(t, saleID, *note.OriginalSaleID)
	assert.Equal(t, "2025-03-02", domain.StringValue(note.SaleDate))
	assert.Equal(t, "R", domain.StringValue(note.ReceiptTypeCode))
	require.Len(t, note.Lines, 1)
	assert.Equal(t, "ABCD1234", domain.StringValue(note.Lines[0].ClassificationCodeSnapshot))

	validated, err := f.svc.Validate(ctx, note.ID)
	require.NoError(t, err)
	assert.True(t, validated.Transitioned)

	again, err := f.svc.CreateCreditNote(ctx, req)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, note.ID, again.Document.ID)

	_, err = f.svc.CreateCreditNote(ctx, domain.CreateCreditNoteRequest{MerchantID: "m2", SaleID: saleID, TraderInvoiceNumber: "CN-2"})
	assert.ErrorIs(t, err, domain.ErrDocumentNotFound)
}

func TestSaleReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.DefaultSubmissionPolicy())
	id := f.prepared(t, "1001")

	report, err := f.svc.SaleReport(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, report.Regulator)

	f.adapter.On("SubmitInvoice", mock.Anything, mock.Anything, mock.Anything).Return(accepted("R-9"), nil)
	_, err = f.svc.Submit(ctx, id)
	require.NoError(t, err)

	report, err = f.svc.SaleReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "S", report.ReceiptTypeCode)
	assert.Equal(t, domain.StatusAccepted, report.Status)
	assert.Equal(t, 100.0, report.TaxSummary["B"].TaxableAmount)
	assert.Equal(t, 16.0, report.TaxSummary["B"].TaxAmount)
	assert.Equal(t, 100.0, report.TotalTaxableAmount)
	assert.Equal(t, 16.0, report.TotalTaxAmount)
	assert.Equal(t, 116.0, report.TotalAmount)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "B", report.Items[0].TaxTypeCode)
	assert.Equal(t, 116.0, report.Items[0].TotalAmount)
	require.NotNil(t, report.Regulator)
	assert.Equal(t, "R-9", report.Regulator.CurRcptNo)
	assert.Equal(t, "7", report.Regulator.TotRcptNo)
	assert.Equal(t, "000", report.Regulator.ResultCode)
}
