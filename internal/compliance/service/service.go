package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/clock"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/config"
	"github.com/smallbiznis/etimsbridge/internal/locker"
	obscontext "github.com/smallbiznis/etimsbridge/internal/observability/context"
	obslogger "github.com/smallbiznis/etimsbridge/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/etimsbridge/internal/observability/metrics"
	"github.com/smallbiznis/etimsbridge/internal/observability/tracing"
	"github.com/smallbiznis/etimsbridge/internal/regulatory/oscu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Documents   domain.DocumentRepository
	Events      domain.EventRepository
	Items       domain.ItemRepository
	Connections domain.ConnectionRepository
	Adapter     oscu.RegulatorAdapter
	Locker      locker.Locker
	Policy      config.PolicySource
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	documents   domain.DocumentRepository
	events      domain.EventRepository
	items       domain.ItemRepository
	connections domain.ConnectionRepository
	adapter     oscu.RegulatorAdapter
	locker      locker.Locker
	policy      config.PolicySource
	metrics     *obsmetrics.Metrics
	tracer      trace.Tracer

	processor *Processor
}

var _ domain.Service = (*Service)(nil)

func NewService(p Params) *Service {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	lock := p.Locker
	if lock == nil {
		lock = locker.NewLocal()
	}
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticPolicy(config.DefaultSubmissionPolicy())
	}

	s := &Service{
		log:         log.Named("compliance.service"),
		genID:       p.GenID,
		clock:       clk,
		documents:   p.Documents,
		events:      p.Events,
		items:       p.Items,
		connections: p.Connections,
		adapter:     p.Adapter,
		locker:      lock,
		policy:      policy,
		metrics:     p.Metrics,
		tracer:      otel.Tracer("etimsbridge/compliance"),
	}
	s.processor = newProcessor(s, policy.Get(), log)
	return s
}

// Processor returns the background pipeline bound to this service.
func (s *Service) Processor() *Processor {
	return s.processor
}

func (s *Service) Create(ctx context.Context, req domain.CreateDocumentRequest, opts domain.CreateOptions) (domain.CreateDocumentResult, error) {
	ctx, span := s.startSpan(ctx, "compliance.Create",
		attribute.String("merchant_id", req.MerchantID),
		attribute.String("document_type", string(req.DocumentType)),
	)
	defer span.End()

	result, err := s.create(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return domain.CreateDocumentResult{}, err
	}
	if result.Created && opts.EnqueueProcessing {
		s.processor.Enqueue(result.Document.ID)
	}
	return result, nil
}

func (s *Service) create(ctx context.Context, req domain.CreateDocumentRequest) (domain.CreateDocumentResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return domain.CreateDocumentResult{}, err
	}

	key := domain.IdempotencyKey(req.MerchantID, req.SourceDocumentID, req.DocumentType)
	existing, err := s.documents.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return domain.CreateDocumentResult{}, err
	}
	if existing != nil {
		return domain.CreateDocumentResult{Document: existing, Created: false}, nil
	}

	itemIDs := make([]string, 0, len(req.Lines))
	seen := make(map[string]struct{}, len(req.Lines))
	for _, line := range req.Lines {
		id := strings.TrimSpace(line.ItemID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		itemIDs = append(itemIDs, id)
	}
	items, err := s.items.FindByIDs(ctx, itemIDs)
	if err != nil {
		return domain.CreateDocumentResult{}, err
	}
	itemsByID := make(map[string]domain.ComplianceItem, len(items))
	for _, item := range items {
		itemsByID[item.ID] = item
	}

	now := s.clock.Now()
	doc := &domain.ComplianceDocument{
		ID:                     s.genID.Generate(),
		MerchantID:             strings.TrimSpace(req.MerchantID),
		BranchID:               strings.TrimSpace(req.BranchID),
		SourceSystem:           req.SourceSystem,
		SourceDocumentID:       strings.TrimSpace(req.SourceDocumentID),
		DocumentType:           req.DocumentType,
		DocumentNumber:         strings.TrimSpace(req.DocumentNumber),
		OriginalDocumentNumber: domain.StringPtr(domain.StringValue(req.OriginalDocumentNumber)),
		OriginalSaleID:         req.OriginalSaleID,
		SaleDate:               domain.StringPtr(domain.StringValue(req.SaleDate)),
		ReceiptTypeCode:        domain.StringPtr(domain.StringValue(req.ReceiptTypeCode)),
		PaymentTypeCode:        domain.StringPtr(domain.StringValue(req.PaymentTypeCode)),
		InvoiceStatusCode:      domain.StringPtr(domain.StringValue(req.InvoiceStatusCode)),
		Currency:               strings.ToUpper(strings.TrimSpace(req.Currency)),
		ExchangeRate:           req.ExchangeRate,
		SubtotalAmount:         req.SubtotalAmount,
		TotalTax:               req.TotalTax,
		TotalAmount:            req.TotalAmount,
		CustomerPin:            domain.StringPtr(domain.StringValue(req.CustomerPin)),
		ComplianceStatus:       domain.StatusDraft,
		IdempotencyKey:         key,
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if doc.SourceSystem == "" {
		doc.SourceSystem = domain.SourceSystemAPI
	}
	if doc.Currency == "" {
		doc.Currency = "KES"
	}
	if doc.ExchangeRate <= 0 {
		doc.ExchangeRate = 1
	}

	doc.Lines = make([]domain.ComplianceLine, 0, len(req.Lines))
	for i, in := range req.Lines {
		itemID := strings.TrimSpace(in.ItemID)
		item, ok := itemsByID[itemID]
		if !ok {
			return domain.CreateDocumentResult{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
		}
		doc.Lines = append(doc.Lines, domain.ComplianceLine{
			ID:                         s.genID.Generate(),
			DocumentID:                 doc.ID,
			LineNo:                     i + 1,
			ItemID:                     itemID,
			Description:                in.Description,
			Quantity:                   in.Quantity,
			UnitPrice:                  in.UnitPrice,
			TaxCategory:                in.TaxCategory,
			TaxAmount:                  in.TaxAmount,
			ClassificationCodeSnapshot: preferOverride(in.ClassificationCode, item.ClassificationCode),
			UnitCodeSnapshot:           preferOverride(in.UnitCode, item.UnitCode),
			PackagingUnitCodeSnapshot:  preferOverride(in.PackagingUnitCode, item.PackagingUnitCode),
			TaxTyCdSnapshot:            preferOverride(in.TaxTyCd, item.TaxTyCd),
			ProductTypeCodeSnapshot:    preferOverride(in.ProductTypeCode, item.ProductTypeCode),
			CreatedAt:                  now,
		})
	}

	inserted, err := s.documents.Insert(ctx, doc)
	if err != nil {
		return domain.CreateDocumentResult{}, err
	}
	if !inserted {
		winner, err := s.documents.FindByIdempotencyKey(ctx, key)
		if err != nil {
			return domain.CreateDocumentResult{}, err
		}
		if winner == nil {
			return domain.CreateDocumentResult{}, fmt.Errorf("%w: idempotency key %s lost after conflict", domain.ErrConcurrentModification, key)
		}
		return domain.CreateDocumentResult{Document: winner, Created: false}, nil
	}

	if err := s.appendEvent(ctx, doc.ID, domain.EventDocumentCreated, map[string]any{
		"sourceDocumentId": doc.SourceDocumentID,
	}, nil); err != nil {
		return domain.CreateDocumentResult{}, err
	}

	s.metrics.RecordDocumentCreated(ctx, string(doc.SourceSystem), string(doc.DocumentType))
	s.logger(ctx, doc).Info("compliance document created",
		zap.String("source_document_id", doc.SourceDocumentID),
		zap.Int("lines", len(doc.Lines)),
	)
	return domain.CreateDocumentResult{Document: doc, Created: true}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.ComplianceDocument, error) {
	return s.load(ctx, id)
}

func (s *Service) Events(ctx context.Context, id snowflake.ID) ([]domain.ComplianceEvent, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return s.events.FindByDocumentID(ctx, id)
}

func (s *Service) load(ctx context.Context, id snowflake.ID) (*domain.ComplianceDocument, error) {
	if id == 0 {
		return nil, domain.ErrInvalidRequest
	}
	doc, err := s.documents.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

// withDocumentLock loads the document under its lock and hands it to fn.
func (s *Service) withDocumentLock(ctx context.Context, id snowflake.ID, fn func(doc *domain.ComplianceDocument) error) error {
	start := time.Now()
	release, err := s.locker.Lock(ctx, locker.DocumentKey(id.String()))
	if err != nil {
		return err
	}
	defer release()
	obsmetrics.Scheduler().ObserveLockWait(obsmetrics.LockResourceDocument, time.Since(start))

	doc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return fn(doc)
}

// transition moves doc to the target status and persists it. The line set is
// checked against before so a status change never carries line edits.
func (s *Service) transition(ctx context.Context, doc *domain.ComplianceDocument, before []domain.ComplianceLine, to domain.ComplianceStatus) error {
	from := doc.ComplianceStatus
	if err := doc.TransitionTo(to, s.clock.Now()); err != nil {
		return err
	}
	if err := domain.AssertLinesUnchanged(to, before, doc.Lines); err != nil {
		s.logger(ctx, doc).Error("line invariant violated", zap.Error(err))
		return err
	}
	if err := s.documents.Save(ctx, doc); err != nil {
		return err
	}
	s.metrics.RecordTransition(ctx, string(from), string(to))
	obsmetrics.Scheduler().IncTransition(string(from), string(to))
	return nil
}

func (s *Service) appendEvent(ctx context.Context, documentID snowflake.ID, eventType domain.EventType, payload map[string]any, response map[string]any) error {
	event := &domain.ComplianceEvent{
		ID:               s.genID.Generate(),
		DocumentID:       documentID,
		EventType:        eventType,
		PayloadSnapshot:  datatypes.JSONMap(payload),
		ResponseSnapshot: jsonMapOrNil(response),
		CreatedAt:        s.clock.Now(),
	}
	if event.PayloadSnapshot == nil {
		event.PayloadSnapshot = datatypes.JSONMap{}
	}
	if err := s.events.Append(ctx, event); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(tracing.SafeAttributes(attrs...)...))
}

func (s *Service) logger(ctx context.Context, doc *domain.ComplianceDocument) *zap.Logger {
	log := obslogger.WithContext(ctx, s.log)
	if doc == nil {
		return log
	}
	return obslogger.WithDocument(log, doc.ID.String(), doc.MerchantID)
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	safe := tracing.SafeError(err)
	span.RecordError(safe)
	span.SetStatus(codes.Error, safe.Error())
}

func documentContext(ctx context.Context, id snowflake.ID) context.Context {
	return obscontext.WithDocumentID(ctx, id.String())
}

func validateCreateRequest(req domain.CreateDocumentRequest) error {
	var missing []string
	if strings.TrimSpace(req.MerchantID) == "" {
		missing = append(missing, "merchantId")
	}
	if strings.TrimSpace(req.SourceDocumentID) == "" {
		missing = append(missing, "sourceDocumentId")
	}
	if strings.TrimSpace(req.DocumentNumber) == "" {
		missing = append(missing, "documentNumber")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidRequest, strings.Join(missing, ", "))
	}
	switch req.DocumentType {
	case domain.DocumentTypeSale, domain.DocumentTypeCreditNote:
	default:
		return fmt.Errorf("%w: unsupported document type %q", domain.ErrInvalidRequest, req.DocumentType)
	}
	switch req.SourceSystem {
	case "", domain.SourceSystemAPI, domain.SourceSystemERP, domain.SourceSystemQuickBooks, domain.SourceSystemPOS:
	default:
		return fmt.Errorf("%w: unsupported source system %q", domain.ErrInvalidRequest, req.SourceSystem)
	}
	for i, line := range req.Lines {
		if strings.TrimSpace(line.ItemID) == "" {
			return fmt.Errorf("%w: lines[%d].itemId is required", domain.ErrInvalidRequest, i)
		}
	}
	return nil
}

func preferOverride(override, fallback *string) *string {
	if !domain.IsBlank(override) {
		return domain.StringPtr(*override)
	}
	return domain.StringPtr(domain.StringValue(fallback))
}

// toJSONMap renders a wire struct into a generic map for event snapshots.
func toJSONMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}

func jsonMapOrNil(m map[string]any) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	return datatypes.JSONMap(m)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrDocumentNotFound)
}
