package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/regulatory/oscu"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	creditNoteReceiptType = "R"
)

// List returns one page of a merchant's documents, newest first. Next is the
// cursor of the older page and Previous the cursor of the newer one.
func (s *Service) List(ctx context.Context, req domain.ListDocumentsRequest) (domain.ListDocumentsResponse, error) {
	ctx, span := s.startSpan(ctx, "compliance.List", attribute.String("merchant_id", req.MerchantID))
	defer span.End()

	merchantID := strings.TrimSpace(req.MerchantID)
	if merchantID == "" {
		return domain.ListDocumentsResponse{}, fmt.Errorf("%w: merchantId is required", domain.ErrInvalidRequest)
	}
	if req.Before != nil && req.After != nil {
		return domain.ListDocumentsResponse{}, fmt.Errorf("%w: before and after are mutually exclusive", domain.ErrInvalidRequest)
	}
	size := pageSize(req.PageSize)

	var (
		page         []domain.ComplianceDocument
		older, newer bool
		err          error
	)
	if finder, ok := s.documents.(domain.DocumentPageFinder); ok {
		page, older, newer, err = s.pageFromStore(ctx, finder, merchantID, req, size)
	} else {
		page, older, newer, err = s.pageFromScan(ctx, merchantID, req, size)
	}
	if err != nil {
		recordSpanError(span, err)
		return domain.ListDocumentsResponse{}, err
	}

	resp := domain.ListDocumentsResponse{Documents: page, PageSize: size}
	if len(page) > 0 {
		if older {
			id := page[len(page)-1].ID
			resp.Next = &id
		}
		if newer {
			id := page[0].ID
			resp.Previous = &id
		}
	}
	return resp, nil
}

func (s *Service) pageFromStore(ctx context.Context, finder domain.DocumentPageFinder, merchantID string, req domain.ListDocumentsRequest, size int) ([]domain.ComplianceDocument, bool, bool, error) {
	docs, err := finder.FindPageByMerchant(ctx, domain.DocumentPageQuery{
		MerchantID: merchantID,
		BeforeID:   req.Before,
		AfterID:    req.After,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Limit:      size + 1,
	})
	if err != nil {
		return nil, false, false, err
	}
	hasMore := len(docs) > size

	if req.After != nil {
		// the extra row is the newest one
		if hasMore {
			docs = docs[len(docs)-size:]
		}
		return docs, true, hasMore, nil
	}
	if hasMore {
		docs = docs[:size]
	}
	return docs, hasMore, req.Before != nil, nil
}

// pageFromScan pages in memory over FindByMerchant for stores without a page
// finder. An unknown cursor yields an empty page.
func (s *Service) pageFromScan(ctx context.Context, merchantID string, req domain.ListDocumentsRequest, size int) ([]domain.ComplianceDocument, bool, bool, error) {
	all, err := s.documents.FindByMerchant(ctx, merchantID)
	if err != nil {
		return nil, false, false, err
	}

	start := strings.TrimSpace(domain.StringValue(req.StartDate))
	end := strings.TrimSpace(domain.StringValue(req.EndDate))
	filtered := all[:0:0]
	for _, doc := range all {
		saleDate := domain.StringValue(doc.SaleDate)
		if start != "" && saleDate < start {
			continue
		}
		if end != "" && saleDate > end {
			continue
		}
		filtered = append(filtered, doc)
	}

	indexOf := func(id *snowflake.ID) int {
		for i, doc := range filtered {
			if doc.ID == *id {
				return i
			}
		}
		return -1
	}

	if req.After != nil {
		idx := indexOf(req.After)
		if idx < 0 {
			return nil, false, false, nil
		}
		newerDocs := filtered[:idx]
		from := 0
		if len(newerDocs) > size {
			from = len(newerDocs) - size
		}
		return newerDocs[from:], true, from > 0, nil
	}

	from := 0
	if req.Before != nil {
		idx := indexOf(req.Before)
		if idx < 0 {
			return nil, false, false, nil
		}
		from = idx + 1
	}
	rest := filtered[from:]
	older := len(rest) > size
	if older {
		rest = rest[:size]
	}
	return rest, older, from > 0, nil
}

func pageSize(requested int) int {
	if requested <= 0 {
		return defaultPageSize
	}
	if requested > maxPageSize {
		return maxPageSize
	}
	return requested
}

// SaleReport renders a document with regulator tax buckets and the receipt
// data of its latest accepted submission.
func (s *Service) SaleReport(ctx context.Context, id snowflake.ID) (domain.SaleReport, error) {
	ctx, span := s.startSpan(ctx, "compliance.SaleReport", attribute.String("document_id", id.String()))
	defer span.End()

	doc, err := s.load(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return domain.SaleReport{}, err
	}

	req := oscu.BuildSalesRequest(doc, oscu.BuildOptions{BranchID: doc.BranchID, Now: doc.CreatedAt})
	totals := oscu.Totals(req.ItemList)

	items := make([]domain.SaleReportItem, 0, len(doc.Lines))
	for i, line := range doc.Lines {
		wire := req.ItemList[i]
		items = append(items, domain.SaleReportItem{
			ID:            line.ID,
			ItemID:        line.ItemID,
			Description:   line.Description,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			TaxableAmount: wire.TaxblAmt,
			TaxAmount:     wire.TaxAmt,
			TotalAmount:   wire.TotAmt,
			TaxTypeCode:   wire.TaxTyCd,
		})
	}

	report := domain.SaleReport{
		ID:                     doc.ID,
		MerchantID:             doc.MerchantID,
		BranchID:               doc.BranchID,
		DocumentType:           doc.DocumentType,
		DocumentNumber:         doc.DocumentNumber,
		OriginalDocumentNumber: doc.OriginalDocumentNumber,
		SaleDate:               doc.SaleDate,
		ReceiptTypeCode:        req.RcptTyCd,
		Status:                 doc.ComplianceStatus,
		ReceiptNumber:          doc.EtimsReceiptNumber,
		SubmissionAttempts:     doc.SubmissionAttempts,
		TotalAmount:            oscu.Round2(doc.TotalAmount),
		TotalTaxableAmount:     totals.TotalTaxableAmount,
		TotalTaxAmount:         totals.TotalTaxAmount,
		TaxSummary:             totals.Buckets,
		Items:                  items,
	}

	responses, err := s.events.LatestAcceptedResponses(ctx, []snowflake.ID{doc.ID})
	if err != nil {
		recordSpanError(span, err)
		return domain.SaleReport{}, err
	}
	if raw, ok := responses[doc.ID]; ok {
		report.Regulator = receiptInfo(raw)
	}
	return report, nil
}

func receiptInfo(raw map[string]any) *domain.RegulatorReceiptInfo {
	if raw == nil {
		return nil
	}
	data, _ := raw["data"].(map[string]any)
	return &domain.RegulatorReceiptInfo{
		ResultCode:    stringField(raw, "resultCd"),
		ResultMessage: stringField(raw, "resultMsg"),
		ResultDate:    stringField(raw, "resultDt"),
		CurRcptNo:     stringField(data, "curRcptNo"),
		TotRcptNo:     stringField(data, "totRcptNo"),
		IntrlData:     stringField(data, "intrlData"),
		RcptSign:      stringField(data, "rcptSign"),
		SdcDateTime:   stringField(data, "sdcDateTime"),
	}
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// CreateCreditNote reverses an ACCEPTED sale in full. The credit note copies
// the sale's lines and snapshots and is created as a new DRAFT.
func (s *Service) CreateCreditNote(ctx context.Context, req domain.CreateCreditNoteRequest) (domain.CreateDocumentResult, error) {
	ctx, span := s.startSpan(ctx, "compliance.CreateCreditNote", attribute.String("sale_id", req.SaleID.String()))
	defer span.End()

	if req.SaleID == 0 || strings.TrimSpace(req.TraderInvoiceNumber) == "" {
		return domain.CreateDocumentResult{}, fmt.Errorf("%w: saleId and traderInvoiceNumber are required", domain.ErrInvalidRequest)
	}

	sale, err := s.load(ctx, req.SaleID)
	if err != nil {
		recordSpanError(span, err)
		return domain.CreateDocumentResult{}, err
	}
	if merchantID := strings.TrimSpace(req.MerchantID); merchantID != "" && merchantID != sale.MerchantID {
		return domain.CreateDocumentResult{}, domain.ErrDocumentNotFound
	}
	if sale.DocumentType != domain.DocumentTypeSale || sale.ComplianceStatus != domain.StatusAccepted {
		return domain.CreateDocumentResult{}, fmt.Errorf("%w: sale %s is %s %s",
			domain.ErrSaleNotAccepted, sale.ID, sale.DocumentType, sale.ComplianceStatus)
	}

	branchID := strings.TrimSpace(req.BranchID)
	if branchID == "" {
		branchID = sale.BranchID
	}
	saleDate := domain.StringPtr(req.ReturnDate)
	if saleDate == nil {
		saleDate = sale.SaleDate
	}
	paymentType := req.PaymentTypeCode
	if domain.IsBlank(paymentType) {
		paymentType = sale.PaymentTypeCode
	}
	invoiceStatus := req.InvoiceStatusCode
	if domain.IsBlank(invoiceStatus) {
		invoiceStatus = sale.InvoiceStatusCode
	}
	number := strings.TrimSpace(req.TraderInvoiceNumber)
	originalNumber := sale.DocumentNumber
	saleID := sale.ID
	receiptType := creditNoteReceiptType

	lines := make([]domain.CreateLineRequest, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		lines = append(lines, domain.CreateLineRequest{
			ItemID:             line.ItemID,
			Description:        line.Description,
			Quantity:           line.Quantity,
			UnitPrice:          line.UnitPrice,
			TaxCategory:        line.TaxCategory,
			TaxAmount:          line.TaxAmount,
			ClassificationCode: line.ClassificationCodeSnapshot,
			UnitCode:           line.UnitCodeSnapshot,
			PackagingUnitCode:  line.PackagingUnitCodeSnapshot,
			TaxTyCd:            line.TaxTyCdSnapshot,
			ProductTypeCode:    line.ProductTypeCodeSnapshot,
		})
	}

	result, err := s.create(ctx, domain.CreateDocumentRequest{
		MerchantID:             sale.MerchantID,
		BranchID:               branchID,
		SourceSystem:           domain.SourceSystemAPI,
		SourceDocumentID:       number,
		DocumentType:           domain.DocumentTypeCreditNote,
		DocumentNumber:         number,
		OriginalDocumentNumber: &originalNumber,
		OriginalSaleID:         &saleID,
		SaleDate:               saleDate,
		ReceiptTypeCode:        &receiptType,
		PaymentTypeCode:        paymentType,
		InvoiceStatusCode:      invoiceStatus,
		Currency:               sale.Currency,
		ExchangeRate:           sale.ExchangeRate,
		SubtotalAmount:         sale.SubtotalAmount,
		TotalTax:               sale.TotalTax,
		TotalAmount:            sale.TotalAmount,
		CustomerPin:            sale.CustomerPin,
		Lines:                  lines,
	})
	if err != nil {
		recordSpanError(span, err)
		return domain.CreateDocumentResult{}, err
	}
	return result, nil
}
