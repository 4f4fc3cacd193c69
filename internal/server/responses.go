package server

import (
	"time"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/pkg/db/pagination"
)

type documentLineResponse struct {
	ID                 string  `json:"id"`
	LineNo             int     `json:"lineNo"`
	ItemID             string  `json:"itemId"`
	Description        string  `json:"description,omitempty"`
	Quantity           float64 `json:"quantity"`
	UnitPrice          float64 `json:"unitPrice"`
	TaxCategory        string  `json:"taxCategory"`
	TaxAmount          float64 `json:"taxAmount"`
	ClassificationCode *string `json:"classificationCode"`
	UnitCode           *string `json:"unitCode"`
	PackagingUnitCode  *string `json:"packagingUnitCode"`
	TaxTyCd            *string `json:"taxTyCd"`
	ProductTypeCode    *string `json:"productTypeCode"`
}

type documentResponse struct {
	ID                     string                 `json:"id"`
	MerchantID             string                 `json:"merchantId"`
	BranchID               string                 `json:"branchId"`
	SourceSystem           string                 `json:"sourceSystem"`
	SourceDocumentID       string                 `json:"sourceDocumentId"`
	DocumentType           string                 `json:"documentType"`
	DocumentNumber         string                 `json:"documentNumber"`
	OriginalDocumentNumber *string                `json:"originalDocumentNumber"`
	OriginalSaleID         *string                `json:"originalSaleId"`
	SaleDate               *string                `json:"saleDate"`
	ReceiptTypeCode        *string                `json:"receiptTypeCode"`
	PaymentTypeCode        *string                `json:"paymentTypeCode"`
	InvoiceStatusCode      *string                `json:"invoiceStatusCode"`
	Currency               string                 `json:"currency"`
	ExchangeRate           float64                `json:"exchangeRate"`
	SubtotalAmount         float64                `json:"subtotalAmount"`
	TotalTax               float64                `json:"totalTax"`
	TotalAmount            float64                `json:"totalAmount"`
	CustomerPin            *string                `json:"customerPin"`
	ComplianceStatus       string                 `json:"complianceStatus"`
	SubmissionAttempts     int                    `json:"submissionAttempts"`
	EtimsReceiptNumber     *string                `json:"etimsReceiptNumber"`
	CreatedAt              time.Time              `json:"createdAt"`
	UpdatedAt              time.Time              `json:"updatedAt"`
	SubmittedAt            *time.Time             `json:"submittedAt"`
	Lines                  []documentLineResponse `json:"lines"`
}

type eventResponse struct {
	ID               string         `json:"id"`
	DocumentID       string         `json:"documentId"`
	EventType        string         `json:"eventType"`
	PayloadSnapshot  map[string]any `json:"payloadSnapshot"`
	ResponseSnapshot map[string]any `json:"responseSnapshot"`
	CreatedAt        time.Time      `json:"createdAt"`
}

type listDocumentsResponse struct {
	Documents []documentResponse  `json:"documents"`
	PageInfo  pagination.PageInfo `json:"pageInfo"`
}

func toDocumentResponse(doc *domain.ComplianceDocument) documentResponse {
	resp := documentResponse{
		ID:                     doc.ID.String(),
		MerchantID:             doc.MerchantID,
		BranchID:               doc.BranchID,
		SourceSystem:           string(doc.SourceSystem),
		SourceDocumentID:       doc.SourceDocumentID,
		DocumentType:           string(doc.DocumentType),
		DocumentNumber:         doc.DocumentNumber,
		OriginalDocumentNumber: doc.OriginalDocumentNumber,
		SaleDate:               doc.SaleDate,
		ReceiptTypeCode:        doc.ReceiptTypeCode,
		PaymentTypeCode:        doc.PaymentTypeCode,
		InvoiceStatusCode:      doc.InvoiceStatusCode,
		Currency:               doc.Currency,
		ExchangeRate:           doc.ExchangeRate,
		SubtotalAmount:         doc.SubtotalAmount,
		TotalTax:               doc.TotalTax,
		TotalAmount:            doc.TotalAmount,
		CustomerPin:            doc.CustomerPin,
		ComplianceStatus:       string(doc.ComplianceStatus),
		SubmissionAttempts:     doc.SubmissionAttempts,
		EtimsReceiptNumber:     doc.EtimsReceiptNumber,
		CreatedAt:              doc.CreatedAt,
		UpdatedAt:              doc.UpdatedAt,
		SubmittedAt:            doc.SubmittedAt,
		Lines:                  make([]documentLineResponse, 0, len(doc.Lines)),
	}
	if doc.OriginalSaleID != nil {
		id := doc.OriginalSaleID.String()
		resp.OriginalSaleID = &id
	}
	for _, line := range doc.Lines {
		resp.Lines = append(resp.Lines, documentLineResponse{
			ID:                 line.ID.String(),
			LineNo:             line.LineNo,
			ItemID:             line.ItemID,
			Description:        line.Description,
			Quantity:           line.Quantity,
			UnitPrice:          line.UnitPrice,
			TaxCategory:        string(line.TaxCategory),
			TaxAmount:          line.TaxAmount,
			ClassificationCode: line.ClassificationCodeSnapshot,
			UnitCode:           line.UnitCodeSnapshot,
			PackagingUnitCode:  line.PackagingUnitCodeSnapshot,
			TaxTyCd:            line.TaxTyCdSnapshot,
			ProductTypeCode:    line.ProductTypeCodeSnapshot,
		})
	}
	return resp
}

func toEventResponses(events []domain.ComplianceEvent) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID:               ev.ID.String(),
			DocumentID:       ev.DocumentID.String(),
			EventType:        string(ev.EventType),
			PayloadSnapshot:  ev.PayloadSnapshot,
			ResponseSnapshot: ev.ResponseSnapshot,
			CreatedAt:        ev.CreatedAt,
		})
	}
	return out
}

func toListResponse(resp domain.ListDocumentsResponse) listDocumentsResponse {
	out := listDocumentsResponse{
		Documents: make([]documentResponse, 0, len(resp.Documents)),
		PageInfo:  pagination.BuildPageInfo(resp.Next, resp.Previous, resp.PageSize),
	}
	for i := range resp.Documents {
		out.Documents = append(out.Documents, toDocumentResponse(&resp.Documents[i]))
	}
	return out
}
