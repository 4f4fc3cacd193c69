package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Service drives the compliance document lifecycle.
type Service interface {
	Create(ctx context.Context, req CreateDocumentRequest, opts CreateOptions) (CreateDocumentResult, error)
	Validate(ctx context.Context, id snowflake.ID) (ValidateResult, error)
	Prepare(ctx context.Context, id snowflake.ID) (*ComplianceDocument, error)
	Submit(ctx context.Context, id snowflake.ID) (SubmitResult, error)

	Cancel(ctx context.Context, id snowflake.ID) (*ComplianceDocument, error)
	Retry(ctx context.Context, id snowflake.ID) (*ComplianceDocument, error)
	Abandon(ctx context.Context, id snowflake.ID, reason string) (*ComplianceDocument, error)
	RecoverStuck(ctx context.Context, id snowflake.ID, olderThan time.Time) (*ComplianceDocument, error)

	Get(ctx context.Context, id snowflake.ID) (*ComplianceDocument, error)
	List(ctx context.Context, req ListDocumentsRequest) (ListDocumentsResponse, error)
	Events(ctx context.Context, id snowflake.ID) ([]ComplianceEvent, error)

	CreateCreditNote(ctx context.Context, req CreateCreditNoteRequest) (CreateDocumentResult, error)
	SaleReport(ctx context.Context, id snowflake.ID) (SaleReport, error)
}

// CreateLineRequest describes one line of a new document. Snapshot overrides
// take precedence over item master codes when non-blank.
type CreateLineRequest struct {
	ItemID      string
	Description string
	Quantity    float64
	UnitPrice   float64
	TaxCategory TaxCategory
	TaxAmount   float64

	ClassificationCode *string
	UnitCode           *string
	PackagingUnitCode  *string
	TaxTyCd            *string
	ProductTypeCode    *string
}

type CreateDocumentRequest struct {
	MerchantID             string
	BranchID               string
	SourceSystem           SourceSystem
	SourceDocumentID       string
	DocumentType           DocumentType
	DocumentNumber         string
	OriginalDocumentNumber *string
	OriginalSaleID         *snowflake.ID
	SaleDate               *string
	ReceiptTypeCode        *string
	PaymentTypeCode        *string
	InvoiceStatusCode      *string
	Currency               string
	ExchangeRate           float64
	SubtotalAmount         float64
	TotalTax               float64
	TotalAmount            float64
	CustomerPin            *string
	Lines                  []CreateLineRequest
}

type CreateOptions struct {
	// EnqueueProcessing hands a newly created document to the background
	// validate -> prepare -> submit chain.
	EnqueueProcessing bool
}

type CreateDocumentResult struct {
	Document *ComplianceDocument
	Created  bool
}

type ValidateResult struct {
	Document     *ComplianceDocument
	Validation   ValidationResult
	Transitioned bool
}

type SubmitResult struct {
	Document      *ComplianceDocument
	ReceiptNumber string
	Result        SubmissionResult
}

type CreateCreditNoteRequest struct {
	MerchantID          string
	BranchID            string
	SaleID              snowflake.ID
	TraderInvoiceNumber string
	ReturnDate          string
	PaymentTypeCode     *string
	InvoiceStatusCode   *string
}

type ListDocumentsRequest struct {
	MerchantID string
	// Before selects documents older than the cursor document; After selects
	// newer ones. Both are document ids and are mutually exclusive.
	Before    *snowflake.ID
	After     *snowflake.ID
	StartDate *string
	EndDate   *string
	PageSize  int
}

type ListDocumentsResponse struct {
	Documents []ComplianceDocument
	Next      *snowflake.ID
	Previous  *snowflake.ID
	PageSize  int
}

// SaleReport is the normalized, regulator-bucketed view of one document.
type SaleReport struct {
	ID                     snowflake.ID          `json:"id"`
	MerchantID             string                `json:"merchantId"`
	BranchID               string                `json:"branchId"`
	DocumentType           DocumentType          `json:"documentType"`
	DocumentNumber         string                `json:"documentNumber"`
	OriginalDocumentNumber *string               `json:"originalDocumentNumber"`
	SaleDate               *string               `json:"saleDate"`
	ReceiptTypeCode        string                `json:"receiptTypeCode"`
	Status                 ComplianceStatus      `json:"status"`
	ReceiptNumber          *string               `json:"receiptNumber"`
	SubmissionAttempts     int                   `json:"submissionAttempts"`
	TotalAmount            float64               `json:"totalAmount"`
	TotalTaxableAmount     float64               `json:"totalTaxableAmount"`
	TotalTaxAmount         float64               `json:"totalTaxAmount"`
	TaxSummary             map[string]TaxBucket  `json:"taxSummary"`
	Items                  []SaleReportItem      `json:"items"`
	Regulator              *RegulatorReceiptInfo `json:"regulator"`
}

type TaxBucket struct {
	Rate          float64 `json:"rate"`
	TaxableAmount float64 `json:"taxableAmount"`
	TaxAmount     float64 `json:"taxAmount"`
}

type SaleReportItem struct {
	ID            snowflake.ID `json:"id"`
	ItemID        string       `json:"itemId"`
	Description   string       `json:"description"`
	Quantity      float64      `json:"quantity"`
	UnitPrice     float64      `json:"unitPrice"`
	TaxableAmount float64      `json:"taxableAmount"`
	TaxAmount     float64      `json:"taxAmount"`
	TotalAmount   float64      `json:"totalAmount"`
	TaxTypeCode   string       `json:"taxTypeCode"`
}

// RegulatorReceiptInfo is taken from the latest ACCEPTED response.
type RegulatorReceiptInfo struct {
	ResultCode    string `json:"resultCode"`
	ResultMessage string `json:"resultMessage"`
	ResultDate    string `json:"resultDate"`
	CurRcptNo     string `json:"curRcptNo"`
	TotRcptNo     string `json:"totRcptNo"`
	IntrlData     string `json:"intrlData"`
	RcptSign      string `json:"rcptSign"`
	SdcDateTime   string `json:"sdcDateTime"`
}
