// Package domain contains the compliance document aggregate, its lifecycle
// rules and the ports the orchestrator depends on.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ComplianceStatus represents the document lifecycle states.
type ComplianceStatus string

const (
	StatusDraft              ComplianceStatus = "DRAFT"
	StatusValidated          ComplianceStatus = "VALIDATED"
	StatusReadyForSubmission ComplianceStatus = "READY_FOR_SUBMISSION"
	StatusSubmitted          ComplianceStatus = "SUBMITTED"
	StatusAccepted           ComplianceStatus = "ACCEPTED"
	StatusRejected           ComplianceStatus = "REJECTED"
	StatusRetrying           ComplianceStatus = "RETRYING"
	StatusFailed             ComplianceStatus = "FAILED"
	StatusCancelled          ComplianceStatus = "CANCELLED"
)

// AllStatuses lists every lifecycle state in declaration order.
var AllStatuses = []ComplianceStatus{
	StatusDraft,
	StatusValidated,
	StatusReadyForSubmission,
	StatusSubmitted,
	StatusAccepted,
	StatusRejected,
	StatusRetrying,
	StatusFailed,
	StatusCancelled,
}

// IsTerminal reports whether no further transition is possible.
func (s ComplianceStatus) IsTerminal() bool {
	return len(AllowedTransitions(s)) == 0
}

type DocumentType string

const (
	DocumentTypeSale       DocumentType = "SALE"
	DocumentTypeCreditNote DocumentType = "CREDIT_NOTE"
)

type SourceSystem string

const (
	SourceSystemAPI        SourceSystem = "API"
	SourceSystemERP        SourceSystem = "ERP"
	SourceSystemQuickBooks SourceSystem = "QUICKBOOKS"
	SourceSystemPOS        SourceSystem = "POS"
)

// TaxCategory is the internal tax classification carried by a line.
type TaxCategory string

const (
	TaxCategoryVATStandard TaxCategory = "VAT_STANDARD"
	TaxCategoryVATZero     TaxCategory = "VAT_ZERO"
	TaxCategoryExempt      TaxCategory = "EXEMPT"
	TaxCategoryOther       TaxCategory = "OTHER"
)

type ItemType string

const (
	ItemTypeGoods   ItemType = "GOODS"
	ItemTypeService ItemType = "SERVICE"
)

type EventType string

const (
	EventDocumentCreated  EventType = "DOCUMENT_CREATED"
	EventValidated        EventType = "VALIDATED"
	EventValidationFailed EventType = "VALIDATION_FAILED"
	EventPrepared         EventType = "PREPARED"
	EventSubmitted        EventType = "SUBMITTED"
	EventAccepted         EventType = "ACCEPTED"
	EventRejected         EventType = "REJECTED"
	EventRetryAttempted   EventType = "RETRY_ATTEMPTED"
	EventFailed           EventType = "FAILED"
	EventCancelled        EventType = "CANCELLED"
)

type ConnectionEnvironment string

const (
	EnvironmentSandbox    ConnectionEnvironment = "SANDBOX"
	EnvironmentProduction ConnectionEnvironment = "PRODUCTION"
)

type ConnectionStatus string

const (
	ConnectionStatusActive    ConnectionStatus = "ACTIVE"
	ConnectionStatusInactive  ConnectionStatus = "INACTIVE"
	ConnectionStatusSuspended ConnectionStatus = "SUSPENDED"
)

// ComplianceDocument is the regulator-agnostic representation of a sale or
// credit note. ComplianceStatus is only written through TransitionTo.
type ComplianceDocument struct {
	ID                     snowflake.ID     `gorm:"primaryKey"`
	MerchantID             string           `gorm:"size:64;not null;index:idx_compliance_documents_merchant"`
	BranchID               string           `gorm:"size:64;not null"`
	SourceSystem           SourceSystem     `gorm:"size:64;not null"`
	SourceDocumentID       string           `gorm:"size:255;not null"`
	DocumentType           DocumentType     `gorm:"size:64;not null"`
	DocumentNumber         string           `gorm:"size:255;not null"`
	OriginalDocumentNumber *string          `gorm:"size:255"`
	OriginalSaleID         *snowflake.ID    `gorm:""`
	SaleDate               *string          `gorm:"size:64"`
	ReceiptTypeCode        *string          `gorm:"size:64"`
	PaymentTypeCode        *string          `gorm:"size:64"`
	InvoiceStatusCode      *string          `gorm:"size:64"`
	Currency               string           `gorm:"size:64;not null;default:'KES'"`
	ExchangeRate           float64          `gorm:"not null;default:1"`
	SubtotalAmount         float64          `gorm:"not null;default:0"`
	TotalTax               float64          `gorm:"not null;default:0"`
	TotalAmount            float64          `gorm:"not null;default:0"`
	CustomerPin            *string          `gorm:"size:64"`
	ComplianceStatus       ComplianceStatus `gorm:"size:64;not null;default:'DRAFT';index"`
	SubmissionAttempts     int              `gorm:"not null;default:0"`
	EtimsReceiptNumber     *string          `gorm:"size:64"`
	IdempotencyKey         string           `gorm:"size:255;not null;uniqueIndex:ux_compliance_documents_idempotency_key"`
	Version                int64            `gorm:"not null;default:1"`
	CreatedAt              time.Time        `gorm:"not null"`
	UpdatedAt              time.Time        `gorm:"not null"`
	SubmittedAt            *time.Time       `gorm:""`

	Lines []ComplianceLine `gorm:"foreignKey:DocumentID"`
}

// TableName sets the database table name.
func (ComplianceDocument) TableName() string { return "compliance_documents" }

// TransitionTo moves the document to the target status after checking the
// state machine. It is the only code path that writes ComplianceStatus.
func (d *ComplianceDocument) TransitionTo(to ComplianceStatus, now time.Time) error {
	if err := AssertTransition(d.ComplianceStatus, to); err != nil {
		return err
	}
	d.ComplianceStatus = to
	d.UpdatedAt = now
	return nil
}

// IsCreditNote reports whether the document reverses an earlier sale.
func (d *ComplianceDocument) IsCreditNote() bool {
	return d.DocumentType == DocumentTypeCreditNote
}

// ItemIDs returns the distinct item ids referenced by the lines, in line order.
func (d *ComplianceDocument) ItemIDs() []string {
	seen := make(map[string]struct{}, len(d.Lines))
	ids := make([]string, 0, len(d.Lines))
	for _, line := range d.Lines {
		if _, ok := seen[line.ItemID]; ok {
			continue
		}
		seen[line.ItemID] = struct{}{}
		ids = append(ids, line.ItemID)
	}
	return ids
}

// Clone returns a deep copy, lines included.
func (d *ComplianceDocument) Clone() *ComplianceDocument {
	if d == nil {
		return nil
	}
	cp := *d
	cp.OriginalDocumentNumber = cloneString(d.OriginalDocumentNumber)
	cp.SaleDate = cloneString(d.SaleDate)
	cp.ReceiptTypeCode = cloneString(d.ReceiptTypeCode)
	cp.PaymentTypeCode = cloneString(d.PaymentTypeCode)
	cp.InvoiceStatusCode = cloneString(d.InvoiceStatusCode)
	cp.CustomerPin = cloneString(d.CustomerPin)
	cp.EtimsReceiptNumber = cloneString(d.EtimsReceiptNumber)
	if d.OriginalSaleID != nil {
		id := *d.OriginalSaleID
		cp.OriginalSaleID = &id
	}
	if d.SubmittedAt != nil {
		at := *d.SubmittedAt
		cp.SubmittedAt = &at
	}
	if d.Lines != nil {
		cp.Lines = make([]ComplianceLine, len(d.Lines))
		for i, line := range d.Lines {
			cp.Lines[i] = line.Clone()
		}
	}
	return &cp
}

// ComplianceLine is one line of a document. Snapshot fields hold regulator
// codes captured from the item master and are never recomputed once set.
type ComplianceLine struct {
	ID                         snowflake.ID `gorm:"primaryKey"`
	DocumentID                 snowflake.ID `gorm:"not null;index"`
	LineNo                     int          `gorm:"not null"`
	ItemID                     string       `gorm:"size:64;not null"`
	Description                string       `gorm:"type:text"`
	Quantity                   float64      `gorm:"not null"`
	UnitPrice                  float64      `gorm:"not null"`
	TaxCategory                TaxCategory  `gorm:"size:64;not null"`
	TaxAmount                  float64      `gorm:"not null;default:0"`
	ClassificationCodeSnapshot *string      `gorm:"size:64"`
	UnitCodeSnapshot           *string      `gorm:"size:64"`
	PackagingUnitCodeSnapshot  *string      `gorm:"size:64"`
	TaxTyCdSnapshot            *string      `gorm:"size:64"`
	ProductTypeCodeSnapshot    *string      `gorm:"size:64"`
	CreatedAt                  time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (ComplianceLine) TableName() string { return "compliance_lines" }

// TaxableAmount is quantity times unit price, unrounded.
func (l ComplianceLine) TaxableAmount() float64 {
	return l.Quantity * l.UnitPrice
}

// Clone returns a copy that shares no pointers with l.
func (l ComplianceLine) Clone() ComplianceLine {
	cp := l
	cp.ClassificationCodeSnapshot = cloneString(l.ClassificationCodeSnapshot)
	cp.UnitCodeSnapshot = cloneString(l.UnitCodeSnapshot)
	cp.PackagingUnitCodeSnapshot = cloneString(l.PackagingUnitCodeSnapshot)
	cp.TaxTyCdSnapshot = cloneString(l.TaxTyCdSnapshot)
	cp.ProductTypeCodeSnapshot = cloneString(l.ProductTypeCodeSnapshot)
	return cp
}

// FillMissingSnapshots copies item codes into blank snapshot fields only and
// reports whether anything changed.
func (l *ComplianceLine) FillMissingSnapshots(item ComplianceItem) bool {
	changed := false
	fill := func(dst **string, value *string) {
		if !IsBlank(*dst) {
			return
		}
		if IsBlank(value) {
			return
		}
		v := strings.TrimSpace(*value)
		*dst = &v
		changed = true
	}
	fill(&l.ClassificationCodeSnapshot, item.ClassificationCode)
	fill(&l.UnitCodeSnapshot, item.UnitCode)
	fill(&l.PackagingUnitCodeSnapshot, item.PackagingUnitCode)
	fill(&l.TaxTyCdSnapshot, item.TaxTyCd)
	fill(&l.ProductTypeCodeSnapshot, item.ProductTypeCode)
	return changed
}

// ComplianceEvent is an append-only audit record.
type ComplianceEvent struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	DocumentID       snowflake.ID      `gorm:"not null;index:idx_compliance_events_document"`
	EventType        EventType         `gorm:"size:64;not null"`
	PayloadSnapshot  datatypes.JSONMap `gorm:"not null"`
	ResponseSnapshot datatypes.JSONMap `gorm:""`
	CreatedAt        time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (ComplianceEvent) TableName() string { return "compliance_events" }

// ComplianceConnection holds the regulator credentials of a merchant branch.
type ComplianceConnection struct {
	ID             snowflake.ID          `gorm:"primaryKey"`
	MerchantID     string                `gorm:"size:64;not null;uniqueIndex:ux_compliance_connections_branch"`
	BranchID       string                `gorm:"size:64;not null;uniqueIndex:ux_compliance_connections_branch"`
	KraPin         string                `gorm:"size:64;not null"`
	DeviceID       string                `gorm:"size:64;not null"`
	Environment    ConnectionEnvironment `gorm:"size:64;not null;default:'SANDBOX'"`
	Status         ConnectionStatus      `gorm:"size:64;not null;default:'INACTIVE'"`
	CmcKey         *string               `gorm:"size:512" json:"-"`
	LastCodeSyncAt *time.Time            `gorm:""`
	CreatedAt      time.Time             `gorm:"not null"`
	UpdatedAt      time.Time             `gorm:"not null"`
}

// TableName sets the database table name.
func (ComplianceConnection) TableName() string { return "compliance_connections" }

// IsActive reports whether the connection may be used for submission.
func (c *ComplianceConnection) IsActive() bool {
	return c != nil && c.Status == ConnectionStatusActive
}

// ComplianceItem is the resolved, read-only view of a catalog item.
type ComplianceItem struct {
	ID                 string      `gorm:"primaryKey;size:64"`
	MerchantID         string      `gorm:"size:64;not null;index"`
	Name               string      `gorm:"size:255;not null"`
	SKU                *string     `gorm:"size:255"`
	ItemType           ItemType    `gorm:"size:64;not null"`
	TaxCategory        TaxCategory `gorm:"size:64;not null"`
	ClassificationCode *string     `gorm:"size:64"`
	UnitCode           *string     `gorm:"size:64"`
	PackagingUnitCode  *string     `gorm:"size:64"`
	TaxTyCd            *string     `gorm:"size:64"`
	ProductTypeCode    *string     `gorm:"size:64"`
	Version            int64       `gorm:"not null;default:1"`
	CreatedAt          time.Time   `gorm:"not null"`
	UpdatedAt          time.Time   `gorm:"not null"`
}

// TableName sets the database table name.
func (ComplianceItem) TableName() string { return "compliance_items" }

// IsBlank reports whether s is nil or whitespace only.
func IsBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// StringValue dereferences s, returning "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to the trimmed value, or nil when blank.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
