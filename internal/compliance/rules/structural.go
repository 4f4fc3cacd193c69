package rules

import (
	"fmt"
	"strings"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
)

const (
	CodeCreditNoteMissingOriginal = "STRUCTURAL_CREDIT_NOTE_MISSING_ORIGINAL_DOCUMENT"
	CodeNoLines                   = "STRUCTURAL_NO_LINES"
	CodeSubtotalMismatch          = "STRUCTURAL_SUBTOTAL_MISMATCH"
	CodeTaxMismatch               = "STRUCTURAL_TAX_MISMATCH"
	CodeTotalMismatch             = "STRUCTURAL_TOTAL_MISMATCH"
)

// Structural checks document shape and arithmetic.
func Structural(doc *domain.ComplianceDocument, _ map[string]domain.ComplianceItem) (errs, warnings []domain.ValidationIssue) {
	if doc.IsCreditNote() && strings.TrimSpace(domain.StringValue(doc.OriginalDocumentNumber)) == "" {
		errs = append(errs, domain.ValidationIssue{
			Code:    CodeCreditNoteMissingOriginal,
			Message: "credit note must include originalDocumentNumber (original trader invoice number)",
			Field:   "originalDocumentNumber",
		})
	}

	if len(doc.Lines) == 0 {
		errs = append(errs, domain.ValidationIssue{
			Code:    CodeNoLines,
			Message: "document must have at least 1 line",
			Field:   "lines",
		})
		return errs, warnings
	}

	var subtotal, tax float64
	for _, line := range doc.Lines {
		subtotal += line.TaxableAmount()
		tax += line.TaxAmount
	}

	if !domain.WithinTolerance(subtotal, doc.SubtotalAmount) {
		errs = append(errs, domain.ValidationIssue{
			Code:    CodeSubtotalMismatch,
			Message: fmt.Sprintf("document subtotal (%v) does not match sum of line totals (%.2f)", doc.SubtotalAmount, subtotal),
			Field:   "subtotalAmount",
		})
	}
	if !domain.WithinTolerance(tax, doc.TotalTax) {
		errs = append(errs, domain.ValidationIssue{
			Code:    CodeTaxMismatch,
			Message: fmt.Sprintf("document totalTax (%v) does not match sum of line tax amounts (%.2f)", doc.TotalTax, tax),
			Field:   "totalTax",
		})
	}
	if total := subtotal + tax; !domain.WithinTolerance(total, doc.TotalAmount) {
		errs = append(errs, domain.ValidationIssue{
			Code:    CodeTotalMismatch,
			Message: fmt.Sprintf("document total (%v) does not match subtotal + tax (%.2f)", doc.TotalAmount, total),
			Field:   "totalAmount",
		})
	}
	return errs, warnings
}
