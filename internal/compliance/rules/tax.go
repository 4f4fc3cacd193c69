package rules

import (
	"fmt"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
)

// StandardVATRate is the Kenyan standard VAT rate.
const StandardVATRate = 0.16

const (
	CodeVATStandardRate = "TAX_VAT_STANDARD_RATE"
	CodeVATZeroNonZero  = "TAX_VAT_ZERO_NON_ZERO"
	CodeExemptHasTax    = "TAX_EXEMPT_HAS_TAX"
)

// Tax checks each line's tax amount against its category. Categories
// without a rule are accepted as is.
func Tax(doc *domain.ComplianceDocument, _ map[string]domain.ComplianceItem) (errs, warnings []domain.ValidationIssue) {
	for i, line := range doc.Lines {
		field := fmt.Sprintf("lines[%d].taxAmount", i)
		switch line.TaxCategory {
		case domain.TaxCategoryVATStandard:
			expected := line.Quantity * line.UnitPrice * StandardVATRate
			if !domain.WithinTolerance(line.TaxAmount, expected) {
				errs = append(errs, domain.ValidationIssue{
					Code:    CodeVATStandardRate,
					Message: fmt.Sprintf("VAT_STANDARD must use 16%% rate. expected tax: %.2f, got: %v", expected, line.TaxAmount),
					Field:   field,
				})
			}
		case domain.TaxCategoryVATZero:
			if line.TaxAmount > 0 {
				errs = append(errs, domain.ValidationIssue{
					Code:    CodeVATZeroNonZero,
					Message: "VAT_ZERO cannot have tax amount > 0",
					Field:   field,
				})
			}
		case domain.TaxCategoryExempt:
			if line.TaxAmount != 0 {
				errs = append(errs, domain.ValidationIssue{
					Code:    CodeExemptHasTax,
					Message: "EXEMPT must not calculate VAT",
					Field:   field,
				})
			}
		}
	}
	return errs, warnings
}
