package rules

import (
	"regexp"
	"strings"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
)

// KRA PIN: the letter P followed by 10 digits.
var pinPattern = regexp.MustCompile(`^P\d{10}$`)

const CodePinMalformed = "PIN_MALFORMED"

// PIN checks the customer tax id. A missing or blank PIN is a consumer sale
// and always valid.
func PIN(doc *domain.ComplianceDocument, _ map[string]domain.ComplianceItem) (errs, warnings []domain.ValidationIssue) {
	pin := strings.TrimSpace(domain.StringValue(doc.CustomerPin))
	if pin == "" {
		return nil, nil
	}
	if !pinPattern.MatchString(pin) {
		errs = append(errs, domain.ValidationIssue{
			Code:    CodePinMalformed,
			Message: "customerPin must match KRA format: P followed by 10 digits",
			Field:   "customerPin",
		})
	}
	return errs, warnings
}

// ValidPIN reports whether pin is blank or well-formed.
func ValidPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	return pin == "" || pinPattern.MatchString(pin)
}
