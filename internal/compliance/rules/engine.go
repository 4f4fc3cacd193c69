// Package rules implements the compliance validation pass. Every rule set
// runs unconditionally and their findings are concatenated.
package rules

import "github.com/smallbiznis/etimsbridge/internal/compliance/domain"

// Set is one independent group of rules.
type Set func(doc *domain.ComplianceDocument, items map[string]domain.ComplianceItem) (errs, warnings []domain.ValidationIssue)

// DefaultSets is the full rule pipeline in reporting order.
var DefaultSets = []Set{
	Structural,
	Tax,
	Classification,
	PIN,
}

// Run validates doc against the resolved items, keyed by item id.
func Run(doc *domain.ComplianceDocument, items map[string]domain.ComplianceItem) domain.ValidationResult {
	return RunSets(doc, items, DefaultSets...)
}

// RunSets runs the given rule sets without short-circuiting.
func RunSets(doc *domain.ComplianceDocument, items map[string]domain.ComplianceItem, sets ...Set) domain.ValidationResult {
	var errs, warnings []domain.ValidationIssue
	for _, set := range sets {
		e, w := set(doc, items)
		errs = append(errs, e...)
		warnings = append(warnings, w...)
	}
	return domain.NewValidationResult(errs, warnings)
}

// IndexItems keys items by id.
func IndexItems(items []domain.ComplianceItem) map[string]domain.ComplianceItem {
	out := make(map[string]domain.ComplianceItem, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}
