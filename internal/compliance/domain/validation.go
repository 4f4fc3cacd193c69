package domain

// ValidationIssue is a single rule violation or warning.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ValidationResult is the outcome of one rules engine pass.
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationIssue `json:"errors"`
	Warnings []ValidationIssue `json:"warnings"`
}

// NewValidationResult derives IsValid from the error list and normalizes nil slices.
func NewValidationResult(errs, warnings []ValidationIssue) ValidationResult {
	if errs == nil {
		errs = []ValidationIssue{}
	}
	if warnings == nil {
		warnings = []ValidationIssue{}
	}
	return ValidationResult{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}

// HasError reports whether an error with the given code is present.
func (r ValidationResult) HasError(code string) bool {
	for _, issue := range r.Errors {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// HasWarning reports whether a warning with the given code is present.
func (r ValidationResult) HasWarning(code string) bool {
	for _, issue := range r.Warnings {
		if issue.Code == code {
			return true
		}
	}
	return false
}

// ToMap renders the result for event payload snapshots.
func (r ValidationResult) ToMap() map[string]any {
	issues := func(in []ValidationIssue) []any {
		out := make([]any, 0, len(in))
		for _, issue := range in {
			m := map[string]any{"code": issue.Code, "message": issue.Message}
			if issue.Field != "" {
				m["field"] = issue.Field
			}
			out = append(out, m)
		}
		return out
	}
	return map[string]any{
		"isValid":  r.IsValid,
		"errors":   issues(r.Errors),
		"warnings": issues(r.Warnings),
	}
}
