package domain

import "strings"

// RetryableMarker prefixes adapter error strings that describe transient failures.
const RetryableMarker = "retryable:"

// SubmissionResult is the normalized outcome of one regulator call.
// RawResponse is passed through unmodified for audit storage.
type SubmissionResult struct {
	Success       bool           `json:"success"`
	ReceiptNumber string         `json:"receiptNumber,omitempty"`
	RawResponse   map[string]any `json:"rawResponse,omitempty"`
	Error         string         `json:"error,omitempty"`
	Transient     bool           `json:"retryable,omitempty"`
}

// Retryable reports whether the failure is transient. The typed flag wins; the
// legacy "retryable:" error prefix is still honored.
func (r SubmissionResult) Retryable() bool {
	if r.Success {
		return false
	}
	if r.Transient {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(strings.ToLower(r.Error)), RetryableMarker)
}

// RetryableFailure builds a transient failure result.
func RetryableFailure(message string, raw map[string]any) SubmissionResult {
	if !strings.HasPrefix(message, RetryableMarker) {
		message = RetryableMarker + " " + message
	}
	return SubmissionResult{Error: message, RawResponse: raw, Transient: true}
}

// ToMap renders the result for event snapshots.
func (r SubmissionResult) ToMap() map[string]any {
	m := map[string]any{
		"success":   r.Success,
		"retryable": r.Retryable(),
	}
	if r.ReceiptNumber != "" {
		m["receiptNumber"] = r.ReceiptNumber
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	if r.RawResponse != nil {
		m["rawResponse"] = r.RawResponse
	}
	return m
}

// ConnectionContext is what an adapter needs to reach the regulator for one branch.
type ConnectionContext struct {
	MerchantID  string
	BranchID    string
	KraPin      string
	DeviceID    string
	Environment ConnectionEnvironment
	CmcKey      string
}

// NewConnectionContext copies the transport-relevant fields of a connection.
func NewConnectionContext(c *ComplianceConnection) ConnectionContext {
	return ConnectionContext{
		MerchantID:  c.MerchantID,
		BranchID:    c.BranchID,
		KraPin:      c.KraPin,
		DeviceID:    c.DeviceID,
		Environment: c.Environment,
		CmcKey:      StringValue(c.CmcKey),
	}
}
