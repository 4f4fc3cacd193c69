package domain

import "strings"

// IdempotencyKey builds the deterministic composite key that identifies a
// source transaction.
func IdempotencyKey(merchantID, sourceDocumentID string, documentType DocumentType) string {
	return strings.Join([]string{
		strings.TrimSpace(merchantID),
		strings.TrimSpace(sourceDocumentID),
		string(documentType),
	}, ":")
}
