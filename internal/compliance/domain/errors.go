package domain

import "errors"

var (
	ErrInvalidTransition      = errors.New("invalid_state_transition")
	ErrInvariantViolation     = errors.New("invariant_violation")
	ErrInvalidState           = errors.New("invalid_document_state")
	ErrInvalidRequest         = errors.New("invalid_request")
	ErrDocumentNotFound       = errors.New("document_not_found")
	ErrItemNotFound           = errors.New("item_not_found")
	ErrConnectionNotFound     = errors.New("connection_not_found")
	ErrConnectionInactive     = errors.New("connection_inactive")
	ErrConcurrentModification = errors.New("concurrent_modification")
	ErrSaleNotAccepted        = errors.New("sale_not_accepted")
	ErrDocumentBusy           = errors.New("document_busy")
	ErrInvalidCursor          = errors.New("invalid_cursor")
)
