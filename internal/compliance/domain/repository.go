package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// DocumentRepository persists compliance documents with their lines.
type DocumentRepository interface {
	// Insert stores a new document. It returns false without error when a
	// document with the same idempotency key already exists.
	Insert(ctx context.Context, doc *ComplianceDocument) (bool, error)
	// Save persists status, counters and line snapshots. It fails with
	// ErrConcurrentModification when doc.Version is stale and bumps it on success.
	Save(ctx context.Context, doc *ComplianceDocument) error
	FindByID(ctx context.Context, id snowflake.ID) (*ComplianceDocument, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*ComplianceDocument, error)
	FindByMerchant(ctx context.Context, merchantID string) ([]ComplianceDocument, error)
	// FindByStatuses returns documents in the given statuses last updated
	// before the cutoff, oldest first.
	FindByStatuses(ctx context.Context, statuses []ComplianceStatus, updatedBefore time.Time, limit int) ([]ComplianceDocument, error)
}

// DocumentPageQuery selects one keyset page of a merchant's documents ordered
// by created_at desc, id desc. BeforeID and AfterID are mutually exclusive.
type DocumentPageQuery struct {
	MerchantID string
	BeforeID   *snowflake.ID
	AfterID    *snowflake.ID
	StartDate  *string
	EndDate    *string
	Limit      int
}

// DocumentPageFinder is an optional capability of a DocumentRepository that
// can page in storage. Callers fall back to FindByMerchant when absent.
type DocumentPageFinder interface {
	FindPageByMerchant(ctx context.Context, q DocumentPageQuery) ([]ComplianceDocument, error)
}

// EventRepository is append-only.
type EventRepository interface {
	Append(ctx context.Context, event *ComplianceEvent) error
	FindByDocumentID(ctx context.Context, documentID snowflake.ID) ([]ComplianceEvent, error)
	// LatestAcceptedResponses returns, per document id, the response snapshot
	// of its most recent ACCEPTED event.
	LatestAcceptedResponses(ctx context.Context, documentIDs []snowflake.ID) (map[snowflake.ID]datatypes.JSONMap, error)
}

// ItemRepository resolves catalog items owned by another subsystem.
type ItemRepository interface {
	FindByIDs(ctx context.Context, ids []string) ([]ComplianceItem, error)
}

// ConnectionRepository resolves regulator credentials.
type ConnectionRepository interface {
	FindByMerchantAndBranch(ctx context.Context, merchantID, branchID string) (*ComplianceConnection, error)
}
