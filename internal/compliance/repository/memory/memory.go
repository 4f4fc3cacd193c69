// Package memory holds in-process repositories for tests and local runs.
// Every value is copied on the way in and out.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"gorm.io/datatypes"
)

type DocumentRepository struct {
	mu    sync.RWMutex
	docs  map[snowflake.ID]*domain.ComplianceDocument
	byKey map[string]snowflake.ID
}

func NewDocumentRepository() *DocumentRepository {
	return &DocumentRepository{
		docs:  make(map[snowflake.ID]*domain.ComplianceDocument),
		byKey: make(map[string]snowflake.ID),
	}
}

func (r *DocumentRepository) Insert(_ context.Context, doc *domain.ComplianceDocument) (bool, error) {
	if doc == nil {
		return false, domain.ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byKey[doc.IdempotencyKey]; ok {
		return false, nil
	}
	if doc.Version <= 0 {
		doc.Version = 1
	}
	for i := range doc.Lines {
		doc.Lines[i].DocumentID = doc.ID
	}
	r.docs[doc.ID] = doc.Clone()
	r.byKey[doc.IdempotencyKey] = doc.ID
	return true, nil
}

func (r *DocumentRepository) Save(_ context.Context, doc *domain.ComplianceDocument) error {
	if doc == nil {
		return domain.ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.docs[doc.ID]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if current.Version != doc.Version {
		return domain.ErrConcurrentModification
	}

	next := current.Clone()
	next.ComplianceStatus = doc.ComplianceStatus
	next.SubmissionAttempts = doc.SubmissionAttempts
	next.EtimsReceiptNumber = cloneString(doc.EtimsReceiptNumber)
	next.SubmittedAt = cloneTime(doc.SubmittedAt)
	next.UpdatedAt = doc.UpdatedAt
	next.Version = doc.Version + 1

	snapshots := make(map[snowflake.ID]domain.ComplianceLine, len(doc.Lines))
	for _, line := range doc.Lines {
		snapshots[line.ID] = line
	}
	for i, line := range next.Lines {
		updated, ok := snapshots[line.ID]
		if !ok {
			continue
		}
		next.Lines[i].ClassificationCodeSnapshot = cloneString(updated.ClassificationCodeSnapshot)
		next.Lines[i].UnitCodeSnapshot = cloneString(updated.UnitCodeSnapshot)
		next.Lines[i].PackagingUnitCodeSnapshot = cloneString(updated.PackagingUnitCodeSnapshot)
		next.Lines[i].TaxTyCdSnapshot = cloneString(updated.TaxTyCdSnapshot)
		next.Lines[i].ProductTypeCodeSnapshot = cloneString(updated.ProductTypeCodeSnapshot)
	}

	r.docs[doc.ID] = next
	doc.Version = next.Version
	return nil
}

func (r *DocumentRepository) FindByID(_ context.Context, id snowflake.ID) (*domain.ComplianceDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

func (r *DocumentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.ComplianceDocument, error) {
	r.mu.RLock()
	id, ok := r.byKey[strings.TrimSpace(key)]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// FindByMerchant returns documents newest first.
func (r *DocumentRepository) FindByMerchant(_ context.Context, merchantID string) ([]domain.ComplianceDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ComplianceDocument, 0)
	for _, doc := range r.docs {
		if doc.MerchantID == merchantID {
			out = append(out, *doc.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *DocumentRepository) FindByStatuses(_ context.Context, statuses []domain.ComplianceStatus, updatedBefore time.Time, limit int) ([]domain.ComplianceDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[domain.ComplianceStatus]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}
	out := make([]domain.ComplianceDocument, 0)
	for _, doc := range r.docs {
		if _, ok := wanted[doc.ComplianceStatus]; !ok {
			continue
		}
		if !doc.UpdatedAt.Before(updatedBefore) {
			continue
		}
		out = append(out, *doc.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type EventRepository struct {
	mu     sync.RWMutex
	events []domain.ComplianceEvent
}

func NewEventRepository() *EventRepository {
	return &EventRepository{}
}

func (r *EventRepository) Append(_ context.Context, event *domain.ComplianceEvent) error {
	if event == nil {
		return domain.ErrInvalidRequest
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	cp.PayloadSnapshot = cloneJSON(event.PayloadSnapshot)
	if cp.PayloadSnapshot == nil {
		cp.PayloadSnapshot = datatypes.JSONMap{}
	}
	cp.ResponseSnapshot = cloneJSON(event.ResponseSnapshot)
	r.events = append(r.events, cp)
	return nil
}

// FindByDocumentID returns events in append order.
func (r *EventRepository) FindByDocumentID(_ context.Context, documentID snowflake.ID) ([]domain.ComplianceEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ComplianceEvent, 0)
	for _, event := range r.events {
		if event.DocumentID == documentID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (r *EventRepository) LatestAcceptedResponses(_ context.Context, documentIDs []snowflake.ID) (map[snowflake.ID]datatypes.JSONMap, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[snowflake.ID]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		wanted[id] = struct{}{}
	}
	out := make(map[snowflake.ID]datatypes.JSONMap, len(documentIDs))
	for _, event := range r.events {
		if event.EventType != domain.EventAccepted {
			continue
		}
		if _, ok := wanted[event.DocumentID]; ok {
			out[event.DocumentID] = cloneJSON(event.ResponseSnapshot)
		}
	}
	return out, nil
}

type ItemRepository struct {
	mu    sync.RWMutex
	items map[string]domain.ComplianceItem
}

func NewItemRepository(items ...domain.ComplianceItem) *ItemRepository {
	r := &ItemRepository{items: make(map[string]domain.ComplianceItem, len(items))}
	for _, item := range items {
		r.items[item.ID] = item
	}
	return r
}

func (r *ItemRepository) Put(item domain.ComplianceItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
}

func (r *ItemRepository) FindByIDs(_ context.Context, ids []string) ([]domain.ComplianceItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ComplianceItem, 0, len(ids))
	for _, id := range ids {
		if item, ok := r.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

type ConnectionRepository struct {
	mu    sync.RWMutex
	conns map[string]domain.ComplianceConnection
}

func NewConnectionRepository(conns ...domain.ComplianceConnection) *ConnectionRepository {
	r := &ConnectionRepository{conns: make(map[string]domain.ComplianceConnection, len(conns))}
	for _, conn := range conns {
		r.conns[connectionKey(conn.MerchantID, conn.BranchID)] = conn
	}
	return r
}

func (r *ConnectionRepository) Put(conn domain.ComplianceConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connectionKey(conn.MerchantID, conn.BranchID)] = conn
}

func (r *ConnectionRepository) FindByMerchantAndBranch(_ context.Context, merchantID, branchID string) (*domain.ComplianceConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[connectionKey(merchantID, branchID)]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

func connectionKey(merchantID, branchID string) string {
	return strings.TrimSpace(merchantID) + "/" + strings.TrimSpace(branchID)
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneJSON(m datatypes.JSONMap) datatypes.JSONMap {
	if m == nil {
		return nil
	}
	return datatypes.JSONMap(maps.Clone(map[string]any(m)))
}
