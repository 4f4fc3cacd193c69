package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRepository appends audit events. Rows are never updated; postgres
// enforces this with a trigger.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event *domain.ComplianceEvent) error {
	if event == nil {
		return domain.ErrInvalidRequest
	}
	if event.PayloadSnapshot == nil {
		event.PayloadSnapshot = datatypes.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) FindByDocumentID(ctx context.Context, documentID snowflake.ID) ([]domain.ComplianceEvent, error) {
	var events []domain.ComplianceEvent
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventRepository) LatestAcceptedResponses(ctx context.Context, documentIDs []snowflake.ID) (map[snowflake.ID]datatypes.JSONMap, error) {
	out := make(map[snowflake.ID]datatypes.JSONMap, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}

	var events []domain.ComplianceEvent
	err := r.db.WithContext(ctx).
		Select("id, document_id, response_snapshot, created_at").
		Where("document_id IN ? AND event_type = ?", documentIDs, domain.EventAccepted).
		Order("created_at asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	for _, event := range events {
		out[event.DocumentID] = event.ResponseSnapshot
	}
	return out, nil
}
