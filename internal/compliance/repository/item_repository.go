package repository

import (
	"context"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/pkg/db/option"
	"github.com/smallbiznis/etimsbridge/pkg/repository"
	"gorm.io/gorm"
)

// ItemRepository reads the catalog item master.
type ItemRepository struct {
	store repository.Repository[domain.ComplianceItem]
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{store: repository.New[domain.ComplianceItem](db)}
}

func (r *ItemRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.ComplianceItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.store.Find(ctx, nil,
		option.WithIDs("id", ids),
		option.WithSortBy("id", false),
	)
	if err != nil {
		return nil, err
	}
	items := make([]domain.ComplianceItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, *row)
	}
	return items, nil
}

// Create registers an item in the master.
func (r *ItemRepository) Create(ctx context.Context, item *domain.ComplianceItem) error {
	return r.store.Create(ctx, item)
}
