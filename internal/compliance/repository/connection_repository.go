package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/pkg/repository"
	"gorm.io/gorm"
)

// ConnectionRepository reads regulator credentials per merchant branch.
type ConnectionRepository struct {
	store repository.Repository[domain.ComplianceConnection]
}

func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{store: repository.New[domain.ComplianceConnection](db)}
}

func (r *ConnectionRepository) FindByMerchantAndBranch(ctx context.Context, merchantID, branchID string) (*domain.ComplianceConnection, error) {
	merchantID = strings.TrimSpace(merchantID)
	branchID = strings.TrimSpace(branchID)
	if merchantID == "" || branchID == "" {
		return nil, nil
	}
	return r.store.FindOne(ctx, &domain.ComplianceConnection{
		MerchantID: merchantID,
		BranchID:   branchID,
	})
}

func (r *ConnectionRepository) Create(ctx context.Context, conn *domain.ComplianceConnection) error {
	return r.store.Create(ctx, conn)
}
