package repository

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	pkgdb "github.com/smallbiznis/etimsbridge/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository is the gorm-backed document store. It also implements
// domain.DocumentPageFinder.
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Insert(ctx context.Context, doc *domain.ComplianceDocument) (bool, error) {
	if doc == nil {
		return false, domain.ErrInvalidRequest
	}
	if doc.Version <= 0 {
		doc.Version = 1
	}

	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Omit(clause.Associations).Create(doc)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true

		if len(doc.Lines) == 0 {
			return nil
		}
		for i := range doc.Lines {
			doc.Lines[i].DocumentID = doc.ID
		}
		return tx.Create(&doc.Lines).Error
	})
	if err != nil {
		// a driver that rejects instead of skipping the conflicting row
		if !inserted && pkgdb.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return inserted, nil
}

// Save writes the mutable document columns and line snapshots guarded by the
// optimistic version.
func (r *DocumentRepository) Save(ctx context.Context, doc *domain.ComplianceDocument) error {
	if doc == nil {
		return domain.ErrInvalidRequest
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.ComplianceDocument{}).
			Where("id = ? AND version = ?", doc.ID, doc.Version).
			Updates(map[string]any{
				"compliance_status":    doc.ComplianceStatus,
				"submission_attempts":  doc.SubmissionAttempts,
				"etims_receipt_number": doc.EtimsReceiptNumber,
				"submitted_at":         doc.SubmittedAt,
				"updated_at":           doc.UpdatedAt,
				"version":              doc.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&domain.ComplianceDocument{}).Where("id = ?", doc.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrDocumentNotFound
			}
			return domain.ErrConcurrentModification
		}

		for _, line := range doc.Lines {
			err := tx.Model(&domain.ComplianceLine{}).
				Where("id = ? AND document_id = ?", line.ID, doc.ID).
				Updates(map[string]any{
					"classification_code_snapshot": line.ClassificationCodeSnapshot,
					"unit_code_snapshot":           line.UnitCodeSnapshot,
					"packaging_unit_code_snapshot": line.PackagingUnitCodeSnapshot,
					"tax_ty_cd_snapshot":           line.TaxTyCdSnapshot,
					"product_type_code_snapshot":   line.ProductTypeCodeSnapshot,
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	doc.Version++
	return nil
}

func (r *DocumentRepository) FindByID(ctx context.Context, id snowflake.ID) (*domain.ComplianceDocument, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *DocumentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.ComplianceDocument, error) {
	return r.findOne(ctx, "idempotency_key = ?", strings.TrimSpace(key))
}

func (r *DocumentRepository) FindByMerchant(ctx context.Context, merchantID string) ([]domain.ComplianceDocument, error) {
	var docs []domain.ComplianceDocument
	err := r.withLines(r.db.WithContext(ctx)).
		Where("merchant_id = ?", merchantID).
		Order("created_at desc, id desc").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *DocumentRepository) FindByStatuses(ctx context.Context, statuses []domain.ComplianceStatus, updatedBefore time.Time, limit int) ([]domain.ComplianceDocument, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	stmt := r.withLines(r.db.WithContext(ctx)).
		Where("compliance_status IN ?", statuses).
		Where("updated_at < ?", updatedBefore).
		Order("updated_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var docs []domain.ComplianceDocument
	if err := stmt.Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// FindPageByMerchant returns one keyset page ordered by created_at desc, id
// desc. A cursor id that is not one of the merchant's documents yields an
// empty page. The date bounds compare sale dates
// as YYYY-MM-DD strings.
func (r *DocumentRepository) FindPageByMerchant(ctx context.Context, q domain.DocumentPageQuery) ([]domain.ComplianceDocument, error) {
	if q.BeforeID != nil && q.AfterID != nil {
		return nil, domain.ErrInvalidRequest
	}

	stmt := r.withLines(r.db.WithContext(ctx)).Where("merchant_id = ?", q.MerchantID)
	if start := strings.TrimSpace(domain.StringValue(q.StartDate)); start != "" {
		stmt = stmt.Where("sale_date >= ?", start)
	}
	if end := strings.TrimSpace(domain.StringValue(q.EndDate)); end != "" {
		stmt = stmt.Where("sale_date <= ?", end)
	}

	ascending := false
	if q.BeforeID != nil {
		cursor, err := r.cursor(ctx, q.MerchantID, *q.BeforeID)
		if err != nil || cursor == nil {
			return nil, err
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	if q.AfterID != nil {
		cursor, err := r.cursor(ctx, q.MerchantID, *q.AfterID)
		if err != nil || cursor == nil {
			return nil, err
		}
		stmt = stmt.Where("(created_at > ?) OR (created_at = ? AND id > ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		ascending = true
	}

	if ascending {
		stmt = stmt.Order("created_at asc, id asc")
	} else {
		stmt = stmt.Order("created_at desc, id desc")
	}
	if q.Limit > 0 {
		stmt = stmt.Limit(q.Limit)
	}

	var docs []domain.ComplianceDocument
	if err := stmt.Find(&docs).Error; err != nil {
		return nil, err
	}
	if ascending {
		slices.Reverse(docs)
	}
	return docs, nil
}

type cursorRow struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

func (r *DocumentRepository) cursor(ctx context.Context, merchantID string, id snowflake.ID) (*cursorRow, error) {
	var row cursorRow
	err := r.db.WithContext(ctx).
		Model(&domain.ComplianceDocument{}).
		Select("id, created_at").
		Where("id = ? AND merchant_id = ?", id, merchantID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *DocumentRepository) findOne(ctx context.Context, query string, args ...any) (*domain.ComplianceDocument, error) {
	var doc domain.ComplianceDocument
	err := r.withLines(r.db.WithContext(ctx)).Where(query, args...).Take(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepository) withLines(db *gorm.DB) *gorm.DB {
	return db.Preload("Lines", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("line_no asc, id asc")
	})
}
