package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/etimsbridge/pkg/db/option"
	"gorm.io/gorm"
)

type store[T any] struct {
	db *gorm.DB
}

func New[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error) {
	var rows []*T
	if err := s.query(ctx, filter, opts).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *store[T]) FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error) {
	var row T
	err := s.query(ctx, filter, opts).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &row, nil
}

func (s *store[T]) Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error) {
	var count int64
	err := s.query(ctx, filter, opts).Model(new(T)).Count(&count).Error
	return count, err
}

// Create inserts rows in one statement; used for seeding and tests.
func (s *store[T]) Create(ctx context.Context, rows ...*T) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(rows).Error
}

func (s *store[T]) query(ctx context.Context, filter *T, opts []option.QueryOption) *gorm.DB {
	stmt := s.db.WithContext(ctx)
	if filter != nil {
		stmt = stmt.Where(filter)
	}
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}
	return stmt
}
