package repository

import (
	"context"

	"github.com/smallbiznis/etimsbridge/pkg/db/option"
)

// Repository is a generic gorm-backed store for reference tables (items,
// connections) that the compliance lifecycle reads but never mutates.
// FindOne returns nil, nil when no row matches.
type Repository[T any] interface {
	Find(ctx context.Context, filter *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, filter *T, opts ...option.QueryOption) (*T, error)
	Count(ctx context.Context, filter *T, opts ...option.QueryOption) (int64, error)
	Create(ctx context.Context, rows ...*T) error
}
