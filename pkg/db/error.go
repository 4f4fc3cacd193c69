package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

// Driver messages for unique violations, for drivers that do not surface a
// typed error through gorm.
var duplicateKeyMessages = []string{
	"duplicate key value violates unique constraint", // postgres via lib/pq
	"Error 1062",               // mysql
	"UNIQUE constraint failed", // sqlite
}

// IsDuplicateKeyErr reports whether err is a unique constraint violation on
// any of the supported dialects.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := err.Error()
	for _, fragment := range duplicateKeyMessages {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
