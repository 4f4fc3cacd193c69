package pagination

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrInvalidCursor = errors.New("invalid_cursor")

// Pagination binds keyset query parameters. Before and After are document ids.
type Pagination struct {
	Before   string `form:"before"`
	After    string `form:"after"`
	PageSize int    `form:"page_size" binding:"omitempty,gte=1,lte=100"`
}

type PageInfo struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
	PageSize int    `json:"page_size"`
}

// Size clamps the requested page size.
func (p Pagination) Size() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

// BeforeID parses the before cursor. An empty cursor yields nil.
func (p Pagination) BeforeID() (*snowflake.ID, error) {
	return DecodeCursor(p.Before)
}

func (p Pagination) AfterID() (*snowflake.ID, error) {
	return DecodeCursor(p.After)
}

func EncodeCursor(id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func DecodeCursor(raw string) (*snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return nil, ErrInvalidCursor
	}
	return &id, nil
}

// BuildPageInfo renders the cursors of a page for the API response.
func BuildPageInfo(next, previous *snowflake.ID, pageSize int) PageInfo {
	return PageInfo{
		Next:     EncodeCursor(next),
		Previous: EncodeCursor(previous),
		PageSize: pageSize,
	}
}
