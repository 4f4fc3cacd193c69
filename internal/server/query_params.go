package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalSnowflakeID(value string) (*snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := snowflake.ParseString(trimmed)
	if err != nil || parsed == 0 {
		return nil, errors.New("invalid_snowflake_id")
	}
	return &parsed, nil
}

// parseOptionalDate accepts YYYY-MM-DD or an RFC3339 timestamp and returns
// the calendar date in YYYY-MM-DD form.
func parseOptionalDate(value string) (*string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		out := parsed.Format(dateOnlyLayout)
		return &out, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		out := parsed.UTC().Format(dateOnlyLayout)
		return &out, nil
	}
	return nil, errors.New("invalid_date")
}

func parsePathID(value string) (snowflake.ID, error) {
	id, err := parseOptionalSnowflakeID(value)
	if err != nil || id == nil {
		return 0, newValidationError("id", "invalid_id", "invalid id")
	}
	return *id, nil
}
