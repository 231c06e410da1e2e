package server

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errInvalidDuration = errors.New("invalid_duration")

// parseOptionalDuration returns zero for an empty value.
func parseOptionalDuration(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	if seconds, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if seconds < 0 {
			return 0, errInvalidDuration
		}
		return time.Duration(seconds) * time.Second, nil
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil || parsed < 0 {
		return 0, errInvalidDuration
	}
	return parsed, nil
}

func parseOptionalTime(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, errors.New("invalid_time")
	}
	return &parsed, nil
}
