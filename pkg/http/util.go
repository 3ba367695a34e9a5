package http

import (
	"time"

	xutil "RiskPull/pkg/util"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int { return xutil.ParseIntDefault(s, def) }

// ParseDateParam accepts YYYY-MM-DD, RFC3339 or unix seconds; empty is the zero time.
func ParseDateParam(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, ok := xutil.ParseDate(s); ok {
		return d, nil
	}
	if t, ok := xutil.ParseTime(s); ok {
		return xutil.Day(t), nil
	}
	return time.Time{}, BadRequestErrorf("invalid date %q", s)
}
