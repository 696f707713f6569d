// Package http provides the read-only JSON API over the ledger cache.
//
// This file implements utilities for parsing and validating query
// parameters shared by several handlers.

package http

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ledgercache/internal/core"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

var errBadParam = errors.New("invalid parameter")

// ParseRangeParams extracts an inclusive date range from the query.
//
// Accepted forms, in order of precedence:
//
//	?start=2024-05-01&end=2024-05-31
//	?month=2024-05
//	(nothing) -> the month containing now
//
// A lone start or end is completed with the other end of its month.
func ParseRangeParams(query url.Values, now time.Time) (core.DateRange, error) {
	startStr := strings.TrimSpace(query.Get("start"))
	endStr := strings.TrimSpace(query.Get("end"))

	if startStr == "" && endStr == "" {
		month := core.MonthOf(now)
		if v := strings.TrimSpace(query.Get("month")); v != "" {
			m, err := core.ParseMonth(v)
			if err != nil {
				return core.DateRange{}, fmt.Errorf("%w: month: %v", errBadParam, err)
			}
			month = m
		}
		return month.Range(), nil
	}

	var start, end core.Date
	var err error
	if startStr != "" {
		if start, err = core.ParseDate(startStr); err != nil {
			return core.DateRange{}, fmt.Errorf("%w: start: %v", errBadParam, err)
		}
	}
	if endStr != "" {
		if end, err = core.ParseDate(endStr); err != nil {
			return core.DateRange{}, fmt.Errorf("%w: end: %v", errBadParam, err)
		}
	}
	if startStr == "" {
		start = end.Month().First()
	}
	if endStr == "" {
		end = start.Month().Last()
	}
	return core.NewDateRange(start, end)
}

// ParseLimit reads ?limit=, clamped to [1, maxHistoryLimit].
func ParseLimit(query url.Values) int {
	v := strings.TrimSpace(query.Get("limit"))
	if v == "" {
		return defaultHistoryLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}

// ParseBool reads a boolean flag such as ?uncategorized=1.
func ParseBool(query url.Values, key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(query.Get(key)))
	return err == nil && b
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
