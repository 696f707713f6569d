package http

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"ledgercache/internal/core"
)

func TestParseRangeParams(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		query     url.Values
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{
			name:      "empty query uses current month",
			query:     url.Values{},
			wantStart: "2024-05-01",
			wantEnd:   "2024-05-31",
		},
		{
			name:      "explicit month",
			query:     url.Values{"month": {"2024-02"}},
			wantStart: "2024-02-01",
			wantEnd:   "2024-02-29",
		},
		{
			name:      "start and end",
			query:     url.Values{"start": {"2024-04-10"}, "end": {"2024-05-02"}},
			wantStart: "2024-04-10",
			wantEnd:   "2024-05-02",
		},
		{
			name:      "start only completes to month end",
			query:     url.Values{"start": {"2024-04-10"}},
			wantStart: "2024-04-10",
			wantEnd:   "2024-04-30",
		},
		{
			name:      "end only starts at month start",
			query:     url.Values{"end": {"2024-03-05"}},
			wantStart: "2024-03-01",
			wantEnd:   "2024-03-05",
		},
		{
			name:    "malformed date",
			query:   url.Values{"start": {"05/01/2024"}},
			wantErr: true,
		},
		{
			name:    "malformed month",
			query:   url.Values{"month": {"May"}},
			wantErr: true,
		},
		{
			name:    "inverted range",
			query:   url.Values{"start": {"2024-05-31"}, "end": {"2024-05-01"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseRangeParams(tt.query, now)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got range %v", r)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Start.String() != tt.wantStart || r.End.String() != tt.wantEnd {
				t.Errorf("got %v, want %s..%s", r, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestParseRangeParams_InvertedIsRangeError(t *testing.T) {
	_, err := ParseRangeParams(url.Values{"start": {"2024-05-31"}, "end": {"2024-05-01"}}, time.Now())
	if !errors.Is(err, core.ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", defaultHistoryLimit},
		{"5", 5},
		{"0", defaultHistoryLimit},
		{"-3", defaultHistoryLimit},
		{"abc", defaultHistoryLimit},
		{"100000", maxHistoryLimit},
	}
	for _, tt := range tests {
		if got := ParseLimit(url.Values{"limit": {tt.in}}); got != tt.want {
			t.Errorf("ParseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseBool(t *testing.T) {
	q := url.Values{"a": {"1"}, "b": {"true"}, "c": {"nope"}}
	if !ParseBool(q, "a") || !ParseBool(q, "b") {
		t.Error("expected truthy flags")
	}
	if ParseBool(q, "c") || ParseBool(q, "missing") {
		t.Error("expected falsy flags")
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  Food\x00\x07 "); got != "Food" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}
