package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithComponentTagsRecordsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Component: ComponentApp, Output: &buf})

	logger.WithComponent(ComponentCache).Info("snapshot published", FieldVersion, 3)

	out := buf.String()
	if strings.Count(out, "component=") != 1 {
		t.Fatalf("expected a single component attribute, got %q", out)
	}
	if !strings.Contains(out, "component=cache") || !strings.Contains(out, "version=3") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Format: "json", Output: &buf})
	logger.Debug("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}

func TestLogFieldsSorted(t *testing.T) {
	got := NewFields().WithOperation(OpRefresh).WithComponent(ComponentCache).ToSlice()
	if len(got) != 4 || got[0] != FieldComponent || got[2] != FieldOperation {
		t.Fatalf("unexpected field order %v", got)
	}
}
