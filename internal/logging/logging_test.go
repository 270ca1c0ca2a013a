package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)

	Component("ingestion").Info("flushed", "buckets", 3)

	out := buf.String()
	if !strings.Contains(out, "component=ingestion") {
		t.Errorf("expected component attribute, got %q", out)
	}
	if !strings.Contains(out, "buckets=3") {
		t.Errorf("expected buckets attribute, got %q", out)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, true)

	ctx := ContextWithCollection(context.Background(), "buckets")
	ctx = ContextWithOperation(ctx, "find")
	WithContext(ctx).Info("query")

	out := buf.String()
	if !strings.Contains(out, `"collection":"buckets"`) || !strings.Contains(out, `"op":"find"`) {
		t.Errorf("expected context attributes, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)

	Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug output at info level: %q", buf.String())
	}
}
