package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, FormatJSON, LevelWarn)

	l.Info().Msg("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output for info below warn level, got %q", buf.String())
	}

	l.Warn().Msg("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Fatalf("expected warn message in output, got %q", buf.String())
	}
}

func TestWithRunIDStampsField(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, FormatJSON, LevelInfo).WithRunID("run-123")

	l.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"run_id":"run-123"`) {
		t.Fatalf("expected run_id field in output, got %q", out)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, FormatJSON, LevelInfo).WithFields(map[string]any{"module": "CS1010"})

	l.Info().Msg("loading")

	if !strings.Contains(buf.String(), `"module":"CS1010"`) {
		t.Fatalf("expected module field in output, got %q", buf.String())
	}
}

func TestDefaultLoggerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	original := Default()
	defer SetDefault(original)

	Init(&buf, FormatJSON, LevelDebug)

	Default().Debug().Msg("default logger active")
	if !strings.Contains(buf.String(), "default logger active") {
		t.Fatalf("expected message from default logger, got %q", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, FormatJSON, LevelInfo)

	ctx := IntoContext(context.Background(), l)
	got := FromContext(ctx)
	got.Info().Msg("from context")

	if !strings.Contains(buf.String(), "from context") {
		t.Fatalf("expected message written through context logger, got %q", buf.String())
	}

	if FromContext(context.Background()) == nil {
		t.Fatalf("expected FromContext to fall back to a non-nil default logger")
	}
}
