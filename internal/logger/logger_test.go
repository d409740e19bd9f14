package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNew_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Format: "json", Output: &buf})
	l.Info("hidden")
	l.Warn("shown", "k", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"k":1`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Format: "text", Output: &buf})

	WithRequestID(context.Background(), l).Info("plain")
	if strings.Contains(buf.String(), "request_id") {
		t.Fatal("request_id added without one in the context")
	}

	ctx := ContextWithRequestID(context.Background(), "abc")
	WithRequestID(ctx, l).Info("tagged")
	if !strings.Contains(buf.String(), "request_id=abc") {
		t.Fatalf("request_id missing: %s", buf.String())
	}
}
