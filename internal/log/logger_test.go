package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "info", "text")
	l.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Fatalf("expected text output, got %q", out)
	}
}

func TestNewLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "warn", "json")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewJSONHandler(&buf, nil)
	logger = slog.New(h)

	l2 := WithComponent("test-comp")
	l2.Info("hello")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithUser(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	WithUser(base, "15551234567").Info("user msg")

	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}

	if out["user_id"] != "15551234567" {
		t.Errorf("Expected user_id '15551234567', got %v", out["user_id"])
	}
}
