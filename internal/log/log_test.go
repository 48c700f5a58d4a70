package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		levelStr      string
		expectedLevel slog.Level
		expectWarning bool
	}{
		{"DEBUG level", "DEBUG", slog.LevelDebug, false},
		{"INFO level", "INFO", slog.LevelInfo, false},
		{"WARN level", "WARN", slog.LevelWarn, false},
		{"WARNING level", "WARNING", slog.LevelWarn, false},
		{"ERROR level", "ERROR", slog.LevelError, false},
		{"debug lowercase", "debug", slog.LevelDebug, false},
		{"Unknown level defaults to INFO", "UNKNOWN", slog.LevelInfo, true},
		{"Empty level defaults to INFO", "", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(tt.levelStr, &buf)
			if logger == nil {
				t.Fatal("Expected non-nil logger")
			}
			if !logger.Enabled(context.Background(), tt.expectedLevel) {
				t.Errorf("Expected level %v to be enabled", tt.expectedLevel)
			}
			if tt.expectedLevel > slog.LevelDebug && logger.Enabled(context.Background(), tt.expectedLevel-1) {
				t.Errorf("Expected level below %v to be disabled", tt.expectedLevel)
			}
			warned := strings.Contains(buf.String(), "Unknown log level")
			if warned != tt.expectWarning {
				t.Errorf("Expected warning=%v, got output %q", tt.expectWarning, buf.String())
			}
		})
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("Expected discard logger to drop every level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		expected  slog.Level
		expectErr bool
	}{
		{"DEBUG", "DEBUG", slog.LevelDebug, false},
		{"debug lowercase", "debug", slog.LevelDebug, false},
		{"INFO", "INFO", slog.LevelInfo, false},
		{"info padded", " info ", slog.LevelInfo, false},
		{"WARN", "WARN", slog.LevelWarn, false},
		{"WARNING", "WARNING", slog.LevelWarn, false},
		{"ERROR", "ERROR", slog.LevelError, false},
		{"Unknown level", "INVALID", slog.LevelInfo, true},
		{"Empty string", "", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := ParseLevel(tt.level)
			if tt.expectErr && err == nil {
				t.Errorf("Expected error for level %q, got nil", tt.level)
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error for level %q: %v", tt.level, err)
			}
			if level != tt.expected {
				t.Errorf("Expected level %v, got %v", tt.expected, level)
			}
		})
	}
}
