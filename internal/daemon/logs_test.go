package daemon

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLevelForVerbosity(t *testing.T) {
	tests := []struct {
		verbose int
		want    slog.Level
	}{
		{-1, slog.LevelInfo},
		{0, slog.LevelInfo},
		{1, slog.LevelDebug},
		{3, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := LevelForVerbosity(tt.verbose); got != tt.want {
			t.Errorf("LevelForVerbosity(%d) = %v, want %v", tt.verbose, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, 0, true)

	logger.Debug("hidden")
	logger.Warn("Focus lost", "count", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug output to be filtered, got %q", out)
	}
	if !strings.Contains(out, "WRN Focus lost count=1") {
		t.Errorf("Expected warning line, got %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("Expected no colour codes, got %q", out)
	}
}

func TestNewLogger_Verbose(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, 1, true).Debug("USB filesystem event")

	if !strings.Contains(buf.String(), "DBG USB filesystem event") {
		t.Errorf("Expected debug line, got %q", buf.String())
	}
}
