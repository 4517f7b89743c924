package lattice

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := parseLevel(tt.input)
			if err != nil {
				t.Fatalf("parseLevel(%q) error = %v", tt.input, err)
			}
			if level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, level, tt.expected)
			}
		})
	}

	if _, err := parseLevel("verbose"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("parseLevel(verbose) error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestNewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ubindex.log")
	l, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	l.Debug("indexing started", zap.Int("peaks", 42))
	_ = l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"msg":"indexing started"`) || !strings.Contains(out, `"peaks":42`) {
		t.Errorf("log output = %q", out)
	}
}

func TestNewLoggerErrors(t *testing.T) {
	if _, err := NewLogger(LoggingConfig{Level: "loud"}); err == nil {
		t.Error("NewLogger(bad level) error = nil")
	}
	bad := filepath.Join(t.TempDir(), "missing-dir", "x.log")
	if _, err := NewLogger(LoggingConfig{Output: bad}); err == nil {
		t.Error("NewLogger(bad path) error = nil")
	}
	if _, err := NewLogger(LoggingConfig{Format: "text", Output: "stderr"}); err != nil {
		t.Errorf("NewLogger(text, stderr) error = %v", err)
	}
}

func TestSetLoggerReceivesIndexingDiagnostics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core).Sugar())
	defer SetLogger(nil)

	ps := cubicPeakSet("observed")
	if _, err := AnalyzePeaks(ps, fastConfig()); err != nil {
		t.Fatalf("AnalyzePeaks() error = %v", err)
	}

	if n := logs.FilterMessage("indexing complete").Len(); n != 1 {
		t.Errorf("indexing complete logged %d times, want 1", n)
	}
	entries := logs.FilterMessage("sample indexed").All()
	if len(entries) != 1 {
		t.Fatalf("sample indexed logged %d times, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["sample"]; got != "observed" {
		t.Errorf("sample field = %v, want observed", got)
	}
}
