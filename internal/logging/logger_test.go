package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"":        zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range cases {
		if got := ParseLevel(input); got != expected {
			t.Fatalf("ParseLevel(%q) = %s, want %s", input, got, expected)
		}
	}
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger, err := NewLogger("warn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("expected warn to be enabled")
	}
}
