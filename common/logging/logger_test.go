package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{
		Level:  level,
		Output: &buf,
	})
	require.NoError(t, err)

	return logger, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"WARN", WarnLevel},
		{"WARNING", WarnLevel},
		{"ERROR", ErrorLevel},
		{"garbage", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "INFO", InfoLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestZapAdapter_LevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestZapAdapter_Fields(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	logger.Info("cache hit",
		String("key", "user:42"),
		String("tier", "l1"),
	)

	out := buf.String()
	assert.Contains(t, out, "cache hit")
	assert.Contains(t, out, "user:42")
	assert.Contains(t, out, "l1")
}

func TestZapAdapter_WithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)

	child := logger.WithFields(String("component", "warmup"))
	child.Info("batch complete")

	assert.Contains(t, buf.String(), "warmup")
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()

	// Must not panic and must be chainable.
	logger.Debug("x")
	logger.Error("x", assert.AnError)
	logger.WithFields(String("a", "b")).Info("x")
}

func TestGlobalLogger(t *testing.T) {
	logger, buf := newBufferLogger(t, DebugLevel)
	prev := GetGlobalLogger()
	SetGlobalLogger(logger)
	defer SetGlobalLogger(prev)

	Info("global message", Int("n", 1))

	assert.Contains(t, buf.String(), "global message")
}
