// Package logger_test contains tests for the logger package
package logger_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/phrazzld/dotlist-notify/internal/config"
	"github.com/phrazzld/dotlist-notify/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// restoreDefault puts back the default logger replaced by Setup.
func restoreDefault(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug level", "debug", slog.LevelDebug, true},
		{"info level", "info", slog.LevelInfo, true},
		{"warn level", "warn", slog.LevelWarn, true},
		{"error level", "error", slog.LevelError, true},
		{"case insensitive - DEBUG", "DEBUG", slog.LevelDebug, true},
		{"case insensitive - Info", "Info", slog.LevelInfo, true},
		{"unknown defaults to info", "invalid_level", slog.LevelInfo, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := logger.ParseLevel(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestSetupWithWriter_FiltersBelowLevel(t *testing.T) {
	restoreDefault(t)
	buf := &logger.TestLogBuffer{}

	l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: "warn"}, buf)
	require.NoError(t, err)
	require.NotNil(t, l)

	l.Info("info test message")
	l.Warn("warn test message", "scan_id", "abc")

	assert.NotContains(t, buf.String(), "info test message")
	logger.AssertLogContains(t, buf, "warn test message")
	logger.AssertLogField(t, buf, "scan_id", "abc")
}

func TestSetupWithWriter_SetsDefault(t *testing.T) {
	restoreDefault(t)
	buf := &logger.TestLogBuffer{}

	_, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: "debug"}, buf)
	require.NoError(t, err)

	slog.Debug("through default")

	logger.AssertLogContains(t, buf, "through default")
}

func TestSetupWithWriter_InvalidLevel(t *testing.T) {
	restoreDefault(t)
	buf := &logger.TestLogBuffer{}

	l, err := logger.SetupWithWriter(config.ServerConfig{LogLevel: "loud"}, buf)
	require.NoError(t, err, "an invalid level falls back to info rather than failing")

	l.Debug("debug test message")
	l.Info("info test message")

	assert.False(t, strings.Contains(buf.String(), "debug test message"))
	assert.True(t, strings.Contains(buf.String(), "info test message"))
}

func TestContextLogger(t *testing.T) {
	ctx, buf := logger.NewTestContext(t)

	ctx = logger.WithRequestID(ctx, "scan-123")
	logger.FromContext(ctx).Info("hello")

	assert.Equal(t, "scan-123", logger.RequestID(ctx))
	logger.AssertLogField(t, buf, "request_id", "scan-123")
}

func TestFromContext_FallsBackToDefault(t *testing.T) {
	restoreDefault(t)
	buf := &logger.TestLogBuffer{}
	slog.SetDefault(slog.New(slog.NewJSONHandler(buf, nil)))

	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, slog.Default(), logger.FromContext(nil))

	ctx := logger.WithRequestID(context.Background(), "evt-1")
	logger.FromContext(ctx).Info("from default")

	logger.AssertLogField(t, buf, "request_id", "evt-1")
	assert.Empty(t, logger.RequestID(context.Background()))
}

func TestFromContextOrDefault(t *testing.T) {
	fallbackLogger, buf := logger.GetTestLogger(t)

	// No logger in context: fallback is used with the request ID attached
	ctx := logger.WithRequestID(context.Background(), "run-7")
	logger.FromContextOrDefault(ctx, fallbackLogger).Info("fallback")
	logger.AssertLogField(t, buf, "request_id", "run-7")

	// A stored logger wins over the fallback
	stored, storedBuf := logger.GetTestLogger(t)
	ctx = logger.WithLogger(context.Background(), stored)
	logger.FromContextOrDefault(ctx, fallbackLogger).Info("stored")
	logger.AssertLogContains(t, storedBuf, "stored")
	require.NotContains(t, buf.String(), `"msg":"stored"`)
}
