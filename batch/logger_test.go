package batch_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k9sret/dragonio/batch"
)

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", batch.LogLevelDebug.String())
	assert.Equal(t, "INFO", batch.LogLevelInfo.String())
	assert.Equal(t, "WARN", batch.LogLevelWarn.String())
	assert.Equal(t, "ERROR", batch.LogLevelError.String())
	assert.Equal(t, "UNKNOWN", batch.LogLevel(99).String())
}

func TestNoOpLogger(t *testing.T) {
	logger := &batch.NoOpLogger{}

	// These should not panic
	logger.Log(batch.LogLevelInfo, "test")
	logger.Debug("debug %d", 1)
	logger.Info("info %s", "test")
	logger.Warn("warn %v", true)
	logger.Error("error %f", 3.14)
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := batch.NewSlogLogger(slog.New(h))

	logger.Debug("hidden %d", 1)
	logger.Info("queue_size: %d", 5)
	logger.Warn("slow consumer")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "queue_size: 5")
	assert.Contains(t, out, "level=WARN")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestNewSlogLogger_NilUsesDefault(t *testing.T) {
	logger := batch.NewSlogLogger(nil)
	assert.Same(t, slog.Default(), logger.Logger)
}

func TestSlogLogger_AssemblerLifecycle(t *testing.T) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	a, err := batch.Open(context.Background(), smallOptions(), memoryStore(8),
		batch.WithLogger(batch.NewSlogLogger(slog.New(h))))
	require.NoError(t, err)
	_, err = a.Get(context.Background())
	require.NoError(t, err)
	a.Shutdown()

	out := buf.String()
	assert.Contains(t, out, "n_readers:      1")
	assert.Contains(t, out, "reader 0 started")
	assert.Contains(t, out, "fetcher 0 stopped")
	assert.Contains(t, out, "shut down")
}
