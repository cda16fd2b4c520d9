package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newTraceLogger(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	handler := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	return slog.New(handler), &buf
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func spanContext(t *testing.T) (context.Context, string, string) {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("6e5f3c9ba41d27e08f13a7c2d94b5061")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("1a2c90df47b3e856")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	return ctx, traceID.String(), spanID.String()
}

func TestTraceHandler_OutsideSpanOmitsTraceFields(t *testing.T) {
	logger, buf := newTraceLogger(t)

	logger.InfoContext(context.Background(), "download completed", "download_id", "dl-1")

	entry := decodeLogLine(t, buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
	assert.Equal(t, "download completed", entry["msg"])
	assert.Equal(t, "dl-1", entry["download_id"])
}

func TestTraceHandler_InsideSpanAddsTraceFields(t *testing.T) {
	logger, buf := newTraceLogger(t)

	ctx, traceID, spanID := spanContext(t)
	logger.InfoContext(ctx, "download claimed", "download_id", "dl-1")

	entry := decodeLogLine(t, buf)
	assert.Equal(t, traceID, entry["trace_id"])
	assert.Equal(t, spanID, entry["span_id"])
	assert.Equal(t, "download claimed", entry["msg"])
}

func TestTraceHandler_EnabledDelegatesToInner(t *testing.T) {
	handler := NewTraceHandler(slog.NewJSONHandler(nil, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx := context.Background()
	assert.False(t, handler.Enabled(ctx, slog.LevelInfo))
	assert.True(t, handler.Enabled(ctx, slog.LevelWarn))
	assert.True(t, handler.Enabled(ctx, slog.LevelError))
}

func TestTraceHandler_DerivedHandlersKeepInjecting(t *testing.T) {
	var buf bytes.Buffer
	handler := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	derived := handler.WithAttrs([]slog.Attr{slog.String("component", "worker_pool")})
	require.IsType(t, &TraceHandler{}, derived)

	ctx, traceID, _ := spanContext(t)
	slog.New(derived).InfoContext(ctx, "retrying download")

	entry := decodeLogLine(t, &buf)
	assert.Equal(t, "worker_pool", entry["component"])
	assert.Equal(t, traceID, entry["trace_id"])
}

func TestTraceHandler_WithGroupNestsAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{}))

	derived := handler.WithGroup("download")
	require.IsType(t, &TraceHandler{}, derived)

	slog.New(derived).InfoContext(context.Background(), "enqueued", "id", "dl-1")

	entry := decodeLogLine(t, &buf)
	group, ok := entry["download"].(map[string]any)
	require.True(t, ok, "expected grouped attrs, got: %v", entry)
	assert.Equal(t, "dl-1", group["id"])
}

func TestNewTraceHandler_NilInnerPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
