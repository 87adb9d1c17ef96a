package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLoggerAndFrom(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, From(ctx))
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), From(context.Background()))
}

func TestTraceHandler_NoSpanAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	handler := NewTraceHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler)

	logger.InfoContext(context.Background(), "hello")

	out := buf.String()
	require.NotEmpty(t, out)
	assert.False(t, strings.Contains(out, "trace_id"))
	assert.False(t, strings.Contains(out, "span_id"))
}

func TestTraceHandler_NilInnerPanics(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}

func TestTraceHandler_WithAttrsKeepsWrapping(t *testing.T) {
	var buf bytes.Buffer
	handler := NewTraceHandler(slog.NewJSONHandler(&buf, nil))

	wrapped := handler.WithAttrs([]slog.Attr{slog.String("component", "queue")})
	require.IsType(t, &TraceHandler{}, wrapped)

	logger := slog.New(wrapped)
	logger.Info("hello")
	assert.Contains(t, buf.String(), `"component":"queue"`)
}
