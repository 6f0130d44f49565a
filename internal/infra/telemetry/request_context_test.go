package telemetry

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEnsureRequestMetaGeneratesID(t *testing.T) {
	ctx, meta := EnsureRequestMeta(context.Background(), "")
	require.NotEmpty(t, meta.RequestID)

	got, ok := RequestIDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, meta.RequestID, got)
}

func TestEnsureRequestMetaUsesProvidedID(t *testing.T) {
	ctx, meta := EnsureRequestMeta(context.Background(), "req-123")
	require.Equal(t, "req-123", meta.RequestID)

	got, ok := RequestIDFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "req-123", got)
}

func TestEnsureRequestMetaKeepsExisting(t *testing.T) {
	ctx, first := EnsureRequestMeta(context.Background(), "")
	ctx = WithSessionID(ctx, "sess-1")

	_, second := EnsureRequestMeta(ctx, "")
	require.Equal(t, first.RequestID, second.RequestID)
	require.Equal(t, "sess-1", second.SessionID)
}

func TestTraceSpanFromContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("0123456789abcdef")
	require.NoError(t, err)
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	gotTraceID, gotSpanID := TraceSpanFromContext(ctx)
	require.Equal(t, traceID.String(), gotTraceID)
	require.Equal(t, spanID.String(), gotSpanID)
}

func TestRequestFields(t *testing.T) {
	fields := RequestFields(RequestMeta{
		RequestID: "req-1",
		SessionID: "sess-1",
		TraceID:   "trace-1",
		SpanID:    "span-1",
	})
	require.Len(t, fields, 4)
	require.Equal(t, FieldRequestID, fields[0].Key)
	require.Equal(t, FieldSessionID, fields[1].Key)
	require.Equal(t, FieldTraceID, fields[2].Key)
	require.Equal(t, FieldSpanID, fields[3].Key)
}

func TestRequestIDFromHTTPTruncates(t *testing.T) {
	req := httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set(RequestIDHeader, "  "+strings.Repeat("a", 300)+"  ")
	require.Len(t, RequestIDFromHTTP(req), maxRequestIDLength)
	require.Empty(t, RequestIDFromHTTP(nil))
}

func TestLoggerWithRequest(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx, _ := EnsureRequestMeta(context.Background(), "req-9")

	LoggerWithRequest(ctx, zap.New(core)).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "req-9", entries[0].ContextMap()[FieldRequestID])
}
