package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logwarden/internal/ctxstore"
)

func TestContextFields_Empty(t *testing.T) {
	// No scope, no span
	ctx := context.Background()
	fields := ContextFields(ctx)
	assert.Empty(t, fields)
}

func TestContextFields_OTELTracing(t *testing.T) {
	// Create real OTEL tracer with in-memory exporter
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)
	tracer := provider.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test-operation")
	defer span.End()

	fields := ContextFields(ctx)

	// Should have trace_id and span_id
	var hasTraceID, hasSpanID bool
	for _, f := range fields {
		if f.Key == "trace_id" {
			hasTraceID = true
			assert.NotEmpty(t, f.String, "trace_id should not be empty")
		}
		if f.Key == "span_id" {
			hasSpanID = true
			assert.NotEmpty(t, f.String, "span_id should not be empty")
		}
	}
	assert.True(t, hasTraceID, "trace_id field missing from context fields")
	assert.True(t, hasSpanID, "span_id field missing from context fields")
}

func TestContextFields_Scope(t *testing.T) {
	scope := ctxstore.NewScope()
	scope.UserID = "user-7"
	scope.SessionID = "sess_123"
	scope.Metadata = map[string]string{"job": "reindex"}
	ctx := ctxstore.WithScope(context.Background(), scope)

	fields := ContextFields(ctx)

	assertFieldValue(t, fields, "request.id", scope.RequestID)
	assertFieldValue(t, fields, "user.id", "user-7")
	assertFieldValue(t, fields, "session.id", "sess_123")
	assertFieldValue(t, fields, "meta.job", "reindex")
}

func TestContextFields_LiveSpanWinsOverSnapshot(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := trace.NewTracerProvider(trace.WithBatcher(exporter))
	tracer := provider.Tracer("test")

	scope := ctxstore.NewScope()
	scope.TraceID = "stale-snapshot-id"
	ctx := ctxstore.WithScope(context.Background(), scope)

	ctx, span := tracer.Start(ctx, "live-operation")
	defer span.End()

	fields := ContextFields(ctx)
	for _, f := range fields {
		if f.Key == "trace_id" {
			assert.NotEqual(t, "stale-snapshot-id", f.String)
			return
		}
	}
	t.Error("trace_id field missing")
}

func assertFieldValue(t *testing.T, fields []zap.Field, key, expected string) {
	t.Helper()
	for _, field := range fields {
		if field.Key == key && field.String == expected {
			return
		}
	}
	t.Errorf("field %q with value %q not found", key, expected)
}

func TestLogger_InContext(t *testing.T) {
	logger := &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
	ctx := WithLogger(context.Background(), logger)

	retrieved := FromContext(ctx)
	assert.Equal(t, logger, retrieved)
}

func TestLogger_FromContextMissing(t *testing.T) {
	ctx := context.Background()
	retrieved := FromContext(ctx)

	// Should return default logger (nop for test)
	assert.NotNil(t, retrieved)
	retrieved.Info(ctx, "safe on the nop logger")
}
