package sql

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type traceIDKey struct{}

// WithTraceID attaches a caller-supplied correlation id to the context.
// Audit lines for queries executed under this context carry it in their
// trace_id field.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceIDFromContext returns the correlation id set by WithTraceID.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(traceIDKey{}).(string)
	return id, ok && id != ""
}

// EnsureTraceID returns a context that carries a correlation id, generating
// a fresh UUID when none is set yet.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id, ok := TraceIDFromContext(ctx); ok {
		return ctx, id
	}
	id := uuid.NewString()
	return WithTraceID(ctx, id), id
}

// traceIDFor picks the audit correlation id: an explicit WithTraceID value
// wins, otherwise the OpenTelemetry trace id of the surrounding span.
func traceIDFor(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := TraceIDFromContext(ctx); ok {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
