package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	routeKey ctxKey = iota + 1
	tracerKey
)

const defaultTraceID = "00000000000000000000000000000000"

// GetTraceID returns the trace id from the current span context.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return defaultTraceID
}

// InjectTracing stores the tracer in the context so handlers further down
// the chain can start child spans without a reference to it.
func InjectTracing(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// GetTracer returns the tracer stored by InjectTracing, if any.
func GetTracer(ctx context.Context) (trace.Tracer, bool) {
	t, ok := ctx.Value(tracerKey).(trace.Tracer)
	return t, ok
}
