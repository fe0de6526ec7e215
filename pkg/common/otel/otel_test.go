package otel

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/inspectra/pkg/common/logger"
)

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Equal(t, defaultTraceID, GetTraceID(context.Background()))
}

func TestGetTraceID_WithSpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestEndpointExcluder(t *testing.T) {
	ex := newEndpointExcluder(map[string]struct{}{"/v1/liveness": {}}, 1.0)

	r := httptest.NewRequest("GET", "/v1/liveness", nil)
	res := ex.ShouldSample(sdktrace.SamplingParameters{ParentContext: WithRoute(r), TraceID: trace.TraceID{1}})
	assert.Equal(t, sdktrace.Drop, res.Decision)

	r = httptest.NewRequest("POST", "/api/scan", nil)
	res = ex.ShouldSample(sdktrace.SamplingParameters{ParentContext: WithRoute(r), TraceID: trace.TraceID{1}})
	assert.Equal(t, sdktrace.RecordAndSample, res.Decision)
}

func TestInitTelemetry_DisabledWithoutEndpoint(t *testing.T) {
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)

	tp, teardown, err := InitTelemetry(log, Config{ServiceName: "test"})
	require.NoError(t, err)
	defer teardown(context.Background())

	_, ok := tp.(noop.TracerProvider)
	assert.True(t, ok)
}

func TestInjectTracing(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	ctx := InjectTracing(context.Background(), tracer)

	got, ok := GetTracer(ctx)
	require.True(t, ok)
	assert.Equal(t, tracer, got)
}
