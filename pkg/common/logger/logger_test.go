package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

func TestLogger_WritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	traceID := func(context.Context) string { return "abc123" }

	log := NewWithMetadata(&buf, LevelInfo, "TEST", traceID, Events{}, map[string]string{
		"hostname": "host-1",
		"pod":      "",
	})
	log.Info(context.Background(), "stream opened", "url", "https://example.com")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))

	assert.Equal(t, "stream opened", rec["msg"])
	assert.Equal(t, "TEST", rec["service"])
	assert.Equal(t, "host-1", rec["hostname"])
	assert.Equal(t, "abc123", rec["trace_id"])
	assert.Equal(t, "https://example.com", rec["url"])
	assert.NotContains(t, rec, "pod", "empty metadata values are skipped")
	assert.Contains(t, rec["file"], "logger_test.go")
}

func TestLogger_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "TEST", nil)

	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_ErrorEventFires(t *testing.T) {
	var buf bytes.Buffer
	var got Record

	log := NewWithEvents(&buf, LevelDebug, "TEST", nil, Events{
		Error: func(ctx context.Context, r Record) { got = r },
	})
	log.Error(context.Background(), "upstream failed", "status", 502)

	assert.Equal(t, "upstream failed", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.EqualValues(t, 502, got.Attributes["status"])
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelDebug, "TEST", nil).With("component", "relay")

	log.Debug(context.Background(), "hello")
	assert.Contains(t, buf.String(), `"component":"relay"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("ERROR"))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

type recordingExporter struct {
	mu      sync.Mutex
	records []sdklog.Record
}

func (e *recordingExporter) Export(_ context.Context, records []sdklog.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range records {
		e.records = append(e.records, r.Clone())
	}
	return nil
}

func (*recordingExporter) Shutdown(context.Context) error   { return nil }
func (*recordingExporter) ForceFlush(context.Context) error { return nil }

func TestLogger_WithOtelBridge(t *testing.T) {
	exp := &recordingExporter{}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewSimpleProcessor(exp)))
	t.Cleanup(func() { _ = lp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	base := New(&buf, LevelInfo, "TEST", nil)
	log := base.WithOtelBridge("inspectra", otelslog.WithLoggerProvider(lp))

	log.Info(context.Background(), "scan finished", "target", "https://example.com")
	log.Debug(context.Background(), "below min level")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "scan finished", rec["msg"])

	exp.mu.Lock()
	defer exp.mu.Unlock()
	require.Len(t, exp.records, 1)
	assert.Equal(t, "scan finished", exp.records[0].Body().AsString())

	var target string
	exp.records[0].WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Key == "target" {
			target = kv.Value.AsString()
		}
		return true
	})
	assert.Equal(t, "https://example.com", target)
}
