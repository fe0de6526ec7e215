// Package gateway relays the scan API to browser and CLI clients. It
// forwards one-shot calls verbatim, re-emits streamed events, keeps the
// server-side scan history and publishes what it sees as domain events.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/ahrav/inspectra/internal/domain/scan"
)

// ProgressReporter publishes relay activity for other consumers.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, streamID, endpoint string, progress scan.ProgressEvent) error
	ReportResult(ctx context.Context, streamID, endpoint string, result json.RawMessage) error
	ReportFailure(ctx context.Context, streamID, endpoint, message string) error
	ReportScanCompleted(ctx context.Context, entry scan.HistoryEntry) error
}

// Sink receives relayed events. sse.Writer implements it.
type Sink interface {
	Send(v any) error
}

// OpenSink starts the downstream stream. It is called at most once per
// relay, right before the first event is sent.
type OpenSink func() (Sink, error)

// Metrics records relay activity.
type Metrics interface {
	IncScanRequestsTotal(ctx context.Context)
	IncScanRequestErrors(ctx context.Context, reason string)
	IncStreamsRelayed(ctx context.Context, endpoint string)
	IncEventsRelayed(ctx context.Context, endpoint, eventType string)
}

type noopMetrics struct{}

func (noopMetrics) IncScanRequestsTotal(context.Context)             {}
func (noopMetrics) IncScanRequestErrors(context.Context, string)     {}
func (noopMetrics) IncStreamsRelayed(context.Context, string)        {}
func (noopMetrics) IncEventsRelayed(context.Context, string, string) {}
