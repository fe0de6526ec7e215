// Package progressreporter publishes stream activity relayed by the gateway
// as domain events, so progress and failures of long-running scans can be
// observed outside the request that started them.
package progressreporter

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/app/gateway"
	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/internal/infra/eventbus/reliability"
)

var _ gateway.ProgressReporter = (*DomainEventProgressReporter)(nil)

// DomainEventProgressReporter turns relayed stream events into domain events.
type DomainEventProgressReporter struct {
	gatewayID string

	domainPublisher events.DomainEventPublisher
	tracer          trace.Tracer
}

// New creates a new DomainEventProgressReporter.
func New(gatewayID string, domainPublisher events.DomainEventPublisher, tracer trace.Tracer) *DomainEventProgressReporter {
	return &DomainEventProgressReporter{gatewayID: gatewayID, domainPublisher: domainPublisher, tracer: tracer}
}

func (r *DomainEventProgressReporter) publish(ctx context.Context, spanName, streamID string, evt events.DomainEvent, attrs ...attribute.KeyValue) error {
	// Terminal events are still published when the caller has gone away.
	critical := reliability.IsCriticalEvent(evt.EventType())
	if critical {
		ctx = context.WithoutCancel(ctx)
	}
	attrs = append(attrs, attribute.Bool("critical", critical))

	ctx, span := r.tracer.Start(ctx, spanName,
		trace.WithAttributes(append(attrs,
			attribute.String("gateway_id", r.gatewayID),
			attribute.String("stream_id", streamID),
			attribute.String("event_type", string(evt.EventType())),
		)...),
	)
	defer span.End()

	if err := r.domainPublisher.PublishDomainEvent(ctx, evt, events.WithKey(streamID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		return fmt.Errorf("failed to publish %s event: %w", evt.EventType(), err)
	}
	span.SetStatus(codes.Ok, "event published")

	return nil
}

// ReportProgress publishes a StreamProgressed event.
func (r *DomainEventProgressReporter) ReportProgress(ctx context.Context, streamID, endpoint string, p scan.ProgressEvent) error {
	return r.publish(ctx, "progress_reporter.report_progress", streamID,
		scan.NewStreamProgressed(streamID, endpoint, p),
		attribute.Float64("pct", p.Pct),
	)
}

// ReportResult publishes a StreamResultReceived event.
func (r *DomainEventProgressReporter) ReportResult(ctx context.Context, streamID, endpoint string, result json.RawMessage) error {
	return r.publish(ctx, "progress_reporter.report_result", streamID,
		scan.NewStreamResultReceived(streamID, endpoint, result),
	)
}

// ReportFailure publishes a StreamFailed event.
func (r *DomainEventProgressReporter) ReportFailure(ctx context.Context, streamID, endpoint, message string) error {
	return r.publish(ctx, "progress_reporter.report_failure", streamID,
		scan.NewStreamFailed(streamID, endpoint, message),
	)
}

// ReportScanCompleted publishes a ScanCompleted event keyed by the entry id.
func (r *DomainEventProgressReporter) ReportScanCompleted(ctx context.Context, entry scan.HistoryEntry) error {
	return r.publish(ctx, "progress_reporter.report_scan_completed", entry.ID.String(),
		scan.NewScanCompleted(entry),
		attribute.String("target_url", entry.TargetURL),
	)
}
