// Package eventdispatcher routes envelopes received from an event bus to the
// handler registered for their type.
package eventdispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

// Dispatcher maps each event type to exactly one handler.
//
// Typical usage:
//
//	d := eventdispatcher.New(tracer, log)
//	d.RegisterHandler(ctx, scan.EventTypeScanCompleted, onScanCompleted)
//	err := bus.Subscribe(ctx, d.EventTypes(), d.Dispatch)
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[events.EventType]events.HandlerFunc
	tracer   trace.Tracer
	logger   *logger.Logger
}

// New creates a dispatcher with no handlers.
func New(tracer trace.Tracer, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[events.EventType]events.HandlerFunc),
		tracer:   tracer,
		logger:   logger.With("component", "event_dispatcher"),
	}
}

// RegisterHandler associates handler with eventType, replacing any previous
// handler. It is safe to call concurrently.
func (d *Dispatcher) RegisterHandler(ctx context.Context, eventType events.EventType, handler events.HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = handler
	d.logger.Debug(ctx, "handler registered", "event_type", eventType)
}

// EventTypes returns the registered event types in sorted order.
func (d *Dispatcher) EventTypes() []events.EventType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]events.EventType, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// HandlerNotFoundError is returned for an event type without a handler.
type HandlerNotFoundError struct {
	EventType events.EventType
	Key       string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for event type: %s (key: %s)", e.EventType, e.Key)
}

// Dispatch runs the handler registered for evt's type. Its signature matches
// events.HandlerFunc so it can be passed straight to EventBus.Subscribe.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.EventEnvelope) error {
	ctx, span := d.tracer.Start(ctx, "event_dispatcher.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.String("event_key", evt.Key),
		))
	defer span.End()

	d.mu.RLock()
	handler, exists := d.handlers[evt.Type]
	d.mu.RUnlock()
	if !exists {
		err := &HandlerNotFoundError{EventType: evt.Type, Key: evt.Key}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := handler(ctx, evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to dispatch event with event type %s: %w", evt.Type, err)
	}

	span.SetStatus(codes.Ok, "event dispatched successfully")
	d.logger.Debug(ctx, "event dispatched", "event_type", evt.Type, "event_key", evt.Key)
	return nil
}
