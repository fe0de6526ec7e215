package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/inspectra/internal/domain/events"
)

// mockEventBus is a manual mock implementation of events.EventBus.
type mockEventBus struct {
	publishFunc func(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error
}

func (m *mockEventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	return m.publishFunc(ctx, event, opts...)
}

func (m *mockEventBus) Subscribe(context.Context, []events.EventType, events.HandlerFunc) error {
	return nil
}

func (m *mockEventBus) Close() error { return nil }

type mockDomainEvent struct {
	eventType  events.EventType
	occurredAt time.Time
}

func (m *mockDomainEvent) EventType() events.EventType { return m.eventType }

func (m *mockDomainEvent) OccurredAt() time.Time { return m.occurredAt }

func TestDomainEventPublisher_PublishDomainEvent_Success(t *testing.T) {
	event := &mockDomainEvent{eventType: "test-event", occurredAt: time.Now()}

	bus := &mockEventBus{
		publishFunc: func(_ context.Context, evt events.EventEnvelope, _ ...events.PublishOption) error {
			assert.Equal(t, event.EventType(), evt.Type)
			assert.Equal(t, event.OccurredAt(), evt.Timestamp)
			assert.Equal(t, event, evt.Payload)
			return nil
		},
	}

	err := NewDomainEventPublisher(bus).PublishDomainEvent(context.Background(), event)
	assert.NoError(t, err)
}

func TestDomainEventPublisher_PublishDomainEvent_Error(t *testing.T) {
	event := &mockDomainEvent{eventType: "test-event", occurredAt: time.Now()}
	publishErr := errors.New("publish failed")

	bus := &mockEventBus{
		publishFunc: func(context.Context, events.EventEnvelope, ...events.PublishOption) error { return publishErr },
	}

	err := NewDomainEventPublisher(bus).PublishDomainEvent(context.Background(), event)
	assert.ErrorIs(t, err, publishErr)
}

func TestDomainEventPublisher_PublishDomainEvent_ForwardsOptions(t *testing.T) {
	event := &mockDomainEvent{eventType: "test-event", occurredAt: time.Now()}

	var received []events.PublishOption
	bus := &mockEventBus{
		publishFunc: func(_ context.Context, _ events.EventEnvelope, opts ...events.PublishOption) error {
			received = opts
			return nil
		},
	}

	err := NewDomainEventPublisher(bus).PublishDomainEvent(context.Background(), event,
		events.WithKey("test-key"),
		events.WithHeaders(map[string]string{"test-header": "test-value"}),
	)
	require.NoError(t, err)

	params := events.ApplyOptions(received)
	assert.Equal(t, "test-key", params.Key)
	assert.Equal(t, "test-value", params.Headers["test-header"])
}

func TestDomainEventPublisher_PublishDomainEvent_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus := &mockEventBus{
		publishFunc: func(ctx context.Context, _ events.EventEnvelope, _ ...events.PublishOption) error { return ctx.Err() },
	}

	err := NewDomainEventPublisher(bus).PublishDomainEvent(ctx, &mockDomainEvent{eventType: "test-event"})
	assert.ErrorIs(t, err, context.Canceled)
}
