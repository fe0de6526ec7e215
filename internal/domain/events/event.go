package events

import (
	"context"
	"time"
)

// DomainEvent is something that happened in the gateway that other components
// may care about: a stream made progress, a scan finished, and so on.
type DomainEvent interface {
	// EventType identifies the event for routing.
	EventType() EventType
	// OccurredAt is when the event happened.
	OccurredAt() time.Time
}

// EventEnvelope is the transport form of a domain event.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key groups related events, typically the stream or scan id. Buses that
	// partition use it to keep related events ordered.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when the event was created.
	Timestamp time.Time

	// Payload is the domain event itself.
	Payload any
}

// HandlerFunc processes an envelope delivered by an EventBus.
type HandlerFunc func(ctx context.Context, evt EventEnvelope) error
