// Package events provides domain event handling capabilities for communicating state changes
// and important activities across system boundaries in a decoupled way.
package events

import "context"

// DomainEventPublisher publishes domain events without tying producers to a
// particular transport.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers. Optional
	// PublishOptions configure routing behavior.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to event envelopes. It abstracts
// the messaging infrastructure (Kafka or in-process) from the domain.
type EventBus interface {
	// Publish broadcasts an envelope to all interested subscribers.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers handler for the given event types. The subscription
	// lives until ctx is done.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close releases the bus's resources.
	Close() error
}
