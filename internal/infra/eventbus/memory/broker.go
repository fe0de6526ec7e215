// Package memory provides an in-memory implementation of the messaging system.
// It offers a lightweight, non-persistent message broker suitable for a
// single-process gateway, the CLI and tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/inspectra/internal/domain/events"
)

// Handler receives messages published on a Topic.
type Handler[T any] func(ctx context.Context, msg T) error

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// Topic fans a message type out to its subscribers. The zero value is ready
// to use.
type Topic[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []subscription[T]
}

// Subscribe registers handler until ctx is done.
func (t *Topic[T]) Subscribe(ctx context.Context, handler Handler[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.handlers = append(t.handlers, subscription[T]{id: id, handler: handler})
	t.mu.Unlock()

	if ctx.Done() == nil {
		return nil
	}
	go func() {
		<-ctx.Done()
		t.remove(id)
	}()
	return nil
}

func (t *Topic[T]) remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.handlers {
		if s.id == id {
			t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
			return
		}
	}
}

// Len returns the number of active subscribers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

// Publish delivers msg to every subscriber in subscription order, stopping at
// the first error. Handlers run without the lock held so they may publish or
// subscribe themselves.
func (t *Topic[T]) Publish(ctx context.Context, msg T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	handlersCopy := make([]subscription[T], len(t.handlers))
	copy(handlersCopy, t.handlers)
	t.mu.RUnlock()

	for _, s := range handlersCopy {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

var _ events.EventBus = (*Broker)(nil)

// Broker is an in-process events.EventBus. Every event type gets its own
// Topic; publishing is synchronous.
type Broker struct {
	mu     sync.Mutex
	topics map[events.EventType]*Topic[events.EventEnvelope]
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{topics: make(map[events.EventType]*Topic[events.EventEnvelope])}
}

// ErrClosed is returned by operations on a closed broker.
var ErrClosed = errors.New("broker closed")

func (b *Broker) topic(t events.EventType) (*Topic[events.EventEnvelope], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	tp, ok := b.topics[t]
	if !ok {
		tp = new(Topic[events.EventEnvelope])
		b.topics[t] = tp
	}
	return tp, nil
}

// Publish delivers evt to the subscribers of its type. Key and headers from
// opts override those on the envelope.
func (b *Broker) Publish(ctx context.Context, evt events.EventEnvelope, opts ...events.PublishOption) error {
	p := events.ApplyOptions(opts)
	if p.Key != "" {
		evt.Key = p.Key
	}
	if len(p.Headers) > 0 {
		evt.Headers = p.Headers
	}

	tp, err := b.topic(evt.Type)
	if err != nil {
		return err
	}
	return tp.Publish(ctx, evt)
}

// Subscribe registers handler for each of eventTypes until ctx is done.
func (b *Broker) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	for _, et := range eventTypes {
		tp, err := b.topic(et)
		if err != nil {
			return err
		}
		if err := tp.Subscribe(ctx, Handler[events.EventEnvelope](handler)); err != nil {
			return err
		}
	}
	return nil
}

// Close rejects further publishes and subscriptions.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
