// Package kafka provides a Kafka-based implementation of the event bus so
// gateway events can be consumed by services outside the process.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/inspectra/internal/infra/eventbus/serialization"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

// EventBusMetrics defines metrics operations needed to monitor Kafka message handling.
type EventBusMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// Config contains settings for connecting to Kafka and routing events.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// StreamTopic receives per-event stream activity (progress, results,
	// failures).
	StreamTopic string
	// ScanTopic receives completed scans.
	ScanTopic string

	// GroupID identifies the consumer group. Without one the bus can only
	// publish.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

// ErrPublishOnly is returned by Subscribe on a bus without a consumer group.
var ErrPublishOnly = errors.New("event bus has no consumer group")

// EventBus implements events.EventBus on top of Kafka.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	// Maps domain event types to Kafka topic names.
	topics map[events.EventType]string

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

// NewEventBus wires a producer and an optional consumer group into an EventBus.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *Config,
	logger *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) *EventBus {
	return &EventBus{
		producer:      producer,
		consumerGroup: consumerGroup,
		topics: map[events.EventType]string{
			scan.EventTypeStreamProgressed:     cfg.StreamTopic,
			scan.EventTypeStreamResultReceived: cfg.StreamTopic,
			scan.EventTypeStreamFailed:         cfg.StreamTopic,
			scan.EventTypeScanCompleted:        cfg.ScanTopic,
		},
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
	}
}

// Publish serializes event and sends it to the topic mapped to its type. Trace
// context and envelope headers travel as Kafka record headers.
func (k *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := k.topics[event.Type]
	if !ok || topic == "" {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	ctx, span := tracing.StartProducerSpan(ctx, topic, string(event.Type), k.tracer)
	defer span.End()

	p := events.ApplyOptions(opts)
	if p.Key != "" {
		event.Key = p.Key
		span.SetAttributes(attribute.String("event.key", event.Key))
	}
	if len(p.Headers) > 0 {
		event.Headers = p.Headers
	}

	msgBytes, err := serialization.SerializeEventEnvelope(event.Type, event.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialization failed")
		k.incPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(msgBytes),
	}
	if event.Key != "" {
		kafkaMsg.Key = sarama.StringEncoder(event.Key)
	}
	for hk, hv := range event.Headers {
		kafkaMsg.Headers = append(kafkaMsg.Headers, sarama.RecordHeader{Key: []byte(hk), Value: []byte(hv)})
	}
	tracing.InjectTraceContext(ctx, kafkaMsg)

	partition, offset, err := k.producer.SendMessage(kafkaMsg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		k.incPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}

	if k.metrics != nil {
		k.metrics.IncMessagePublished(ctx, topic)
	}
	k.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"event_type", event.Type,
		"key", event.Key,
	)

	return nil
}

func (k *EventBus) incPublishError(ctx context.Context, topic string) {
	if k.metrics != nil {
		k.metrics.IncPublishError(ctx, topic)
	}
}

// Subscribe consumes the topics of eventTypes in a background goroutine until
// ctx is done. Messages of other types sharing a topic are skipped.
func (k *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if k.consumerGroup == nil {
		return ErrPublishOnly
	}

	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	topicSet := make(map[string]struct{})
	for _, et := range eventTypes {
		topic, ok := k.topics[et]
		if !ok || topic == "" {
			return fmt.Errorf("subscribe: unknown event type %s", et)
		}
		wanted[et] = struct{}{}
		topicSet[topic] = struct{}{}
	}

	topics := make([]string, 0, len(topicSet))
	for t := range topicSet {
		topics = append(topics, t)
	}

	h := &domainEventHandler{
		wanted:      wanted,
		userHandler: handler,
		logger:      k.logger,
		tracer:      k.tracer,
		metrics:     k.metrics,
	}
	go k.consumeLoop(ctx, topics, h)
	k.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes, "topics", topics)

	return nil
}

func (k *EventBus) consumeLoop(ctx context.Context, topics []string, h sarama.ConsumerGroupHandler) {
	for {
		if err := k.consumerGroup.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			k.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// domainEventHandler implements sarama.ConsumerGroupHandler, turning records
// back into envelopes for the subscriber.
type domainEventHandler struct {
	wanted      map[events.EventType]struct{}
	userHandler events.HandlerFunc

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics EventBusMetrics
}

func (h *domainEventHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *domainEventHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition. Undecodable
// records are marked and skipped so a poison message cannot stall the
// partition.
func (h *domainEventHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		h.handle(sess, msg)
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (h *domainEventHandler) handle(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	ctx := tracing.ExtractTraceContext(sess.Context(), msg)
	ctx, span := tracing.StartConsumerSpan(ctx, msg, h.tracer)
	defer span.End()

	evtType, payloadBytes, err := serialization.UnmarshalUniversalEnvelope(msg.Value)
	if err != nil {
		span.RecordError(err)
		h.incConsumeError(ctx, msg.Topic)
		h.logger.Warn(ctx, "Dropping undecodable message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return
	}
	if _, ok := h.wanted[evtType]; !ok {
		return
	}

	payload, err := serialization.DeserializePayload(evtType, payloadBytes)
	if err != nil {
		span.RecordError(err)
		h.incConsumeError(ctx, msg.Topic)
		h.logger.Warn(ctx, "Dropping message with bad payload", "event_type", evtType, "error", err)
		return
	}

	headers := make(map[string]string, len(msg.Headers))
	for _, rh := range msg.Headers {
		if rh != nil {
			headers[string(rh.Key)] = string(rh.Value)
		}
	}

	ts := msg.Timestamp
	if de, ok := payload.(events.DomainEvent); ok && !de.OccurredAt().IsZero() {
		ts = de.OccurredAt()
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	env := events.EventEnvelope{
		Type:      evtType,
		Key:       string(msg.Key),
		Headers:   headers,
		Timestamp: ts,
		Payload:   payload,
	}

	if err := h.userHandler(ctx, env); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		h.incConsumeError(ctx, msg.Topic)
		h.logger.Error(ctx, "Failed to handle message", "event_type", evtType, "error", err)
		return
	}
	if h.metrics != nil {
		h.metrics.IncMessageConsumed(ctx, msg.Topic)
	}
}

func (h *domainEventHandler) incConsumeError(ctx context.Context, topic string) {
	if h.metrics != nil {
		h.metrics.IncConsumeError(ctx, topic)
	}
}

// Close shuts down the producer and the consumer group.
func (k *EventBus) Close() error {
	var errs []error
	if err := k.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if k.consumerGroup != nil {
		if err := k.consumerGroup.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
