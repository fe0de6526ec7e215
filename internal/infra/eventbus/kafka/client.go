package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/pkg/common"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

// ClientConfig contains all configuration needed for Kafka client setup.
type ClientConfig struct {
	Brokers  []string
	GroupID  string
	ClientID string
}

// NewClient creates and configures a Kafka client shared by the producer and
// the consumer group.
func NewClient(cfg *ClientConfig) (sarama.Client, error) {
	return sarama.NewClient(cfg.Brokers, newSaramaConfig(cfg.ClientID))
}

func newSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = clientID

	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Group.Session.Timeout = 20 * time.Second
	config.Consumer.Group.Heartbeat.Interval = 6 * time.Second

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Version = sarama.V3_6_0_0
	return config
}

// ConnectEventBus dials the brokers and builds an EventBus, retrying with
// exponential backoff while the cluster is unavailable.
func ConnectEventBus(
	ctx context.Context,
	cfg *Config,
	retry common.RetryConfig,
	log *logger.Logger,
	metrics EventBusMetrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	var bus *EventBus

	connect := func(context.Context) error {
		client, err := NewClient(&ClientConfig{Brokers: cfg.Brokers, GroupID: cfg.GroupID, ClientID: cfg.ClientID})
		if err != nil {
			return fmt.Errorf("creating client: %w", err)
		}

		producer, err := sarama.NewSyncProducerFromClient(client)
		if err != nil {
			client.Close()
			return fmt.Errorf("creating producer: %w", err)
		}

		var consumerGroup sarama.ConsumerGroup
		if cfg.GroupID != "" {
			consumerGroup, err = sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
			if err != nil {
				producer.Close()
				client.Close()
				return fmt.Errorf("creating consumer group: %w", err)
			}
		}

		bus = NewEventBus(producer, consumerGroup, cfg, log, metrics, tracer)
		return nil
	}

	if err := common.ConnectWithRetry(ctx, log, "kafka", retry, connect); err != nil {
		return nil, err
	}
	return bus, nil
}

var _ events.EventBus = (*EventBus)(nil)
