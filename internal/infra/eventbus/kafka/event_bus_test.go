package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/internal/infra/eventbus/serialization"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

var testCfg = &Config{StreamTopic: "inspectra.streams", ScanTopic: "inspectra.scans"}

type countingMetrics struct {
	published, consumed, publishErrs, consumeErrs int
}

func (m *countingMetrics) IncMessagePublished(context.Context, string) { m.published++ }
func (m *countingMetrics) IncMessageConsumed(context.Context, string)  { m.consumed++ }
func (m *countingMetrics) IncPublishError(context.Context, string)     { m.publishErrs++ }
func (m *countingMetrics) IncConsumeError(context.Context, string)     { m.consumeErrs++ }

func newTestBus(t *testing.T, producer sarama.SyncProducer, metrics EventBusMetrics) *EventBus {
	t.Helper()
	log := logger.New(io.Discard, logger.LevelDebug, "test", nil)
	return NewEventBus(producer, nil, testCfg, log, metrics, noop.NewTracerProvider().Tracer("test"))
}

func TestEventBus_PublishRoutesByType(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := new(countingMetrics)
	bus := newTestBus(t, producer, metrics)

	completed := scan.ScanCompleted{ID: "abc", TargetURL: "https://t", Success: true, At: time.Now().UTC()}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != testCfg.ScanTopic {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "abc" {
			return errors.New("wrong key " + string(key))
		}
		val, _ := msg.Value.Encode()
		typ, _, err := serialization.UnmarshalUniversalEnvelope(val)
		if err != nil {
			return err
		}
		if typ != scan.EventTypeScanCompleted {
			return errors.New("wrong type " + string(typ))
		}
		return nil
	})

	err := bus.Publish(context.Background(),
		events.EventEnvelope{Type: completed.EventType(), Payload: completed},
		events.WithKey("abc"),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.published)
	require.NoError(t, bus.Close())
}

func TestEventBus_PublishUnknownType(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	bus := newTestBus(t, producer, nil)

	err := bus.Publish(context.Background(), events.EventEnvelope{Type: "Mystery"})
	assert.Error(t, err)
	require.NoError(t, bus.Close())
}

func TestEventBus_PublishSendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	metrics := new(countingMetrics)
	bus := newTestBus(t, producer, metrics)

	producer.ExpectSendMessageAndFail(sarama.ErrLeaderNotAvailable)

	evt := scan.NewStreamFailed("s1", "scan", "boom")
	err := bus.Publish(context.Background(), events.EventEnvelope{Type: evt.EventType(), Payload: evt})
	assert.ErrorIs(t, err, sarama.ErrLeaderNotAvailable)
	assert.Equal(t, 1, metrics.publishErrs)
	require.NoError(t, bus.Close())
}

func TestEventBus_SubscribeWithoutGroup(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	bus := newTestBus(t, producer, nil)

	err := bus.Subscribe(context.Background(), []events.EventType{scan.EventTypeScanCompleted}, func(context.Context, events.EventEnvelope) error { return nil })
	assert.ErrorIs(t, err, ErrPublishOnly)
	require.NoError(t, bus.Close())
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32               { return nil }
func (s *fakeSession) MemberID() string                         { return "member" }
func (s *fakeSession) GenerationID() int32                      { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (s *fakeSession) Commit()                                  {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, m.Offset)
}
func (s *fakeSession) Context() context.Context { return s.ctx }

type fakeClaim struct{ ch chan *sarama.ConsumerMessage }

func (c *fakeClaim) Topic() string                            { return testCfg.StreamTopic }
func (c *fakeClaim) Partition() int32                         { return 0 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func TestDomainEventHandler_ConsumeClaim(t *testing.T) {
	progressed := scan.NewStreamProgressed("s1", "scan", scan.ProgressEvent{Phase: "crawl", Pct: 10})
	progressedBytes, err := serialization.SerializeEventEnvelope(progressed.EventType(), progressed)
	require.NoError(t, err)

	failed := scan.NewStreamFailed("s1", "scan", "boom")
	failedBytes, err := serialization.SerializeEventEnvelope(failed.EventType(), failed)
	require.NoError(t, err)

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 3)}
	claim.ch <- &sarama.ConsumerMessage{Topic: testCfg.StreamTopic, Offset: 1, Key: []byte("s1"), Value: progressedBytes,
		Headers: []*sarama.RecordHeader{{Key: []byte("origin"), Value: []byte("gateway")}}}
	claim.ch <- &sarama.ConsumerMessage{Topic: testCfg.StreamTopic, Offset: 2, Value: json.RawMessage(`garbage`)}
	claim.ch <- &sarama.ConsumerMessage{Topic: testCfg.StreamTopic, Offset: 3, Value: failedBytes}
	close(claim.ch)

	metrics := new(countingMetrics)
	var got []events.EventEnvelope
	h := &domainEventHandler{
		wanted: map[events.EventType]struct{}{scan.EventTypeStreamProgressed: {}},
		userHandler: func(_ context.Context, evt events.EventEnvelope) error {
			got = append(got, evt)
			return nil
		},
		logger:  logger.New(io.Discard, logger.LevelDebug, "test", nil),
		tracer:  noop.NewTracerProvider().Tracer("test"),
		metrics: metrics,
	}

	sess := &fakeSession{ctx: context.Background()}
	require.NoError(t, h.ConsumeClaim(sess, claim))

	assert.Equal(t, []int64{1, 2, 3}, sess.marked, "every message is marked, including skipped ones")
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].Key)
	assert.Equal(t, "gateway", got[0].Headers["origin"])

	payload, ok := got[0].Payload.(scan.StreamProgressed)
	require.True(t, ok)
	assert.Equal(t, "crawl", payload.Progress.Phase)
	assert.Equal(t, 1, metrics.consumed)
	assert.Equal(t, 1, metrics.consumeErrs)
}
