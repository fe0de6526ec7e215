package eventdispatcher

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/internal/infra/eventbus/memory"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

func newDispatcher() *Dispatcher {
	return New(noop.NewTracerProvider().Tracer("test"), logger.New(io.Discard, logger.LevelDebug, "test", nil))
}

func TestEventRouting(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher()

	var completed, failed []string
	d.RegisterHandler(ctx, scan.EventTypeScanCompleted, func(_ context.Context, evt events.EventEnvelope) error {
		completed = append(completed, evt.Key)
		return nil
	})
	d.RegisterHandler(ctx, scan.EventTypeStreamFailed, func(_ context.Context, evt events.EventEnvelope) error {
		failed = append(failed, evt.Key)
		return nil
	})

	assert.Equal(t, []events.EventType{scan.EventTypeScanCompleted, scan.EventTypeStreamFailed}, d.EventTypes())

	require.NoError(t, d.Dispatch(ctx, events.EventEnvelope{Type: scan.EventTypeScanCompleted, Key: "a"}))
	require.NoError(t, d.Dispatch(ctx, events.EventEnvelope{Type: scan.EventTypeStreamFailed, Key: "b"}))

	assert.Equal(t, []string{"a"}, completed)
	assert.Equal(t, []string{"b"}, failed)
}

func TestHandlerErrors(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher()
	boom := errors.New("boom")

	d.RegisterHandler(ctx, scan.EventTypeStreamFailed, func(context.Context, events.EventEnvelope) error { return boom })

	err := d.Dispatch(ctx, events.EventEnvelope{Type: scan.EventTypeStreamFailed})
	assert.ErrorIs(t, err, boom)
}

func TestMissingHandler(t *testing.T) {
	err := newDispatcher().Dispatch(context.Background(), events.EventEnvelope{Type: scan.EventTypeStreamProgressed, Key: "s"})

	var nf *HandlerNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, scan.EventTypeStreamProgressed, nf.EventType)
}

func TestHandlerReplacement(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher()

	var calls []string
	d.RegisterHandler(ctx, scan.EventTypeScanCompleted, func(context.Context, events.EventEnvelope) error {
		calls = append(calls, "first")
		return nil
	})
	d.RegisterHandler(ctx, scan.EventTypeScanCompleted, func(context.Context, events.EventEnvelope) error {
		calls = append(calls, "second")
		return nil
	})

	require.NoError(t, d.Dispatch(ctx, events.EventEnvelope{Type: scan.EventTypeScanCompleted}))
	assert.Equal(t, []string{"second"}, calls)
}

func TestConcurrentDispatch(t *testing.T) {
	ctx := context.Background()
	d := newDispatcher()

	var n atomic.Int64
	d.RegisterHandler(ctx, scan.EventTypeStreamProgressed, func(context.Context, events.EventEnvelope) error {
		n.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, d.Dispatch(ctx, events.EventEnvelope{Type: scan.EventTypeStreamProgressed}))
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), n.Load())
}

func TestSubscribeThroughBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newDispatcher()

	var got []string
	d.RegisterHandler(ctx, scan.EventTypeScanCompleted, func(_ context.Context, evt events.EventEnvelope) error {
		got = append(got, evt.Key)
		return nil
	})

	bus := memory.NewBroker()
	require.NoError(t, bus.Subscribe(ctx, d.EventTypes(), d.Dispatch))
	require.NoError(t, bus.Publish(ctx, events.EventEnvelope{Type: scan.EventTypeScanCompleted}, events.WithKey("scan-1")))

	assert.Equal(t, []string{"scan-1"}, got)
}
