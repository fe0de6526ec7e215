package progressreporter

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
)

type mockDomainPublisher struct{ mock.Mock }

func (m *mockDomainPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	args := m.Called(ctx, event, opts)
	return args.Error(0)
}

func keyed(key string) any {
	return mock.MatchedBy(func(opts []events.PublishOption) bool {
		return events.ApplyOptions(opts).Key == key
	})
}

func TestDomainEventProgressReporter_ReportProgress(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*mockDomainPublisher)
		wantErr bool
	}{
		{
			name: "successfully publishes progress event",
			setup: func(p *mockDomainPublisher) {
				p.On("PublishDomainEvent",
					mock.Anything,
					mock.MatchedBy(func(e scan.StreamProgressed) bool {
						return e.StreamID == "stream-1" && e.Endpoint == "scan" && e.Progress.Phase == "crawl"
					}),
					keyed("stream-1"),
				).Return(nil).Once()
			},
		},
		{
			name: "handles publisher error",
			setup: func(p *mockDomainPublisher) {
				p.On("PublishDomainEvent", mock.Anything, mock.AnythingOfType("scan.StreamProgressed"), mock.Anything).
					Return(assert.AnError).Once()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			publisher := new(mockDomainPublisher)
			reporter := New("test", publisher, noop.NewTracerProvider().Tracer("test"))
			tt.setup(publisher)

			err := reporter.ReportProgress(context.Background(), "stream-1", "scan", scan.ProgressEvent{Phase: "crawl", Pct: 20})
			if tt.wantErr {
				assert.ErrorIs(t, err, assert.AnError)
			} else {
				assert.NoError(t, err)
			}
			publisher.AssertExpectations(t)
		})
	}
}

func TestDomainEventProgressReporter_ReportResultAndFailure(t *testing.T) {
	publisher := new(mockDomainPublisher)
	reporter := New("test", publisher, noop.NewTracerProvider().Tracer("test"))

	publisher.On("PublishDomainEvent",
		mock.Anything,
		mock.MatchedBy(func(e scan.StreamResultReceived) bool { return string(e.Result) == `{"url":"u"}` }),
		keyed("s"),
	).Return(nil).Once()
	publisher.On("PublishDomainEvent",
		mock.Anything,
		mock.MatchedBy(func(e scan.StreamFailed) bool { return e.Message == "boom" }),
		keyed("s"),
	).Return(nil).Once()

	assert.NoError(t, reporter.ReportResult(context.Background(), "s", "classifier/batch", json.RawMessage(`{"url":"u"}`)))
	assert.NoError(t, reporter.ReportFailure(context.Background(), "s", "classifier/batch", "boom"))
	publisher.AssertExpectations(t)
}

func TestDomainEventProgressReporter_ReportScanCompleted(t *testing.T) {
	publisher := new(mockDomainPublisher)
	reporter := New("test", publisher, noop.NewTracerProvider().Tracer("test"))

	entry := scan.NewHistoryEntry("https://t", scan.ScanResult{Success: true}, time.Now())
	publisher.On("PublishDomainEvent",
		mock.Anything,
		mock.MatchedBy(func(e scan.ScanCompleted) bool { return e.ID == entry.ID.String() && e.Success }),
		keyed(entry.ID.String()),
	).Return(nil).Once()

	assert.NoError(t, reporter.ReportScanCompleted(context.Background(), entry))
	publisher.AssertExpectations(t)
}

func TestDomainEventProgressReporter_CriticalEventsOutliveCaller(t *testing.T) {
	publisher := new(mockDomainPublisher)
	reporter := New("test", publisher, noop.NewTracerProvider().Tracer("test"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	live := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil })
	canceled := mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() != nil })

	publisher.On("PublishDomainEvent", live, mock.AnythingOfType("scan.StreamFailed"), mock.Anything).Return(nil).Once()
	publisher.On("PublishDomainEvent", canceled, mock.AnythingOfType("scan.StreamProgressed"), mock.Anything).Return(nil).Once()

	assert.NoError(t, reporter.ReportFailure(ctx, "s", "network/monitor", "client went away"))
	assert.NoError(t, reporter.ReportProgress(ctx, "s", "network/monitor", scan.ProgressEvent{Pct: 10}))
	publisher.AssertExpectations(t)
}
