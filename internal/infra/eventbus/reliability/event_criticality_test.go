package reliability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
)

func TestIsCriticalEvent(t *testing.T) {
	tests := []struct {
		name      string
		eventType events.EventType
		want      bool
	}{
		{name: "ScanCompleted is critical", eventType: scan.EventTypeScanCompleted, want: true},
		{name: "StreamFailed is critical", eventType: scan.EventTypeStreamFailed, want: true},
		{name: "StreamProgressed is not critical", eventType: scan.EventTypeStreamProgressed, want: false},
		{name: "StreamResultReceived is not critical", eventType: scan.EventTypeStreamResultReceived, want: false},
		{name: "unknown events are not critical", eventType: events.EventType("Unknown"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCriticalEvent(tt.eventType))
		})
	}
}
