// Package reliability classifies domain events by how much their loss
// matters, so publishers can give terminal events stronger delivery.
package reliability

import (
	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
)

// IsCriticalEvent reports whether losing an event of eventType would leave
// consumers with a wrong picture. Terminal events are critical: nothing
// later in the stream repeats them. Progress and intermediate results are
// superseded by whatever comes next.
func IsCriticalEvent(eventType events.EventType) bool {
	switch eventType {
	case scan.EventTypeScanCompleted, scan.EventTypeStreamFailed:
		return true
	case scan.EventTypeStreamProgressed, scan.EventTypeStreamResultReceived:
		return false
	default:
		return false
	}
}
