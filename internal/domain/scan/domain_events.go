package scan

import (
	"encoding/json"
	"time"

	"github.com/ahrav/inspectra/internal/domain/events"
)

// Domain event types published by the gateway.
const (
	EventTypeStreamProgressed     events.EventType = "StreamProgressed"
	EventTypeStreamResultReceived events.EventType = "StreamResultReceived"
	EventTypeStreamFailed         events.EventType = "StreamFailed"
	EventTypeScanCompleted        events.EventType = "ScanCompleted"
)

// StreamProgressed is published for every progress event relayed on a stream.
type StreamProgressed struct {
	StreamID string        `json:"streamId"`
	Endpoint string        `json:"endpoint"`
	Progress ProgressEvent `json:"progress"`
	At       time.Time     `json:"occurredAt"`
}

// NewStreamProgressed stamps a progress event with the current time.
func NewStreamProgressed(streamID, endpoint string, p ProgressEvent) StreamProgressed {
	return StreamProgressed{StreamID: streamID, Endpoint: endpoint, Progress: p, At: time.Now()}
}

func (e StreamProgressed) EventType() events.EventType { return EventTypeStreamProgressed }
func (e StreamProgressed) OccurredAt() time.Time       { return e.At }

// StreamResultReceived is published for every result event relayed on a stream.
type StreamResultReceived struct {
	StreamID string          `json:"streamId"`
	Endpoint string          `json:"endpoint"`
	Result   json.RawMessage `json:"result"`
	At       time.Time       `json:"occurredAt"`
}

// NewStreamResultReceived stamps a result payload with the current time.
func NewStreamResultReceived(streamID, endpoint string, result json.RawMessage) StreamResultReceived {
	return StreamResultReceived{StreamID: streamID, Endpoint: endpoint, Result: result, At: time.Now()}
}

func (e StreamResultReceived) EventType() events.EventType { return EventTypeStreamResultReceived }
func (e StreamResultReceived) OccurredAt() time.Time       { return e.At }

// StreamFailed is published when a stream ends with an error event, a
// transport failure or a cancellation.
type StreamFailed struct {
	StreamID string    `json:"streamId"`
	Endpoint string    `json:"endpoint"`
	Message  string    `json:"message"`
	At       time.Time `json:"occurredAt"`
}

// NewStreamFailed stamps a failure with the current time.
func NewStreamFailed(streamID, endpoint, message string) StreamFailed {
	return StreamFailed{StreamID: streamID, Endpoint: endpoint, Message: message, At: time.Now()}
}

func (e StreamFailed) EventType() events.EventType { return EventTypeStreamFailed }
func (e StreamFailed) OccurredAt() time.Time       { return e.At }

// ScanCompleted is published after a scan result has been recorded.
type ScanCompleted struct {
	ID         string    `json:"id"`
	TargetURL  string    `json:"targetUrl"`
	Success    bool      `json:"success"`
	IssueCount int       `json:"issueCount"`
	At         time.Time `json:"occurredAt"`
}

// NewScanCompleted summarizes a recorded history entry.
func NewScanCompleted(e HistoryEntry) ScanCompleted {
	return ScanCompleted{
		ID:         e.ID.String(),
		TargetURL:  e.TargetURL,
		Success:    e.Result.Success,
		IssueCount: e.Result.IssueCount(),
		At:         e.ScannedAt,
	}
}

func (e ScanCompleted) EventType() events.EventType { return EventTypeScanCompleted }
func (e ScanCompleted) OccurredAt() time.Time       { return e.At }
