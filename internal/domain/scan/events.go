package scan

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahrav/inspectra/pkg/sse"
)

// EventType discriminates stream events.
type EventType string

const (
	EventTypeProgress EventType = "progress"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
)

// DefaultErrorMessage is used for error events that carry no message.
const DefaultErrorMessage = "scan stream reported an error"

// ErrUnknownEventType is returned by ParseEvent for unrecognized types.
var ErrUnknownEventType = errors.New("unknown stream event type")

// Event is a decoded stream event: ProgressEvent, ResultEvent or ErrorEvent.
type Event interface {
	EventType() EventType
	isEvent()
}

// ProgressKind tells the two progress shapes apart.
type ProgressKind int

const (
	// PhaseProgress events carry a phase name ("crawl", "audit", ...).
	PhaseProgress ProgressKind = iota
	// ItemProgress events carry index/total/url for batch work.
	ItemProgress
)

// ProgressEvent reports progress either by phase or by item.
type ProgressEvent struct {
	Phase string  `json:"phase,omitempty"`
	Pct   float64 `json:"pct"`
	Index *int    `json:"index,omitempty"`
	Total *int    `json:"total,omitempty"`
	URL   string  `json:"url,omitempty"`
}

func (ProgressEvent) EventType() EventType { return EventTypeProgress }
func (ProgressEvent) isEvent()             {}

// Kind reports which progress shape the event has.
func (p ProgressEvent) Kind() ProgressKind {
	if p.Index != nil || p.Total != nil {
		return ItemProgress
	}
	return PhaseProgress
}

// Fraction returns progress in [0, 1]. Percentages outside 0-100 are
// clamped.
func (p ProgressEvent) Fraction() float64 {
	switch {
	case p.Pct <= 0:
		return 0
	case p.Pct >= 100:
		return 1
	default:
		return p.Pct / 100
	}
}

// MarshalJSON emits the wire form including the type discriminator.
func (p ProgressEvent) MarshalJSON() ([]byte, error) {
	type alias ProgressEvent
	return json.Marshal(struct {
		Type EventType `json:"type"`
		alias
	}{EventTypeProgress, alias(p)})
}

// ResultEvent carries a result payload; its shape depends on the endpoint.
type ResultEvent struct {
	Result json.RawMessage `json:"result"`
}

func (ResultEvent) EventType() EventType { return EventTypeResult }
func (ResultEvent) isEvent()             {}

// Decode unmarshals the result payload into v.
func (r ResultEvent) Decode(v any) error {
	if len(r.Result) == 0 {
		return errors.New("result event has no payload")
	}
	return json.Unmarshal(r.Result, v)
}

// MarshalJSON emits the wire form including the type discriminator.
func (r ResultEvent) MarshalJSON() ([]byte, error) {
	result := r.Result
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Type   EventType       `json:"type"`
		Result json.RawMessage `json:"result"`
	}{EventTypeResult, result})
}

// ErrorEvent is a backend-reported failure of the streamed operation.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() EventType { return EventTypeError }
func (ErrorEvent) isEvent()             {}

// MarshalJSON emits the wire form including the type discriminator.
func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    EventType `json:"type"`
		Message string    `json:"message"`
	}{EventTypeError, e.Message})
}

// ParseEvent converts a stream message into a typed event. Missing fields
// take their zero values; an error event without a message gets
// DefaultErrorMessage.
func ParseEvent(msg sse.Message) (Event, error) {
	switch EventType(msg.Type) {
	case EventTypeProgress:
		var p ProgressEvent
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			return nil, fmt.Errorf("decoding progress event: %w", err)
		}
		return p, nil

	case EventTypeResult:
		var r ResultEvent
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			return nil, fmt.Errorf("decoding result event: %w", err)
		}
		return r, nil

	case EventTypeError:
		var e ErrorEvent
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			return nil, fmt.Errorf("decoding error event: %w", err)
		}
		if e.Message == "" {
			e.Message = DefaultErrorMessage
		}
		return e, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, msg.Type)
	}
}
