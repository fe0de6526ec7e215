package serializationerrors

import "fmt"

// ErrNilEvent indicates that a nil event was provided for serialization.
type ErrNilEvent struct{ EventType string }

func (e ErrNilEvent) Error() string { return fmt.Sprintf("nil %s event", e.EventType) }

// ErrUnregistered indicates that no codec is registered for an event type.
type ErrUnregistered struct {
	EventType string
	Op        string
}

func (e ErrUnregistered) Error() string {
	return fmt.Sprintf("no %s registered for eventType=%s", e.Op, e.EventType)
}

// ErrPayloadType indicates a payload whose Go type does not match its event type.
type ErrPayloadType struct {
	EventType string
	Value     any
}

func (e ErrPayloadType) Error() string {
	return fmt.Sprintf("payload %T does not match eventType=%s", e.Value, e.EventType)
}
