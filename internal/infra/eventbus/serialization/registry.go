// Package serialization converts domain events to and from their wire form.
//
// Every event type registers a serializer and a deserializer. Payloads are
// encoded as JSON and wrapped in a universal envelope carrying the event type,
// so a consumer can pick the right deserializer before touching the payload.
package serialization

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
	serErrors "github.com/ahrav/inspectra/internal/infra/eventbus/serialization/errors"
)

// SerializeFunc converts a domain object into a serialized byte slice.
type SerializeFunc func(payload any) ([]byte, error)

// DeserializeFunc converts a serialized byte slice back into a domain object.
type DeserializeFunc func(data []byte) (any, error)

var (
	mu                   sync.RWMutex
	serializerRegistry   = map[events.EventType]SerializeFunc{}
	deserializerRegistry = map[events.EventType]DeserializeFunc{}
)

// RegisterSerializeFunc registers a serialization function for a given event type.
func RegisterSerializeFunc(eventType events.EventType, fn SerializeFunc) {
	mu.Lock()
	defer mu.Unlock()
	serializerRegistry[eventType] = fn
}

// RegisterDeserializeFunc registers a deserialization function for a given event type.
func RegisterDeserializeFunc(eventType events.EventType, fn DeserializeFunc) {
	mu.Lock()
	defer mu.Unlock()
	deserializerRegistry[eventType] = fn
}

// SerializePayload encodes payload with the serializer registered for eventType.
func SerializePayload(eventType events.EventType, payload any) ([]byte, error) {
	mu.RLock()
	fn, ok := serializerRegistry[eventType]
	mu.RUnlock()
	if !ok {
		return nil, serErrors.ErrUnregistered{EventType: string(eventType), Op: "serializer"}
	}
	return fn(payload)
}

// DeserializePayload decodes data with the deserializer registered for eventType.
func DeserializePayload(eventType events.EventType, data []byte) (any, error) {
	mu.RLock()
	fn, ok := deserializerRegistry[eventType]
	mu.RUnlock()
	if !ok {
		return nil, serErrors.ErrUnregistered{EventType: string(eventType), Op: "deserializer"}
	}
	return fn(data)
}

func init() {
	RegisterEventSerializers()
}

// RegisterEventSerializers registers codecs for every gateway domain event.
func RegisterEventSerializers() {
	register[scan.StreamProgressed](scan.EventTypeStreamProgressed)
	register[scan.StreamResultReceived](scan.EventTypeStreamResultReceived)
	register[scan.StreamFailed](scan.EventTypeStreamFailed)
	register[scan.ScanCompleted](scan.EventTypeScanCompleted)
}

// register installs a JSON codec for T. Serialization accepts T or *T.
func register[T any](eventType events.EventType) {
	RegisterSerializeFunc(eventType, func(payload any) ([]byte, error) {
		switch v := payload.(type) {
		case T:
			return json.Marshal(v)
		case *T:
			if v == nil {
				return nil, serErrors.ErrNilEvent{EventType: string(eventType)}
			}
			return json.Marshal(v)
		default:
			return nil, serErrors.ErrPayloadType{EventType: string(eventType), Value: payload}
		}
	})
	RegisterDeserializeFunc(eventType, func(data []byte) (any, error) {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		return v, nil
	})
}

// universalEnvelope is the wire form of every event.
type universalEnvelope struct {
	Type    events.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// SerializeEventEnvelope encodes payload and wraps it with its event type.
func SerializeEventEnvelope(eventType events.EventType, payload any) ([]byte, error) {
	data, err := SerializePayload(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(universalEnvelope{Type: eventType, Payload: data})
}

// UnmarshalUniversalEnvelope splits an encoded envelope into its event type
// and raw payload.
func UnmarshalUniversalEnvelope(data []byte) (events.EventType, []byte, error) {
	var env universalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("envelope has no event type")
	}
	return env.Type, env.Payload, nil
}
