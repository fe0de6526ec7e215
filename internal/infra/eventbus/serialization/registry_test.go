package serialization

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/inspectra/internal/domain/events"
	"github.com/ahrav/inspectra/internal/domain/scan"
	serErrors "github.com/ahrav/inspectra/internal/infra/eventbus/serialization/errors"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	idx, total := 1, 4

	tests := []struct {
		name    string
		evt     events.DomainEvent
		payload any
	}{
		{
			name:    "progressed",
			evt:     scan.StreamProgressed{StreamID: "s1", Endpoint: "classifier/batch", Progress: scan.ProgressEvent{Pct: 25, Index: &idx, Total: &total, URL: "u"}, At: at},
			payload: scan.StreamProgressed{StreamID: "s1", Endpoint: "classifier/batch", Progress: scan.ProgressEvent{Pct: 25, Index: &idx, Total: &total, URL: "u"}, At: at},
		},
		{
			name:    "result by pointer",
			evt:     scan.StreamResultReceived{StreamID: "s2", Result: json.RawMessage(`{"a":1}`), At: at},
			payload: &scan.StreamResultReceived{StreamID: "s2", Result: json.RawMessage(`{"a":1}`), At: at},
		},
		{
			name:    "failed",
			evt:     scan.StreamFailed{StreamID: "s3", Message: "boom", At: at},
			payload: scan.StreamFailed{StreamID: "s3", Message: "boom", At: at},
		},
		{
			name:    "completed",
			evt:     scan.ScanCompleted{ID: "id", TargetURL: "https://t", Success: true, IssueCount: 3, At: at},
			payload: scan.ScanCompleted{ID: "id", TargetURL: "https://t", Success: true, IssueCount: 3, At: at},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := SerializeEventEnvelope(tt.evt.EventType(), tt.payload)
			require.NoError(t, err)

			typ, raw, err := UnmarshalUniversalEnvelope(b)
			require.NoError(t, err)
			assert.Equal(t, tt.evt.EventType(), typ)

			got, err := DeserializePayload(typ, raw)
			require.NoError(t, err)
			assert.Equal(t, tt.evt, got)
		})
	}
}

func TestSerialize_Errors(t *testing.T) {
	_, err := SerializePayload("Nope", struct{}{})
	assert.ErrorAs(t, err, &serErrors.ErrUnregistered{})

	_, err = SerializePayload(scan.EventTypeStreamFailed, scan.ScanCompleted{})
	assert.ErrorAs(t, err, &serErrors.ErrPayloadType{})

	var nilEvt *scan.StreamFailed
	_, err = SerializePayload(scan.EventTypeStreamFailed, nilEvt)
	assert.ErrorAs(t, err, &serErrors.ErrNilEvent{})

	_, _, err = UnmarshalUniversalEnvelope([]byte(`{"payload":{}}`))
	assert.Error(t, err)
	_, _, err = UnmarshalUniversalEnvelope([]byte(`not json`))
	assert.Error(t, err)
}
