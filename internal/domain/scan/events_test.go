package scan

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/inspectra/pkg/sse"
)

func msg(t *testing.T, raw string) sse.Message {
	t.Helper()
	var head struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &head))
	return sse.Message{Type: head.Type, Data: json.RawMessage(raw)}
}

func TestParseEvent(t *testing.T) {
	t.Run("phase progress", func(t *testing.T) {
		evt, err := ParseEvent(msg(t, `{"type":"progress","phase":"crawl","pct":40}`))
		require.NoError(t, err)

		p, ok := evt.(ProgressEvent)
		require.True(t, ok)
		assert.Equal(t, PhaseProgress, p.Kind())
		assert.Equal(t, "crawl", p.Phase)
		assert.InDelta(t, 0.4, p.Fraction(), 1e-9)
	})

	t.Run("item progress", func(t *testing.T) {
		evt, err := ParseEvent(msg(t, `{"type":"progress","index":2,"total":5,"url":"https://a","pct":40}`))
		require.NoError(t, err)

		p := evt.(ProgressEvent)
		assert.Equal(t, ItemProgress, p.Kind())
		require.NotNil(t, p.Index)
		assert.Equal(t, 2, *p.Index)
		assert.Equal(t, 5, *p.Total)
		assert.Equal(t, "https://a", p.URL)
	})

	t.Run("progress defaults", func(t *testing.T) {
		evt, err := ParseEvent(msg(t, `{"type":"progress"}`))
		require.NoError(t, err)
		assert.Zero(t, evt.(ProgressEvent).Pct)
	})

	t.Run("result", func(t *testing.T) {
		evt, err := ParseEvent(msg(t, `{"type":"result","result":{"url":"https://a","pageType":"login","confidence":0.9}}`))
		require.NoError(t, err)

		var c Classification
		require.NoError(t, evt.(ResultEvent).Decode(&c))
		assert.Equal(t, PageTypeLogin, c.PageType)
	})

	t.Run("result without payload", func(t *testing.T) {
		evt, err := ParseEvent(msg(t, `{"type":"result"}`))
		require.NoError(t, err)

		var v map[string]any
		assert.Error(t, evt.(ResultEvent).Decode(&v))
	})

	t.Run("error with default message", func(t *testing.T) {
		evt, err := ParseEvent(msg(t, `{"type":"error"}`))
		require.NoError(t, err)
		assert.Equal(t, DefaultErrorMessage, evt.(ErrorEvent).Message)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := ParseEvent(msg(t, `{"type":"heartbeat"}`))
		assert.ErrorIs(t, err, ErrUnknownEventType)
	})

	t.Run("wrong field types", func(t *testing.T) {
		_, err := ParseEvent(msg(t, `{"type":"progress","pct":"ten"}`))
		assert.Error(t, err)
	})
}

func TestEvent_MarshalIncludesType(t *testing.T) {
	idx, total := 1, 3
	tests := []struct {
		name string
		evt  Event
		want string
	}{
		{name: "phase", evt: ProgressEvent{Phase: "audit", Pct: 50}, want: `{"type":"progress","phase":"audit","pct":50}`},
		{name: "item", evt: ProgressEvent{Index: &idx, Total: &total, URL: "u", Pct: 33}, want: `{"type":"progress","pct":33,"index":1,"total":3,"url":"u"}`},
		{name: "result", evt: ResultEvent{Result: json.RawMessage(`{"a":1}`)}, want: `{"type":"result","result":{"a":1}}`},
		{name: "empty result", evt: ResultEvent{}, want: `{"type":"result","result":null}`},
		{name: "error", evt: ErrorEvent{Message: "boom"}, want: `{"type":"error","message":"boom"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.evt)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))

			m := msg(t, string(b))
			back, err := ParseEvent(m)
			require.NoError(t, err)
			assert.Equal(t, tt.evt.EventType(), back.EventType())
		})
	}
}
