package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/pkg/sse"
)

// streamHandler writes chunks with a flush after each.
func streamHandler(t *testing.T, chunks ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			f.Flush()
		}
	})
}

func TestMonitorNetwork(t *testing.T) {
	c := newTestClient(t, streamHandler(t,
		"data: {\"type\":\"progress\",\"phase\":\"load\",\"pct\":10}\n",
		"data: {\"type\":\"progr",
		"ess\",\"phase\":\"capture\",\"pct\":60}\n: keepalive\n\n",
		"data: {not json}\n",
		"data: {\"type\":\"result\",\"result\":{\"url\":\"https://t\",\"requests\":[{\"url\":\"a\",\"status\":500}]}}\n",
	))

	var phases []string
	report, err := c.MonitorNetwork(context.Background(), "https://t", EventHandler{
		OnProgress: func(p scan.ProgressEvent) { phases = append(phases, p.Phase) },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"load", "capture"}, phases)
	assert.Equal(t, "https://t", report.URL)
	assert.Len(t, report.FailedRequests(), 1)
}

func TestMonitorNetwork_NoResult(t *testing.T) {
	c := newTestClient(t, streamHandler(t, "data: {\"type\":\"progress\",\"pct\":100}\n"))

	_, err := c.MonitorNetwork(context.Background(), "https://t", EventHandler{})
	assert.Error(t, err)
}

func TestClassifyBatch(t *testing.T) {
	var body scan.BatchRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		streamHandler(t,
			`data: {"type":"progress","index":0,"total":2,"url":"https://a","pct":0}`+"\n",
			`data: {"type":"result","result":{"url":"https://a","pageType":"login","confidence":0.93}}`+"\n",
			`data: {"type":"progress","index":1,"total":2,"url":"https://b","pct":50}`+"\n",
			`data: {"type":"heartbeat"}`+"\n",
			`data: {"type":"result","result":{"url":"https://b","pageType":"listing"}}`+"\n",
			`data: {"type":"result","result":"not an object"}`+"\n",
		).ServeHTTP(w, r)
	}))

	var items []int
	res, err := c.ClassifyBatch(context.Background(), []string{"https://a", "https://b"}, EventHandler{
		OnProgress: func(p scan.ProgressEvent) {
			require.Equal(t, scan.ItemProgress, p.Kind())
			items = append(items, *p.Index)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a", "https://b"}, body.URLs)
	assert.Equal(t, []int{0, 1}, items)
	require.Len(t, res, 2)
	assert.Equal(t, scan.PageTypeLogin, res[0].PageType)
	assert.Equal(t, scan.PageTypeListing, res[1].PageType)
}

func TestStream_ErrorEventHaltsDispatch(t *testing.T) {
	c := newTestClient(t, streamHandler(t,
		`data: {"type":"progress","phase":"crawl","pct":5}`+"\n",
		`data: {"type":"error","message":"browser crashed"}`+"\n",
		`data: {"type":"progress","phase":"crawl","pct":6}`+"\n",
		`data: {"type":"result","result":{}}`+"\n",
		`data: {"type":"error","message":"second"}`+"\n",
	))

	var progress, results int
	var errs []string
	out, err := c.Stream(context.Background(), http.MethodPost, PathNetworkMonitor, scan.MonitorRequest{URL: "x"}, EventHandler{
		OnProgress: func(scan.ProgressEvent) { progress++ },
		OnResult:   func(json.RawMessage) { results++ },
		OnError:    func(m string) { errs = append(errs, m) },
	})

	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "browser crashed", se.Message)
	assert.True(t, IsStreamError(err))

	assert.Equal(t, 1, progress)
	assert.Zero(t, results)
	assert.Equal(t, []string{"browser crashed"}, errs)
	require.NotNil(t, out)
	assert.Empty(t, out.Results)
}

func TestStream_ErrorEventDefaultMessage(t *testing.T) {
	c := newTestClient(t, streamHandler(t, `data: {"type":"error"}`+"\n"))

	_, err := c.Stream(context.Background(), http.MethodPost, PathClassifierBatch, nil, EventHandler{})
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, scan.DefaultErrorMessage, se.Message)
}

func TestStream_CountsDroppedAndIgnored(t *testing.T) {
	c := newTestClient(t, streamHandler(t,
		"data: {bad}\n",
		"data: [1,2]\n",
		"data: {\"type\":\"mystery\"}\n",
		"data: {\"type\":\"progress\",\"pct\":\"high\"}\n",
		"data: {\"type\":\"result\",\"result\":{\"ok\":true}}",
	))

	out, err := c.Stream(context.Background(), http.MethodPost, PathClassifierBatch, nil, EventHandler{})
	require.NoError(t, err)

	assert.Equal(t, 2, out.Dropped)
	assert.Equal(t, 2, out.Ignored)
	last, ok := out.Last()
	require.True(t, ok, "unterminated final line is decoded at end of stream")
	assert.JSONEq(t, `{"ok":true}`, string(last))
}

func TestStream_RejectedRequest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"success":false,"error":"urls must not be empty"}`)
	}))

	out, err := c.ClassifyBatch(context.Background(), nil, EventHandler{})
	assert.Nil(t, out)
	var be *BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "urls must not be empty", be.Message)
}

func TestStream_CancelMidStream(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f := w.(http.Flusher)
		_, _ = io.WriteString(w, `data: {"type":"progress","pct":1}`+"\n")
		f.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, `data: {"type":"progress","pct":2}`+"\n")
	}), WithStreamOptions(sse.WithBufferSize(16)))

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var seen []float64

	_, err := c.Stream(ctx, http.MethodPost, PathNetworkMonitor, nil, EventHandler{
		OnProgress: func(p scan.ProgressEvent) {
			mu.Lock()
			seen = append(seen, p.Pct)
			mu.Unlock()
			cancel()
		},
	})
	assert.ErrorIs(t, err, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{1}, seen)
}

func TestStream_ConnectionDropped(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = io.WriteString(w, `data: {"type":"progress","pct":1}`+"\n")
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, buf, err := hj.Hijack()
		require.NoError(t, err)
		_ = buf.Flush()
		conn.Close()
	}))

	_, err := c.Stream(context.Background(), http.MethodPost, PathNetworkMonitor, nil, EventHandler{})
	var te *TransportError
	require.ErrorAs(t, err, &te)
}

func TestClassifier_SupersedesInFlightBatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body scan.BatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f := w.(http.Flusher)

		if body.URLs[0] == "https://old" {
			_, _ = io.WriteString(w, `data: {"type":"progress","index":0,"total":1,"url":"https://old","pct":0}`+"\n")
			f.Flush()
			<-r.Context().Done()
			return
		}
		_, _ = io.WriteString(w, `data: {"type":"result","result":{"url":"https://new","pageType":"form"}}`+"\n")
	}))

	cl := NewClassifier(c)

	firstSeen := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	superseded := false
	lateEvents := 0

	oldDone := make(chan error, 1)
	go func() {
		_, err := cl.Classify(context.Background(), []string{"https://old"}, EventHandler{
			OnEvent: func(scan.Event) {
				mu.Lock()
				if superseded {
					lateEvents++
				}
				mu.Unlock()
				once.Do(func() { close(firstSeen) })
			},
		})
		oldDone <- err
	}()

	select {
	case <-firstSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("first batch never started")
	}

	mu.Lock()
	superseded = true
	mu.Unlock()

	res, err := cl.Classify(context.Background(), []string{"https://new"}, EventHandler{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, scan.PageTypeForm, res[0].PageType)

	select {
	case err := <-oldDone:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("superseded batch did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, lateEvents)
}

func TestClassifier_Cancel(t *testing.T) {
	started := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))

	cl := NewClassifier(c)
	done := make(chan error, 1)
	go func() {
		_, err := cl.Classify(context.Background(), []string{"https://a"}, EventHandler{})
		done <- err
	}()

	<-started
	cl.Cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled batch did not return")
	}
}

func TestOutcomeLast_Empty(t *testing.T) {
	var o *StreamOutcome
	_, ok := o.Last()
	assert.False(t, ok)
	_, ok = (&StreamOutcome{}).Last()
	assert.False(t, ok)
}
