package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/inspectra/internal/config"
	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	c, err := New(srv.URL+"/api", opts...)
	require.NoError(t, err)
	return c
}

func TestNew_InvalidBase(t *testing.T) {
	for _, base := range []string{"", "localhost:3001", "ftp://x/api", "http://"} {
		_, err := New(base)
		assert.Error(t, err, base)
	}
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(config.APIConfig{URL: "https://qa.example.com/", Origin: "http://localhost:3001"},
		logger.New(io.Discard, logger.LevelInfo, "test", nil))
	require.NoError(t, err)
	assert.Equal(t, "https://qa.example.com/api", c.Base())
}

func TestScan(t *testing.T) {
	const payload = `{"success":true,"targetUrl":"https://t","issuesSummary":{"total":2},"extra":[1,2]}`

	var got scan.ScanRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/scan", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "inspectra-test", r.Header.Get("User-Agent"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, payload)
	}), WithUserAgent("inspectra-test"))

	res, err := c.Scan(context.Background(), scan.NewScanRequest("https://t", scan.Credentials{Username: "u", Password: "p"}))
	require.NoError(t, err)

	assert.Equal(t, "https://t", got.URL)
	assert.Equal(t, "u", got.Username)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.IssueCount())
	assert.JSONEq(t, payload, string(res.Raw))
}

func TestScan_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantBack  string
		wantTrans int
	}{
		{name: "backend failure on 200", status: 200, body: `{"success":false,"error":"Target unreachable"}`, wantBack: "Target unreachable"},
		{name: "backend failure on 500", status: 500, body: `{"success":false,"error":"crawler crashed"}`, wantBack: "crawler crashed"},
		{name: "error body without success", status: 400, body: `{"error":"url is required"}`, wantBack: "url is required"},
		{name: "bare 502", status: 502, body: `<html>bad gateway</html>`, wantTrans: 502},
		{name: "empty 404", status: 404, wantTrans: 404},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := c.Scan(context.Background(), scan.ScanRequest{URL: "https://t"})
			require.Error(t, err)

			if tt.wantBack != "" {
				var be *BackendError
				require.ErrorAs(t, err, &be)
				assert.Equal(t, tt.wantBack, be.Message)
				assert.Equal(t, tt.status, be.StatusCode)
				return
			}
			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.wantTrans, te.StatusCode)
		})
	}
}

func TestScan_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/api"
	srv.Close()

	c, err := New(base)
	require.NoError(t, err)

	_, err = c.Scan(context.Background(), scan.ScanRequest{URL: "https://t"})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
}

func TestScan_Timeout(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}), WithTimeout(20*time.Millisecond))

	_, err := c.Scan(context.Background(), scan.ScanRequest{URL: "https://t"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOverrideAndDelete(t *testing.T) {
	var calls []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.EscapedPath())
		if r.Method == http.MethodPatch {
			var body scan.OverrideRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, scan.PageTypeCheckout, body.PageType)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	ctx := context.Background()
	require.NoError(t, c.OverridePageType(ctx, "https://shop/cart", scan.PageTypeCheckout))
	require.NoError(t, c.DeleteClassification(ctx, "https://shop/cart?x=1"))

	assert.Equal(t, []string{
		"PATCH /api/classifier/override",
		"DELETE /api/classifier/results/https:%2F%2Fshop%2Fcart%3Fx=1",
	}, calls)
}

func TestHygieneAndSeverity(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://t", r.URL.Query().Get("url"))
		switch r.URL.Path {
		case "/api/hygiene/score":
			_, _ = io.WriteString(w, `{"score":91,"pillars":{"security":{"score":88}}}`)
		case "/api/severity/matrix":
			_, _ = io.WriteString(w, `{"matrix":{"high":{"forms":2}}}`)
		default:
			http.NotFound(w, r)
		}
	}))

	ctx := context.Background()
	hs, err := c.HygieneScore(ctx, "https://t")
	require.NoError(t, err)
	require.NotNil(t, hs.Score)
	assert.InDelta(t, 91, *hs.Score, 0.001)
	_, ok := hs.Pillar("performance")
	assert.False(t, ok)

	sm, err := c.SeverityMatrix(ctx, "https://t")
	require.NoError(t, err)
	assert.Equal(t, 2, sm.Count(scan.SeverityHigh))
}

func TestDo_RateLimiterHonorsContext(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(ctx, http.MethodGet, "x", nil, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}
