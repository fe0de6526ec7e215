// Package client is a typed client for the Inspectra scan API.
//
// All calls take a context; canceling it aborts the HTTP request and stops
// event dispatch on streaming calls. Nothing is retried: failures are
// returned as TransportError, BackendError or StreamError and the caller
// decides whether to try again.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/config"
	"github.com/ahrav/inspectra/pkg/common"
	"github.com/ahrav/inspectra/pkg/common/logger"
	"github.com/ahrav/inspectra/pkg/sse"
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 1 << 20

// Client calls the scan API rooted at a base URL such as
// "https://qa.example.com/api".
type Client struct {
	base       string
	http       *http.Client
	limiter    *common.RateLimiter
	userAgent  string
	timeout    time.Duration
	streamOpts []sse.Option

	log    *logger.Logger
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout should be zero so
// streams are not cut off.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithRateLimiter throttles outgoing requests.
func WithRateLimiter(rl *common.RateLimiter) Option { return func(c *Client) { c.limiter = rl } }

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// WithTimeout bounds non-streaming requests. Streaming calls are bounded only
// by their context.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithStreamOptions configures the stream reader.
func WithStreamOptions(opts ...sse.Option) Option {
	return func(c *Client) { c.streamOpts = append(c.streamOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option { return func(c *Client) { c.log = log } }

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option { return func(c *Client) { c.tracer = t } }

// New creates a client for base, which must be an absolute http(s) URL.
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", base)
	}

	c := &Client{
		base:      strings.TrimRight(base, "/"),
		http:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		userAgent: "inspectra",
		log:       logger.New(io.Discard, logger.LevelError, "client", nil),
		tracer:    otel.Tracer("inspectra/client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig builds a client from the api section of the configuration.
func NewFromConfig(cfg config.APIConfig, log *logger.Logger) (*Client, error) {
	base, err := cfg.Base()
	if err != nil {
		return nil, err
	}
	return New(base,
		WithLogger(log),
		WithTimeout(cfg.Timeout),
		WithUserAgent(cfg.UserAgent),
		WithRateLimiter(common.NewRateLimiter(cfg.RateLimit, cfg.Burst)),
	)
}

// Base returns the API base URL.
func (c *Client) Base() string { return c.base }

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Do sends a request to path (relative to the base) and returns the raw
// response without interpreting its status. body, when non-nil, is encoded as
// JSON; a json.RawMessage is sent as-is. The caller closes the body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var rdr io.Reader
	if body != nil {
		b, err := encodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	target := c.endpoint(path, query)
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Op: method, URL: target, Err: err}
	}
	return resp, nil
}

func encodeBody(body any) ([]byte, error) {
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(body)
}

// call performs a non-streaming request and decodes a 2xx body into out
// (which may be nil). It returns the raw body.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out any) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "client."+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("api.path", path),
	))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.Do(ctx, method, path, query, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody*16))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Op: method, URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Err: err}
	}

	c.log.Debug(ctx, "api call",
		"op", op,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(start).String(),
	)

	if err := classify(resp, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return data, err
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return data, &TransportError{Op: method, URL: resp.Request.URL.String(), StatusCode: resp.StatusCode,
				Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return data, nil
}

// classify maps a response to BackendError or TransportError, or nil.
func classify(resp *http.Response, body []byte) error {
	if be := backendFailure(resp.StatusCode, body); be != nil {
		return be
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{
			Op:         resp.Request.Method,
			URL:        resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}
	}
	return nil
}
