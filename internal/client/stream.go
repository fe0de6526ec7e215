package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/pkg/sse"
)

// EventHandler receives stream events as they arrive. Every callback is
// optional. After an error event no callback fires again for the request.
type EventHandler struct {
	OnProgress func(scan.ProgressEvent)
	OnResult   func(json.RawMessage)
	OnError    func(message string)
	// OnEvent sees every decoded event before the typed callbacks.
	OnEvent func(scan.Event)
	// OnRaw receives each decoded event together with the JSON object it
	// was decoded from, unchanged.
	OnRaw func(evt scan.Event, data json.RawMessage)
}

// StreamOutcome summarizes a finished stream.
type StreamOutcome struct {
	// Results holds every result payload in arrival order.
	Results []json.RawMessage
	// Err is the first error event, if any.
	Err *StreamError
	// Progress counts progress events.
	Progress int
	// Ignored counts events of unknown type or with undecodable fields.
	Ignored int
	// Dropped counts malformed data lines.
	Dropped int
}

// Last returns the final result payload.
func (o *StreamOutcome) Last() (json.RawMessage, bool) {
	if o == nil || len(o.Results) == 0 {
		return nil, false
	}
	return o.Results[len(o.Results)-1], true
}

// Stream sends a request and dispatches the event stream in its response to
// h until the stream ends. It returns the outcome together with a
// *StreamError when the backend sent an error event, a TransportError or
// BackendError when the request failed, or the context error once ctx is
// done. The outcome is non-nil whenever the stream was opened.
func (c *Client) Stream(ctx context.Context, method, path string, body any, h EventHandler) (*StreamOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "client.stream", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("api.path", path),
	))
	defer span.End()

	resp, err := c.Do(ctx, method, path, nil, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := classify(resp, data)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request rejected")
		return nil, err
	}

	start := time.Now()
	out := new(StreamOutcome)
	rd := sse.NewReader(resp.Body, c.streamOpts...)
	runErr := rd.Run(ctx, func(msg sse.Message) error { return dispatch(out, h, msg) })
	out.Dropped = rd.Dropped()

	span.SetAttributes(
		attribute.Int("stream.results", len(out.Results)),
		attribute.Int("stream.progress", out.Progress),
		attribute.Int("stream.dropped", out.Dropped),
	)
	c.log.Debug(ctx, "stream finished",
		"path", path,
		"results", len(out.Results),
		"progress", out.Progress,
		"ignored", out.Ignored,
		"dropped", out.Dropped,
		"duration", time.Since(start).String(),
	)

	switch {
	case runErr == nil:
	case ctx.Err() != nil:
		return out, ctx.Err()
	default:
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "stream interrupted")
		return out, &TransportError{Op: method, URL: c.endpoint(path, nil), StatusCode: resp.StatusCode, Err: runErr}
	}

	if out.Err != nil {
		span.SetStatus(codes.Error, "error event")
		return out, out.Err
	}
	return out, nil
}

func dispatch(out *StreamOutcome, h EventHandler, msg sse.Message) error {
	evt, err := scan.ParseEvent(msg)
	if err != nil {
		out.Ignored++
		return nil
	}
	if h.OnEvent != nil {
		h.OnEvent(evt)
	}
	if h.OnRaw != nil {
		h.OnRaw(evt, msg.Data)
	}

	switch e := evt.(type) {
	case scan.ProgressEvent:
		out.Progress++
		if h.OnProgress != nil {
			h.OnProgress(e)
		}
	case scan.ResultEvent:
		out.Results = append(out.Results, e.Result)
		if h.OnResult != nil {
			h.OnResult(e.Result)
		}
	case scan.ErrorEvent:
		out.Err = &StreamError{Message: e.Message}
		if h.OnError != nil {
			h.OnError(e.Message)
		}
		return sse.ErrStopDispatch
	}
	return nil
}

// IsStreamError reports whether err is an error event from the backend.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}
