package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/client"
	"github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/internal/state"
	"github.com/ahrav/inspectra/pkg/common/logger"
)

// maxUpstreamBody bounds a forwarded one-shot response.
const maxUpstreamBody = 64 << 20

// Response is an upstream reply forwarded as received.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// RelayResult summarizes a relayed stream.
type RelayResult struct {
	StreamID string
	Sent     int
	Outcome  *client.StreamOutcome
}

// errSinkFailed cancels the upstream stream once the downstream side is gone.
var errSinkFailed = errors.New("downstream stream failed")

// Service forwards requests to the upstream scan API.
type Service struct {
	upstream *client.Client
	store    *state.Store
	reporter ProgressReporter
	metrics  Metrics

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a gateway service. metrics may be nil.
func NewService(
	upstream *client.Client,
	store *state.Store,
	reporter ProgressReporter,
	metrics Metrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Service {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		upstream: upstream,
		store:    store,
		reporter: reporter,
		metrics:  metrics,
		logger:   logger.With("component", "gateway_service"),
		tracer:   tracer,
	}
}

// Forward sends a one-shot request upstream and returns the reply unchanged.
// Only failures to reach the upstream are returned as errors.
func (s *Service) Forward(ctx context.Context, method, path string, query url.Values, body json.RawMessage) (Response, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.forward", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("api.path", path),
	))
	defer span.End()

	var reqBody any
	if len(body) > 0 {
		reqBody = body
	}

	resp, err := s.upstream.Do(ctx, method, path, query, reqBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream unreachable")
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reading upstream response")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, &client.TransportError{Op: method, URL: resp.Request.URL.String(), StatusCode: resp.StatusCode, Err: err}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	return Response{Status: resp.StatusCode, ContentType: ct, Body: data}, nil
}

// Scan forwards a scan request. A successful result is appended to the
// server-side history and announced with a ScanCompleted event.
func (s *Service) Scan(ctx context.Context, req scan.ScanRequest, body json.RawMessage) (Response, error) {
	s.metrics.IncScanRequestsTotal(ctx)
	logger := s.logger.With("operation", "scan", "target", req.URL)

	resp, err := s.Forward(ctx, http.MethodPost, client.PathScan, nil, body)
	if err != nil {
		s.metrics.IncScanRequestErrors(ctx, "transport")
		return Response{}, err
	}

	if resp.Status < 200 || resp.Status > 299 {
		s.metrics.IncScanRequestErrors(ctx, "upstream_status")
		logger.Warn(ctx, "upstream rejected scan", "status", resp.Status)
		return resp, nil
	}

	var result scan.ScanResult
	if err := json.Unmarshal(resp.Body, &result); err != nil {
		s.metrics.IncScanRequestErrors(ctx, "undecodable")
		logger.Warn(ctx, "scan result not recorded, payload undecodable", "error", err)
		return resp, nil
	}
	if !result.Success {
		s.metrics.IncScanRequestErrors(ctx, "backend_failure")
		return resp, nil
	}

	entry, err := s.store.RecordScan(ctx, req.URL, result)
	if err != nil {
		logger.Error(ctx, "failed to record scan history", "error", err)
		return resp, nil
	}
	if err := s.reporter.ReportScanCompleted(ctx, entry); err != nil {
		logger.Warn(ctx, "failed to publish scan completed", "error", err)
	}
	logger.Info(ctx, "scan recorded", "history_id", entry.ID, "issues", entry.Result.IssueCount())

	return resp, nil
}

// Relay opens an upstream event stream at path and re-emits every
// recognized event, byte for byte, to the sink returned by open. Classifier
// results for pages with an override are the exception: they are rewritten
// with the overridden page type. Malformed lines are never forwarded. A transport failure after the downstream stream started becomes
// a terminal error event; before that it is returned so the caller can
// answer with a regular error response.
func (s *Service) Relay(ctx context.Context, path string, body json.RawMessage, open OpenSink) (RelayResult, error) {
	streamID := uuid.NewString()
	logger := s.logger.With("operation", "relay", "stream_id", streamID, "endpoint", path)

	ctx, span := s.tracer.Start(ctx, "gateway.relay", trace.WithAttributes(
		attribute.String("stream.id", streamID),
		attribute.String("api.path", path),
	))
	defer span.End()

	s.metrics.IncStreamsRelayed(ctx, path)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		sink    Sink
		sinkErr error
		sent    int
	)
	ensure := func() bool {
		if sink == nil && sinkErr == nil {
			sink, sinkErr = open()
			if sinkErr != nil {
				cancel(fmt.Errorf("%w: %w", errSinkFailed, sinkErr))
			}
		}
		return sinkErr == nil
	}
	overrides := path == client.PathClassifierBatch
	emit := func(evt scan.Event, data json.RawMessage) {
		if !ensure() {
			return
		}
		if _, ok := evt.(scan.ResultEvent); ok && overrides {
			data = s.overrideEvent(data)
		}
		if err := sink.Send(data); err != nil {
			sinkErr = err
			cancel(fmt.Errorf("%w: %w", errSinkFailed, err))
			return
		}
		sent++
		s.metrics.IncEventsRelayed(ctx, path, string(evt.EventType()))
	}

	h := client.EventHandler{
		OnRaw: emit,
		OnProgress: func(p scan.ProgressEvent) {
			if err := s.reporter.ReportProgress(ctx, streamID, path, p); err != nil {
				logger.Warn(ctx, "failed to publish progress", "error", err)
			}
		},
		OnResult: func(r json.RawMessage) {
			if overrides {
				r, _ = scan.ApplyOverride(r, s.store.Override)
			}
			if err := s.reporter.ReportResult(ctx, streamID, path, r); err != nil {
				logger.Warn(ctx, "failed to publish result", "error", err)
			}
		},
		OnError: func(msg string) {
			if err := s.reporter.ReportFailure(ctx, streamID, path, msg); err != nil {
				logger.Warn(ctx, "failed to publish failure", "error", err)
			}
		},
	}

	var reqBody any
	if len(body) > 0 {
		reqBody = body
	}
	out, err := s.upstream.Stream(ctx, http.MethodPost, path, reqBody, h)
	res := RelayResult{StreamID: streamID, Outcome: out}

	switch {
	case err == nil, client.IsStreamError(err):
		// Error events were already forwarded.
		ensure()
		res.Sent = sent
		logger.Debug(ctx, "relay finished", "sent", sent)
		return res, sinkErr

	case errors.Is(context.Cause(ctx), errSinkFailed):
		res.Sent = sent
		span.SetStatus(codes.Error, "downstream failed")
		logger.Debug(ctx, "downstream stream closed", "sent", sent, "error", sinkErr)
		return res, sinkErr

	case ctx.Err() != nil:
		res.Sent = sent
		return res, ctx.Err()
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "upstream failed")
	if sink == nil {
		return res, err
	}

	msg := upstreamMessage(err)
	if rerr := s.reporter.ReportFailure(ctx, streamID, path, msg); rerr != nil {
		logger.Warn(ctx, "failed to publish failure", "error", rerr)
	}
	if serr := sink.Send(scan.ErrorEvent{Message: msg}); serr != nil {
		res.Sent = sent
		return res, serr
	}
	sent++
	res.Sent = sent
	logger.Warn(ctx, "upstream stream interrupted", "error", err, "sent", sent)
	return res, nil
}

// overrideEvent applies a page type override to a classifier result event.
func (s *Service) overrideEvent(data json.RawMessage) json.RawMessage {
	var evt map[string]json.RawMessage
	if err := json.Unmarshal(data, &evt); err != nil {
		return data
	}
	result, ok := scan.ApplyOverride(evt["result"], s.store.Override)
	if !ok {
		return data
	}
	evt["result"] = result
	out, err := json.Marshal(evt)
	if err != nil {
		return data
	}
	return out
}

// Override forwards a page type override. Once the upstream accepts it, the
// override is also applied to classifier results relayed by this gateway.
func (s *Service) Override(ctx context.Context, req scan.OverrideRequest, body json.RawMessage) (Response, error) {
	resp, err := s.Forward(ctx, http.MethodPatch, client.PathClassifierOverride, nil, body)
	if err != nil {
		return Response{}, err
	}
	if resp.Status >= 200 && resp.Status <= 299 {
		s.store.SetOverride(ctx, req.URL, req.PageType)
		s.logger.Info(ctx, "page type overridden", "page", req.URL, "page_type", req.PageType)
	}
	return resp, nil
}

// Forget forwards the deletion of a stored classification and drops any
// override of the page.
func (s *Service) Forget(ctx context.Context, pageURL string) (Response, error) {
	resp, err := s.Forward(ctx, http.MethodDelete, client.ClassificationPath(pageURL), nil, nil)
	if err != nil {
		return Response{}, err
	}
	if resp.Status >= 200 && resp.Status <= 299 {
		s.store.DeleteOverride(ctx, pageURL)
	}
	return resp, nil
}

func upstreamMessage(err error) string {
	var be *client.BackendError
	if errors.As(err, &be) {
		return be.Message
	}
	return "upstream stream interrupted: " + err.Error()
}

// History returns the server-side scan history, newest first. It is read
// from the state backend so entries recorded by other gateways sharing it
// are included.
func (s *Service) History(ctx context.Context) ([]scan.HistoryEntry, error) {
	return s.store.LoadHistory(ctx)
}

// Latest returns the newest history entry.
func (s *Service) Latest(ctx context.Context) (scan.HistoryEntry, bool, error) {
	h, err := s.store.LoadHistory(ctx)
	if err != nil || len(h) == 0 {
		return scan.HistoryEntry{}, false, err
	}
	return h[0], true, nil
}

// Ready checks the state backend.
func (s *Service) Ready(ctx context.Context) error { return s.store.Ping(ctx) }
