package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ahrav/inspectra/internal/domain/scan"
)

// Classifier serializes classifier batches: starting a batch cancels the one
// in flight, which then returns ErrSuperseded and reports no further events.
type Classifier struct {
	client *Client

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelCauseFunc
}

// NewClassifier wraps c.
func NewClassifier(c *Client) *Classifier { return &Classifier{client: c} }

// Classify supersedes any running batch and classifies urls.
func (cl *Classifier) Classify(ctx context.Context, urls []string, h EventHandler) ([]scan.Classification, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	cl.mu.Lock()
	if cl.cancel != nil {
		cl.cancel(ErrSuperseded)
	}
	cl.gen++
	gen := cl.gen
	cl.cancel = cancel
	cl.mu.Unlock()

	defer func() {
		cl.mu.Lock()
		if cl.gen == gen {
			cl.cancel = nil
		}
		cl.mu.Unlock()
		cancel(nil)
	}()

	res, err := cl.client.ClassifyBatch(ctx, urls, guard(ctx, h))
	if err != nil && errors.Is(context.Cause(ctx), ErrSuperseded) {
		return nil, ErrSuperseded
	}
	return res, err
}

// Cancel aborts the running batch, if any. The aborted call returns
// context.Canceled.
func (cl *Classifier) Cancel() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.cancel != nil {
		cl.cancel(context.Canceled)
		cl.cancel = nil
	}
}

// guard drops callbacks once ctx is done.
func guard(ctx context.Context, h EventHandler) EventHandler {
	live := func() bool { return ctx.Err() == nil }
	var g EventHandler
	if h.OnProgress != nil {
		g.OnProgress = func(p scan.ProgressEvent) {
			if live() {
				h.OnProgress(p)
			}
		}
	}
	if h.OnResult != nil {
		g.OnResult = func(r json.RawMessage) {
			if live() {
				h.OnResult(r)
			}
		}
	}
	if h.OnError != nil {
		g.OnError = func(m string) {
			if live() {
				h.OnError(m)
			}
		}
	}
	if h.OnEvent != nil {
		g.OnEvent = func(e scan.Event) {
			if live() {
				h.OnEvent(e)
			}
		}
	}
	return g
}
