package mid

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ahrav/inspectra/pkg/web"
)

// RequestMetrics records request counts and latencies.
type RequestMetrics interface {
	IncRequestsTotal(ctx context.Context, method, path string, status int)
	ObserveRequestDuration(ctx context.Context, method, path string, duration time.Duration)
}

// Metrics records every request on m, labeled with its route pattern.
func Metrics(m RequestMetrics) web.MidFunc {
	mw := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			start := time.Now()
			resp := next(ctx, r)

			path := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}

			status := http.StatusOK
			if s, ok := resp.(web.HTTPStatusSetter); ok {
				status = s.HTTPStatus()
			} else if _, ok := resp.(error); ok {
				status = http.StatusInternalServerError
			}

			m.IncRequestsTotal(ctx, r.Method, path, status)
			m.ObserveRequestDuration(ctx, r.Method, path, time.Since(start))
			return resp
		}

		return h
	}

	return mw
}
