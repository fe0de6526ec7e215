package mid

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/ahrav/inspectra/internal/api/errs"
	"github.com/ahrav/inspectra/pkg/web"
)

// Panics recovers a panicking handler and returns an internal error carrying
// the stack trace.
func Panics() web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) (resp web.Encoder) {
			defer func() {
				if rec := recover(); rec != nil {
					trace := debug.Stack()
					resp = errs.Newf(errs.Internal, "PANIC [%v] TRACE[%s]", rec, string(trace))
				}
			}()

			return next(ctx, r)
		}

		return h
	}

	return m
}
