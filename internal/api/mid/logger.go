package mid

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ahrav/inspectra/pkg/common/logger"
	"github.com/ahrav/inspectra/pkg/web"
)

// Logger writes a line when a request starts and when it completes.
func Logger(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			now := time.Now()

			path := r.URL.Path
			if r.URL.RawQuery != "" {
				path = fmt.Sprintf("%s?%s", path, r.URL.RawQuery)
			}

			log.Info(ctx, "request started", "method", r.Method, "path", path, "remoteaddr", r.RemoteAddr)

			resp := next(ctx, r)

			status := http.StatusOK
			switch v := resp.(type) {
			case nil:
				status = http.StatusNoContent
			case web.HTTPStatusSetter:
				status = v.HTTPStatus()
			case error:
				status = http.StatusInternalServerError
			}

			log.Info(ctx, "request completed", "method", r.Method, "path", path, "remoteaddr", r.RemoteAddr,
				"statuscode", status, "since", time.Since(now).String())

			return resp
		}

		return h
	}

	return m
}
