package mid

import (
	"context"
	"errors"
	"net/http"

	"github.com/ahrav/inspectra/internal/api/errs"
	"github.com/ahrav/inspectra/pkg/common/logger"
	"github.com/ahrav/inspectra/pkg/web"
)

// Errors turns any error returned by a handler into an *errs.Error and logs
// it. Errors that neither are an *errs.Error nor choose their own status
// are reported as internal.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)
			err := isError(resp)
			if err == nil {
				return resp
			}

			var appErr *errs.Error
			if !errors.As(err, &appErr) {
				if _, ok := resp.(web.HTTPStatusSetter); ok {
					log.Info(ctx, "forwarding upstream error", "err", err)
					return resp
				}
				appErr = errs.Newf(errs.Internal, "internal server error")
			}

			log.Error(ctx, "handled error during request",
				"err", err,
				"source_err_file", appErr.FileName,
				"source_err_func", appErr.FuncName)

			return appErr
		}

		return h
	}

	return m
}

func isError(e web.Encoder) error {
	err, isError := e.(error)
	if isError {
		return err
	}
	return nil
}
