// Package proxy binds the one-shot endpoints forwarded to the scan API.
// Responses are returned unchanged.
package proxy

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ahrav/inspectra/internal/api/errs"
	"github.com/ahrav/inspectra/internal/app/gateway"
	"github.com/ahrav/inspectra/internal/client"
	domain "github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/pkg/common/logger"
	"github.com/ahrav/inspectra/pkg/web"
)

// Config contains the dependencies needed by the proxy handlers.
type Config struct {
	Log     *logger.Logger
	Gateway *gateway.Service
}

// Routes binds all the forwarded endpoints.
func Routes(app *web.App, cfg Config) {
	const group = "api"

	app.HandlerFunc(http.MethodPatch, group, "/classifier/override", override(cfg))
	app.HandlerFunc(http.MethodDelete, group, "/classifier/results/*", forget(cfg))
	app.HandlerFunc(http.MethodGet, group, "/hygiene/score", byTarget(cfg, client.PathHygieneScore))
	app.HandlerFunc(http.MethodGet, group, "/severity/matrix", byTarget(cfg, client.PathSeverityMatrix))
}

func respond(resp gateway.Response, err error) web.Encoder {
	if err != nil {
		return errs.FromUpstream(err)
	}
	return web.Raw{Data: resp.Body, ContentType: resp.ContentType, Status: resp.Status}
}

func override(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req domain.OverrideRequest
		body, verr := errs.Decode(r, &req)
		if verr != nil {
			return verr
		}
		return respond(cfg.Gateway.Override(ctx, req, body))
	}
}

func forget(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		pageURL := web.Param(r, "*")
		if r.URL.RawPath != "" {
			unescaped, err := url.PathUnescape(pageURL)
			if err != nil {
				return errs.New(errs.InvalidArgument, err)
			}
			pageURL = unescaped
		}
		if pageURL == "" {
			return errs.Newf(errs.InvalidArgument, "page url is required")
		}
		return respond(cfg.Gateway.Forget(ctx, pageURL))
	}
}

func byTarget(cfg Config, path string) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		target := r.URL.Query().Get("url")
		if target == "" {
			return errs.New(errs.InvalidArgument, errs.FieldErrors{{Field: "url", Err: "is required"}})
		}
		return respond(cfg.Gateway.Forward(ctx, http.MethodGet, path, url.Values{"url": {target}}, nil))
	}
}
