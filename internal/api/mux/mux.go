// Package mux assembles the gateway's HTTP handler.
package mux

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/internal/api/mid"
	"github.com/ahrav/inspectra/internal/app/gateway"
	"github.com/ahrav/inspectra/pkg/common/logger"
	"github.com/ahrav/inspectra/pkg/web"
)

// Options represent optional parameters.
type Options struct {
	corsOrigin []string
	metrics    mid.RequestMetrics
}

// WithCORS provides configuration options for CORS.
func WithCORS(origins []string) func(opts *Options) {
	return func(opts *Options) {
		opts.corsOrigin = origins
	}
}

// WithMetrics records every request on m.
func WithMetrics(m mid.RequestMetrics) func(opts *Options) {
	return func(opts *Options) {
		opts.metrics = m
	}
}

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Build   string
	Log     *logger.Logger
	Tracer  trace.Tracer
	Gateway *gateway.Service
}

// RouteAdder defines behavior that sets the routes to bind for an instance
// of the service.
type RouteAdder interface {
	Add(app *web.App, cfg Config)
}

// WebAPI constructs a http.Handler with all application routes bound.
func WebAPI(cfg Config, routeAdder RouteAdder, options ...func(opts *Options)) http.Handler {
	logger := func(ctx context.Context, msg string, args ...any) {
		cfg.Log.Info(ctx, msg, args...)
	}

	var opts Options
	for _, option := range options {
		option(&opts)
	}

	mw := []web.MidFunc{
		mid.Otel(cfg.Tracer),
		mid.Logger(cfg.Log),
	}
	if opts.metrics != nil {
		mw = append(mw, mid.Metrics(opts.metrics))
	}
	mw = append(mw, mid.Errors(cfg.Log), mid.Panics())

	app := web.NewApp(logger, cfg.Tracer, mw...)

	if len(opts.corsOrigin) > 0 {
		app.EnableCORS(opts.corsOrigin)
	}

	routeAdder.Add(app, cfg)

	return app
}
