package routes

import (
	"github.com/ahrav/inspectra/internal/api/health"
	"github.com/ahrav/inspectra/internal/api/mux"
	"github.com/ahrav/inspectra/internal/api/routes/proxy"
	"github.com/ahrav/inspectra/internal/api/routes/scan"
	"github.com/ahrav/inspectra/internal/api/routes/stream"
	"github.com/ahrav/inspectra/pkg/web"
)

// Routes constructs an add value which provides the implementation of
// RouteAdder for specifying what routes to bind to this instance.
func Routes() add {
	return add{}
}

type add struct{}

// Add implements the RouteAdder interface.
func (add) Add(app *web.App, cfg mux.Config) {
	health.Routes(app, health.Config{
		Build:   cfg.Build,
		Log:     cfg.Log,
		Checker: cfg.Gateway,
	})

	scan.Routes(app, scan.Config{
		Log:     cfg.Log,
		Gateway: cfg.Gateway,
	})

	stream.Routes(app, stream.Config{
		Log:     cfg.Log,
		Gateway: cfg.Gateway,
	})

	proxy.Routes(app, proxy.Config{
		Log:     cfg.Log,
		Gateway: cfg.Gateway,
	})
}
