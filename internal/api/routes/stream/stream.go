// Package stream binds the endpoints whose responses are event streams.
package stream

import (
	"context"
	"net/http"

	"github.com/ahrav/inspectra/internal/api/errs"
	"github.com/ahrav/inspectra/internal/app/gateway"
	"github.com/ahrav/inspectra/internal/client"
	domain "github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/pkg/common/logger"
	"github.com/ahrav/inspectra/pkg/sse"
	"github.com/ahrav/inspectra/pkg/web"
)

// Config contains the dependencies needed by the stream handlers.
type Config struct {
	Log     *logger.Logger
	Gateway *gateway.Service
}

// Routes binds all the streaming endpoints.
func Routes(app *web.App, cfg Config) {
	const group = "api"

	app.HandlerFunc(http.MethodPost, group, "/network/monitor",
		relay(cfg, client.PathNetworkMonitor, func() any { return new(domain.MonitorRequest) }))
	app.HandlerFunc(http.MethodPost, group, "/classifier/batch",
		relay(cfg, client.PathClassifierBatch, func() any { return new(domain.BatchRequest) }))
}

func relay(cfg Config, path string, newReq func() any) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		body, verr := errs.Decode(r, newReq())
		if verr != nil {
			return verr
		}

		w := web.GetWriter(ctx)
		started := false
		open := func() (gateway.Sink, error) {
			started = true
			return sse.NewWriter(w)
		}

		res, err := cfg.Gateway.Relay(ctx, path, body, open)
		if err == nil {
			return web.NewNoResponse()
		}
		if started {
			cfg.Log.Info(ctx, "relay ended early", "stream_id", res.StreamID, "sent", res.Sent, "error", err)
			return web.NewNoResponse()
		}
		return errs.FromUpstream(err)
	}
}
