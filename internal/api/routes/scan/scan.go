// Package scan binds the scan and history endpoints.
package scan

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ahrav/inspectra/internal/api/errs"
	"github.com/ahrav/inspectra/internal/app/gateway"
	domain "github.com/ahrav/inspectra/internal/domain/scan"
	"github.com/ahrav/inspectra/pkg/common/logger"
	"github.com/ahrav/inspectra/pkg/web"
)

// Config contains the dependencies needed by the scan handlers.
type Config struct {
	Log     *logger.Logger
	Gateway *gateway.Service
}

// Routes binds all the scan endpoints.
func Routes(app *web.App, cfg Config) {
	const group = "api"

	app.HandlerFunc(http.MethodPost, group, "/scan", start(cfg))
	app.HandlerFunc(http.MethodGet, group, "/history", history(cfg))
	app.HandlerFunc(http.MethodGet, group, "/history/latest", latest(cfg))
}

func start(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		var req domain.ScanRequest
		body, verr := errs.Decode(r, &req)
		if verr != nil {
			return verr
		}

		resp, err := cfg.Gateway.Scan(ctx, req, body)
		if err != nil {
			return errs.FromUpstream(err)
		}

		return web.Raw{Data: resp.Body, ContentType: resp.ContentType, Status: resp.Status}
	}
}

// historyResponse lists scans newest first.
type historyResponse struct {
	Items []domain.HistoryEntry `json:"items"`
	Total int                   `json:"total"`
}

// Encode implements the web.Encoder interface.
func (hr historyResponse) Encode() ([]byte, string, error) {
	data, err := json.Marshal(hr)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

func history(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		items, err := cfg.Gateway.History(ctx)
		if err != nil {
			return errs.New(errs.Unavailable, err)
		}
		if items == nil {
			items = []domain.HistoryEntry{}
		}
		return historyResponse{Items: items, Total: len(items)}
	}
}

func latest(cfg Config) web.HandlerFunc {
	return func(ctx context.Context, r *http.Request) web.Encoder {
		entry, ok, err := cfg.Gateway.Latest(ctx)
		if err != nil {
			return errs.New(errs.Unavailable, err)
		}
		if !ok {
			return errs.Newf(errs.NotFound, "no scans recorded")
		}
		return web.JSON{Value: entry}
	}
}
