// Package web is a small framework over chi for handlers that return a
// value to encode instead of writing the response themselves.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/inspectra/pkg/common/otel"
)

// Encoder is implemented by every value a handler returns.
type Encoder interface {
	Encode() (data []byte, contentType string, err error)
}

// HTTPStatusSetter lets a response choose its status code.
type HTTPStatusSetter interface {
	HTTPStatus() int
}

// HandlerFunc handles a request and returns the value to respond with.
type HandlerFunc func(ctx context.Context, r *http.Request) Encoder

// Logger is the logging hook used by the App.
type Logger func(ctx context.Context, msg string, args ...any)

// App is the entrypoint into the application. It is an http.Handler.
type App struct {
	log     Logger
	tracer  trace.Tracer
	mux     *chi.Mux
	otmux   http.Handler
	mw      []MidFunc
	origins []string
}

// NewApp creates an App that runs mw around every handler bound with
// HandlerFunc.
func NewApp(log Logger, tracer trace.Tracer, mw ...MidFunc) *App {
	mux := chi.NewRouter()

	return &App{
		log:    log,
		tracer: tracer,
		mux:    mux,
		otmux:  otelhttp.NewHandler(mux, "request"),
		mw:     mw,
	}
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.otmux.ServeHTTP(w, r)
}

// EnableCORS answers preflight requests and sets CORS headers on every
// response for the given origins. "*" allows any origin.
func (a *App) EnableCORS(origins []string) {
	a.origins = origins

	a.mux.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.setCORS(w, r)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (a *App) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := ""
	for _, o := range a.origins {
		if o == "*" {
			allowed = "*"
			break
		}
		if strings.EqualFold(o, origin) {
			allowed = origin
			break
		}
	}
	if allowed == "" {
		return
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allowed)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
	if allowed != "*" {
		h.Add("Vary", "Origin")
	}
}

// HandlerFuncNoMid binds handler to method and path without the App's
// middleware. It is meant for health and debug routes.
func (a *App) HandlerFuncNoMid(method, group, path string, handler HandlerFunc) {
	a.bind(method, group, path, handler)
}

// HandlerFunc binds handler to method and path, wrapped first by mw and then
// by the App's middleware.
func (a *App) HandlerFunc(method, group, path string, handler HandlerFunc, mw ...MidFunc) {
	handler = wrapMiddleware(mw, handler)
	handler = wrapMiddleware(a.mw, handler)
	a.bind(method, group, path, handler)
}

func (a *App) bind(method, group, path string, handler HandlerFunc) {
	h := func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.WithRoute(r)
		ctx = setWriter(ctx, w)

		resp := handler(ctx, r)

		if err := Respond(ctx, w, resp); err != nil {
			a.log(ctx, "web-respond", "ERROR", err)
		}
	}

	finalPath := path
	if group != "" {
		finalPath = "/" + group + path
	}

	a.mux.MethodFunc(method, finalPath, h)
}

// Param returns the named URL parameter of r.
func Param(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// NoResponse tells Respond that the handler already wrote the response.
type NoResponse struct{}

// NewNoResponse returns a NoResponse.
func NewNoResponse() NoResponse { return NoResponse{} }

// Encode implements the Encoder interface.
func (NoResponse) Encode() ([]byte, string, error) { return nil, "", nil }

// Respond writes resp to w. A nil resp produces 204 No Content.
func Respond(ctx context.Context, w http.ResponseWriter, resp Encoder) error {
	if _, ok := resp.(NoResponse); ok {
		return nil
	}

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("client disconnected, do not send response")
		}
	}

	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}

	statusCode := http.StatusOK
	switch v := resp.(type) {
	case HTTPStatusSetter:
		statusCode = v.HTTPStatus()
	case error:
		statusCode = http.StatusInternalServerError
	}

	if statusCode == http.StatusNoContent {
		w.WriteHeader(statusCode)
		return nil
	}

	data, contentType, err := resp.Encode()
	if err != nil {
		return fmt.Errorf("respond: encode: %w", err)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("respond: write: %w", err)
	}
	return nil
}
