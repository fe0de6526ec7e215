// Package debug provides the gateway's debug endpoints: pprof, expvar and a
// live runtime dashboard.
package debug

import (
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/arl/statsviz"
)

// Mux registers the debug routes on a new mux. The DefaultServeMux is left
// alone so importing net/http/pprof elsewhere cannot leak these routes onto
// the public API. opts configure the statsviz dashboard.
func Mux(opts ...statsviz.Option) (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	if err := statsviz.Register(mux, opts...); err != nil {
		return nil, fmt.Errorf("registering statsviz: %w", err)
	}

	return mux, nil
}
