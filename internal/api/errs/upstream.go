package errs

import (
	"context"
	"errors"
	"net/http"

	"github.com/ahrav/inspectra/internal/client"
	"github.com/ahrav/inspectra/pkg/web"
)

// upstreamFailure is a backend error forwarded with its original status and body.
type upstreamFailure struct {
	*client.BackendError
}

// Encode implements the web.Encoder interface.
func (u upstreamFailure) Encode() ([]byte, string, error) {
	if len(u.Body) > 0 {
		return u.Body, "application/json", nil
	}
	return (&Error{Message: u.Message}).Encode()
}

// HTTPStatus implements the web.HTTPStatusSetter interface.
func (u upstreamFailure) HTTPStatus() int {
	if u.StatusCode < 400 {
		return http.StatusBadGateway
	}
	return u.StatusCode
}

// FromUpstream converts a failure talking to the scan API into a response.
// Backend errors keep their status and body. Transport failures become 502
// and a canceled request becomes 499.
func FromUpstream(err error) web.Encoder {
	var be *client.BackendError
	if errors.As(err, &be) {
		return upstreamFailure{be}
	}

	if errors.Is(err, context.Canceled) {
		return Newf(Canceled, "request canceled")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Newf(Unavailable, "upstream timed out")
	}

	var te *client.TransportError
	if errors.As(err, &te) {
		e := New(BadGateway, err)
		e.Message = "upstream unavailable: " + te.Error()
		return e
	}
	return New(Internal, err)
}
