package client

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSuperseded is returned by a classifier batch that was canceled because a
// newer batch started.
var ErrSuperseded = errors.New("classification superseded by a newer request")

// TransportError is a network-level failure or a non-2xx response that
// carried no backend error body.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BackendError is a failure reported by the backend as {success:false, error}.
// Message is surfaced verbatim.
type BackendError struct {
	StatusCode int
	Message    string
	Body       json.RawMessage
}

func (e *BackendError) Error() string { return e.Message }

// StreamError is an error event received on a stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return e.Message }

// envelope is the part of every backend body that signals failure.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// backendFailure returns a BackendError when body is a failure envelope. A
// body with an error message counts as a failure on non-2xx statuses; on 2xx
// only an explicit "success": false does.
func backendFailure(status int, body []byte) *BackendError {
	var env envelope
	if len(body) == 0 || json.Unmarshal(body, &env) != nil {
		return nil
	}

	msg := env.Error
	if msg == "" {
		msg = env.Message
	}
	explicitFailure := env.Success != nil && !*env.Success
	ok2xx := status >= 200 && status < 300

	switch {
	case explicitFailure:
	case !ok2xx && msg != "":
	default:
		return nil
	}

	if msg == "" {
		msg = "request failed"
	}
	return &BackendError{StatusCode: status, Message: msg, Body: append(json.RawMessage(nil), body...)}
}
