package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// JSON encodes any value as application/json with an optional status.
type JSON struct {
	Value  any
	Status int
}

// Encode implements the Encoder interface.
func (j JSON) Encode() ([]byte, string, error) {
	data, err := json.Marshal(j.Value)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// HTTPStatus implements the HTTPStatusSetter interface.
func (j JSON) HTTPStatus() int {
	if j.Status == 0 {
		return http.StatusOK
	}
	return j.Status
}

// Raw responds with bytes that are already encoded.
type Raw struct {
	Data        []byte
	ContentType string
	Status      int
}

// Encode implements the Encoder interface.
func (r Raw) Encode() ([]byte, string, error) {
	ct := r.ContentType
	if ct == "" {
		ct = "application/json"
	}
	return r.Data, ct, nil
}

// HTTPStatus implements the HTTPStatusSetter interface.
func (r Raw) HTTPStatus() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// maxBodySize bounds request bodies read by Decode.
const maxBodySize = 1 << 20

// Decode reads the JSON body of r into v and returns the bytes as received.
func Decode(r *http.Request, v any) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("request body must be a JSON object: %w", err)
	}
	return data, nil
}
