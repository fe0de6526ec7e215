package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrStreamingUnsupported is returned when the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("sse: response writer does not support flushing")

// Encode writes v as a single data line to w.
func Encode(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshaling event: %w", err)
	}

	line := make([]byte, 0, len(dataPrefix)+len(b)+1)
	line = append(line, dataPrefix...)
	line = append(line, b...)
	line = append(line, '\n')

	_, err = w.Write(line)
	return err
}

// Writer emits events on an HTTP response, flushing after each one. It is
// safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	w    http.ResponseWriter
	rc   *http.ResponseController
	sent int
}

// NewWriter prepares w for streaming and sends the response headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamingUnsupported, err)
	}

	return &Writer{w: w, rc: rc}, nil
}

// Send writes v as one event and flushes it to the client.
func (s *Writer) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := Encode(s.w, v); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("sse: flushing event: %w", err)
	}
	s.sent++
	return nil
}

// Sent reports how many events were written.
func (s *Writer) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
