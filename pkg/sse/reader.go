package sse

import (
	"context"
	"errors"
	"io"
)

// DefaultBufferSize is the read chunk size used by Reader.
const DefaultBufferSize = 4096

// ErrStopDispatch may be returned by a MessageFunc to stop delivery of any
// further messages while the stream is still drained to its end.
var ErrStopDispatch = errors.New("sse: stop dispatch")

// MessageFunc receives each decoded message in stream order.
type MessageFunc func(Message) error

// Option configures a Reader.
type Option func(*readerConfig)

type readerConfig struct {
	bufferSize  int
	maxLineSize int
}

// WithBufferSize sets the read chunk size.
func WithBufferSize(n int) Option {
	return func(c *readerConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithMaxLineSize sets the largest line the reader will buffer.
func WithMaxLineSize(n int) Option {
	return func(c *readerConfig) {
		if n > 0 {
			c.maxLineSize = n
		}
	}
}

// Reader consumes an event stream from an io.Reader.
type Reader struct {
	src io.Reader
	dec *Decoder
	buf []byte

	delivered int
	halted    bool
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader, opts ...Option) *Reader {
	cfg := readerConfig{bufferSize: DefaultBufferSize, maxLineSize: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Reader{
		src: src,
		dec: NewDecoder(WithDecoderMaxLineSize(cfg.maxLineSize)),
		buf: make([]byte, cfg.bufferSize),
	}
}

// Run reads src until EOF, calling fn for every message. A line left
// unterminated at EOF is flushed through the decoder. It returns nil at EOF,
// the error returned by fn, a read error, or ctx.Err() once the context is
// done. No message is delivered after cancellation has been observed.
//
// Cancellation is checked between reads and between messages. A Read call
// already blocked on src is only interrupted if src honors the same context,
// as HTTP response bodies do for their request context.
func (r *Reader) Run(ctx context.Context, fn MessageFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			if derr := r.deliver(ctx, r.dec.Feed(r.buf[:n]), fn); derr != nil {
				return derr
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return r.deliver(ctx, r.dec.Flush(), fn)
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
}

// Dropped reports how many malformed data lines were discarded so far.
func (r *Reader) Dropped() int { return r.dec.Dropped() + r.dec.Oversized() }

// Delivered reports how many messages were passed to the callback.
func (r *Reader) Delivered() int { return r.delivered }

func (r *Reader) deliver(ctx context.Context, msgs []Message, fn MessageFunc) error {
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.halted {
			continue
		}

		r.delivered++
		if err := fn(msg); err != nil {
			if errors.Is(err, ErrStopDispatch) {
				r.halted = true
				continue
			}
			return err
		}
	}
	return nil
}

// Read is shorthand for NewReader(src, opts...).Run(ctx, fn).
//
// A final data line that ends at EOF without a trailing newline is still
// decoded and dispatched, unless its JSON is incomplete.
func Read(ctx context.Context, src io.Reader, fn MessageFunc, opts ...Option) error {
	return NewReader(src, opts...).Run(ctx, fn)
}
