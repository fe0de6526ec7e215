// Package sse implements the line-delimited event stream used by the scan
// backend for progress reporting.
//
// The wire format is a plain HTTP response body kept open by the server. Each
// event is one line of the form
//
//	data: {"type":"progress","phase":"crawl","pct":10}
//
// terminated by a newline. Lines without the exact "data: " prefix are
// ignored, and a data line whose remainder is not a JSON object is dropped
// without affecting the lines after it. There is no end-of-stream event:
// the stream ends when the body does.
//
// Decoder is the incremental, chunk-oriented parser. Reader drives a Decoder
// from an io.Reader and dispatches messages to a callback. Writer is the
// producing side for HTTP handlers.
package sse
