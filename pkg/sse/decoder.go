package sse

import (
	"bytes"
	"encoding/json"
)

const (
	dataPrefix = "data: "

	// DefaultMaxLineSize bounds a single buffered line.
	DefaultMaxLineSize = 1 << 20
)

// Message is a single decoded data record. Type holds the top-level "type"
// discriminator and is empty when the object has none. Data is the complete
// JSON object, owned by the caller.
type Message struct {
	Type string
	Data json.RawMessage
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error { return json.Unmarshal(m.Data, v) }

// Decoder splits a byte stream into lines and decodes data records. Line
// splitting happens on raw bytes, so chunk boundaries may fall anywhere,
// including inside a multi-byte UTF-8 sequence, without changing the result.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf         []byte
	maxLineSize int
	// discarding is set while the remainder of an oversized line is skipped.
	discarding bool
	dropped    int
	oversized  int
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithDecoderMaxLineSize sets the largest line the decoder will buffer.
// Longer lines are skipped entirely.
func WithDecoderMaxLineSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLineSize = n
		}
	}
}

// NewDecoder returns an empty Decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{maxLineSize: DefaultMaxLineSize}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk to the decode buffer and returns the messages of every
// line completed by it. The trailing partial line stays buffered.
func (d *Decoder) Feed(chunk []byte) []Message {
	var out []Message
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			d.buffer(chunk)
			break
		}

		line := chunk[:i]
		chunk = chunk[i+1:]

		if d.discarding {
			d.discarding = false
			d.buf = d.buf[:0]
			continue
		}
		if len(d.buf) > 0 {
			d.buf = append(d.buf, line...)
			line = d.buf
		}

		if len(line) > d.maxLineSize {
			d.oversized++
		} else if msg, ok := d.decodeLine(line); ok {
			out = append(out, msg)
		}
		d.buf = d.buf[:0]
	}
	return out
}

// Flush decodes whatever is left in the buffer as a final line and resets
// the decoder. Call it once the underlying stream has ended.
func (d *Decoder) Flush() []Message {
	defer func() {
		d.buf = d.buf[:0]
		d.discarding = false
	}()

	if d.discarding || len(d.buf) == 0 {
		return nil
	}
	if msg, ok := d.decodeLine(d.buf); ok {
		return []Message{msg}
	}
	return nil
}

// Dropped reports how many data lines were discarded as malformed.
func (d *Decoder) Dropped() int { return d.dropped }

// Oversized reports how many lines were skipped for exceeding the maximum
// line size.
func (d *Decoder) Oversized() int { return d.oversized }

// Buffered reports the number of bytes held for an incomplete line.
func (d *Decoder) Buffered() int { return len(d.buf) }

func (d *Decoder) buffer(fragment []byte) {
	if d.discarding {
		return
	}
	if len(d.buf)+len(fragment) > d.maxLineSize {
		d.oversized++
		d.discarding = true
		d.buf = d.buf[:0]
		return
	}
	d.buf = append(d.buf, fragment...)
}

func (d *Decoder) decodeLine(line []byte) (Message, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Message{}, false
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 || payload[0] != '{' {
		d.dropped++
		return Message{}, false
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		d.dropped++
		return Message{}, false
	}

	data := make(json.RawMessage, len(payload))
	copy(data, payload)
	return Message{Type: head.Type, Data: data}, true
}
