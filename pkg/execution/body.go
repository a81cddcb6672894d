package execution

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrBodyConsumed is returned when an unbuffered body is read a second time.
var ErrBodyConsumed = errors.New("body already consumed")

// Body is a lazily materialized byte stream. The underlying source is read at
// most once; Buffer keeps the bytes so later readers can replay them.
type Body struct {
	source   io.ReadCloser
	data     []byte
	buffered bool
	consumed bool
}

// NewBody wraps a source stream. A nil source is an empty body.
func NewBody(source io.ReadCloser) *Body {
	if source == nil {
		return &Body{buffered: true}
	}
	return &Body{source: source}
}

// NewBodyBytes creates an already buffered body.
func NewBodyBytes(data []byte) *Body {
	return &Body{data: data, buffered: true}
}

// Buffered reports whether the content is held in memory.
func (b *Body) Buffered() bool {
	return b.buffered
}

// Buffer reads the whole source into memory and returns it. Subsequent calls
// return the same bytes.
func (b *Body) Buffer() ([]byte, error) {
	if b.buffered {
		return b.data, nil
	}
	if b.consumed {
		return nil, ErrBodyConsumed
	}
	b.consumed = true

	data, err := io.ReadAll(b.source)
	closeErr := b.source.Close()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close body: %w", closeErr)
	}

	b.data = data
	b.buffered = true
	b.source = nil
	return data, nil
}

// Reader returns a reader over the content. Unbuffered sources are handed out
// once; the caller becomes responsible for closing them.
func (b *Body) Reader() (io.ReadCloser, error) {
	if b.buffered {
		return io.NopCloser(bytes.NewReader(b.data)), nil
	}
	if b.consumed {
		return nil, ErrBodyConsumed
	}
	b.consumed = true
	return b.source, nil
}

// Set replaces the content with data.
func (b *Body) Set(data []byte) {
	if b.source != nil && !b.consumed {
		_ = b.source.Close()
	}
	b.source = nil
	b.data = data
	b.buffered = true
	b.consumed = false
}

// Len returns the buffered length, or -1 while the body is still streaming.
func (b *Body) Len() int {
	if !b.buffered {
		return -1
	}
	return len(b.data)
}

// Close releases an unread source.
func (b *Body) Close() error {
	if b.source != nil && !b.consumed {
		b.consumed = true
		return b.source.Close()
	}
	return nil
}
