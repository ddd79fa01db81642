package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/vnykmshr/datatide/internal/wire"
	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
)

// Writer encodes each result as a msgpack value on an io.Writer. Output is
// buffered; Close flushes it and closes w if it is an io.Closer.
// source.FromReader reads the same framing back.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	buf    *bufio.Writer
	enc    *wire.Encoder
	closed bool
}

// NewWriter creates a sink writing to w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{w: w, buf: buf, enc: wire.NewEncoder(buf)}
}

// Write encodes item.
func (s *Writer) Write(_ context.Context, item any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dterrors.ErrClosed
	}
	if err := s.enc.Encode(item); err != nil {
		return fmt.Errorf("sink: encode: %w", err)
	}
	return nil
}

// Close flushes buffered output.
func (s *Writer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	err := s.buf.Flush()
	if c, ok := s.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
