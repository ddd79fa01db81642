package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vnykmshr/datatide/internal/wire"
)

// readerSource decodes consecutive msgpack values.
type readerSource struct {
	r   io.Reader
	dec *wire.Decoder
}

// FromReader returns a source over the msgpack values in r, as written by
// sink.Writer. It ends cleanly at EOF between values. Close closes r if it
// is an io.Closer.
func FromReader(r io.Reader) Source {
	return &readerSource{r: r, dec: wire.NewDecoder(bufio.NewReader(r))}
}

// Next decodes the next value. The decode itself does not observe ctx.
func (s *readerSource) Next(ctx context.Context) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	item, err := s.dec.DecodeInterfaceLoose()
	if errors.Is(err, io.EOF) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("source: decode: %w", err)
	}
	return item, true, nil
}

func (s *readerSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
