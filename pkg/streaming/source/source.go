package source

import (
	"context"
	"sync"
	"sync/atomic"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
)

// Source yields items for a call.
type Source interface {
	// Next returns the next item. ok is false when the source is
	// exhausted; a non-nil error ends the source.
	Next(ctx context.Context) (item any, ok bool, err error)

	// Close releases the source.
	Close() error
}

// Func adapts a pull function to Source.
type Func func(ctx context.Context) (any, bool, error)

// Next calls f.
func (f Func) Next(ctx context.Context) (any, bool, error) {
	return f(ctx)
}

// Close does nothing.
func (f Func) Close() error {
	return nil
}

// sliceSource implements Source for slices.
type sliceSource struct {
	slice []any
	index int64
}

// FromSlice returns a source over items.
func FromSlice(items []any) Source {
	return &sliceSource{slice: items}
}

func (s *sliceSource) Next(ctx context.Context) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	currentIndex := atomic.AddInt64(&s.index, 1) - 1
	if currentIndex >= int64(len(s.slice)) {
		return nil, false, nil
	}
	return s.slice[currentIndex], true, nil
}

func (s *sliceSource) Close() error {
	return nil
}

// channelSource implements Source for channels.
type channelSource struct {
	ch   <-chan any
	errc <-chan error
}

// FromChannel returns a source that ends when ch is closed.
func FromChannel(ch <-chan any) Source {
	return &channelSource{ch: ch}
}

// FromErrChannel returns a source over ch that fails with the first error
// received on errc. Once ch is closed, a pending error on errc is still
// reported.
func FromErrChannel(ch <-chan any, errc <-chan error) Source {
	return &channelSource{ch: ch, errc: errc}
}

func (s *channelSource) Next(ctx context.Context) (any, bool, error) {
	select {
	case err, ok := <-s.errc:
		if ok && err != nil {
			return nil, false, err
		}
		s.errc = nil
		return s.Next(ctx)
	case value, ok := <-s.ch:
		if !ok {
			return nil, false, s.pendingErr()
		}
		return value, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (s *channelSource) pendingErr() error {
	if s.errc == nil {
		return nil
	}
	select {
	case err := <-s.errc:
		return err
	default:
		return nil
	}
}

func (s *channelSource) Close() error {
	return nil
}

// Pipe is a push-based source. Writes block until the consumer takes the
// item, which gives producers backpressure.
type Pipe struct {
	items chan any

	mu     sync.Mutex
	err    error
	done   chan struct{}
	closed bool
}

// NewPipe creates an open pipe.
func NewPipe() *Pipe {
	return &Pipe{
		items: make(chan any),
		done:  make(chan struct{}),
	}
}

// Write hands item to the consumer. It returns errors.ErrClosed once the
// pipe is closed.
func (p *Pipe) Write(ctx context.Context, item any) error {
	select {
	case <-p.done:
		return dterrors.ErrClosed
	default:
	}

	select {
	case p.items <- item:
		return nil
	case <-p.done:
		return dterrors.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the pipe normally.
func (p *Pipe) Close() error {
	return p.CloseWithError(nil)
}

// CloseWithError ends the pipe; the consumer sees err after the items
// already handed over. Only the first close takes effect.
func (p *Pipe) CloseWithError(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.err = err
	close(p.done)
	return nil
}

// Next returns the next written item.
func (p *Pipe) Next(ctx context.Context) (any, bool, error) {
	select {
	case item := <-p.items:
		return item, true, nil
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return nil, false, p.err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
