package tide

import (
	"context"
	"errors"

	"github.com/vnykmshr/datatide/pkg/streaming/sink"
	"github.com/vnykmshr/datatide/pkg/streaming/source"
)

var _ source.Source = (*Stream)(nil)

// Stream is the live result of ProcessStream. Results can be read with
// Next or Results, collected, or piped to a sink. A Stream also satisfies
// source.Source, so it can feed another call.
//
// The call ends when its source is exhausted, on a terminal error, or on
// Destroy. In every case the pool is torn down before Done is closed.
type Stream struct {
	c *call
}

// ID returns the call id used in logs.
func (s *Stream) ID() string {
	return s.c.id
}

// Next returns the next result. At the end of the stream it returns
// false and the terminal error, if any. A ctx that ends only abandons
// this wait; use Destroy to end the call.
func (s *Stream) Next(ctx context.Context) (any, bool, error) {
	select {
	case v, ok := <-s.c.out:
		if ok {
			return v, true, nil
		}
		<-s.c.done
		return nil, false, s.c.terminalErr()
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Results returns the result channel. It is closed after teardown; check
// Err afterwards.
func (s *Stream) Results() <-chan any {
	return s.c.out
}

// Done is closed once the call has ended and its pool is torn down.
func (s *Stream) Done() <-chan struct{} {
	return s.c.done
}

// Err returns the terminal error. It is nil while the call is running and
// after a normal end, including an early return.
func (s *Stream) Err() error {
	select {
	case <-s.c.done:
		return s.c.terminalErr()
	default:
		return nil
	}
}

// State returns the lifecycle stage of the call.
func (s *Stream) State() State {
	return s.c.state.load()
}

// Destroy ends the call and waits for teardown. A non-nil err becomes the
// terminal error unless the call already has one. Destroy is idempotent
// and safe after the stream has ended.
func (s *Stream) Destroy(err error) {
	s.c.abort(err)
	<-s.c.done
}

// Close destroys the stream without an error.
func (s *Stream) Close() error {
	s.Destroy(nil)
	return nil
}

// Collect reads every remaining result. On a terminal error it returns
// no results. If ctx ends first the stream is destroyed with ctx.Err().
func (s *Stream) Collect(ctx context.Context) ([]any, error) {
	out := []any{}
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			s.Destroy(err)
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// PipeTo writes every result to dst and closes it when the stream ends.
// A write error destroys the stream with that error.
func (s *Stream) PipeTo(ctx context.Context, dst sink.Sink) error {
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			s.Destroy(err)
			return closeAfter(err, dst)
		}
		if !ok {
			return dst.Close()
		}
		if err := dst.Write(ctx, v); err != nil {
			s.Destroy(err)
			return closeAfter(err, dst)
		}
	}
}

func closeAfter(err error, dst sink.Sink) error {
	if cerr := dst.Close(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}
