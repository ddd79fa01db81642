package tide

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/vnykmshr/datatide/pkg/streaming/source"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// DataTide runs step chains over items on a pool of isolated workers. A
// fresh pool is created for every call and torn down when it ends. A
// DataTide is safe for concurrent use; its options never change.
type DataTide struct {
	opts   Options
	logger zerolog.Logger
	active atomic.Int64
}

// New creates a DataTide. Unset options take their defaults; invalid ones
// are reported as a ValidationError.
func New(opts Options) (*DataTide, error) {
	resolved, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if resolved.Logger != nil {
		logger = resolved.Logger.With().Str("component", "tide").Str("tide", resolved.Name).Logger()
	}

	return &DataTide{opts: resolved, logger: logger}, nil
}

// Options returns the resolved options.
func (t *DataTide) Options() Options {
	return t.opts
}

// ActiveWorkers returns the number of live workers across all running
// calls. It is 0 when no call is running.
func (t *DataTide) ActiveWorkers() int {
	return int(t.active.Load())
}

// Process applies steps to every item in data and returns the results.
// Failed items are handled according to FailureBehavior; with FailAll the
// first failure is returned and no partial results are.
func (t *DataTide) Process(ctx context.Context, data []any, steps []transform.Step) ([]any, error) {
	return t.ProcessSource(ctx, source.FromSlice(data), steps)
}

// ProcessSource is Process over a finite source. src is closed when the
// call ends.
func (t *DataTide) ProcessSource(ctx context.Context, src source.Source, steps []transform.Step) ([]any, error) {
	s, err := t.ProcessStream(ctx, src, steps)
	if err != nil {
		return nil, err
	}
	return s.Collect(ctx)
}

// ProcessStream starts a call over a live source and returns its results
// as a Stream. Steps are checked and the pool is created before it
// returns, so configuration, unsafe transform and startup errors are
// reported here. src is owned by the call and closed when it ends. The
// returned Stream must be drained or destroyed.
func (t *DataTide) ProcessStream(ctx context.Context, src source.Source, steps []transform.Step) (*Stream, error) {
	c, err := t.start(ctx, src, steps)
	if err != nil {
		return nil, err
	}
	return &Stream{c: c}, nil
}
