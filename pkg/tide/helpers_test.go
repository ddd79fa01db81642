package tide

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/datatide/internal/testutil"
	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/scheduling/workerpool"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// testRegistry is shared with worker processes started from this binary.
var testRegistry = newTestRegistry()

func toInt(v any) (int, bool) {
	n, ok := testutil.Int(v).(int)
	return n, ok
}

func double(_ context.Context, in any) (any, error) {
	n, ok := toInt(in)
	if !ok {
		return nil, errors.New("Invalid number")
	}
	return n * 2, nil
}

func newTestRegistry() *transform.Registry {
	reg := transform.NewRegistry()
	reg.MustRegister("double", double)
	reg.MustRegister("inc", func(_ context.Context, in any) (any, error) {
		n, ok := toInt(in)
		if !ok {
			return nil, errors.New("Invalid number")
		}
		return n + 1, nil
	})
	return reg
}

func doubleSteps() []transform.Step {
	return []transform.Step{{Name: "multiply", Transform: double}}
}

func newTide(t *testing.T, opts Options) *DataTide {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = testRegistry
	}
	dt, err := New(opts)
	require.NoError(t, err)
	return dt
}

// stubSpawner hands out in-memory handles whose Send is supplied by the
// test. fail decides which worker ids refuse to start.
type stubSpawner struct {
	send func(ctx context.Context, id int, item any) (any, error)
	fail func(id int) bool

	spawned    atomic.Int32
	terminated atomic.Int32
}

func (s *stubSpawner) Spawn(_ context.Context, id int, _ *transform.Program) (workerpool.Handle, error) {
	if s.fail != nil && s.fail(id) {
		return nil, &dterrors.WorkerStartupError{WorkerID: id, Index: -1, Cause: errors.New("no capacity")}
	}
	s.spawned.Add(1)
	return &stubHandle{id: id, spawner: s}, nil
}

type stubHandle struct {
	id      int
	spawner *stubSpawner
	once    atomic.Bool
}

func (h *stubHandle) ID() int {
	return h.id
}

func (h *stubHandle) Send(ctx context.Context, item any) (any, error) {
	return h.spawner.send(ctx, h.id, item)
}

func (h *stubHandle) Terminate() error {
	if h.once.CompareAndSwap(false, true) {
		h.spawner.terminated.Add(1)
	}
	return nil
}

// syncWriter serializes writes from concurrent loggers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
