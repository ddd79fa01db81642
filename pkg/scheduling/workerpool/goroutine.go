package workerpool

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/scheduling/pipeline"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// GoroutineSpawner runs each worker on its own goroutine in this process.
// A worker handles one item at a time from its mailbox and shares nothing
// with the caller except the read-only program.
type GoroutineSpawner struct {
	Logger *zerolog.Logger
}

// Spawn rebuilds prog and starts the worker loop.
func (s *GoroutineSpawner) Spawn(ctx context.Context, id int, prog *transform.Program) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &dterrors.WorkerStartupError{WorkerID: id, Index: -1, Cause: err}
	}

	chain, err := pipeline.Reconstruct(prog, pipeline.Config{Logger: s.Logger})
	if err != nil {
		var se *dterrors.WorkerStartupError
		if errors.As(err, &se) {
			se.WorkerID = id
		}
		return nil, err
	}

	wctx, cancel := context.WithCancel(context.Background())
	w := &goroutineWorker{
		id:      id,
		chain:   chain,
		mailbox: make(chan *request),
		ctx:     wctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

type request struct {
	ctx   context.Context
	item  any
	reply chan reply
}

type reply struct {
	out any
	err error
}

type goroutineWorker struct {
	id      int
	chain   *pipeline.Chain
	mailbox chan *request

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (w *goroutineWorker) ID() int {
	return w.id
}

func (w *goroutineWorker) Send(ctx context.Context, item any) (any, error) {
	req := &request{ctx: ctx, item: item, reply: make(chan reply, 1)}

	select {
	case w.mailbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.ctx.Done():
		return nil, &dterrors.TransportError{WorkerID: w.id, Cause: dterrors.ErrClosed}
	}

	select {
	case r := <-req.reply:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, &dterrors.TransportError{WorkerID: w.id, Cause: dterrors.ErrClosed}
	}
}

// Terminate cancels the running item, stops the loop and waits for it.
func (w *goroutineWorker) Terminate() error {
	w.once.Do(w.cancel)
	<-w.done
	return nil
}

func (w *goroutineWorker) run() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return
		case req := <-w.mailbox:
			if req.ctx.Err() != nil {
				continue
			}
			out, err := w.execute(req)
			req.reply <- reply{out: out, err: err}
		}
	}
}

// execute runs the chain under a context that ends with either the
// request or the worker.
func (w *goroutineWorker) execute(req *request) (any, error) {
	ctx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	return w.chain.Execute(ctx, req.item)
}
