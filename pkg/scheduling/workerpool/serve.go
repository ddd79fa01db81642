package workerpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/vnykmshr/datatide/pkg/scheduling/pipeline"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// IsWorkerProcess reports whether this process was started by a
// ProcessSpawner.
func IsWorkerProcess() bool {
	return os.Getenv(EnvWorker) == "1"
}

// MaybeServe turns the current process into a worker when it was started
// by a ProcessSpawner: it serves stdin/stdout and exits. Otherwise it
// returns immediately. Call it at the top of main, after registering
// transforms.
func MaybeServe(reg *transform.Registry) {
	if !IsWorkerProcess() {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := ServeProcess(ctx, os.Stdin, os.Stdout, reg)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "datatide worker: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// ServeProcess runs the worker side of the protocol: it reads the program,
// rebuilds it against reg, acknowledges, then executes requests one at a
// time. Once r is exhausted the queued requests are finished; ctx ending
// stops work at once. A program that cannot be rebuilt
// is reported to the parent and returned as the error.
func ServeProcess(ctx context.Context, r io.Reader, w io.Writer, reg *transform.Registry) error {
	if reg == nil {
		reg = transform.Default
	}
	dec := newFrameReader(r)
	out := &frameWriter{w: w}

	var init initFrame
	if err := dec.Decode(&init); err != nil {
		return fmt.Errorf("read program: %w", err)
	}

	prog := &transform.Program{
		Steps:       init.Steps,
		Resolver:    reg,
		StepTimeout: time.Duration(init.StepTimeoutMs) * time.Millisecond,
	}
	chain, err := pipeline.Reconstruct(prog, pipeline.Config{})
	if err != nil {
		_ = out.write(replyFrame{ID: handshakeID, Failure: pipeline.FailureOf(err)})
		return err
	}
	if err := out.write(replyFrame{ID: handshakeID}); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	q := newQueue()
	execDone := make(chan struct{})
	go func() {
		defer close(execDone)
		serveRequests(ctx, q, chain, out)
	}()

	readDone := make(chan error, 1)
	go func() {
		readDone <- readRequests(dec, q)
	}()

	select {
	case readErr := <-readDone:
		q.close()
		<-execDone
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read request: %w", readErr)
		}
		return nil
	case <-ctx.Done():
		// the reader stays blocked on r; the process is about to exit
		<-execDone
		return nil
	}
}

func readRequests(dec interface{ Decode(any) error }, q *queue) error {
	for {
		var f requestFrame
		if err := dec.Decode(&f); err != nil {
			return err
		}
		if f.Cancel {
			q.cancel(f.ID)
			continue
		}
		q.push(f)
	}
}

func serveRequests(ctx context.Context, q *queue, chain *pipeline.Chain, out *frameWriter) {
	for {
		job, ok := q.pop(ctx)
		if !ok {
			return
		}

		res, err := chain.Execute(job.ctx, job.frame.Data)
		withdrawn := job.ctx.Err() != nil
		job.cancel()
		if ctx.Err() != nil {
			return
		}
		if withdrawn {
			continue
		}

		reply := replyFrame{ID: job.frame.ID, Data: res, Failure: pipeline.FailureOf(err)}
		writeErr := out.write(reply)
		if errors.Is(writeErr, errEncode) {
			writeErr = out.write(replyFrame{ID: job.frame.ID, Failure: &pipeline.Failure{
				Kind:    pipeline.KindRuntime,
				Message: writeErr.Error(),
			}})
		}
		if writeErr != nil {
			return
		}
	}
}

type job struct {
	frame  requestFrame
	ctx    context.Context
	cancel context.CancelFunc
}

// queue is an unbounded FIFO of requests. Requests can be withdrawn while
// queued or running.
type queue struct {
	mu     sync.Mutex
	items  []*job
	byID   map[uint64]*job
	notify chan struct{}
	closed bool
}

func newQueue() *queue {
	return &queue{
		byID:   make(map[uint64]*job),
		notify: make(chan struct{}, 1),
	}
}

func (q *queue) push(f requestFrame) {
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{frame: f, ctx: ctx, cancel: cancel}

	q.mu.Lock()
	q.items = append(q.items, j)
	q.byID[f.ID] = j
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// close marks the end of input; pop drains what is queued, then reports
// false.
func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) cancel(id uint64) {
	q.mu.Lock()
	j, ok := q.byID[id]
	delete(q.byID, id)
	q.mu.Unlock()
	if ok {
		j.cancel()
	}
}

// pop returns the next request that has not been withdrawn. Its context
// is bound to ctx while it runs. It reports false once ctx ends or the
// queue is closed and empty.
func (q *queue) pop(ctx context.Context) (*job, bool) {
	for {
		q.mu.Lock()
		for len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if j.ctx.Err() != nil {
				continue
			}
			q.mu.Unlock()

			runCtx, cancel := context.WithCancel(j.ctx)
			stop := context.AfterFunc(ctx, cancel)
			parentCancel := j.cancel
			j.ctx = runCtx
			j.cancel = func() {
				stop()
				cancel()
				parentCancel()
				q.mu.Lock()
				delete(q.byID, j.frame.ID)
				q.mu.Unlock()
			}
			return j, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.notify:
		}
	}
}
