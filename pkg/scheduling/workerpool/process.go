package workerpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// DefaultGracePeriod is how long a worker process gets to exit after its
// input is closed, and again after SIGTERM, before it is killed.
const DefaultGracePeriod = 2 * time.Second

// ProcessSpawner runs each worker as a child process that talks msgpack
// over stdin and stdout. The child must call MaybeServe (or ServeProcess)
// early in main; by default the child is the running executable.
//
// Steps cross the boundary by code, so only transforms registered in the
// child's registry can run there. Items and results are msgpack values:
// integers come back as int64 or uint64 and structs as maps.
type ProcessSpawner struct {
	// Path is the worker binary. Defaults to os.Executable().
	Path string

	// Args are passed to the worker binary.
	Args []string

	// Env is appended to the current environment.
	Env []string

	// GracePeriod defaults to DefaultGracePeriod.
	GracePeriod time.Duration

	// Stderr receives the worker's stderr. Defaults to os.Stderr.
	Stderr io.Writer

	Logger *zerolog.Logger
}

// Spawn starts a worker process, sends it the program and waits for its
// handshake. ctx bounds the startup only.
func (s *ProcessSpawner) Spawn(ctx context.Context, id int, prog *transform.Program) (Handle, error) {
	startupErr := func(cause error) error {
		return &dterrors.WorkerStartupError{WorkerID: id, Index: -1, Cause: cause}
	}

	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, startupErr(fmt.Errorf("locate executable: %w", err))
		}
		path = exe
	}

	cmd := exec.Command(path, s.Args...) //nolint:gosec // running the worker binary is the purpose of this spawner
	cmd.Env = append(append(os.Environ(), s.Env...), EnvWorker+"=1")
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, startupErr(err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, startupErr(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, startupErr(err)
	}

	grace := s.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	logger := zerolog.Nop()
	if s.Logger != nil {
		logger = s.Logger.With().Str("component", "workerpool").Int("worker_id", id).
			Int("pid", cmd.Process.Pid).Logger()
	}

	w := &processWorker{
		id:         id,
		cmd:        cmd,
		stdin:      stdin,
		out:        &frameWriter{w: stdin},
		grace:      grace,
		logger:     logger,
		pending:    make(map[uint64]chan replyFrame),
		ready:      make(chan replyFrame, 1),
		readerDone: make(chan struct{}),
		exited:     make(chan struct{}),
	}
	go w.readLoop(stdout)
	go w.waitLoop()

	init := initFrame{Steps: prog.Steps, StepTimeoutMs: prog.StepTimeout.Milliseconds()}
	if err := w.out.write(init); err != nil {
		_ = w.Terminate()
		return nil, startupErr(fmt.Errorf("send program: %w", err))
	}

	select {
	case r := <-w.ready:
		if r.Failure != nil {
			_ = w.Terminate()
			err := r.Failure.Err()
			var se *dterrors.WorkerStartupError
			if errors.As(err, &se) {
				se.WorkerID = id
				return nil, se
			}
			return nil, startupErr(err)
		}
	case <-w.readerDone:
		_ = w.Terminate()
		return nil, startupErr(fmt.Errorf("worker exited during startup: %w", w.readErr))
	case <-ctx.Done():
		_ = w.Terminate()
		return nil, startupErr(ctx.Err())
	}

	logger.Debug().Msg("worker process ready")
	return w, nil
}

type processWorker struct {
	id     int
	cmd    *exec.Cmd
	stdin  io.Closer
	out    *frameWriter
	grace  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan replyFrame
	closed  bool

	ready      chan replyFrame
	readerDone chan struct{}
	readErr    error
	exited     chan struct{}
	waitErr    error

	once sync.Once
}

func (w *processWorker) ID() int {
	return w.id
}

func (w *processWorker) Send(ctx context.Context, item any) (any, error) {
	ch := make(chan replyFrame, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, w.transportErr(dterrors.ErrClosed)
	}
	w.nextID++
	id := w.nextID
	w.pending[id] = ch
	w.mu.Unlock()

	if err := w.out.write(requestFrame{ID: id, Data: item}); err != nil {
		w.forget(id)
		return nil, w.transportErr(err)
	}

	select {
	case r, ok := <-ch:
		if !ok {
			return nil, w.transportErr(w.readErr)
		}
		if r.Failure != nil {
			return nil, r.Failure.Err()
		}
		return r.Data, nil
	case <-ctx.Done():
		if w.forget(id) {
			_ = w.out.write(requestFrame{ID: id, Cancel: true})
		}
		return nil, ctx.Err()
	}
}

// forget drops a pending request and reports whether it was still pending.
func (w *processWorker) forget(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.pending[id]
	delete(w.pending, id)
	return ok
}

func (w *processWorker) transportErr(cause error) error {
	if cause == nil {
		cause = io.ErrUnexpectedEOF
	}
	return &dterrors.TransportError{WorkerID: w.id, Cause: cause}
}

// readLoop routes replies to their requests. When the stream ends every
// pending request fails with a TransportError.
func (w *processWorker) readLoop(r io.Reader) {
	defer close(w.readerDone)
	dec := newFrameReader(r)

	for {
		var f replyFrame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			w.fail(err)
			return
		}

		if f.ID == handshakeID {
			select {
			case w.ready <- f:
			default:
			}
			continue
		}

		w.mu.Lock()
		ch, ok := w.pending[f.ID]
		delete(w.pending, f.ID)
		w.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (w *processWorker) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.readErr = err
	w.closed = true
	for id, ch := range w.pending {
		close(ch)
		delete(w.pending, id)
	}
}

// waitLoop reaps the process once its output is drained.
func (w *processWorker) waitLoop() {
	<-w.readerDone
	w.waitErr = w.cmd.Wait()
	close(w.exited)
}

// Terminate closes the worker's input and escalates to SIGTERM and then
// SIGKILL if it does not exit within the grace period.
func (w *processWorker) Terminate() error {
	var err error
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()

		_ = w.stdin.Close()

		select {
		case <-w.exited:
			return
		case <-time.After(w.grace):
		}

		w.logger.Warn().Msg("worker did not exit, sending SIGTERM")
		_ = signalGroup(w.cmd, false)
		select {
		case <-w.exited:
			return
		case <-time.After(w.grace):
		}

		w.logger.Warn().Msg("worker did not exit, killing")
		if killErr := signalGroup(w.cmd, true); killErr != nil {
			err = fmt.Errorf("kill worker %d: %w", w.id, killErr)
		}
		<-w.exited
	})
	return err
}
