package tide

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/common/validation"
	"github.com/vnykmshr/datatide/pkg/scheduling/pipeline"
	"github.com/vnykmshr/datatide/pkg/scheduling/workerpool"
	"github.com/vnykmshr/datatide/pkg/streaming/source"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// Call outcomes as recorded in metrics.
const (
	outcomeCompleted   = "completed"
	outcomeFailed      = "failed"
	outcomeEarlyReturn = "early_return"
	outcomeDestroyed   = "destroyed"
	outcomeRejected    = "rejected"
)

// outcome is the result of one dispatch.
type outcome struct {
	index int
	value any
	err   error
}

// call is one Process invocation. The producer pulls items and starts a
// dispatch per item; fold is the only reader of results and the only
// writer of out.
type call struct {
	id     string
	tide   *DataTide
	opts   Options
	logger zerolog.Logger
	pool   *workerpool.Pool
	src    source.Source

	ctx    context.Context
	cancel context.CancelFunc

	state   stateMachine
	early   *earlyReturn
	results chan outcome
	out     chan any
	done    chan struct{}

	mu        sync.Mutex
	err       error
	destroyed bool
	settled   bool

	teardownOnce sync.Once
}

func (t *DataTide) start(ctx context.Context, src source.Source, steps []transform.Step) (*call, error) {
	if err := validation.ValidateNotNil("tide", "Source", src); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := t.logger.With().Str("call_id", id).Logger()

	prog, err := transform.Transfer(t.opts.Registry, steps, transform.NewScanner(t.opts.allowDelays()))
	if err != nil {
		logger.Error().Err(err).Msg("steps rejected")
		t.opts.Metrics.CallFinished(t.opts.Name, outcomeRejected)
		_ = src.Close()
		return nil, err
	}
	prog.StepTimeout = t.opts.StepTimeout

	sctx, cancelStartup := context.WithTimeout(ctx, t.opts.StartupTimeout)
	pool, err := workerpool.New(sctx, workerpool.Config{
		Size:    t.opts.Concurrency,
		Spawner: t.opts.Spawner,
		Name:    t.opts.Name,
		Logger:  t.opts.Logger,
		Metrics: t.opts.Metrics,
	}, prog)
	cancelStartup()
	if err != nil {
		logger.Error().Err(err).Msg("pool startup failed")
		t.opts.Metrics.CallFinished(t.opts.Name, outcomeRejected)
		_ = src.Close()
		return nil, err
	}
	t.active.Add(int64(pool.Size()))

	cctx, cancel := context.WithCancel(ctx)
	c := &call{
		id:      id,
		tide:    t,
		opts:    t.opts,
		logger:  logger,
		pool:    pool,
		src:     src,
		ctx:     cctx,
		cancel:  cancel,
		early:   newEarlyReturn(),
		results: make(chan outcome),
		out:     make(chan any),
		done:    make(chan struct{}),
	}
	c.state.advance(StatePoolReady)

	logger.Debug().
		Int("workers", pool.Size()).
		Int("steps", prog.Len()).
		Str("failure_behavior", string(t.opts.FailureBehavior)).
		Bool("keep_order", t.opts.KeepOrder).
		Msg("call started")

	go c.run()
	return c, nil
}

func (c *call) run() {
	c.state.advance(StateDispatching)
	go c.produce()
	c.fold()
	c.finish()
	c.teardown()
}

// produce pulls items in arrival order and dispatches each on its own
// goroutine, with at most MaxInFlight outstanding. It stops at the end of
// the source, on a source error, when the call ends, or when the
// early-return flag trips.
func (c *call) produce() {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(c.results)
	}()

	pctx, stop := context.WithCancel(c.ctx)
	defer stop()
	go func() {
		select {
		case <-c.early.done():
			stop()
		case <-pctx.Done():
		}
	}()

	sem := make(chan struct{}, c.opts.MaxInFlight)
	for index := 0; ; index++ {
		select {
		case sem <- struct{}{}:
		case <-pctx.Done():
			return
		}

		item, ok, err := c.src.Next(pctx)
		if err != nil {
			<-sem
			if pctx.Err() == nil {
				c.logger.Error().Err(err).Int("index", index).Msg("source failed")
				c.fail(err)
			}
			return
		}
		if !ok || pctx.Err() != nil {
			<-sem
			return
		}

		if err := c.throttle(pctx); err != nil {
			<-sem
			if pctx.Err() == nil {
				c.logger.Error().Err(err).Int("index", index).Msg("rate limiter failed")
				c.fail(err)
			}
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.dispatch(index, item)
		}()
	}
}

// throttle waits on the configured limiter, if any.
func (c *call) throttle(ctx context.Context) error {
	if c.opts.Limiter == nil {
		return nil
	}
	start := time.Now()
	err := c.opts.Limiter.Wait(ctx)
	c.opts.Metrics.Throttled(c.opts.Name, time.Since(start))
	return err
}

// dispatch runs one item on an idle worker, chosen at random, and
// delivers exactly one outcome for it. The dispatch timeout starts once a
// worker is free, so time spent waiting behind another item's step never
// counts against this one.
func (c *call) dispatch(index int, item any) {
	ctx, cancel := context.WithCancel(c.ctx)
	defer cancel()

	if !c.early.track(index, cancel) {
		c.deliver(outcome{index: index, err: context.Canceled})
		return
	}
	defer c.early.untrack(index)

	h, err := c.pool.Acquire(ctx)
	if err != nil {
		c.deliver(outcome{index: index, err: err})
		return
	}

	timeout := c.opts.DispatchTimeout
	dctx, cancelTimeout := context.WithTimeoutCause(ctx, timeout,
		&dterrors.DispatchTimeoutError{WorkerID: h.ID(), Timeout: timeout})
	defer cancelTimeout()

	c.opts.Metrics.ItemDispatched(c.opts.Name)
	start := time.Now()

	out, err := h.Send(dctx, item)
	c.pool.Release(h)
	if err != nil && dctx.Err() != nil && ctx.Err() == nil {
		var timeoutErr *dterrors.DispatchTimeoutError
		if cause := context.Cause(dctx); errors.As(cause, &timeoutErr) {
			err = cause
		}
	}

	c.opts.Metrics.ItemReplied(c.opts.Name, failureKind(err), time.Since(start))
	c.deliver(outcome{index: index, value: out, err: err})
}

func (c *call) deliver(o outcome) {
	select {
	case c.results <- o:
	case <-c.ctx.Done():
	}
}

// fold applies the failure behavior to every outcome and releases
// results downstream. It returns once every dispatch has reported.
func (c *call) fold() {
	seq := newSequencer(c.opts.KeepOrder || c.opts.FailureBehavior == EarlyReturn)

	for o := range c.results {
		if c.ctx.Err() != nil {
			continue
		}
		if cut, tripped := c.early.cutoff(); tripped && o.index > cut {
			continue
		}

		var ready []any
		switch {
		case o.err == nil:
			ready = seq.resolve(o.index, o.value, true)
		case !dterrors.IsItemFailure(o.err):
			c.fail(o.err)
		default:
			ready = c.onFailure(seq, o)
		}

		for _, v := range ready {
			if !c.emit(v) {
				break
			}
		}
	}
}

func (c *call) onFailure(seq *sequencer, o outcome) []any {
	switch c.opts.FailureBehavior {
	case IgnoreRow:
		c.logger.Debug().Err(o.err).Int("index", o.index).Msg("item dropped")
		c.opts.Metrics.ItemDropped(c.opts.Name)
		return seq.resolve(o.index, nil, false)

	case EarlyReturn:
		if c.early.trip(o.index) {
			c.state.advance(StateShortCircuiting)
			c.opts.Metrics.EarlyReturn(c.opts.Name)
			c.logger.Debug().Err(o.err).Int("index", o.index).Msg("early return")
		}
		seq.truncate(o.index)
		return nil

	default:
		c.logger.Debug().Err(o.err).Int("index", o.index).Msg("item failed")
		c.fail(o.err)
		return nil
	}
}

func (c *call) emit(v any) bool {
	select {
	case c.out <- v:
		c.opts.Metrics.StreamEmitted(c.opts.Name)
		return true
	case <-c.ctx.Done():
		return false
	}
}

// fail ends the call with err. The first error wins.
func (c *call) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.settled {
		c.err = err
	}
	c.mu.Unlock()

	c.state.advance(StateDraining)
	c.cancel()
}

// abort ends the call from the consumer side. A nil err ends it without
// an error.
func (c *call) abort(err error) {
	if err != nil {
		c.fail(err)
		return
	}
	c.mu.Lock()
	if !c.settled {
		c.destroyed = true
	}
	c.mu.Unlock()
	c.cancel()
}

// finish settles the terminal error and state once fold has returned.
func (c *call) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err == nil && !c.destroyed && c.ctx.Err() != nil {
		c.err = c.ctx.Err()
	}
	c.settled = true
	c.state.advance(StateCompleted)
}

func (c *call) terminalErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *call) outcome() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.err != nil:
		return outcomeFailed
	case c.destroyed:
		return outcomeDestroyed
	case c.state.load() == StateShortCircuiting:
		return outcomeEarlyReturn
	default:
		return outcomeCompleted
	}
}

// teardown terminates the pool and closes the source and the output. It
// runs once, after every dispatch has reported.
func (c *call) teardown() {
	c.teardownOnce.Do(func() {
		result := c.outcome()
		c.cancel()

		if err := c.pool.Shutdown(); err != nil {
			c.logger.Warn().Err(err).Msg("worker shutdown")
		}
		c.tide.active.Add(-int64(c.pool.Size()))

		if err := c.src.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("source close")
		}

		c.state.advance(StateTornDown)
		c.opts.Metrics.CallFinished(c.opts.Name, result)

		ev := c.logger.Debug()
		if err := c.terminalErr(); err != nil {
			ev = c.logger.Info().Err(err)
		}
		ev.Str("outcome", result).Msg("call finished")

		close(c.out)
		close(c.done)
	})
}

// failureKind labels err for metrics. Success is the empty string.
func failureKind(err error) string {
	var (
		dispatch  *dterrors.DispatchTimeoutError
		transport *dterrors.TransportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &dispatch):
		return "dispatch_timeout"
	case errors.As(err, &transport):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return pipeline.FailureOf(err).Kind
	}
}
