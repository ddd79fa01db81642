package workerpool

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/common/validation"
	"github.com/vnykmshr/datatide/pkg/metrics"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// Handle is one live worker. It is owned by a Pool and valid until the
// pool shuts down.
type Handle interface {
	// ID returns the worker's index in its pool.
	ID() int

	// Send runs the worker's chain on item and returns the result. It
	// returns ctx.Err() when ctx ends first, a chain failure
	// (StepTimeoutError, StepRuntimeError, UnknownError) when the chain
	// fails, or a TransportError when the worker is gone.
	Send(ctx context.Context, item any) (any, error)

	// Terminate stops the worker. It is idempotent.
	Terminate() error
}

// Spawner starts workers bound to a program. Spawn returns a
// WorkerStartupError if the worker cannot rebuild the program.
type Spawner interface {
	Spawn(ctx context.Context, id int, prog *transform.Program) (Handle, error)
}

// Config holds configuration options for creating a pool.
type Config struct {
	// Size is the number of workers. Must be greater than 0.
	Size int

	// Spawner starts each worker. Defaults to GoroutineSpawner.
	Spawner Spawner

	// Name labels the pool in logs and metrics.
	Name string

	// Logger receives lifecycle events. Nil disables logging.
	Logger *zerolog.Logger

	// Metrics records spawned, active and terminated workers. Optional.
	Metrics *metrics.Registry
}

// Pool is a fixed set of workers created for one call. A worker serves
// one caller at a time: Acquire takes an idle worker and Release gives it
// back.
type Pool struct {
	config  Config
	handles []Handle
	logger  zerolog.Logger

	slots   chan struct{} // one token per idle worker
	closing chan struct{}

	mu           sync.Mutex
	idle         []Handle
	shutdownOnce sync.Once
	shutdownErr  error
}

// New starts config.Size workers concurrently. If any worker fails to
// start, every worker that did start is terminated and the first error
// is returned.
func New(ctx context.Context, config Config, prog *transform.Program) (*Pool, error) {
	if err := validation.ValidatePositive("workerpool", "Size", config.Size); err != nil {
		return nil, err
	}
	if config.Spawner == nil {
		config.Spawner = &GoroutineSpawner{Logger: config.Logger}
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "workerpool").Str("pool", config.Name).Logger()
	}

	handles := make([]Handle, config.Size)
	g, gctx := errgroup.WithContext(ctx)
	for i := range handles {
		g.Go(func() error {
			h, err := config.Spawner.Spawn(gctx, i, prog)
			if err != nil {
				config.Metrics.WorkerStartupFailed(config.Name)
				return err
			}
			handles[i] = h
			config.Metrics.WorkerSpawned(config.Name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, h := range handles {
			if h == nil {
				continue
			}
			if termErr := h.Terminate(); termErr != nil {
				logger.Warn().Err(termErr).Int("worker_id", h.ID()).Msg("terminate after failed startup")
			}
			config.Metrics.WorkerTerminated(config.Name)
		}
		logger.Error().Err(err).Msg("pool startup failed")
		return nil, err
	}

	logger.Debug().Int("size", config.Size).Msg("pool ready")
	p := &Pool{
		config:  config,
		handles: handles,
		logger:  logger,
		slots:   make(chan struct{}, len(handles)),
		closing: make(chan struct{}),
		idle:    append([]Handle(nil), handles...),
	}
	for range handles {
		p.slots <- struct{}{}
	}
	return p, nil
}

// Acquire takes an idle worker, chosen uniformly at random among the idle
// ones, waiting until one is free. It returns ctx.Err() if ctx ends first
// and ErrClosed once Shutdown has started. Every acquired worker must be
// given back with Release exactly once.
func (p *Pool) Acquire(ctx context.Context) (Handle, error) {
	select {
	case <-p.closing:
		return nil, dterrors.ErrClosed
	default:
	}

	select {
	case <-p.slots:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closing:
		return nil, dterrors.ErrClosed
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	i := rand.IntN(len(p.idle))
	h := p.idle[i]
	last := len(p.idle) - 1
	p.idle[i] = p.idle[last]
	p.idle = p.idle[:last]
	return h, nil
}

// Release returns a worker taken with Acquire.
func (p *Pool) Release(h Handle) {
	p.mu.Lock()
	p.idle = append(p.idle, h)
	p.mu.Unlock()
	p.slots <- struct{}{}
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.handles)
}

// Shutdown terminates every worker concurrently. It is idempotent; later
// calls return the result of the first.
func (p *Pool) Shutdown() error {
	p.shutdownOnce.Do(func() {
		close(p.closing)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for _, h := range p.handles {
			wg.Add(1)
			go func(h Handle) {
				defer wg.Done()
				if err := h.Terminate(); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				p.config.Metrics.WorkerTerminated(p.config.Name)
			}(h)
		}
		wg.Wait()

		p.shutdownErr = errors.Join(errs...)
		p.logger.Debug().Err(p.shutdownErr).Msg("pool shut down")
	})
	return p.shutdownErr
}
