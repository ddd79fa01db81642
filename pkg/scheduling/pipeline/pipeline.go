package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// DefaultStepTimeout bounds a single step when the program sets none.
const DefaultStepTimeout = 30 * time.Second

// Stage represents a single step of a chain.
type Stage interface {
	// Execute processes the input and returns the result.
	Execute(ctx context.Context, input any) (any, error)

	// Name returns the step name, possibly empty.
	Name() string
}

// StageFunc adapts a transform.Func to the Stage interface.
type StageFunc struct {
	name string
	fn   transform.Func
}

// Execute implements the Stage interface for StageFunc.
func (sf *StageFunc) Execute(ctx context.Context, input any) (any, error) {
	return sf.fn(ctx, input)
}

// Name returns the stage name.
func (sf *StageFunc) Name() string {
	return sf.name
}

// NewStageFunc creates a new stage from a function.
func NewStageFunc(name string, fn transform.Func) Stage {
	return &StageFunc{name: name, fn: fn}
}

// StageResult represents the result of a single stage execution.
type StageResult struct {
	Index     int
	StageName string
	Error     error
	Duration  time.Duration
	StartTime time.Time
	EndTime   time.Time
}

// Stats holds chain execution statistics.
type Stats struct {
	TotalExecutions int64
	SuccessfulRuns  int64
	FailedRuns      int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
	StageStats      []StageStats
	LastExecutionAt time.Time
}

// StageStats holds statistics for one stage position.
type StageStats struct {
	Name            string
	ExecutionCount  int64
	SuccessCount    int64
	ErrorCount      int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
}

// Config holds chain options.
type Config struct {
	// OnStageComplete is called after every stage, successful or not.
	OnStageComplete func(result StageResult)

	// Logger receives step failures at debug level. Nil disables logging.
	Logger *zerolog.Logger
}

// Chain runs an item through a fixed sequence of stages. It is safe for
// concurrent use; each Execute call is independent.
type Chain struct {
	stages  []Stage
	timeout time.Duration
	config  Config
	logger  zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// Reconstruct rebuilds the chain described by prog. Locally captured
// functions are preferred; otherwise each code is resolved through the
// program's resolver. Any unresolvable step fails the whole chain.
func Reconstruct(prog *transform.Program, config Config) (*Chain, error) {
	if prog == nil {
		return nil, &dterrors.WorkerStartupError{Index: -1, Cause: errors.New("no program")}
	}

	stages := make([]Stage, len(prog.Steps))
	for i, step := range prog.Steps {
		fn, ok := prog.Local(i)
		if !ok && prog.Resolver != nil {
			fn, ok = prog.Resolver.Resolve(step.Code)
		}
		if !ok {
			return nil, &dterrors.WorkerStartupError{
				Step:  step.Name,
				Index: i,
				Cause: fmt.Errorf("transform %q is not available in this worker", step.Code),
			}
		}
		stages[i] = NewStageFunc(step.Name, fn)
	}

	return New(stages, prog.StepTimeout, config), nil
}

// New creates a chain from stages. A non-positive timeout uses
// DefaultStepTimeout.
func New(stages []Stage, timeout time.Duration, config Config) *Chain {
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}
	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "pipeline").Logger()
	}

	c := &Chain{
		stages:  stages,
		timeout: timeout,
		config:  config,
		logger:  logger,
	}
	c.stats.StageStats = make([]StageStats, len(stages))
	for i, s := range stages {
		c.stats.StageStats[i].Name = dterrors.StepLabel(s.Name())
	}
	return c
}

// Len returns the number of stages.
func (c *Chain) Len() int {
	return len(c.stages)
}

// StepTimeout returns the per-stage budget.
func (c *Chain) StepTimeout() time.Duration {
	return c.timeout
}

// Execute threads input through every stage in order. The first failing
// stage aborts the chain. Failures are normalized to StepTimeoutError,
// StepRuntimeError or UnknownError. If ctx itself ends, ctx.Err() is
// returned unchanged.
func (c *Chain) Execute(ctx context.Context, input any) (any, error) {
	start := time.Now()
	current := input

	var err error
	for i, stage := range c.stages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}
		current, err = c.executeStage(ctx, i, stage, current)
		if err != nil {
			current = nil
			break
		}
	}

	c.updateStats(time.Since(start), err)
	return current, err
}

type outcome struct {
	out any
	err error
}

func (c *Chain) executeStage(ctx context.Context, i int, stage Stage, input any) (any, error) {
	startTime := time.Now()
	output, err := c.runWithTimeout(ctx, stage, input)
	endTime := time.Now()

	result := StageResult{
		Index:     i,
		StageName: stage.Name(),
		Error:     err,
		Duration:  endTime.Sub(startTime),
		StartTime: startTime,
		EndTime:   endTime,
	}
	c.updateStageStats(result)

	if err != nil {
		c.logger.Debug().Err(err).Int("step_index", i).
			Str("step", dterrors.StepLabel(stage.Name())).Msg("step failed")
	}
	if c.config.OnStageComplete != nil {
		c.config.OnStageComplete(result)
	}

	return output, err
}

// runWithTimeout races the stage against its budget. A stage that ignores
// its context keeps its goroutine until it returns; the result is dropped.
func (c *Chain) runWithTimeout(ctx context.Context, stage Stage, input any) (any, error) {
	stepCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fromPanic(stage.Name(), r)}
			}
		}()
		out, err := stage.Execute(stepCtx, input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return nil, &dterrors.StepTimeoutError{Step: stage.Name(), Timeout: c.timeout}
		}
		return nil, normalize(stage.Name(), o.err)
	case <-stepCtx.Done():
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &dterrors.StepTimeoutError{Step: stage.Name(), Timeout: c.timeout}
	}
}

// normalize maps a returned error onto the step failure taxonomy.
func normalize(step string, err error) error {
	var (
		timeout *dterrors.StepTimeoutError
		rt      *dterrors.StepRuntimeError
		unknown *dterrors.UnknownError
	)
	switch {
	case errors.As(err, &timeout), errors.As(err, &rt), errors.As(err, &unknown):
		return err
	case err.Error() == "":
		return &dterrors.UnknownError{Step: step}
	default:
		return &dterrors.StepRuntimeError{Step: step, Message: err.Error(), Cause: err}
	}
}

// fromPanic maps a recovered value. Only a non-nil error with a message
// keeps its text.
func fromPanic(step string, r any) error {
	err, ok := r.(error)
	if !ok {
		return &dterrors.UnknownError{Step: step}
	}
	var nilPanic *runtime.PanicNilError
	if errors.As(err, &nilPanic) || err.Error() == "" {
		return &dterrors.UnknownError{Step: step}
	}
	return &dterrors.StepRuntimeError{Step: step, Message: err.Error(), Cause: err}
}

// Stats returns chain execution statistics.
func (c *Chain) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	statsCopy := c.stats
	statsCopy.StageStats = append([]StageStats(nil), c.stats.StageStats...)
	if statsCopy.TotalExecutions > 0 {
		statsCopy.AverageDuration = time.Duration(int64(statsCopy.TotalDuration) / statsCopy.TotalExecutions)
	}
	return statsCopy
}

func (c *Chain) updateStats(d time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalExecutions++
	c.stats.TotalDuration += d
	c.stats.LastExecutionAt = time.Now()
	if err == nil {
		c.stats.SuccessfulRuns++
	} else {
		c.stats.FailedRuns++
	}
}

func (c *Chain) updateStageStats(result StageResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := &c.stats.StageStats[result.Index]
	stats.ExecutionCount++
	stats.TotalDuration += result.Duration
	if result.Error == nil {
		stats.SuccessCount++
	} else {
		stats.ErrorCount++
	}
	stats.AverageDuration = time.Duration(int64(stats.TotalDuration) / stats.ExecutionCount)
}
