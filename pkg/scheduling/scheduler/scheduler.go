package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/common/validation"
	"github.com/vnykmshr/datatide/pkg/metrics"
	"github.com/vnykmshr/datatide/pkg/streaming/sink"
	"github.com/vnykmshr/datatide/pkg/streaming/source"
	"github.com/vnykmshr/datatide/pkg/tide"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// ErrRunning is returned by RunNow when the job is already running.
var ErrRunning = errors.New("job is already running")

// Job outcomes as recorded in metrics.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks a schedule expression.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Job is a scheduled batch run.
type Job struct {
	// ID names the job. Required and unique per scheduler.
	ID string

	// Spec is the cron expression, e.g. "*/30 * * * * *" or "@hourly".
	Spec string

	// NewSource opens the items for one run. Required.
	NewSource func(ctx context.Context) (source.Source, error)

	// Steps are applied to every item.
	Steps []transform.Step

	// NewSink opens the destination for one run. When nil the results
	// are counted and discarded.
	NewSink func(ctx context.Context) (sink.Sink, error)

	// Timeout bounds one run. Zero means no limit.
	Timeout time.Duration
}

// RunResult describes one finished run.
type RunResult struct {
	JobID    string
	Started  time.Time
	Duration time.Duration
	Items    int
	Err      error
}

// JobInfo describes a scheduled job.
type JobInfo struct {
	ID      string
	Spec    string
	Next    time.Time
	Prev    time.Time
	Running bool
}

// Config holds scheduler configuration.
type Config struct {
	// Tide runs every job. Required.
	Tide *tide.DataTide

	// Location evaluates schedules. Defaults to time.Local.
	Location *time.Location

	// OnRun is called after every run, scheduled or not.
	OnRun func(RunResult)

	Logger  *zerolog.Logger
	Metrics *metrics.Registry
}

type entry struct {
	job     Job
	cronID  cron.EntryID
	running atomic.Bool
}

// Scheduler runs jobs on their schedules.
type Scheduler struct {
	config Config
	cron   *cron.Cron
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.RWMutex
	jobs map[string]*entry
}

// New creates a stopped scheduler.
func New(config Config) (*Scheduler, error) {
	if err := validation.ValidateNotNil("scheduler", "Tide", config.Tide); err != nil {
		return nil, err
	}
	if config.Location == nil {
		config.Location = time.Local
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "scheduler").Logger()
	}
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config: config,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(config.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*entry),
	}, nil
}

// Schedule adds a job. Its first run is at the next time Spec matches.
func (s *Scheduler) Schedule(job Job) error {
	if err := validation.ValidateNotEmpty("scheduler", "ID", job.ID); err != nil {
		return err
	}
	if err := validation.ValidateNotNil("scheduler", "NewSource", job.NewSource); err != nil {
		return err
	}
	sched, err := parser.Parse(job.Spec)
	if err != nil {
		return dterrors.NewValidationError("scheduler", "Spec", job.Spec, err.Error()).
			WithHint(`use a cron expression such as "0 */5 * * * *" or "@hourly"`)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return dterrors.NewValidationError("scheduler", "ID", job.ID, "already scheduled").
			WithHint("remove the existing job first")
	}

	e := &entry{job: job}
	e.cronID = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(e) }))
	s.jobs[job.ID] = e

	s.logger.Debug().Str("job", job.ID).Str("spec", job.Spec).Msg("job scheduled")
	return nil
}

// Remove unschedules a job. A run in progress is not interrupted.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(e.cronID)
	delete(s.jobs, id)
	return true
}

// Next returns the next scheduled run of a job. It is zero until the
// scheduler is started.
func (s *Scheduler) Next(id string) (time.Time, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return time.Time{}, fmt.Errorf("job %q: %w", id, errNotFound)
	}
	return s.cron.Entry(e.cronID).Next, nil
}

var errNotFound = errors.New("not found")

// Jobs returns the scheduled jobs sorted by ID.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for id, e := range s.jobs {
		ce := s.cron.Entry(e.cronID)
		infos = append(infos, JobInfo{
			ID:      id,
			Spec:    e.job.Spec,
			Next:    ce.Next,
			Prev:    ce.Prev,
			Running: e.running.Load(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// RunNow runs a job immediately and waits for it. It returns ErrRunning
// if a run of the job is already in progress.
func (s *Scheduler) RunNow(ctx context.Context, id string) (RunResult, error) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return RunResult{}, fmt.Errorf("job %q: %w", id, errNotFound)
	}
	if !e.running.CompareAndSwap(false, true) {
		return RunResult{}, ErrRunning
	}
	defer e.running.Store(false)

	res := s.run(ctx, e.job)
	return res, res.Err
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Debug().Msg("scheduler started")
}

// Stop halts scheduling and cancels running jobs. The returned channel is
// closed once they have returned.
func (s *Scheduler) Stop() <-chan struct{} {
	stopCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.logger.Debug().Msg("scheduler stopped")
		close(done)
	}()
	return done
}

// fire is the cron callback. Overlapping runs are skipped.
func (s *Scheduler) fire(e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Info().Str("job", e.job.ID).Msg("previous run still going, skipped")
		s.config.Metrics.JobRun(e.job.ID, outcomeSkipped, 0)
		return
	}
	defer e.running.Store(false)

	_ = s.run(s.ctx, e.job)
}

func (s *Scheduler) run(ctx context.Context, job Job) RunResult {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	res := RunResult{JobID: job.ID, Started: time.Now()}
	res.Items, res.Err = s.execute(ctx, job)
	res.Duration = time.Since(res.Started)

	outcome := outcomeSuccess
	ev := s.logger.Debug()
	if res.Err != nil {
		outcome = outcomeFailure
		ev = s.logger.Error().Err(res.Err)
	}
	ev.Str("job", job.ID).Int("items", res.Items).Dur("duration", res.Duration).Msg("job run finished")
	s.config.Metrics.JobRun(job.ID, outcome, res.Duration)

	if s.config.OnRun != nil {
		s.config.OnRun(res)
	}
	return res
}

func (s *Scheduler) execute(ctx context.Context, job Job) (int, error) {
	src, err := job.NewSource(ctx)
	if err != nil {
		return 0, dterrors.NewOperationError("scheduler", "NewSource", err).WithContext("job " + job.ID)
	}

	stream, err := s.config.Tide.ProcessStream(ctx, src, job.Steps)
	if err != nil {
		return 0, err
	}

	var dst sink.Sink = sink.Func(func(context.Context, any) error { return nil })
	if job.NewSink != nil {
		if dst, err = job.NewSink(ctx); err != nil {
			stream.Destroy(err)
			return 0, dterrors.NewOperationError("scheduler", "NewSink", err).WithContext("job " + job.ID)
		}
	}

	counter := &countingSink{Sink: dst}
	err = stream.PipeTo(ctx, counter)
	return counter.n, err
}

// countingSink counts successful writes.
type countingSink struct {
	sink.Sink
	n int
}

func (c *countingSink) Write(ctx context.Context, item any) error {
	if err := c.Sink.Write(ctx, item); err != nil {
		return err
	}
	c.n++
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
