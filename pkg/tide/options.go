package tide

import (
	"runtime"
	"testing"
	"time"

	"dario.cat/mergo"
	"github.com/rs/zerolog"

	"github.com/vnykmshr/datatide/pkg/common/validation"
	"github.com/vnykmshr/datatide/pkg/metrics"
	"github.com/vnykmshr/datatide/pkg/ratelimit"
	"github.com/vnykmshr/datatide/pkg/scheduling/workerpool"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// FailureBehavior decides what a failed item does to the call.
type FailureBehavior string

const (
	// FailAll ends the call with the first item failure.
	FailAll FailureBehavior = "fail-all"

	// IgnoreRow drops failed items and keeps going.
	IgnoreRow FailureBehavior = "ignore-row"

	// EarlyReturn ends the call without error at the first failure,
	// returning the results of the items before it.
	EarlyReturn FailureBehavior = "early-return"
)

// Default timeouts.
const (
	DefaultDispatchTimeout = 30 * time.Second
	DefaultStepTimeout     = 30 * time.Second
	DefaultStartupTimeout  = 10 * time.Second
)

// Options configures a DataTide. Zero fields take their value from
// DefaultOptions.
type Options struct {
	// Name labels calls in logs and metrics.
	Name string

	// KeepOrder emits results in input order instead of completion order.
	KeepOrder bool

	// FailureBehavior is one of FailAll, IgnoreRow or EarlyReturn.
	FailureBehavior FailureBehavior `validate:"oneof=fail-all ignore-row early-return"`

	// Concurrency is the number of workers per call.
	Concurrency int `validate:"gte=1"`

	// MaxInFlight bounds outstanding dispatches. Defaults to twice
	// Concurrency.
	MaxInFlight int `validate:"gte=0"`

	// DispatchTimeout bounds the wait for one reply. It starts once an
	// idle worker has taken the item.
	DispatchTimeout time.Duration `validate:"gt=0"`

	// StepTimeout bounds each step inside a worker.
	StepTimeout time.Duration `validate:"gt=0"`

	// StartupTimeout bounds pool creation.
	StartupTimeout time.Duration `validate:"gt=0"`

	// AllowDelays lets transforms use time.Sleep and time.After. Nil
	// allows them only under go test.
	AllowDelays *bool

	// Spawner starts workers. Defaults to workerpool.GoroutineSpawner.
	Spawner workerpool.Spawner `validate:"-"`

	// Limiter, when set, is waited on before each dispatch.
	Limiter ratelimit.Limiter `validate:"-"`

	// Registry resolves Step.Ref. Defaults to transform.Default.
	Registry *transform.Registry `validate:"-"`

	Logger  *zerolog.Logger   `validate:"-"`
	Metrics *metrics.Registry `validate:"-"`
}

// DefaultOptions returns the options used for unset fields.
func DefaultOptions() Options {
	return Options{
		Name:            "default",
		KeepOrder:       false,
		FailureBehavior: FailAll,
		Concurrency:     runtime.NumCPU(),
		DispatchTimeout: DefaultDispatchTimeout,
		StepTimeout:     DefaultStepTimeout,
		StartupTimeout:  DefaultStartupTimeout,
	}
}

// resolve merges opts over the defaults and validates the result.
func resolve(opts Options) (Options, error) {
	if err := mergo.Merge(&opts, DefaultOptions()); err != nil {
		return Options{}, err
	}
	if opts.MaxInFlight == 0 {
		opts.MaxInFlight = 2 * opts.Concurrency
	}
	if err := validation.Struct("tide", opts); err != nil {
		return Options{}, err
	}
	if opts.Registry == nil {
		opts.Registry = transform.Default
	}
	return opts, nil
}

func (o Options) allowDelays() bool {
	if o.AllowDelays != nil {
		return *o.AllowDelays
	}
	return testing.Testing()
}
