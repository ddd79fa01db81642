package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every datatide metric.
const DefaultNamespace = "datatide"

// Registry holds all metric instances for datatide components.
type Registry struct {
	// Orchestrator metrics, labeled by tide name
	ItemsDispatched  *prometheus.CounterVec
	ItemsSucceeded   *prometheus.CounterVec
	ItemsFailed      *prometheus.CounterVec
	ItemsDropped     *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	EarlyReturns     *prometheus.CounterVec
	Calls            *prometheus.CounterVec
	ThrottleWait     *prometheus.HistogramVec

	// Worker metrics, labeled by pool name
	WorkersActive     *prometheus.GaugeVec
	WorkersSpawned    *prometheus.CounterVec
	WorkersTerminated *prometheus.CounterVec
	StartupFailures   *prometheus.CounterVec

	// Streaming metrics
	StreamItemsEmitted *prometheus.CounterVec

	// Scheduler metrics, labeled by job id
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the registry bound to prometheus.DefaultRegisterer.
// It is created on first use.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return newRegistry(Config{Registry: reg, Namespace: DefaultNamespace})
}

func newRegistry(config Config) *Registry {
	factory := promauto.With(config.Registry)
	ns := config.Namespace
	labels := config.Labels

	return &Registry{
		ItemsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "items_dispatched_total",
				Help:        "Total number of items sent to a worker",
				ConstLabels: labels,
			},
			[]string{"tide"},
		),

		ItemsSucceeded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "items_succeeded_total",
				Help:        "Total number of items that passed every step",
				ConstLabels: labels,
			},
			[]string{"tide"},
		),

		ItemsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "items_failed_total",
				Help:        "Total number of items that failed, by failure kind",
				ConstLabels: labels,
			},
			[]string{"tide", "kind"},
		),

		ItemsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "items_dropped_total",
				Help:        "Total number of failed items dropped by the ignore-row behavior",
				ConstLabels: labels,
			},
			[]string{"tide"},
		),

		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "dispatch_duration_seconds",
				Help:        "Time from sending an item to a worker until its reply",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"tide"},
		),

		InFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "in_flight",
				Help:        "Number of items currently awaiting a worker reply",
				ConstLabels: labels,
			},
			[]string{"tide"},
		),

		EarlyReturns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "early_returns_total",
				Help:        "Total number of calls ended by the early-return behavior",
				ConstLabels: labels,
			},
			[]string{"tide"},
		),

		Calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "calls_total",
				Help:        "Total number of process calls, by outcome",
				ConstLabels: labels,
			},
			[]string{"tide", "outcome"},
		),

		ThrottleWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "tide",
				Name:        "throttle_wait_seconds",
				Help:        "Time the producer waited on the dispatch rate limiter",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"tide"},
		),

		WorkersActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   "workers",
				Name:        "active",
				Help:        "Number of live worker handles",
				ConstLabels: labels,
			},
			[]string{"pool"},
		),

		WorkersSpawned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workers",
				Name:        "spawned_total",
				Help:        "Total number of workers started",
				ConstLabels: labels,
			},
			[]string{"pool"},
		),

		WorkersTerminated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workers",
				Name:        "terminated_total",
				Help:        "Total number of workers terminated",
				ConstLabels: labels,
			},
			[]string{"pool"},
		),

		StartupFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "workers",
				Name:        "startup_failures_total",
				Help:        "Total number of workers that failed to start",
				ConstLabels: labels,
			},
			[]string{"pool"},
		),

		StreamItemsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "stream",
				Name:        "items_emitted_total",
				Help:        "Total number of results emitted on live streams",
				ConstLabels: labels,
			},
			[]string{"tide"},
		),

		JobRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   "scheduler",
				Name:        "job_runs_total",
				Help:        "Total number of scheduled job runs, by outcome",
				ConstLabels: labels,
			},
			[]string{"job", "outcome"},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   "scheduler",
				Name:        "job_duration_seconds",
				Help:        "Duration of scheduled job runs",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"job"},
		),
	}
}

// ItemDispatched records an item sent to a worker.
func (r *Registry) ItemDispatched(tide string) {
	if r == nil {
		return
	}
	r.ItemsDispatched.WithLabelValues(tide).Inc()
	r.InFlight.WithLabelValues(tide).Inc()
}

// ItemReplied records the outcome of one dispatch. An empty kind means
// success.
func (r *Registry) ItemReplied(tide, kind string, d time.Duration) {
	if r == nil {
		return
	}
	r.InFlight.WithLabelValues(tide).Dec()
	r.DispatchDuration.WithLabelValues(tide).Observe(d.Seconds())
	if kind == "" {
		r.ItemsSucceeded.WithLabelValues(tide).Inc()
		return
	}
	r.ItemsFailed.WithLabelValues(tide, kind).Inc()
}

// ItemDropped records a failed item skipped by the ignore-row behavior.
func (r *Registry) ItemDropped(tide string) {
	if r == nil {
		return
	}
	r.ItemsDropped.WithLabelValues(tide).Inc()
}

// EarlyReturn records a call ended by the early-return behavior.
func (r *Registry) EarlyReturn(tide string) {
	if r == nil {
		return
	}
	r.EarlyReturns.WithLabelValues(tide).Inc()
}

// CallFinished records the outcome of a process call.
func (r *Registry) CallFinished(tide, outcome string) {
	if r == nil {
		return
	}
	r.Calls.WithLabelValues(tide, outcome).Inc()
}

// WorkerSpawned records a started worker.
func (r *Registry) WorkerSpawned(pool string) {
	if r == nil {
		return
	}
	r.WorkersSpawned.WithLabelValues(pool).Inc()
	r.WorkersActive.WithLabelValues(pool).Inc()
}

// WorkerTerminated records a terminated worker.
func (r *Registry) WorkerTerminated(pool string) {
	if r == nil {
		return
	}
	r.WorkersTerminated.WithLabelValues(pool).Inc()
	r.WorkersActive.WithLabelValues(pool).Dec()
}

// WorkerStartupFailed records a worker that did not come up.
func (r *Registry) WorkerStartupFailed(pool string) {
	if r == nil {
		return
	}
	r.StartupFailures.WithLabelValues(pool).Inc()
}

// Throttled records time spent waiting on the dispatch rate limiter.
func (r *Registry) Throttled(tide string, d time.Duration) {
	if r == nil {
		return
	}
	r.ThrottleWait.WithLabelValues(tide).Observe(d.Seconds())
}

// StreamEmitted records a result delivered on a live stream.
func (r *Registry) StreamEmitted(tide string) {
	if r == nil {
		return
	}
	r.StreamItemsEmitted.WithLabelValues(tide).Inc()
}

// JobRun records a scheduled job run.
func (r *Registry) JobRun(job, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.JobRuns.WithLabelValues(job, outcome).Inc()
	r.JobDuration.WithLabelValues(job).Observe(d.Seconds())
}
