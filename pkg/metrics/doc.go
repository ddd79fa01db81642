// Package metrics provides Prometheus instrumentation for datatide components.
//
// # Overview
//
// The metrics package instruments:
//   - Process calls (dispatched, succeeded, failed and dropped items, dispatch latency)
//   - Worker pools (active, spawned and terminated workers, startup failures)
//   - Live streams (emitted results)
//   - Scheduled jobs (runs by outcome, run duration)
//
// # Quick Start
//
// Pass a registry to the components that should report:
//
//	reg := metrics.NewRegistry(prometheus.NewRegistry())
//
//	dt, _ := tide.New(tide.Options{Name: "orders", Metrics: reg})
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// A nil *Registry is valid and records nothing, so components never need
// to check whether metrics are enabled.
//
// # Available Metrics
//
//   - datatide_tide_items_dispatched_total{tide}
//   - datatide_tide_items_succeeded_total{tide}
//   - datatide_tide_items_failed_total{tide,kind}
//   - datatide_tide_items_dropped_total{tide}
//   - datatide_tide_dispatch_duration_seconds{tide}
//   - datatide_tide_in_flight{tide}
//   - datatide_tide_early_returns_total{tide}
//   - datatide_tide_calls_total{tide,outcome}
//   - datatide_workers_active{pool}
//   - datatide_workers_spawned_total{pool}
//   - datatide_workers_terminated_total{pool}
//   - datatide_workers_startup_failures_total{pool}
//   - datatide_stream_items_emitted_total{tide}
//   - datatide_scheduler_job_runs_total{job,outcome}
//   - datatide_scheduler_job_duration_seconds{job}
//
// # Custom Registry
//
//	config := metrics.Config{
//		Enabled:   true,
//		Registry:  prometheus.NewRegistry(),
//		Namespace: "etl",
//	}
//	reg := metrics.New(config)
package metrics
