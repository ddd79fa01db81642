/*
Package datatide runs a chain of transform steps over a collection or a
live stream of items, spreading the items across a per-call pool of
workers.

Processing (pkg/tide):
  - DataTide: Process, ProcessSource and ProcessStream
  - failure behaviors: fail-all, ignore-row, early-return
  - optional input-order output, dispatch and step timeouts

Transforms (pkg/transform):
  - Step, Registry and the deny-list Scanner
  - Transfer: validates a step list into a Program for workers

Workers (pkg/scheduling):
  - pipeline: rebuilds a Program into a step chain with per-step timeouts
  - workerpool: in-process and subprocess workers, random pick
  - scheduler: cron-scheduled batch runs

Streaming (pkg/streaming):
  - source: slices, channels, pipes, buffers, readers, Redis Streams
  - sink: collectors, batches, writers, Redis Streams

Throttling (pkg/ratelimit):
  - local and Redis-backed token buckets gating dispatch

Example usage:

	import (
		"github.com/vnykmshr/datatide/pkg/tide"
		"github.com/vnykmshr/datatide/pkg/transform"
	)

	dt, _ := tide.New(tide.Options{Concurrency: 4, KeepOrder: true})

	out, err := dt.Process(ctx, []any{1, 2, 3}, []transform.Step{
		{Name: "square", Transform: square},
	})
*/
package datatide
