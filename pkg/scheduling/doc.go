/*
Package scheduling holds the execution side of datatide: where items are
actually transformed, and when batch runs happen.

  - pipeline: rebuilds a transferred step list into a chain and threads one
    item through it, bounding each step by the step timeout
  - workerpool: per-call pools of workers, either goroutines in this
    process or child processes speaking msgpack over stdin/stdout
  - scheduler: cron expressions that trigger a call over a fresh source

Pipeline:

	chain, err := pipeline.Reconstruct(prog, pipeline.Config{})
	out, err := chain.Execute(ctx, item)

Worker pool:

	pool, err := workerpool.New(ctx, workerpool.Config{Size: 4}, prog)
	defer pool.Shutdown()

	h, _ := pool.Acquire(ctx)
	out, err := h.Send(ctx, item)
	pool.Release(h)

Scheduler:

	sched, _ := scheduler.New(scheduler.Config{Tide: dt})
	_ = sched.Schedule(scheduler.Job{
		ID:        "nightly",
		Spec:      "0 2 * * *",
		NewSource: openExport,
		Steps:     steps,
	})
	sched.Start()
	defer func() { <-sched.Stop() }()

Most callers use these through pkg/tide rather than directly.
*/
package scheduling
