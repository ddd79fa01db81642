/*
Package tide runs a chain of transform steps over a sequence of items on a
pool of isolated workers.

A call validates and transfers the steps, starts Concurrency workers bound
to them, then dispatches every item to a worker picked at random and
folds the replies into a result slice or a live Stream. The pool belongs
to the call: it is torn down when the call ends, whatever the reason.

# Basic Usage

	dt, err := tide.New(tide.Options{
		Concurrency:     4,
		FailureBehavior: tide.IgnoreRow,
	})
	if err != nil {
		return err
	}

	out, err := dt.Process(ctx, []any{1, 2, 3}, []transform.Step{
		{Name: "double", Transform: double},
	})

# Failure Behavior

Steps that return an error, panic or time out fail their item. What that
does to the call depends on FailureBehavior:

  - FailAll ends the call with the item's error and returns no results.
  - IgnoreRow drops the item and carries on.
  - EarlyReturn ends the call without error, returning the results of
    every item before the first failing one, in input order.

Configuration errors, unsafe transforms and worker startup failures are
reported before any item is dispatched, whatever the behavior.

# Timeouts

Each step runs under StepTimeout inside the worker. An item waits for an
idle worker, then at most DispatchTimeout for its reply; waiting for the
worker is not counted, so a hung step only ever costs its own item. The
two budgets are layered: a step timeout is reported by the worker as a
StepTimeoutError, a dispatch timeout by the orchestrator as a
DispatchTimeoutError.

# Streams

ProcessStream returns as soon as the pool is ready. Results are released
as they complete, or in input order with KeepOrder. A source error ends
the stream with that error. Destroy ends it early and guarantees the pool
is gone when it returns:

	s, err := dt.ProcessStream(ctx, source.FromChannel(in), steps)
	if err != nil {
		return err
	}
	defer s.Destroy(nil)

	for v := range s.Results() {
		fmt.Println(v)
	}
	return s.Err()

# Workers

Workers run on goroutines by default. Set Spawner to a
workerpool.ProcessSpawner to run each worker in its own OS process; steps
must then be registered by name in a transform.Registry that the worker
binary also holds.
*/
package tide
