/*
Package workerpool provides the fixed set of isolated workers a datatide
call fans items out to.

A pool is created for one call, bound to one transform.Program, and shut
down when the call ends. Workers never outlive their pool.

Basic usage:

	pool, err := workerpool.New(ctx, workerpool.Config{Size: 4}, prog)
	if err != nil {
		return err // *errors.WorkerStartupError if a worker could not start
	}
	defer pool.Shutdown()

	h, err := pool.Acquire(ctx) // a random idle worker
	if err != nil {
		return err
	}
	out, err := h.Send(ctx, item)
	pool.Release(h)

Runtimes:

Workers are started by a Spawner. Two are provided.

GoroutineSpawner runs each worker on its own goroutine with a mailbox.
Items are executed one at a time per worker; Acquire hands each worker
to one caller at a time so nothing queues behind a slow item. Closures work, since the
program is shared in memory. A step that ignores its context is abandoned
on timeout and keeps its goroutine until it returns.

ProcessSpawner runs each worker as a child process, by default the running
executable with DATATIDE_WORKER=1 set. The child must hand control to the
worker loop early in main:

	func main() {
		transform.MustRegister("double", double)
		workerpool.MaybeServe(transform.Default)
		// normal program
	}

Parent and child exchange msgpack frames over stdin and stdout: the
program first, answered by a handshake, then requests correlated by id.
Only registered transforms can run in a child. Terminate closes the
child's input, then sends SIGTERM to its process group and finally
SIGKILL, each after the grace period. A child that dies fails its pending
requests with a TransportError.

Send outcomes:

  - the chain result
  - a chain failure: *errors.StepTimeoutError, *errors.StepRuntimeError, *errors.UnknownError
  - *errors.TransportError when the worker is gone
  - ctx.Err() when the caller's context ends first

Shutdown terminates all workers concurrently, is idempotent and joins
their errors. Once Shutdown starts, Acquire returns errors.ErrClosed,
including to callers already waiting for a worker.

Metrics:

With Config.Metrics set the pool reports spawned, active and terminated
workers and startup failures, labeled by Config.Name.
*/
package workerpool
