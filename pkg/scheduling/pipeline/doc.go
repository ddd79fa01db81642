/*
Package pipeline runs an item through an ordered chain of transform steps
inside a worker.

# Reconstruction

A worker receives a transform.Program and rebuilds it into a Chain:

	chain, err := pipeline.Reconstruct(prog, pipeline.Config{})
	if err != nil {
		// *errors.WorkerStartupError naming the step that could not be resolved
	}

Steps are never skipped. If any code cannot be resolved the worker does
not start.

# Execution

	out, err := chain.Execute(ctx, item)

Each step gets the output of the previous one. Every step races its own
timeout (the program's StepTimeout, 30s by default). The first failure
aborts the chain for that item and is normalized:

  - a step that runs past its budget: *errors.StepTimeoutError
  - an error with a message, or a panic with such an error: *errors.StepRuntimeError
  - a panic with any other value, or an error with no message: *errors.UnknownError

When the context passed to Execute ends, ctx.Err() is returned as is.

# Crossing a boundary

FailureOf turns a chain error into a Failure, a plain struct that can be
encoded on any transport. Failure.Err rebuilds the typed error on the
other side.

# Monitoring

	config := pipeline.Config{
		OnStageComplete: func(r pipeline.StageResult) {
			log.Printf("%s took %v", r.StageName, r.Duration)
		},
	}

	stats := chain.Stats()
	fmt.Printf("Successful: %d, Failed: %d\n", stats.SuccessfulRuns, stats.FailedRuns)
*/
package pipeline
