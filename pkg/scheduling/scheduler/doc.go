/*
Package scheduler runs datatide batch jobs on cron schedules.

A Job names a source factory, a step list and an optional sink factory.
Each run opens a fresh source, processes it with a tide.DataTide and pipes
the results to the sink. Schedules use robfig/cron with an optional
seconds field and the @every / @daily style descriptors.

Basic Usage:

	s, err := scheduler.New(scheduler.Config{Tide: dt})
	if err != nil {
		return err
	}

	err = s.Schedule(scheduler.Job{
		ID:   "nightly-enrich",
		Spec: "0 0 2 * * *",
		NewSource: func(ctx context.Context) (source.Source, error) {
			return source.NewRedisStream(source.RedisStreamConfig{Client: rdb, Stream: "raw", MaxItems: 10000})
		},
		Steps: steps,
		NewSink: func(ctx context.Context) (sink.Sink, error) {
			return sink.NewRedisStream(sink.RedisStreamConfig{Client: rdb, Stream: "enriched"})
		},
	})

	s.Start()
	defer func() { <-s.Stop() }()

Runs of the same job never overlap; a run that is due while the previous
one is still going is skipped. RunNow starts a run outside the schedule
and reports its result.
*/
package scheduler
