/*
Package streaming groups the item sources and result sinks that sit on
either side of a datatide call.

  - source: where items come from (slices, channels, push pipes, bounded
    buffers with an overflow policy, msgpack readers, Redis Streams)
  - sink: where results go (functions, collectors, batching sinks,
    msgpack writers, Redis Streams)

A typical live pipeline reads from a Redis stream and writes to another:

	src, _ := source.NewRedisStream(source.RedisStreamConfig{Client: rdb, Stream: "raw"})
	dst, _ := sink.NewRedisStream(sink.RedisStreamConfig{Client: rdb, Stream: "clean"})

	stream, err := dt.ProcessStream(ctx, src, steps)
	if err != nil {
		return err
	}
	return stream.PipeTo(ctx, dst)

The call owns the source and closes it on teardown. PipeTo closes the sink.
*/
package streaming
