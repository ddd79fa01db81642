/*
Package ratelimit throttles how fast items are handed to workers.

A Limiter is consulted once per item before it is dispatched. Two
implementations are provided:

  - Bucket: an in-process token bucket
  - RedisBucket: a token bucket kept in Redis, shared by every process
    that uses the same key

Token buckets allow a burst of up to Burst items and then settle at Rate
items per second:

	lim := ratelimit.NewBucket(100, 10) // 100 items/sec, bursts of 10
	dt, _ := tide.New(tide.Options{Limiter: lim})

A shared bucket caps the combined dispatch rate of several pipelines,
possibly running on different hosts:

	lim, err := ratelimit.NewRedisBucket(ratelimit.RedisConfig{
		Client: client,
		Key:    "datatide:ingest",
		Rate:   500,
		Burst:  50,
	})

Wait honors context cancellation. A canceled wait does not consume a token
from a Bucket.
*/
package ratelimit
