package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vnykmshr/datatide/pkg/common/validation"
)

// ErrZeroRate is returned by Wait when the bucket is empty and never refills.
var ErrZeroRate = errors.New("ratelimit: bucket is empty and the rate is zero")

// DefaultKeyTTL is how long an idle shared bucket survives in Redis.
const DefaultKeyTTL = time.Hour

// takeScript refills the bucket at KEYS[1] for the time elapsed since its
// last update and takes one token. It returns 0 when a token was taken,
// otherwise the milliseconds until one will be available.
//
// ARGV: rate (tokens/sec), burst, now (unix ms), ttl (ms).
var takeScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = burst
local ts = now
local state = redis.call('HMGET', key, 'tokens', 'ts')
if state[1] then
  tokens = tonumber(state[1])
  ts = tonumber(state[2])
end

if now > ts then
  tokens = math.min(burst, tokens + (now - ts) * rate / 1000)
  ts = now
end

local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
else
  wait = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', key, ttl)
return wait
`)

// RedisConfig configures a RedisBucket.
type RedisConfig struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient `validate:"-"`

	// Key names the bucket. Limiters sharing a key share the budget.
	Key string

	// Rate is the refill rate in tokens per second.
	Rate float64 `validate:"gt=0"`

	// Burst is the bucket capacity.
	Burst int `validate:"gte=1"`

	// KeyTTL expires idle buckets. Defaults to DefaultKeyTTL.
	KeyTTL time.Duration `validate:"gte=0"`

	// FallbackToLocal makes Wait use an in-process bucket with the same
	// rate while Redis is unreachable, instead of failing.
	FallbackToLocal bool

	Logger *zerolog.Logger `validate:"-"`
}

// RedisBucket is a token bucket stored in Redis and updated atomically by a
// Lua script, so every process using the same key draws from one budget.
type RedisBucket struct {
	config RedisConfig
	logger zerolog.Logger
	local  *Bucket
	now    func() time.Time
}

var _ Limiter = (*RedisBucket)(nil)

// NewRedisBucket creates a shared bucket.
func NewRedisBucket(config RedisConfig) (*RedisBucket, error) {
	if err := validation.ValidateNotNil("ratelimit", "Client", config.Client); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotEmpty("ratelimit", "Key", config.Key); err != nil {
		return nil, err
	}
	if err := validation.Struct("ratelimit", config); err != nil {
		return nil, err
	}
	if config.KeyTTL == 0 {
		config.KeyTTL = DefaultKeyTTL
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "ratelimit").Str("key", config.Key).Logger()
	}

	b := &RedisBucket{
		config: config,
		logger: logger,
		now:    time.Now,
	}
	if config.FallbackToLocal {
		b.local = NewBucket(config.Rate, config.Burst)
	}
	return b, nil
}

// Wait takes a token from the shared bucket, sleeping until one is
// available.
func (b *RedisBucket) Wait(ctx context.Context) error {
	for {
		wait, err := b.take(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if b.local == nil {
				return err
			}
			b.logger.Warn().Err(err).Msg("redis unavailable, using local bucket")
			return b.local.Wait(ctx)
		}
		if wait <= 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// take runs one refill-and-take step and returns the wait before a token
// is available, or 0 if one was taken.
func (b *RedisBucket) take(ctx context.Context) (time.Duration, error) {
	ms, err := takeScript.Run(ctx, b.config.Client, []string{b.config.Key},
		b.config.Rate,
		b.config.Burst,
		b.now().UnixMilli(),
		b.config.KeyTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: take %s: %w", b.config.Key, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
