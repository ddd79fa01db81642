package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vnykmshr/datatide/internal/wire"
	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/common/validation"
)

// DefaultField is the stream entry field holding the msgpack-encoded item.
const DefaultField = "data"

// RedisStreamConfig configures a Redis Streams source.
type RedisStreamConfig struct {
	// Client is the Redis connection. Required.
	Client redis.UniversalClient

	// Stream is the stream key. Required.
	Stream string

	// StartID is the id after which entries are read. "0" (the default)
	// reads from the beginning, "$" only entries added from now on.
	StartID string

	// Block bounds each XREAD wait. Defaults to one second.
	Block time.Duration

	// Count is the XREAD batch size. Defaults to 64.
	Count int64

	// MaxItems ends the source after that many items. 0 means unbounded.
	MaxItems int

	// Field holds the encoded item. Defaults to DefaultField. Entries
	// without it are yielded as their raw field map.
	Field string

	Logger *zerolog.Logger
}

// RedisStream reads items from a Redis stream with XREAD.
type RedisStream struct {
	config RedisStreamConfig
	logger zerolog.Logger

	lastID string
	buf    []redis.XMessage
	read   int
	closed atomic.Bool
}

// NewRedisStream creates a Redis Streams source.
func NewRedisStream(config RedisStreamConfig) (*RedisStream, error) {
	if err := validation.ValidateNotNil("source", "Client", config.Client); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotEmpty("source", "Stream", config.Stream); err != nil {
		return nil, err
	}
	if config.StartID == "" {
		config.StartID = "0"
	}
	if config.Block <= 0 {
		config.Block = time.Second
	}
	if config.Count <= 0 {
		config.Count = 64
	}
	if config.Field == "" {
		config.Field = DefaultField
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "source").Str("stream", config.Stream).Logger()
	}

	return &RedisStream{
		config: config,
		logger: logger,
		lastID: config.StartID,
	}, nil
}

// Next returns the next stream entry, waiting for new entries as needed.
// Only one goroutine may call Next at a time; Close may be called from any.
func (s *RedisStream) Next(ctx context.Context) (any, bool, error) {
	if s.closed.Load() {
		return nil, false, dterrors.ErrClosed
	}
	if s.config.MaxItems > 0 && s.read >= s.config.MaxItems {
		return nil, false, nil
	}

	for len(s.buf) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if err := s.fetch(ctx); err != nil {
			return nil, false, err
		}
	}

	msg := s.buf[0]
	s.buf = s.buf[1:]
	s.lastID = msg.ID
	s.read++

	item, err := s.decode(msg)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

func (s *RedisStream) fetch(ctx context.Context) error {
	streams, err := s.config.Client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.config.Stream, s.lastID},
		Count:   s.config.Count,
		Block:   s.config.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("source: xread %s: %w", s.config.Stream, err)
	}

	for _, st := range streams {
		s.buf = append(s.buf, st.Messages...)
	}
	s.logger.Debug().Int("entries", len(s.buf)).Str("last_id", s.lastID).Msg("fetched")
	return nil
}

func (s *RedisStream) decode(msg redis.XMessage) (any, error) {
	raw, ok := msg.Values[s.config.Field]
	if !ok {
		return msg.Values, nil
	}
	str, ok := raw.(string)
	if !ok {
		return raw, nil
	}

	var item any
	if err := wire.Unmarshal([]byte(str), &item); err != nil {
		return nil, fmt.Errorf("source: decode entry %s: %w", msg.ID, err)
	}
	return item, nil
}

// LastID returns the id of the last entry returned.
func (s *RedisStream) LastID() string {
	return s.lastID
}

// Close stops the source. The client is left open.
func (s *RedisStream) Close() error {
	s.closed.Store(true)
	return nil
}
