package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/common/validation"
)

// FlushFunc writes one batch downstream.
type FlushFunc func(ctx context.Context, batch []any) error

// BatchConfig configures a Batch sink.
type BatchConfig struct {
	// Size is the number of results that triggers a flush.
	// Default: 100
	Size int `validate:"gte=0"`

	// FlushInterval flushes a partial batch periodically. 0 disables
	// timed flushes; partial batches are then written only on Close.
	FlushInterval time.Duration `validate:"gte=0"`

	// MaxRetries is the number of extra attempts for a failed flush.
	MaxRetries int `validate:"gte=0"`

	// RetryDelay is the pause between attempts.
	// Default: 100ms
	RetryDelay time.Duration `validate:"gte=0"`

	// Flush writes a batch. Required.
	Flush FlushFunc `validate:"-"`

	Logger *zerolog.Logger `validate:"-"`
}

// DefaultBatchConfig returns the defaults for unset fields.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Size:       100,
		RetryDelay: 100 * time.Millisecond,
	}
}

// BatchStats counts the work done by a Batch sink.
type BatchStats struct {
	Items   int64
	Batches int64
	Errors  int64
}

// Batch groups results and hands them to a FlushFunc in order. A failed
// flush, after retries, is returned by the Write or Close that triggered it
// and by every later call.
type Batch struct {
	config BatchConfig
	logger zerolog.Logger

	mu     sync.Mutex
	buf    []any
	err    error
	closed bool
	stats  BatchStats

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewBatch creates a batching sink.
func NewBatch(config BatchConfig) (*Batch, error) {
	if err := validation.ValidateNotNil("sink", "Flush", config.Flush); err != nil {
		return nil, err
	}
	if err := validation.Struct("sink", config); err != nil {
		return nil, err
	}

	defaults := DefaultBatchConfig()
	if config.Size == 0 {
		config.Size = defaults.Size
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = defaults.RetryDelay
	}

	logger := zerolog.Nop()
	if config.Logger != nil {
		logger = config.Logger.With().Str("component", "sink").Logger()
	}

	b := &Batch{
		config: config,
		logger: logger,
		buf:    make([]any, 0, config.Size),
		stop:   make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		b.wg.Add(1)
		go b.flushLoop()
	}
	return b, nil
}

// Write buffers item, flushing when the batch is full.
func (b *Batch) Write(ctx context.Context, item any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return dterrors.ErrClosed
	}
	if b.err != nil {
		return b.err
	}

	b.buf = append(b.buf, item)
	b.stats.Items++
	if len(b.buf) < b.config.Size {
		return nil
	}
	return b.flushLocked(ctx)
}

// Flush writes the pending partial batch.
func (b *Batch) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return b.err
	}
	return b.flushLocked(ctx)
}

// Close stops timed flushes and writes what is left.
func (b *Batch) Close() error {
	b.mu.Lock()
	if b.closed {
		err := b.err
		b.mu.Unlock()
		return err
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	return b.flushLocked(context.Background())
}

// Stats returns a snapshot of the counters.
func (b *Batch) Stats() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Batch) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			if b.err == nil {
				_ = b.flushLocked(context.Background())
			}
			b.mu.Unlock()
		case <-b.stop:
			return
		}
	}
}

func (b *Batch) flushLocked(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}

	batch := b.buf
	b.buf = make([]any, 0, b.config.Size)

	err := b.config.Flush(ctx, batch)
	for attempt := 1; err != nil && attempt <= b.config.MaxRetries; attempt++ {
		b.logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying flush")
		timer := time.NewTimer(b.config.RetryDelay)
		select {
		case <-timer.C:
			err = b.config.Flush(ctx, batch)
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
			attempt = b.config.MaxRetries
		}
	}
	if err == nil {
		b.stats.Batches++
		return nil
	}

	b.stats.Errors++
	b.err = fmt.Errorf("sink: flush %d items: %w", len(batch), err)
	b.logger.Error().Err(err).Int("size", len(batch)).Msg("flush failed")
	return b.err
}
