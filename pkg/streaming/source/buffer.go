package source

import (
	"context"
	"errors"
	"sync"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/common/validation"
)

// Overflow decides what Buffer.Write does when the buffer is full.
type Overflow int

const (
	// Block waits for the consumer to make room.
	Block Overflow = iota

	// DropNewest discards the item being written.
	DropNewest

	// DropOldest discards the oldest buffered item to make room.
	DropOldest

	// Reject returns ErrFull.
	Reject
)

func (o Overflow) String() string {
	switch o {
	case Block:
		return "block"
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ErrFull is returned by Write on a full buffer with the Reject policy.
var ErrFull = errors.New("source: buffer is full")

// BufferConfig configures a Buffer.
type BufferConfig struct {
	// Size is the buffer capacity.
	Size int `validate:"gte=1"`

	// Overflow is applied when a write finds the buffer full.
	Overflow Overflow `validate:"gte=0,lte=3"`

	// OnDrop is called with each discarded item, outside the lock.
	OnDrop func(item any) `validate:"-"`
}

// BufferStats counts buffer traffic.
type BufferStats struct {
	Written int64
	Read    int64
	Dropped int64
	Blocked int64
}

// Buffer is a push-based source with a bounded ring buffer. Unlike Pipe,
// producers are decoupled from the consumer up to Size items, and the
// overflow policy decides what happens beyond that.
type Buffer struct {
	config BufferConfig

	mu     sync.Mutex
	ring   []any
	head   int
	count  int
	closed bool
	err    error
	stats  BufferStats

	// wake is closed and replaced on every state change.
	wake chan struct{}
}

// NewBuffer creates an open buffer.
func NewBuffer(config BufferConfig) (*Buffer, error) {
	if err := validation.Struct("source", config); err != nil {
		return nil, err
	}
	return &Buffer{
		config: config,
		ring:   make([]any, config.Size),
		wake:   make(chan struct{}),
	}, nil
}

// Write adds item, applying the overflow policy when full. It returns
// errors.ErrClosed once the buffer is closed.
func (b *Buffer) Write(ctx context.Context, item any) error {
	blocked := false
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return dterrors.ErrClosed
		}

		if b.count < len(b.ring) {
			b.pushLocked(item)
			b.mu.Unlock()
			return nil
		}

		switch b.config.Overflow {
		case DropNewest:
			b.stats.Dropped++
			b.mu.Unlock()
			b.dropped(item)
			return nil
		case DropOldest:
			old := b.popLocked()
			b.stats.Dropped++
			b.pushLocked(item)
			b.mu.Unlock()
			b.dropped(old)
			return nil
		case Reject:
			b.mu.Unlock()
			return ErrFull
		}

		if !blocked {
			blocked = true
			b.stats.Blocked++
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Next returns the oldest buffered item. After Close it drains what is
// left, then reports the close error.
func (b *Buffer) Next(ctx context.Context) (any, bool, error) {
	for {
		b.mu.Lock()
		if b.count > 0 {
			item := b.popLocked()
			b.stats.Read++
			b.broadcastLocked()
			b.mu.Unlock()
			return item, true, nil
		}
		if b.closed {
			err := b.err
			b.mu.Unlock()
			return nil, false, err
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// Close ends the buffer normally.
func (b *Buffer) Close() error {
	return b.CloseWithError(nil)
}

// CloseWithError ends the buffer; the consumer sees err after the buffered
// items. Only the first close takes effect.
func (b *Buffer) CloseWithError(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.err = err
	b.broadcastLocked()
	return nil
}

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Buffer) pushLocked(item any) {
	b.ring[(b.head+b.count)%len(b.ring)] = item
	b.count++
	b.stats.Written++
	b.broadcastLocked()
}

func (b *Buffer) popLocked() any {
	item := b.ring[b.head]
	b.ring[b.head] = nil
	b.head = (b.head + 1) % len(b.ring)
	b.count--
	return item
}

func (b *Buffer) broadcastLocked() {
	close(b.wake)
	b.wake = make(chan struct{})
}

func (b *Buffer) dropped(item any) {
	if b.config.OnDrop != nil {
		b.config.OnDrop(item)
	}
}
