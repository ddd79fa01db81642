package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter gates dispatches. Wait blocks until one item may proceed or ctx
// ends.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Inf is a rate that never throttles.
const Inf = math.MaxFloat64

// Bucket is an in-process token bucket. It is safe for concurrent use.
type Bucket struct {
	mu     sync.Mutex
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	now    func() time.Time
}

var _ Limiter = (*Bucket)(nil)

// NewBucket creates a bucket that refills at rate tokens per second and
// holds at most burst tokens. It starts full. A burst below 1 is raised
// to 1.
func NewBucket(rate float64, burst int) *Bucket {
	return newBucket(rate, burst, time.Now)
}

func newBucket(rate float64, burst int, now func() time.Time) *Bucket {
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   now(),
		now:    now,
	}
}

// Allow takes a token if one is available now.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Wait takes a token, sleeping until one is available.
func (b *Bucket) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delay, ok := b.reserve()
	if !ok {
		return ErrZeroRate
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		b.unreserve()
		return ctx.Err()
	}
}

// Tokens reports the tokens currently available. It is negative while
// waiters hold reservations.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	return b.tokens
}

// reserve takes a token, letting the balance go negative, and returns how
// long the caller must wait before using it.
func (b *Bucket) reserve() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}
	if b.rate <= 0 {
		return 0, false
	}

	need := 1 - b.tokens
	b.tokens--
	return time.Duration(need / b.rate * float64(time.Second)), true
}

func (b *Bucket) unreserve() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	b.tokens = math.Min(b.tokens+1, float64(b.burst))
}

func (b *Bucket) refill(now time.Time) {
	if b.rate == Inf {
		b.tokens = float64(b.burst)
		b.last = now
		return
	}

	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now
	if b.rate <= 0 {
		return
	}
	b.tokens = math.Min(b.tokens+elapsed.Seconds()*b.rate, float64(b.burst))
}
