// Package sink provides destinations for the results of a live datatide
// stream. A Stream's PipeTo writes every result to a Sink and closes it
// when the stream ends.
package sink

import (
	"context"
	"sync"
)

// Sink receives results.
type Sink interface {
	Write(ctx context.Context, item any) error
	Close() error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, item any) error

// Write calls f.
func (f Func) Write(ctx context.Context, item any) error {
	return f(ctx, item)
}

// Close does nothing.
func (f Func) Close() error {
	return nil
}

// Collector keeps every result in memory.
type Collector struct {
	mu     sync.Mutex
	items  []any
	closed bool
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Write appends item.
func (c *Collector) Write(_ context.Context, item any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return nil
}

// Close marks the collector closed.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Items returns a copy of the collected results.
func (c *Collector) Items() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.items...)
}

// Closed reports whether Close was called.
func (c *Collector) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
