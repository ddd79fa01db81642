package tide

import (
	"context"
	"sync"
)

// earlyReturn is the call-scoped short-circuit flag. It trips once, at the
// first failure, and from then on holds the lowest failing input index.
// Dispatches above that index are canceled and nothing new is dispatched.
type earlyReturn struct {
	mu       sync.Mutex
	tripped  bool
	index    int
	inflight map[int]context.CancelFunc
	fired    chan struct{}
}

func newEarlyReturn() *earlyReturn {
	return &earlyReturn{
		inflight: make(map[int]context.CancelFunc),
		fired:    make(chan struct{}),
	}
}

// trip records a failure at index. It reports whether this was the first
// trip. A later failure at a lower index lowers the cutoff.
func (e *earlyReturn) trip(index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	first := !e.tripped
	if first || index < e.index {
		e.index = index
	}
	e.tripped = true
	for i, cancel := range e.inflight {
		if i > e.index {
			cancel()
			delete(e.inflight, i)
		}
	}
	if first {
		close(e.fired)
	}
	return first
}

// track registers the cancel func of the dispatch for index. It returns
// false, and cancels, if index is already past the cutoff.
func (e *earlyReturn) track(index int, cancel context.CancelFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tripped && index > e.index {
		cancel()
		return false
	}
	e.inflight[index] = cancel
	return true
}

func (e *earlyReturn) untrack(index int) {
	e.mu.Lock()
	delete(e.inflight, index)
	e.mu.Unlock()
}

// cutoff returns the lowest failing index and whether the flag tripped.
func (e *earlyReturn) cutoff() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index, e.tripped
}

// done is closed when the flag first trips.
func (e *earlyReturn) done() <-chan struct{} {
	return e.fired
}
