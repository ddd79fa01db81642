// Package testutil holds helpers shared by datatide tests.
package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ccoveille/go-safecast"
)

// TestTimeout is the default timeout for tests
const TestTimeout = 5 * time.Second

// WithTimeout creates a context with the default test timeout
func WithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), TestTimeout)
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertEqual fails the test if got != want
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// AssertNotEqual fails the test if got == want
func AssertNotEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got == want {
		t.Fatalf("got %v, want anything else", got)
	}
}

// Eventually polls cond every interval until it returns true or timeout
// elapses, in which case the test fails.
func Eventually(t *testing.T, cond func() bool, timeout, interval time.Duration) {
	t.Helper()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if cond() {
			return
		}
		select {
		case <-deadline.C:
			t.Fatalf("condition not met within %v", timeout)
		case <-ticker.C:
		}
	}
}

// WaitForInt64 waits until *v equals want.
func WaitForInt64(t *testing.T, v *int64, want int64, timeout time.Duration) {
	t.Helper()
	Eventually(t, func() bool {
		return atomic.LoadInt64(v) == want
	}, timeout, time.Millisecond)
}

// Int normalizes integer values of any width to int. Values that crossed
// a process boundary come back as int64 or uint64. Values that do not fit
// in an int, and non-integers, are returned unchanged.
func Int(v any) any {
	var (
		n   int
		err error
	)
	switch x := v.(type) {
	case int8:
		n, err = safecast.ToInt(x)
	case int16:
		n, err = safecast.ToInt(x)
	case int32:
		n, err = safecast.ToInt(x)
	case int64:
		n, err = safecast.ToInt(x)
	case uint8:
		n, err = safecast.ToInt(x)
	case uint16:
		n, err = safecast.ToInt(x)
	case uint32:
		n, err = safecast.ToInt(x)
	case uint64:
		n, err = safecast.ToInt(x)
	default:
		return v
	}
	if err != nil {
		return v
	}
	return n
}

// Ints applies Int to every element.
func Ints(vs []any) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		out[i] = Int(v)
	}
	return out
}
