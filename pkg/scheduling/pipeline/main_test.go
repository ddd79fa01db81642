package pipeline

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for all tests in this package.
// Hung stages used by timeout tests are released in t.Cleanup.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
