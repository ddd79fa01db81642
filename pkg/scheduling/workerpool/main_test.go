package workerpool

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for all tests in this package.
// When the test binary is started by a ProcessSpawner it serves as a
// worker instead of running tests.
func TestMain(m *testing.M) {
	MaybeServe(testRegistry)
	goleak.VerifyTestMain(m)
}
