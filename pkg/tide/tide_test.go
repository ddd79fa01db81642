package tide

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/datatide/internal/testutil"
	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
	"github.com/vnykmshr/datatide/pkg/metrics"
	"github.com/vnykmshr/datatide/pkg/ratelimit"
	"github.com/vnykmshr/datatide/pkg/scheduling/workerpool"
	"github.com/vnykmshr/datatide/pkg/transform"
)

var mixedInput = []any{1, 2, "invalid", 4, 5}

func TestNewDefaults(t *testing.T) {
	dt := newTide(t, Options{})
	opts := dt.Options()

	assert.Equal(t, FailAll, opts.FailureBehavior)
	assert.False(t, opts.KeepOrder)
	assert.Equal(t, runtime.NumCPU(), opts.Concurrency)
	assert.Equal(t, 2*runtime.NumCPU(), opts.MaxInFlight)
	assert.Equal(t, DefaultDispatchTimeout, opts.DispatchTimeout)
	assert.Equal(t, DefaultStepTimeout, opts.StepTimeout)
	assert.Equal(t, 0, dt.ActiveWorkers())
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"failure behavior", Options{FailureBehavior: "retry"}, "FailureBehavior"},
		{"concurrency", Options{Concurrency: -1}, "Concurrency"},
		{"max in flight", Options{MaxInFlight: -3}, "MaxInFlight"},
		{"step timeout", Options{StepTimeout: -time.Second}, "StepTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			var verr *dterrors.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestProcessMatchesSequentialApplication(t *testing.T) {
	inc := func(_ context.Context, in any) (any, error) { return in.(int) + 1, nil }
	steps := []transform.Step{
		{Name: "multiply", Transform: double},
		{Name: "inc", Transform: inc},
	}

	data := make([]any, 200)
	want := make([]any, 200)
	for i := range data {
		data[i] = i
		want[i] = i*2 + 1
	}

	dt := newTide(t, Options{Concurrency: 4})
	got, err := dt.Process(context.Background(), data, steps)
	require.NoError(t, err)

	sortInts := cmpopts.SortSlices(func(a, b any) bool { return a.(int) < b.(int) })
	if diff := cmp.Diff(want, got, sortInts); diff != "" {
		t.Errorf("results differ from sequential application (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0, dt.ActiveWorkers())
}

func TestKeepOrderUnderLatency(t *testing.T) {
	jitter := func(ctx context.Context, in any) (any, error) {
		select {
		case <-time.After(time.Duration(rand.IntN(20)) * time.Millisecond):
			return in, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	data := make([]any, 50)
	for i := range data {
		data[i] = i
	}

	dt := newTide(t, Options{Concurrency: 8, KeepOrder: true})
	got, err := dt.Process(context.Background(), data, []transform.Step{{Name: "jitter", Transform: jitter}})
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestIgnoreRow(t *testing.T) {
	dt := newTide(t, Options{Concurrency: 4, FailureBehavior: IgnoreRow})
	got, err := dt.Process(context.Background(), mixedInput, doubleSteps())
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{2, 4, 8, 10}, got)
}

func TestIgnoreRowKeepOrder(t *testing.T) {
	dt := newTide(t, Options{Concurrency: 4, FailureBehavior: IgnoreRow, KeepOrder: true})
	got, err := dt.Process(context.Background(), mixedInput, doubleSteps())
	require.NoError(t, err)
	assert.Equal(t, []any{2, 4, 8, 10}, got)
}

func TestFailAll(t *testing.T) {
	dt := newTide(t, Options{Concurrency: 4, FailureBehavior: FailAll})
	got, err := dt.Process(context.Background(), mixedInput, doubleSteps())
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Equal(t, "Invalid number", err.Error())

	var rt *dterrors.StepRuntimeError
	require.True(t, errors.As(err, &rt))
	assert.Equal(t, "multiply", rt.Step)
	assert.Equal(t, 0, dt.ActiveWorkers())
}

func TestEarlyReturn(t *testing.T) {
	dt := newTide(t, Options{Concurrency: 4, FailureBehavior: EarlyReturn})

	// Later items often finish before the failing one; they must never
	// show up in the result.
	for range 20 {
		got, err := dt.Process(context.Background(), mixedInput, doubleSteps())
		require.NoError(t, err)
		require.Equal(t, []any{2, 4}, got)
	}
	assert.Equal(t, 0, dt.ActiveWorkers())
}

func TestEarlyReturnLowestFailureWins(t *testing.T) {
	// Item 3 fails at once; item 1 fails after a delay. The prefix ends
	// at item 1.
	step := func(ctx context.Context, in any) (any, error) {
		switch in {
		case "slow-bad":
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil, errors.New("slow failure")
		case "bad":
			return nil, errors.New("fast failure")
		}
		return in, nil
	}

	dt := newTide(t, Options{Concurrency: 4, FailureBehavior: EarlyReturn})
	got, err := dt.Process(context.Background(), []any{"a", "slow-bad", "c", "bad", "e"},
		[]transform.Step{{Name: "check", Transform: step}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, got)
}

func hangOn(marker any) transform.Func {
	return func(ctx context.Context, in any) (any, error) {
		if in == marker {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return in, nil
	}
}

func TestHungStepIsDroppedUnderIgnoreRow(t *testing.T) {
	dt := newTide(t, Options{
		Concurrency:     2,
		FailureBehavior: IgnoreRow,
		StepTimeout:     100 * time.Millisecond,
		DispatchTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	got, err := dt.Process(context.Background(), []any{1, "hang", 3}, []transform.Step{{Name: "maybe-hang", Transform: hangOn("hang")}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{1, 3}, got)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// Equal step and dispatch budgets, as in the defaults, with more items
// than workers: only the hung item may be missing.
func TestHungStepDoesNotFailItemsWaitingForItsWorker(t *testing.T) {
	tests := []struct {
		name      string
		keepOrder bool
		data      []any
		want      []any
	}{
		{"three items", false, []any{"hang", 1, 2}, []any{1, 2}},
		{"six items", false, []any{"hang", 1, 2, 3, 4, 5}, []any{1, 2, 3, 4, 5}},
		{"in order", true, []any{1, "hang", 2, 3}, []any{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := prometheus.NewRegistry()
			m := metrics.NewRegistry(reg)
			dt := newTide(t, Options{
				Concurrency:     1,
				KeepOrder:       tt.keepOrder,
				FailureBehavior: IgnoreRow,
				StepTimeout:     200 * time.Millisecond,
				DispatchTimeout: 200 * time.Millisecond,
				Metrics:         m,
			})

			got, err := dt.Process(context.Background(), tt.data, []transform.Step{{Name: "maybe-hang", Transform: hangOn("hang")}})
			require.NoError(t, err)
			if tt.keepOrder {
				assert.Equal(t, tt.want, got)
			} else {
				assert.ElementsMatch(t, tt.want, got)
			}
			assert.Equal(t, 1.0, promtest.ToFloat64(m.ItemsDropped.WithLabelValues(dt.Options().Name)))
			assert.Zero(t, dt.ActiveWorkers())
		})
	}
}

func TestDefaultTimeoutsAreEqual(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, opts.StepTimeout, opts.DispatchTimeout)
}

func TestHungStepFailsWithStepTimeout(t *testing.T) {
	hang := func(ctx context.Context, in any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	dt := newTide(t, Options{Concurrency: 1, StepTimeout: 50 * time.Millisecond})
	_, err := dt.Process(context.Background(), []any{1}, []transform.Step{{Name: "stuck", Transform: hang}})

	var ste *dterrors.StepTimeoutError
	require.True(t, errors.As(err, &ste), "got %v", err)
	assert.Equal(t, "step stuck timed out", err.Error())
	assert.True(t, dterrors.IsTimeout(err))
}

func TestDispatchTimeout(t *testing.T) {
	spawner := &stubSpawner{send: func(ctx context.Context, _ int, _ any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	dt := newTide(t, Options{Concurrency: 2, Spawner: spawner, DispatchTimeout: 50 * time.Millisecond})
	_, err := dt.Process(context.Background(), []any{1, 2}, doubleSteps())

	var dte *dterrors.DispatchTimeoutError
	require.True(t, errors.As(err, &dte), "got %v", err)
	assert.Equal(t, 50*time.Millisecond, dte.Timeout)
	assert.True(t, dterrors.IsTimeout(err))
	assert.Equal(t, int32(2), spawner.terminated.Load())
}

func TestTransportErrorFollowsFailureBehavior(t *testing.T) {
	spawner := &stubSpawner{send: func(_ context.Context, id int, item any) (any, error) {
		if item == "crash" {
			return nil, &dterrors.TransportError{WorkerID: id, Cause: errors.New("worker exited")}
		}
		return item, nil
	}}

	dt := newTide(t, Options{Concurrency: 2, Spawner: spawner, FailureBehavior: IgnoreRow})
	got, err := dt.Process(context.Background(), []any{"a", "crash", "b"}, doubleSteps())
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"a", "b"}, got)
}

func TestUnsafeTransformRejectedBeforeSpawn(t *testing.T) {
	spawner := &stubSpawner{send: func(context.Context, int, any) (any, error) { return nil, nil }}
	dt := newTide(t, Options{Concurrency: 2, Spawner: spawner})

	steps := []transform.Step{{
		Name:      "evil",
		Transform: double,
		Source:    `func(ctx context.Context, in any) (any, error) { return exec.Command("sh").Output() }`,
	}}
	_, err := dt.Process(context.Background(), []any{1}, steps)

	require.ErrorIs(t, err, dterrors.ErrUnsafeTransform)
	assert.Contains(t, err.Error(), "evil")
	assert.Contains(t, err.Error(), "Transform functions cannot use system calls, imports, or timers")
	assert.Equal(t, int32(0), spawner.spawned.Load())
	assert.Equal(t, 0, dt.ActiveWorkers())
}

func TestDelaysDeniedOutsideTestMode(t *testing.T) {
	steps := []transform.Step{{
		Transform: double,
		Source:    `func(ctx context.Context, in any) (any, error) { time.Sleep(time.Second); return in, nil }`,
	}}

	allowed := newTide(t, Options{Concurrency: 1})
	_, err := allowed.Process(context.Background(), []any{1}, steps)
	require.NoError(t, err)

	deny := false
	strict := newTide(t, Options{Concurrency: 1, AllowDelays: &deny})
	_, err = strict.Process(context.Background(), []any{1}, steps)
	require.ErrorIs(t, err, dterrors.ErrUnsafeTransform)
	assert.Contains(t, err.Error(), "unnamed")
}

func TestNonCallableTransform(t *testing.T) {
	dt := newTide(t, Options{Concurrency: 1})
	_, err := dt.Process(context.Background(), []any{1}, []transform.Step{{Name: "invalid"}})

	var cfg *dterrors.ConfigurationError
	require.True(t, errors.As(err, &cfg), "got %v", err)
	assert.Contains(t, err.Error(), "Transform must be a function")
	assert.True(t, dterrors.IsFatal(err))
}

func TestFatalErrorsIgnoreFailureBehavior(t *testing.T) {
	dt := newTide(t, Options{Concurrency: 1, FailureBehavior: IgnoreRow})
	_, err := dt.Process(context.Background(), []any{1}, []transform.Step{{Ref: "missing"}})
	require.ErrorIs(t, err, dterrors.ErrInvalidConfiguration)
}

func TestStartupFailureTerminatesStartedWorkers(t *testing.T) {
	spawner := &stubSpawner{
		send: func(context.Context, int, any) (any, error) { return nil, nil },
		fail: func(id int) bool { return id == 2 },
	}
	dt := newTide(t, Options{Concurrency: 4, Spawner: spawner, FailureBehavior: IgnoreRow})

	_, err := dt.Process(context.Background(), []any{1}, doubleSteps())
	require.ErrorIs(t, err, dterrors.ErrWorkerStartup)
	assert.Equal(t, spawner.spawned.Load(), spawner.terminated.Load())
	assert.Equal(t, 0, dt.ActiveWorkers())
}

func TestNonErrorPanicIsUnknown(t *testing.T) {
	boom := func(context.Context, any) (any, error) { panic(42) }

	dt := newTide(t, Options{Concurrency: 1})
	_, err := dt.Process(context.Background(), []any{1}, []transform.Step{{Name: "boom", Transform: boom}})
	require.Error(t, err)
	assert.Equal(t, "Unknown error occurred", err.Error())
	assert.ErrorIs(t, err, dterrors.ErrUnknown)
}

func TestEmptyInputAndEmptySteps(t *testing.T) {
	dt := newTide(t, Options{Concurrency: 2})

	got, err := dt.Process(context.Background(), nil, doubleSteps())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	got, err = dt.Process(context.Background(), []any{"a", "b"}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"a", "b"}, got)
}

func TestProcessByRef(t *testing.T) {
	dt := newTide(t, Options{Concurrency: 2, KeepOrder: true})
	got, err := dt.Process(context.Background(), []any{1, 2, 3}, []transform.Step{
		{Name: "double", Ref: "double"},
		{Name: "inc", Ref: "inc"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{3, 5, 7}, got)
}

func TestContextCancelEndsCall(t *testing.T) {
	hang := func(ctx context.Context, _ any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	dt := newTide(t, Options{Concurrency: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := dt.Process(ctx, []any{1, 2, 3}, []transform.Step{{Name: "hang", Transform: hang}})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, dt.ActiveWorkers())
}

func TestMaxInFlightBoundsDispatch(t *testing.T) {
	var inFlight, peak atomic.Int32
	spawner := &stubSpawner{send: func(ctx context.Context, _ int, item any) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return item, nil
	}}

	data := make([]any, 40)
	for i := range data {
		data[i] = i
	}

	dt := newTide(t, Options{Concurrency: 4, MaxInFlight: 3, Spawner: spawner})
	got, err := dt.Process(context.Background(), data, doubleSteps())
	require.NoError(t, err)
	assert.Len(t, got, 40)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

type limiterFunc func(ctx context.Context) error

func (f limiterFunc) Wait(ctx context.Context) error { return f(ctx) }

func TestLimiterThrottlesDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	dt := newTide(t, Options{
		Name:        "throttled",
		Concurrency: 4,
		Limiter:     ratelimit.NewBucket(50, 1),
		Metrics:     m,
	})

	start := time.Now()
	got, err := dt.Process(context.Background(), []any{1, 2, 3, 4, 5, 6}, doubleSteps())
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{2, 4, 6, 8, 10, 12}, got)

	// One token up front, five more at 50/s.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 1, promtest.CollectAndCount(m.ThrottleWait))
}

func TestLimiterErrorFailsCall(t *testing.T) {
	denied := errors.New("quota exhausted")
	var calls atomic.Int32
	lim := limiterFunc(func(context.Context) error {
		if calls.Add(1) > 2 {
			return denied
		}
		return nil
	})

	dt := newTide(t, Options{Concurrency: 2, FailureBehavior: IgnoreRow, Limiter: lim})
	got, err := dt.Process(context.Background(), []any{1, 2, 3, 4, 5}, doubleSteps())
	assert.ErrorIs(t, err, denied)
	assert.Nil(t, got)
	assert.Zero(t, dt.ActiveWorkers())
}

func TestProcessLogsCall(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&syncWriter{w: &buf}).Level(zerolog.DebugLevel)

	dt := newTide(t, Options{Name: "logged", Concurrency: 1, FailureBehavior: IgnoreRow, Logger: &logger})
	_, err := dt.Process(context.Background(), mixedInput, doubleSteps())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"component":"tide"`)
	assert.Contains(t, out, `"call_id"`)
	assert.Contains(t, out, `"message":"item dropped"`)
	assert.Contains(t, out, `"outcome":"completed"`)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)

	dt := newTide(t, Options{Name: "metered", Concurrency: 2, FailureBehavior: IgnoreRow, Metrics: m})
	_, err := dt.Process(context.Background(), mixedInput, doubleSteps())
	require.NoError(t, err)

	assert.Equal(t, 5.0, promtest.ToFloat64(m.ItemsDispatched.WithLabelValues("metered")))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.ItemsSucceeded.WithLabelValues("metered")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ItemsFailed.WithLabelValues("metered", "runtime")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ItemsDropped.WithLabelValues("metered")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.InFlight.WithLabelValues("metered")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Calls.WithLabelValues("metered", "completed")))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.StreamItemsEmitted.WithLabelValues("metered")))
	assert.Equal(t, 0.0, promtest.ToFloat64(m.WorkersActive.WithLabelValues("metered")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.WorkersSpawned.WithLabelValues("metered")))
}

func TestSubprocessWorkers(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}

	dt := newTide(t, Options{
		Concurrency: 2,
		KeepOrder:   true,
		Spawner:     &workerpool.ProcessSpawner{GracePeriod: 500 * time.Millisecond},
	})

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	got, err := dt.Process(ctx, []any{1, 2, 3, 4}, []transform.Step{
		{Name: "double", Ref: "double"},
		{Name: "inc", Ref: "inc"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{3, 5, 7, 9}, testutil.Ints(got))
	assert.Equal(t, 0, dt.ActiveWorkers())

	_, err = dt.Process(ctx, mixedInput, doubleSteps())
	require.Error(t, err)
	assert.Equal(t, "Invalid number", err.Error())
}

func TestSubprocessStartupFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("starts worker processes")
	}

	dt := newTide(t, Options{
		Concurrency: 2,
		Spawner:     &workerpool.ProcessSpawner{GracePeriod: 500 * time.Millisecond},
	})

	// Closures are not registered, so a worker process cannot rebuild them.
	closure := func(_ context.Context, in any) (any, error) { return in, nil }
	_, err := dt.Process(context.Background(), []any{1}, []transform.Step{{Name: "local", Transform: closure}})

	var se *dterrors.WorkerStartupError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "local", se.Step)
	assert.Equal(t, 0, se.Index)
	assert.Equal(t, 0, dt.ActiveWorkers())
}

func ExampleDataTide_Process() {
	dt, err := New(Options{Concurrency: 2, KeepOrder: true, FailureBehavior: IgnoreRow})
	if err != nil {
		fmt.Println(err)
		return
	}

	square := func(_ context.Context, in any) (any, error) {
		n, ok := in.(int)
		if !ok {
			return nil, errors.New("not a number")
		}
		return n * n, nil
	}

	out, err := dt.Process(context.Background(), []any{1, 2, "three", 4}, []transform.Step{
		{Name: "square", Transform: square},
	})
	fmt.Println(out, err)
	// Output: [1 4 16] <nil>
}
