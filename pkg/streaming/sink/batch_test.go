package sink

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/datatide/internal/testutil"
	"github.com/vnykmshr/datatide/internal/wire"
	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches [][]any
	fail    int
}

func (r *batchRecorder) flush(_ context.Context, batch []any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("downstream busy")
	}
	r.batches = append(r.batches, append([]any(nil), batch...))
	return nil
}

func (r *batchRecorder) snapshot() [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]any(nil), r.batches...)
}

func TestBatchFlushesBySize(t *testing.T) {
	rec := &batchRecorder{}
	b, err := NewBatch(BatchConfig{Size: 2, Flush: rec.flush})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Write(ctx, i))
	}
	assert.Equal(t, [][]any{{1, 2}, {3, 4}}, rec.snapshot())

	require.NoError(t, b.Close())
	assert.Equal(t, [][]any{{1, 2}, {3, 4}, {5}}, rec.snapshot())
	assert.Equal(t, BatchStats{Items: 5, Batches: 3}, b.Stats())

	assert.ErrorIs(t, b.Write(ctx, 6), dterrors.ErrClosed)
	assert.NoError(t, b.Close())
}

func TestBatchFlushInterval(t *testing.T) {
	rec := &batchRecorder{}
	b, err := NewBatch(BatchConfig{Size: 100, FlushInterval: 10 * time.Millisecond, Flush: rec.flush})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Write(context.Background(), "x"))
	testutil.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]any{{"x"}}, rec.snapshot())
}

func TestBatchRetries(t *testing.T) {
	rec := &batchRecorder{fail: 2}
	b, err := NewBatch(BatchConfig{Size: 1, MaxRetries: 2, RetryDelay: time.Millisecond, Flush: rec.flush})
	require.NoError(t, err)

	require.NoError(t, b.Write(context.Background(), "a"))
	require.NoError(t, b.Close())
	assert.Equal(t, [][]any{{"a"}}, rec.snapshot())
}

func TestBatchFailureIsSticky(t *testing.T) {
	rec := &batchRecorder{fail: 10}
	b, err := NewBatch(BatchConfig{Size: 1, MaxRetries: 1, RetryDelay: time.Millisecond, Flush: rec.flush})
	require.NoError(t, err)

	err = b.Write(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "downstream busy")

	assert.Equal(t, err, b.Write(context.Background(), "b"))
	assert.Equal(t, err, b.Close())
	assert.Equal(t, int64(1), b.Stats().Errors)
}

func TestBatchConfigValidation(t *testing.T) {
	_, err := NewBatch(BatchConfig{Size: 1})
	assert.True(t, dterrors.IsValidationError(err))

	_, err = NewBatch(BatchConfig{Size: -1, Flush: (&batchRecorder{}).flush})
	assert.True(t, dterrors.IsValidationError(err))
}

func TestBatchIntoRedisStream(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	defer client.Close()

	rs, err := NewRedisStream(RedisStreamConfig{Client: client, Stream: "batched"})
	require.NoError(t, err)
	b, err := NewBatch(BatchConfig{Size: 3, Flush: rs.WriteBatch})
	require.NoError(t, err)

	ctx := context.Background()
	for i := range 7 {
		require.NoError(t, b.Write(ctx, i))
	}
	require.NoError(t, b.Close())

	msgs, err := client.XRange(ctx, "batched", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 7)

	got := make([]any, 0, len(msgs))
	for _, m := range msgs {
		var v any
		require.NoError(t, wire.Unmarshal([]byte(m.Values[DefaultField].(string)), &v))
		got = append(got, v)
	}
	assert.Equal(t, []any{0, 1, 2, 3, 4, 5, 6}, testutil.Ints(got))
}

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (c *closeBuffer) Close() error {
	c.closed = true
	return nil
}

func TestWriter(t *testing.T) {
	var out closeBuffer
	w := NewWriter(&out)

	ctx := context.Background()
	require.NoError(t, w.Write(ctx, 1))
	require.NoError(t, w.Write(ctx, "two"))
	assert.Zero(t, out.Len(), "output is buffered until Close")

	require.NoError(t, w.Close())
	assert.True(t, out.closed)
	assert.ErrorIs(t, w.Write(ctx, 3), dterrors.ErrClosed)

	dec := wire.NewDecoder(&out.Buffer)
	first, err := dec.DecodeInterfaceLoose()
	require.NoError(t, err)
	second, err := dec.DecodeInterfaceLoose()
	require.NoError(t, err)
	assert.Equal(t, []any{1, "two"}, testutil.Ints([]any{first, second}))
}
