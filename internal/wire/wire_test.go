package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooseDecoding(t *testing.T) {
	data, err := Marshal(map[string]any{"n": int8(3), "f": 1.5, "s": "x", "l": []int{1, 2}})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))

	m, ok := out.(map[string]any)
	require.True(t, ok, "expected map[string]any, got %T", out)
	assert.Equal(t, int64(3), m["n"])
	assert.Equal(t, 1.5, m["f"])
	assert.Equal(t, "x", m["s"])
	assert.Equal(t, []any{int64(1), int64(2)}, m["l"])
}

func TestStreamFraming(t *testing.T) {
	type frame struct {
		ID   uint64 `msgpack:"id"`
		Data any    `msgpack:"data"`
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(frame{ID: 1, Data: "a"}))
	require.NoError(t, enc.Encode(frame{ID: 2, Data: nil}))

	dec := NewDecoder(&buf)
	var f frame
	require.NoError(t, dec.Decode(&f))
	assert.Equal(t, uint64(1), f.ID)
	assert.Equal(t, "a", f.Data)

	f = frame{}
	require.NoError(t, dec.Decode(&f))
	assert.Equal(t, uint64(2), f.ID)
	assert.Nil(t, f.Data)
}
