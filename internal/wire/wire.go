// Package wire holds the msgpack codec used wherever datatide items leave
// the process: the worker subprocess protocol and Redis stream payloads.
//
// Decoding is loose: integers come back as int64 or uint64, floats as
// float64, maps as map[string]any and arrays as []any.
package wire

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoder writes msgpack values to a stream.
type Encoder = msgpack.Encoder

// Decoder reads msgpack values from a stream.
type Decoder = msgpack.Decoder

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return msgpack.NewEncoder(w)
}

// NewDecoder returns a decoder reading from r with loose interface decoding.
func NewDecoder(r io.Reader) *Decoder {
	dec := msgpack.NewDecoder(r)
	dec.UseLooseInterfaceDecoding(true)
	return dec
}

// Marshal encodes v.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return NewDecoder(bytes.NewReader(data)).Decode(v)
}
