package workerpool

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vnykmshr/datatide/internal/wire"
	"github.com/vnykmshr/datatide/pkg/scheduling/pipeline"
	"github.com/vnykmshr/datatide/pkg/transform"
)

// Worker process protocol. Frames are msgpack values written back to back.
//
//	parent -> child: initFrame, then requestFrame...
//	child -> parent: replyFrame{ID: 0} as the handshake, then replyFrame...
//
// A requestFrame with Cancel set withdraws an earlier request; the child
// sends no reply for it.

// EnvWorker marks a process started as a datatide worker.
const EnvWorker = "DATATIDE_WORKER"

const handshakeID = 0

type initFrame struct {
	Steps         []transform.SerializedStep `msgpack:"steps"`
	StepTimeoutMs int64                      `msgpack:"step_timeout_ms"`
}

type requestFrame struct {
	ID     uint64 `msgpack:"id"`
	Cancel bool   `msgpack:"cancel,omitempty"`
	Data   any    `msgpack:"data"`
}

type replyFrame struct {
	ID      uint64            `msgpack:"id"`
	Data    any               `msgpack:"data"`
	Failure *pipeline.Failure `msgpack:"failure,omitempty"`
}

// errEncode marks a value that could not be encoded. Nothing was written.
var errEncode = errors.New("cannot encode frame")

// frameWriter serializes whole frames so a failed encode never leaves a
// partial frame on the stream.
type frameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (fw *frameWriter) write(v any) error {
	b, err := wire.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", errEncode, err)
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(b)
	return err
}

func newFrameReader(r io.Reader) *wire.Decoder {
	return wire.NewDecoder(bufio.NewReader(r))
}
