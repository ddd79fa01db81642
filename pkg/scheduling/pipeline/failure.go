package pipeline

import (
	"errors"
	"time"

	dterrors "github.com/vnykmshr/datatide/pkg/common/errors"
)

// Failure kinds carried across a worker boundary.
const (
	KindRuntime     = "runtime"
	KindStepTimeout = "step_timeout"
	KindUnknown     = "unknown"
	KindStartup     = "startup"
)

// Failure is the structured form of a chain failure. It only carries a
// kind, a step label and a message, so it survives any transport.
type Failure struct {
	Kind      string `msgpack:"kind"`
	Step      string `msgpack:"step,omitempty"`
	Index     int    `msgpack:"index"`
	Message   string `msgpack:"message,omitempty"`
	TimeoutMs int64  `msgpack:"timeout_ms,omitempty"`
}

// FailureOf converts err into its structured form. Errors outside the
// step taxonomy become runtime failures carrying their message, or unknown
// failures if they have none.
func FailureOf(err error) *Failure {
	if err == nil {
		return nil
	}

	var (
		timeout *dterrors.StepTimeoutError
		rt      *dterrors.StepRuntimeError
		unknown *dterrors.UnknownError
		startup *dterrors.WorkerStartupError
	)
	switch {
	case errors.As(err, &startup):
		msg := ""
		if startup.Cause != nil {
			msg = startup.Cause.Error()
		}
		return &Failure{Kind: KindStartup, Step: startup.Step, Index: startup.Index, Message: msg}
	case errors.As(err, &timeout):
		return &Failure{Kind: KindStepTimeout, Step: timeout.Step, TimeoutMs: timeout.Timeout.Milliseconds()}
	case errors.As(err, &unknown):
		return &Failure{Kind: KindUnknown, Step: unknown.Step}
	case errors.As(err, &rt):
		return &Failure{Kind: KindRuntime, Step: rt.Step, Message: rt.Message}
	case err.Error() == "":
		return &Failure{Kind: KindUnknown}
	default:
		return &Failure{Kind: KindRuntime, Message: err.Error()}
	}
}

// Err rebuilds the taxonomy error described by f.
func (f *Failure) Err() error {
	if f == nil {
		return nil
	}

	switch f.Kind {
	case KindStartup:
		return &dterrors.WorkerStartupError{Step: f.Step, Index: f.Index, Cause: errors.New(f.Message)}
	case KindStepTimeout:
		return &dterrors.StepTimeoutError{Step: f.Step, Timeout: time.Duration(f.TimeoutMs) * time.Millisecond}
	case KindRuntime:
		if f.Message != "" {
			return &dterrors.StepRuntimeError{Step: f.Step, Message: f.Message, Cause: errors.New(f.Message)}
		}
	}
	return &dterrors.UnknownError{Step: f.Step}
}
