package errors

import (
	"errors"
	"fmt"
	"time"
)

// Common error types used across the datatide library

var (
	// ErrClosed indicates that an operation was attempted on a closed resource
	ErrClosed = errors.New("resource is closed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrUnsafeTransform indicates a transform matched the unsafe construct deny-list
	ErrUnsafeTransform = errors.New("unsafe transform")

	// ErrWorkerStartup indicates a worker could not reconstruct its pipeline
	ErrWorkerStartup = errors.New("worker startup failed")

	// ErrTransport indicates the channel to a worker failed
	ErrTransport = errors.New("worker transport failed")

	// ErrUnknown indicates a failure that carried no usable message
	ErrUnknown = errors.New("unknown failure")
)

// UnknownErrorMessage is reported for failures without a usable message.
const UnknownErrorMessage = "Unknown error occurred"

// unnamed labels steps that were given no name.
const unnamed = "unnamed"

// StepLabel returns name, or "unnamed" when name is empty.
func StepLabel(name string) string {
	if name == "" {
		return unnamed
	}
	return name
}

// ValidationError describes an invalid configuration value.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the receiver.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap returns ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// OperationError wraps a failure of a named operation in a module.
type OperationError struct {
	Module    string
	Operation string
	Cause     error
	Context   string
}

// NewOperationError creates an OperationError.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

// WithContext attaches additional context and returns the receiver.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// ConfigurationError reports a malformed step list. It is raised before any
// worker is created.
type ConfigurationError struct {
	Step   string
	Index  int
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid transform step: %s (index %d). %s", StepLabel(e.Step), e.Index, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// UnsafeTransformError reports a transform whose text form matched the
// deny-list.
type UnsafeTransformError struct {
	Step    string
	Pattern string
}

func (e *UnsafeTransformError) Error() string {
	return fmt.Sprintf("invalid transform function in step: %s. Transform functions cannot use system calls, imports, or timers (found %q)",
		StepLabel(e.Step), e.Pattern)
}

func (e *UnsafeTransformError) Unwrap() error {
	return ErrUnsafeTransform
}

// WorkerStartupError reports a worker that failed to reconstruct its
// pipeline or to come up at all.
type WorkerStartupError struct {
	WorkerID int
	Step     string
	Index    int
	Cause    error
}

func (e *WorkerStartupError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("worker %d: failed to deserialize step %s (index %d): %v",
			e.WorkerID, StepLabel(e.Step), e.Index, e.Cause)
	}
	return fmt.Sprintf("worker %d: startup failed: %v", e.WorkerID, e.Cause)
}

func (e *WorkerStartupError) Unwrap() []error {
	return []error{ErrWorkerStartup, e.Cause}
}

// DispatchTimeoutError reports a request that got no reply in time.
type DispatchTimeoutError struct {
	WorkerID int
	Timeout  time.Duration
}

func (e *DispatchTimeoutError) Error() string {
	return fmt.Sprintf("worker operation timed out (worker %d, after %v)", e.WorkerID, e.Timeout)
}

func (e *DispatchTimeoutError) Unwrap() error {
	return ErrTimeout
}

// StepTimeoutError reports a step that exceeded its execution budget.
type StepTimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %s timed out", StepLabel(e.Step))
}

func (e *StepTimeoutError) Unwrap() error {
	return ErrTimeout
}

// StepRuntimeError carries the message of a failing step. Error returns the
// message unchanged.
type StepRuntimeError struct {
	Step    string
	Message string
	Cause   error
}

func (e *StepRuntimeError) Error() string {
	return e.Message
}

func (e *StepRuntimeError) Unwrap() error {
	return e.Cause
}

// UnknownError is a failure that had no usable message.
type UnknownError struct {
	Step string
}

func (e *UnknownError) Error() string {
	return UnknownErrorMessage
}

func (e *UnknownError) Unwrap() error {
	return ErrUnknown
}

// TransportError reports a broken channel to a worker, such as a worker
// process that exited.
type TransportError struct {
	WorkerID int
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("worker %d: %v", e.WorkerID, e.Cause)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Cause}
}

// IsTimeout returns true if the error is a dispatch or step timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsValidationError returns true if err is or wraps a ValidationError
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsFatal returns true for errors that end a call regardless of the
// failure behavior: configuration, unsafe transform and worker startup errors.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrUnsafeTransform) ||
		errors.Is(err, ErrWorkerStartup)
}

// IsItemFailure returns true for per-item failures that are routed through
// the failure behavior.
func IsItemFailure(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	var (
		dispatch *DispatchTimeoutError
		step     *StepTimeoutError
		runtime  *StepRuntimeError
		unknown  *UnknownError
		trans    *TransportError
	)
	return errors.As(err, &dispatch) || errors.As(err, &step) || errors.As(err, &runtime) ||
		errors.As(err, &unknown) || errors.As(err, &trans)
}
