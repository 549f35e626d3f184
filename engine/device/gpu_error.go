package device

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a GpuError.
type ErrorKind int

const (
	// KindResourceCreation means the device rejected a buffer, image, structure or pipeline.
	KindResourceCreation ErrorKind = iota

	// KindContractViolation means the caller broke an API contract (bad index, size mismatch, misuse).
	KindContractViolation

	// KindOutOfDate means the presentation surface no longer matches the window.
	KindOutOfDate

	// KindReadOnlyUpdate means an update was requested on a structure built without update support.
	KindReadOnlyUpdate

	// KindDeviceLost means a wait timed out or the device failed a submission.
	KindDeviceLost
)

func (k ErrorKind) String() string {
	switch k {
	case KindResourceCreation:
		return "resource creation"
	case KindContractViolation:
		return "contract violation"
	case KindOutOfDate:
		return "out of date"
	case KindReadOnlyUpdate:
		return "read-only update"
	case KindDeviceLost:
		return "device lost"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Fatal reports whether errors of this kind must stop the frame loop.
func (k ErrorKind) Fatal() bool {
	return k != KindOutOfDate && k != KindReadOnlyUpdate
}

var (
	ErrAlreadyMapped        = errors.New("memory is already mapped")
	ErrNotMapped            = errors.New("memory is not mapped")
	ErrNotHostVisible       = errors.New("memory is not host visible")
	ErrMemoryInUse          = errors.New("memory still has bound buffers")
	ErrBufferInUse          = errors.New("buffer is still referenced")
	ErrAlreadyBound         = errors.New("buffer is already bound to memory")
	ErrNotBound             = errors.New("buffer is not bound to memory")
	ErrDestroyed            = errors.New("object has been destroyed")
	ErrOutOfRange           = errors.New("range exceeds object bounds")
	ErrMisaligned           = errors.New("offset is not aligned")
	ErrMissingUsage         = errors.New("buffer lacks the required usage")
	ErrInvalidState         = errors.New("command buffer is in the wrong state")
	ErrMissingBarrier       = errors.New("top-level build reads a bottom-level structure without an intervening barrier")
	ErrNotBuilt             = errors.New("acceleration structure has not been built")
	ErrUnknownAddress       = errors.New("device address does not resolve to a live object")
	ErrUpdateNotAllowed     = errors.New("acceleration structure was not built with update support")
	ErrFenceNotReset        = errors.New("fence is still signaled")
	ErrTimeout              = errors.New("wait timed out")
	ErrOutOfDate            = errors.New("surface is out of date")
	ErrInvalidShaderRecords = errors.New("shader binding regions are invalid")
	ErrNoSurface            = errors.New("device has no presentation surface")
)

// GpuError is the error type returned across the device boundary.
type GpuError struct {
	Kind      ErrorKind
	Component string
	Op        string
	Err       error
}

// NewError wraps err as a GpuError.
//
// Parameters:
//   - kind: the error classification
//   - component: the subsystem reporting the error (e.g. "accel")
//   - op: the operation that failed (e.g. "build bottom level")
//   - err: the underlying cause
//
// Returns:
//   - *GpuError: the wrapped error
func NewError(kind ErrorKind, component, op string, err error) *GpuError {
	return &GpuError{Kind: kind, Component: component, Op: op, Err: err}
}

func (e *GpuError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Op, e.Err)
}

func (e *GpuError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error must stop the frame loop.
func (e *GpuError) Fatal() bool {
	return e.Kind.Fatal()
}

// KindOf returns the kind of the first GpuError in err's chain.
//
// Parameters:
//   - err: any error
//
// Returns:
//   - ErrorKind: the kind found
//   - bool: false if err carries no GpuError
func KindOf(err error) (ErrorKind, bool) {
	var gerr *GpuError
	if errors.As(err, &gerr) {
		return gerr.Kind, true
	}
	return 0, false
}

// IsFatal reports whether err must stop the frame loop. Errors that carry no GpuError
// are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	kind, ok := KindOf(err)
	return !ok || kind.Fatal()
}

// asGpuError returns err unchanged if it already carries a GpuError, otherwise wraps it.
func asGpuError(kind ErrorKind, component, op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *GpuError
	if errors.As(err, &gerr) {
		return err
	}
	return NewError(kind, component, op, err)
}

// violation is shorthand for a device-layer contract violation.
func violation(op string, err error) error {
	return NewError(KindContractViolation, "device", op, err)
}
