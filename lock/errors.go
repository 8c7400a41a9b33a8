package lock

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotAcquired is returned by Release when the lock is not currently held
// by this process.
var ErrNotAcquired = errors.New("lock is not acquired in this process")

// ErrorType identifies which phase of a locked operation failed. It is
// passed to the error handlers of UseLockHandlingErrors and
// WithLockHandlingErrors so callers can treat acquisition failures and
// operation failures differently.
type ErrorType int

const (
	// ErrorTypeLockAcquisition indicates the failure occurred while trying
	// to obtain the lock.
	ErrorTypeLockAcquisition ErrorType = iota

	// ErrorTypeOperation indicates the lock was obtained and the failure
	// occurred while running the caller's function.
	ErrorTypeOperation
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeLockAcquisition:
		return "LOCK_ACQUISITION"
	case ErrorTypeOperation:
		return "OPERATION"
	default:
		return fmt.Sprintf("ErrorType(%d)", int(t))
	}
}

// AcquisitionError is implemented by every error the Helper produces when a
// lock cannot be obtained. Match it with errors.As to catch both the
// timeout and failure kinds uniformly, or match the concrete types for
// specific handling.
type AcquisitionError interface {
	error
	isAcquisitionError()
}

// AcquisitionFailureError indicates the lock primitive returned an error
// while acquiring. The original error is never swallowed, only wrapped.
type AcquisitionFailureError struct {
	Cause error
}

func (e *AcquisitionFailureError) Error() string {
	if e.Cause == nil {
		return "failed to acquire lock"
	}
	return "failed to acquire lock: " + e.Cause.Error()
}

func (e *AcquisitionFailureError) Unwrap() error { return e.Cause }

func (*AcquisitionFailureError) isAcquisitionError() {}

// AcquisitionTimeoutError indicates the lock could not be obtained within
// the allotted time. Unlike AcquisitionFailureError this is an expected,
// bounded-wait outcome, typically a sign of contention.
type AcquisitionTimeoutError struct {
	Timeout time.Duration
}

func (e *AcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("failed to acquire lock; timed out after %s", e.Timeout)
}

func (*AcquisitionTimeoutError) isAcquisitionError() {}

// IsAcquisitionError reports whether err, or any error it wraps, is one of
// the acquisition failure kinds.
func IsAcquisitionError(err error) bool {
	var acqErr AcquisitionError
	return errors.As(err, &acqErr)
}
