// Package lock turns a raw distributed mutual-exclusion primitive into a
// safe, timeout-bounded critical-section facility.
//
// Lock handles are obtained from NewMutex or NewSemaphoreMutex and arbitrate
// exclusivity through etcd; this package never implements consensus or
// fencing itself. The Helper bounds acquisition time, guarantees release on
// every exit path, and normalizes the primitive's heterogeneous failure
// modes into a small error taxonomy (AcquisitionFailureError and
// AcquisitionTimeoutError), so callers can distinguish "could not get the
// lock" from "got the lock but the protected operation failed" without
// writing the acquire/defer/release bookkeeping themselves.
package lock

import (
	"context"
	"time"
)

// Lock is the capability set the Helper requires from a distributed lock
// handle. A handle represents one attempt or session to hold a named lock;
// it is owned by the caller and is never cached by the Helper.
type Lock interface {
	// Acquire attempts to obtain the lock, blocking up to timeout.
	// It returns true once the lock is held, false with a nil error when
	// the timeout elapsed without acquiring, and a non-nil error for any
	// abnormal failure. A zero timeout means "try once, do not wait".
	// ctx carries caller cancellation; cancellation surfaces as an error,
	// not as a timeout.
	Acquire(ctx context.Context, timeout time.Duration) (bool, error)

	// Release releases the lock. It returns an error if the lock is not
	// held by this process or the underlying primitive fails.
	Release(ctx context.Context) error

	// IsAcquiredInThisProcess reports whether this process currently
	// holds the lock through this handle.
	IsAcquiredInThisProcess() bool
}
