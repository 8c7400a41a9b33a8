package lock

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Helper provides acquisition with timeout, quiet release, and scoped
// "run this while holding the lock" execution over any Lock handle.
//
// A Helper is stateless apart from its logger: it never retains a handle
// between calls, performs no internal retries, and a single instance is
// safe for concurrent use from any number of goroutines.
type Helper struct {
	logger *zap.Logger
}

// NewHelper creates a Helper. A nil logger is replaced with a no-op logger.
func NewHelper(logger *zap.Logger) *Helper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Helper{logger: logger}
}

// Acquire tries to obtain the lock, waiting up to timeout.
//
// It returns nil once the lock is held. A timeout is reported as an
// *AcquisitionTimeoutError and logged at warn level, since it usually
// indicates contention worth operational visibility. Any error from the
// underlying primitive is wrapped in an *AcquisitionFailureError. A
// negative timeout is rejected as an acquisition failure; zero means
// "try once, do not wait".
func (h *Helper) Acquire(ctx context.Context, l Lock, timeout time.Duration) error {
	if timeout < 0 {
		acquisitionsTotal.WithLabelValues(resultFailure).Inc()
		return &AcquisitionFailureError{Cause: fmt.Errorf("timeout must not be negative, got %s", timeout)}
	}

	acquired, err := l.Acquire(ctx, timeout)
	if err != nil {
		acquisitionsTotal.WithLabelValues(resultFailure).Inc()
		return &AcquisitionFailureError{Cause: err}
	}

	if !acquired {
		acquisitionsTotal.WithLabelValues(resultTimeout).Inc()
		h.logger.Warn("failed to acquire lock; timed out",
			zap.Duration("timeout", timeout))
		return &AcquisitionTimeoutError{Timeout: timeout}
	}

	acquisitionsTotal.WithLabelValues(resultAcquired).Inc()
	return nil
}

// ReleaseQuietly releases the lock, ignoring a nil handle and swallowing
// any release error after logging it at warn level. It is meant for
// cleanup paths, where propagating a release error would mask the failure
// that triggered the cleanup.
func (h *Helper) ReleaseQuietly(ctx context.Context, l Lock) {
	if l == nil {
		return
	}

	if err := l.Release(ctx); err != nil {
		releasesTotal.WithLabelValues(resultFailure).Inc()
		h.logger.Warn("unable to release lock", zap.Error(err))
		return
	}

	releasesTotal.WithLabelValues(resultReleased).Inc()
}

// ReleaseQuietlyIfHeld releases the lock quietly, but only if the current
// process holds it. A nil handle or a lock held elsewhere is a no-op; the
// skipped release is logged at debug level for diagnosability, since it can
// indicate a stale or duplicate handle.
func (h *Helper) ReleaseQuietlyIfHeld(ctx context.Context, l Lock) {
	if l == nil {
		return
	}

	if !l.IsAcquiredInThisProcess() {
		h.logger.Debug("this process does not own the lock; nothing to do")
		return
	}

	h.logger.Debug("releasing lock held by this process")
	h.ReleaseQuietly(ctx, l)
}

// UseLock acquires the lock within timeout, runs action while holding it,
// and releases it.
//
// If acquisition fails, the action never runs, no release is attempted, and
// the acquisition error is returned as-is. If acquisition succeeds, release
// is guaranteed on every exit path, including a panicking action; an error
// from the action is returned to the caller after the lock is released.
func (h *Helper) UseLock(ctx context.Context, l Lock, timeout time.Duration, action func() error) error {
	_, err := WithLock(ctx, h, l, timeout, func() (struct{}, error) {
		return struct{}{}, action()
	})
	return err
}

// UseLockHandlingErrors behaves like UseLock, except failures are routed to
// errorHandler instead of being returned: acquisition failures with
// ErrorTypeLockAcquisition, action errors with ErrorTypeOperation. Exactly
// one of "the action ran to completion" and "errorHandler was invoked"
// holds per call. A panicking errorHandler is not caught.
func (h *Helper) UseLockHandlingErrors(ctx context.Context, l Lock, timeout time.Duration,
	action func() error, errorHandler func(ErrorType, error)) {

	if err := h.UseLock(ctx, l, timeout, action); err != nil {
		errorHandler(classify(err), err)
	}
}

// WithLock acquires the lock within timeout, calls supplier while holding
// it, releases the lock, and returns the supplier's result.
//
// If acquisition fails, the supplier never runs, no release is attempted,
// and the acquisition error is returned with a zero result. If the supplier
// returns an error or panics, the lock is still released before the error
// or panic reaches the caller.
//
// This is the single scoped acquire/run/release primitive; the other
// wrapper variants are built on it.
func WithLock[R any](ctx context.Context, h *Helper, l Lock, timeout time.Duration,
	supplier func() (R, error)) (R, error) {

	var zero R
	if err := h.Acquire(ctx, l, timeout); err != nil {
		return zero, err
	}

	start := time.Now()
	defer func() {
		holdDurationSeconds.Observe(time.Since(start).Seconds())
		// Release must proceed even when the caller's context is already
		// cancelled; the session TTL is the backstop, not the happy path.
		h.ReleaseQuietly(context.WithoutCancel(ctx), l)
	}()

	return supplier()
}

// WithLockHandlingErrors behaves like WithLock, except failures are routed
// to errorHandler, whose return value becomes the call's result. The
// handler must be able to produce a value of the result type for every
// failure; no default is imposed here.
func WithLockHandlingErrors[R any](ctx context.Context, h *Helper, l Lock, timeout time.Duration,
	supplier func() (R, error), errorHandler func(ErrorType, error) R) R {

	result, err := WithLock(ctx, h, l, timeout, supplier)
	if err != nil {
		return errorHandler(classify(err), err)
	}
	return result
}

func classify(err error) ErrorType {
	if IsAcquisitionError(err) {
		return ErrorTypeLockAcquisition
	}
	return ErrorTypeOperation
}
