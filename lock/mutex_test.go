package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// fakeCoordination emulates one etcd lock key contended by any number of
// acquisition attempts: Lock waits for the key, TryLock fails fast when it
// is taken, Unlock frees it.
type fakeCoordination struct {
	key     chan struct{}
	waiting chan struct{}
}

func newFakeCoordination() *fakeCoordination {
	return &fakeCoordination{
		key:     make(chan struct{}, 1),
		waiting: make(chan struct{}, 1),
	}
}

func (f *fakeCoordination) attempt() (etcdSession, etcdMutex, error) {
	return fakeSession{}, &fakeMutex{coord: f}, nil
}

func (f *fakeCoordination) hold() {
	f.key <- struct{}{}
}

func (f *fakeCoordination) free() {
	<-f.key
}

type fakeSession struct{}

func (fakeSession) Close() error { return nil }

type fakeMutex struct {
	coord *fakeCoordination
}

func (m *fakeMutex) TryLock(context.Context) error {
	select {
	case m.coord.key <- struct{}{}:
		return nil
	default:
		return concurrency.ErrLocked
	}
}

func (m *fakeMutex) Lock(ctx context.Context) error {
	select {
	case m.coord.waiting <- struct{}{}:
	default:
	}

	select {
	case m.coord.key <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *fakeMutex) Unlock(context.Context) error {
	<-m.coord.key
	return nil
}

// failingMutex returns the same error from every lock attempt.
type failingMutex struct {
	err error
}

func (f *failingMutex) TryLock(context.Context) error { return f.err }
func (f *failingMutex) Lock(context.Context) error    { return f.err }
func (f *failingMutex) Unlock(context.Context) error  { return nil }

func TestLockWithTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("zero timeout acquires a free lock", func(t *testing.T) {
		coord := newFakeCoordination()
		_, mutex, err := coord.attempt()
		require.NoError(t, err)

		acquired, err := lockWithTimeout(ctx, mutex, 0)

		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("zero timeout reports a held lock as not acquired", func(t *testing.T) {
		coord := newFakeCoordination()
		coord.hold()
		_, mutex, _ := coord.attempt()

		acquired, err := lockWithTimeout(ctx, mutex, 0)

		require.NoError(t, err)
		assert.False(t, acquired)
	})

	t.Run("zero timeout propagates other errors", func(t *testing.T) {
		primitiveErr := errors.New("etcdserver: requested lease not found")

		acquired, err := lockWithTimeout(ctx, &failingMutex{err: primitiveErr}, 0)

		require.ErrorIs(t, err, primitiveErr)
		assert.False(t, acquired)
	})

	t.Run("wait that times out is not acquired, not an error", func(t *testing.T) {
		coord := newFakeCoordination()
		coord.hold()
		_, mutex, _ := coord.attempt()

		acquired, err := lockWithTimeout(ctx, mutex, 20*time.Millisecond)

		require.NoError(t, err)
		assert.False(t, acquired)
	})

	t.Run("wait acquires once the lock frees up", func(t *testing.T) {
		coord := newFakeCoordination()
		coord.hold()
		_, mutex, _ := coord.attempt()

		go func() {
			<-coord.waiting
			coord.free()
		}()

		acquired, err := lockWithTimeout(ctx, mutex, 5*time.Second)

		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("caller cancellation is an error, not a timeout", func(t *testing.T) {
		coord := newFakeCoordination()
		coord.hold()
		_, mutex, _ := coord.attempt()

		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()

		acquired, err := lockWithTimeout(cancelCtx, mutex, 5*time.Second)

		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, acquired)
	})

	t.Run("caller deadline during the wait is an error, not a timeout", func(t *testing.T) {
		coord := newFakeCoordination()
		coord.hold()
		_, mutex, _ := coord.attempt()

		deadlineCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		acquired, err := lockWithTimeout(deadlineCtx, mutex, 5*time.Second)

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, acquired)
	})

	t.Run("wait propagates primitive errors", func(t *testing.T) {
		primitiveErr := errors.New("etcdserver: requested lease not found")

		acquired, err := lockWithTimeout(ctx, &failingMutex{err: primitiveErr}, time.Second)

		require.ErrorIs(t, err, primitiveErr)
		assert.False(t, acquired)
	})
}

func TestNewMutex(t *testing.T) {
	m := NewMutex(nil, "/locks/test-lock")

	assert.Equal(t, "/locks/test-lock", m.core.pfx)
	assert.Equal(t, DefaultSessionTTL, m.core.ttl)
	assert.False(t, m.IsAcquiredInThisProcess())
}

func TestNewMutexWithSessionTTL(t *testing.T) {
	m := NewMutex(nil, "/locks/test-lock", WithSessionTTL(30))

	assert.Equal(t, 30, m.core.ttl)
}

func TestMutexReleaseWhenNotHeld(t *testing.T) {
	m := NewMutex(nil, "/locks/test-lock")

	err := m.Release(context.Background())

	require.ErrorIs(t, err, ErrNotAcquired)
}

func TestMutexAcquireRelease(t *testing.T) {
	ctx := context.Background()

	coord := newFakeCoordination()
	m := NewMutex(nil, "/locks/test-lock")
	m.core.newAttempt = coord.attempt

	acquired, err := m.Acquire(ctx, 0)
	require.NoError(t, err)
	require.True(t, acquired)
	assert.True(t, m.IsAcquiredInThisProcess())

	require.NoError(t, m.Release(ctx))
	assert.False(t, m.IsAcquiredInThisProcess())

	// The handle is reusable: a fresh session backs the next acquisition.
	acquired, err = m.Acquire(ctx, 0)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, m.Release(ctx))
}

func TestMutexReentrantBookkeeping(t *testing.T) {
	ctx := context.Background()

	coord := newFakeCoordination()
	m := NewMutex(nil, "/locks/test-lock")
	m.core.newAttempt = coord.attempt

	acquired, err := m.Acquire(ctx, 0)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = m.Acquire(ctx, 0)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, 2, m.count)

	require.NoError(t, m.Release(ctx))
	assert.Equal(t, 1, m.count)
	assert.True(t, m.IsAcquiredInThisProcess())

	require.NoError(t, m.Release(ctx))
	assert.False(t, m.IsAcquiredInThisProcess())
	require.ErrorIs(t, m.Release(ctx), ErrNotAcquired)
}

func TestMutexHandleStaysResponsiveDuringWait(t *testing.T) {
	coord := newFakeCoordination()
	coord.hold() // a contender elsewhere holds the lock

	m := NewMutex(nil, "/locks/test-lock")
	m.core.newAttempt = coord.attempt

	var acquired bool
	var acquireErr error
	acquireDone := make(chan struct{})
	go func() {
		defer close(acquireDone)
		acquired, acquireErr = m.Acquire(context.Background(), 5*time.Second)
	}()
	<-coord.waiting

	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		assert.False(t, m.IsAcquiredInThisProcess())
		assert.ErrorIs(t, m.Release(context.Background()), ErrNotAcquired)
	}()

	select {
	case <-probeDone:
	case <-time.After(time.Second):
		t.Fatal("handle operations blocked behind a pending Acquire")
	}

	coord.free()
	select {
	case <-acquireDone:
	case <-time.After(time.Second):
		t.Fatal("pending Acquire never completed after the lock freed up")
	}

	require.NoError(t, acquireErr)
	require.True(t, acquired)
	assert.True(t, m.IsAcquiredInThisProcess())
	require.NoError(t, m.Release(context.Background()))
}

func TestNewSemaphoreMutex(t *testing.T) {
	s := NewSemaphoreMutex(nil, "/locks/test-semaphore", WithSessionTTL(5))

	assert.Equal(t, "/locks/test-semaphore", s.core.pfx)
	assert.Equal(t, 5, s.core.ttl)
	assert.False(t, s.IsAcquiredInThisProcess())
}

func TestSemaphoreMutexReleaseWhenNotHeld(t *testing.T) {
	s := NewSemaphoreMutex(nil, "/locks/test-semaphore")

	err := s.Release(context.Background())

	require.ErrorIs(t, err, ErrNotAcquired)
}

func TestSemaphoreMutexReleaseWhileAnotherGoroutineWaits(t *testing.T) {
	ctx := context.Background()

	coord := newFakeCoordination()
	s := NewSemaphoreMutex(nil, "/locks/test-semaphore")
	s.core.newAttempt = coord.attempt

	acquired, err := s.Acquire(ctx, 0)
	require.NoError(t, err)
	require.True(t, acquired)

	var secondAcquired bool
	var secondErr error
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		secondAcquired, secondErr = s.Acquire(context.Background(), 5*time.Second)
	}()
	<-coord.waiting

	// Releasing from this goroutine hands the lock to the waiter.
	require.NoError(t, s.Release(ctx))

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("waiting Acquire was not handed the released lock")
	}

	require.NoError(t, secondErr)
	assert.True(t, secondAcquired)
	assert.True(t, s.IsAcquiredInThisProcess())
	require.NoError(t, s.Release(ctx))
}
