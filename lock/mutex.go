package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// DefaultSessionTTL is the lease TTL, in seconds, for the etcd session
// backing a lock handle. If the holding process dies, the lock is freed
// once the lease expires.
const DefaultSessionTTL = 10

// Option configures an etcd-backed lock handle.
type Option func(*lockCore)

// WithSessionTTL sets the lease TTL, in seconds, of the session created for
// each acquisition.
func WithSessionTTL(seconds int) Option {
	return func(c *lockCore) {
		c.ttl = seconds
	}
}

// etcdMutex is the slice of *concurrency.Mutex the lock handles drive.
type etcdMutex interface {
	TryLock(ctx context.Context) error
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// etcdSession is the slice of *concurrency.Session the lock handles drive.
type etcdSession interface {
	Close() error
}

// lockCore holds the etcd session state shared by both mutex variants. A
// fresh session is created per acquisition and closed on release, so a
// handle can be reused across acquire/release cycles.
//
// session and mutex are guarded by mu. acquire runs without mu held, so
// Release and IsAcquiredInThisProcess stay responsive while an acquisition
// is waiting in etcd.
type lockCore struct {
	pfx string
	ttl int

	// newAttempt creates the session and mutex for one acquisition.
	newAttempt func() (etcdSession, etcdMutex, error)

	mu      sync.Mutex
	session etcdSession
	mutex   etcdMutex
}

func initLockCore(c *lockCore, client *clientv3.Client, pfx string, opts []Option) {
	c.pfx = pfx
	c.ttl = DefaultSessionTTL
	for _, opt := range opts {
		opt(c)
	}

	ttl, prefix := c.ttl, c.pfx
	c.newAttempt = func() (etcdSession, etcdMutex, error) {
		session, err := concurrency.NewSession(client, concurrency.WithTTL(ttl))
		if err != nil {
			return nil, nil, err
		}
		return session, concurrency.NewMutex(session, prefix), nil
	}
}

// acquire runs one acquisition attempt. It must be called without c.mu
// held: the wait can last the full timeout. When acquired, the caller
// commits the returned session and mutex to the handle under c.mu.
func (c *lockCore) acquire(ctx context.Context, timeout time.Duration) (etcdSession, etcdMutex, bool, error) {
	session, mutex, err := c.newAttempt()
	if err != nil {
		return nil, nil, false, fmt.Errorf("create session for %s: %w", c.pfx, err)
	}

	acquired, err := lockWithTimeout(ctx, mutex, timeout)
	if !acquired {
		_ = session.Close()
		return nil, nil, false, err
	}
	return session, mutex, true, nil
}

// releaseLocked releases the held mutex and closes its session, ending the
// lease. Callers must hold c.mu and have verified the lock is held.
func (c *lockCore) releaseLocked(ctx context.Context) error {
	mutex := c.mutex
	session := c.session
	c.mutex = nil
	c.session = nil

	defer func() {
		if session != nil {
			_ = session.Close()
		}
	}()

	if err := mutex.Unlock(ctx); err != nil {
		return fmt.Errorf("unlock %s: %w", c.pfx, err)
	}
	return nil
}

// lockWithTimeout maps etcd's context-based waiting onto the
// boolean-plus-error acquisition contract: false with a nil error means the
// wait timed out, a non-nil error means the primitive failed. A caller
// context that is already done, or becomes done during the wait, is a
// failure rather than a timeout.
func lockWithTimeout(ctx context.Context, mutex etcdMutex, timeout time.Duration) (bool, error) {
	if timeout == 0 {
		err := mutex.TryLock(ctx)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, concurrency.ErrLocked):
			return false, nil
		default:
			return false, err
		}
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := mutex.Lock(lockCtx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return false, nil
	default:
		return false, err
	}
}

// Mutex is a distributed lock that is re-entrant within the owning process:
// while held, further Acquire calls on the same handle succeed immediately
// and increment an acquisition count, and the lock is only released back to
// etcd when Release has been called once per acquisition. Release through a
// handle that does not hold the lock fails with ErrNotAcquired.
//
// Goroutines carry no identity, so ownership cannot be narrower than the
// handle: any goroutine holding the handle may re-enter or release.
type Mutex struct {
	core  lockCore
	count int // re-entrant acquisition depth, guarded by core.mu
}

// NewMutex creates a re-entrant lock handle for the given etcd key prefix.
// Handles contending for the same prefix exclude one another across
// processes.
func NewMutex(client *clientv3.Client, pfx string, opts ...Option) *Mutex {
	m := &Mutex{}
	initLockCore(&m.core, client, pfx, opts)
	return m
}

func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	m.core.mu.Lock()
	if m.count > 0 {
		m.count++
		m.core.mu.Unlock()
		return true, nil
	}
	m.core.mu.Unlock()

	session, mutex, acquired, err := m.core.acquire(ctx, timeout)
	if !acquired {
		return false, err
	}

	// The etcd key is exclusive, and count stays positive for as long as
	// this handle's session holds it, so count is zero here.
	m.core.mu.Lock()
	defer m.core.mu.Unlock()
	m.core.session = session
	m.core.mutex = mutex
	m.count = 1
	return true, nil
}

func (m *Mutex) Release(ctx context.Context) error {
	m.core.mu.Lock()
	defer m.core.mu.Unlock()

	if m.count == 0 {
		return ErrNotAcquired
	}

	m.count--
	if m.count > 0 {
		return nil
	}
	return m.core.releaseLocked(ctx)
}

func (m *Mutex) IsAcquiredInThisProcess() bool {
	m.core.mu.Lock()
	defer m.core.mu.Unlock()
	return m.count > 0
}

// SemaphoreMutex is a non-re-entrant distributed lock: while held, another
// Acquire on the same handle waits in etcd like any other contender. Any
// goroutine with access to the handle may release it, and a release hands
// the lock to whichever contender is next in line, including a waiter on
// the same handle.
type SemaphoreMutex struct {
	core lockCore
	held bool // guarded by core.mu
}

// NewSemaphoreMutex creates a non-re-entrant lock handle for the given etcd
// key prefix.
func NewSemaphoreMutex(client *clientv3.Client, pfx string, opts ...Option) *SemaphoreMutex {
	s := &SemaphoreMutex{}
	initLockCore(&s.core, client, pfx, opts)
	return s
}

func (s *SemaphoreMutex) Acquire(ctx context.Context, timeout time.Duration) (bool, error) {
	session, mutex, acquired, err := s.core.acquire(ctx, timeout)
	if !acquired {
		return false, err
	}

	// The etcd key is exclusive, and held stays true for as long as this
	// handle's session holds it, so held is false here.
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	s.core.session = session
	s.core.mutex = mutex
	s.held = true
	return true, nil
}

func (s *SemaphoreMutex) Release(ctx context.Context) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()

	if !s.held {
		return ErrNotAcquired
	}

	s.held = false
	return s.core.releaseLocked(ctx)
}

func (s *SemaphoreMutex) IsAcquiredInThisProcess() bool {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return s.held
}
