// Package etcdkit wires the kit's pieces together: it validates
// configuration, owns a managed etcd client, and hands out the lock helper
// and health checker bound to that client. It is the one-stop entry point
// for applications; the subpackages remain usable on their own.
package etcdkit

import (
	"fmt"

	"go.uber.org/zap"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kiwiproject/etcdkit/client"
	"github.com/kiwiproject/etcdkit/health"
	"github.com/kiwiproject/etcdkit/lock"
)

// StartupError indicates the etcd client could not be started.
type StartupError struct {
	Cause error
}

func (e *StartupError) Error() string {
	if e.Cause == nil {
		return "error starting etcd client"
	}
	return "error starting etcd client: " + e.Cause.Error()
}

func (e *StartupError) Unwrap() error { return e.Cause }

// Kit bundles a managed etcd client with the coordination helpers built on
// it.
type Kit struct {
	cfg     client.Config
	logger  *zap.Logger
	managed *client.Managed
	locks   *lock.Helper
}

// New validates cfg and builds a Kit. The etcd client is not dialed until
// Start is called. A nil logger is replaced with a no-op logger.
func New(cfg client.Config, logger *zap.Logger) (*Kit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("create kit: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Kit{
		cfg:     cfg,
		logger:  logger,
		managed: client.NewManaged(cfg, logger),
		locks:   lock.NewHelper(logger),
	}, nil
}

// Start starts the managed etcd client, wrapping any failure in a
// *StartupError. It is idempotent.
func (k *Kit) Start() error {
	if err := k.managed.Start(); err != nil {
		return &StartupError{Cause: err}
	}

	k.logger.Info("started etcd client",
		zap.Strings("endpoints", k.cfg.Endpoints),
		zap.String("health_check", k.cfg.HealthCheckName))
	return nil
}

// Stop stops the managed etcd client if it was started.
func (k *Kit) Stop() error {
	return k.managed.Stop()
}

// Client returns the underlying etcd client, or nil before Start.
func (k *Kit) Client() *clientv3.Client {
	return k.managed.Client()
}

// Managed returns the managed client wrapper, for callers that hand
// start/stop to their own lifecycle mechanism.
func (k *Kit) Managed() *client.Managed {
	return k.managed
}

// Locks returns the lock coordination helper.
func (k *Kit) Locks() *lock.Helper {
	return k.locks
}

// HealthCheckName returns the configured name under which the health check
// should be registered.
func (k *Kit) HealthCheckName() string {
	return k.cfg.HealthCheckName
}

// HealthChecker builds a health checker over the current client. Before
// Start (or after Stop) the checker reports unhealthy.
func (k *Kit) HealthChecker() *health.Checker {
	cli := k.managed.Client()
	if cli == nil {
		return health.NewChecker(nil, k.cfg.Endpoints, k.logger)
	}
	return health.NewChecker(cli, k.cfg.Endpoints, k.logger)
}
