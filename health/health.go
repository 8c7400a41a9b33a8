// Package health provides a passive connectivity check for an etcd client:
// it inspects endpoint status and issues a trivial read, without taking
// part in any coordination itself.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultCheckTimeout bounds a single Check call.
const DefaultCheckTimeout = 5 * time.Second

// EtcdClient is the slice of *clientv3.Client the checker needs: endpoint
// status and a key-value read.
type EtcdClient interface {
	Status(ctx context.Context, endpoint string) (*clientv3.StatusResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// Result is the outcome of one health check.
type Result struct {
	Healthy bool
	Message string
	Err     error
}

func healthy(format string, args ...any) Result {
	return Result{Healthy: true, Message: fmt.Sprintf(format, args...)}
}

func unhealthy(err error, format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...), Err: err}
}

// Checker checks the health of an etcd client. The client is considered
// healthy if every configured endpoint answers a status request, none of
// them is a learner (not yet a voting, writable member), and a trivial
// serializable range read succeeds.
type Checker struct {
	client    EtcdClient
	endpoints []string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewChecker creates a health checker over the given client. A nil client
// is allowed and reports unhealthy, covering the "not started yet" window.
func NewChecker(client EtcdClient, endpoints []string, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		client:    client,
		endpoints: endpoints,
		timeout:   DefaultCheckTimeout,
		logger:    logger,
	}
}

// Check runs the health check and never returns an error itself: every
// failure mode is reported inside the Result.
func (c *Checker) Check(ctx context.Context) Result {
	connectString := strings.Join(c.endpoints, ",")

	if c.client == nil {
		return unhealthy(nil, "etcd [ %s ] has no client - Start has not been called", connectString)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for _, ep := range c.endpoints {
		status, err := c.client.Status(ctx, ep)
		if err != nil {
			c.logger.Debug("endpoint status failed", zap.String("endpoint", ep), zap.Error(err))
			return unhealthy(err, "etcd [ %s ] is not connected to endpoint %s", connectString, ep)
		}
		if status.IsLearner {
			return unhealthy(nil, "etcd [ %s ] endpoint %s is a learner (read-only) member", connectString, ep)
		}
	}

	if _, err := c.client.Get(ctx, "/",
		clientv3.WithPrefix(),
		clientv3.WithSerializable(),
		clientv3.WithKeysOnly(),
		clientv3.WithLimit(1)); err != nil {
		c.logger.Debug("trivial read failed", zap.Error(err))
		return unhealthy(err, "etcd [ %s ] - unable to read keys at root prefix", connectString)
	}

	return healthy("etcd [ %s ] is healthy", connectString)
}
