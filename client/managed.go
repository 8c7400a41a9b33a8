package client

import (
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Managed owns an etcd client's lifecycle: Start dials the client exactly
// once no matter how many times it is called, and Stop closes it if it was
// started. It exists so process wiring can hand the start/stop pair to
// whatever lifecycle mechanism the host application uses.
type Managed struct {
	cfg    Config
	logger *zap.Logger
	dial   func(Config, *zap.Logger) (*clientv3.Client, error)

	mu      sync.Mutex
	client  *clientv3.Client
	started bool
}

// NewManaged creates a managed client for the given configuration. The
// client is not dialed until Start is called.
func NewManaged(cfg Config, logger *zap.Logger) *Managed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Managed{cfg: cfg, logger: logger, dial: New}
}

// Start dials the etcd client if it has not been started. Subsequent calls
// are no-ops.
func (m *Managed) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		m.logger.Debug("etcd client already started")
		return nil
	}

	m.logger.Info("starting etcd client",
		zap.Strings("endpoints", m.cfg.Endpoints))

	cli, err := m.dial(m.cfg, m.logger)
	if err != nil {
		return fmt.Errorf("start etcd client: %w", err)
	}

	m.client = cli
	m.started = true
	return nil
}

// Stop closes the etcd client if it was started; otherwise it does nothing.
func (m *Managed) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		m.logger.Debug("etcd client is not started; nothing to close")
		return nil
	}

	m.logger.Info("stopping etcd client")
	m.started = false

	cli := m.client
	m.client = nil
	if err := cli.Close(); err != nil {
		return fmt.Errorf("close etcd client: %w", err)
	}
	return nil
}

// Client returns the underlying client, or nil if Start has not succeeded
// or Stop has been called.
func (m *Managed) Client() *clientv3.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

// IsStarted reports whether the client is currently started.
func (m *Managed) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}
