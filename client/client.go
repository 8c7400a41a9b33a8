package client

import (
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// New creates an etcd client from the given configuration. The client dials
// lazily; use health.Checker or a trivial read to verify connectivity. A
// nil logger is replaced with a no-op logger.
func New(cfg Config, logger *zap.Logger) (*clientv3.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:            cfg.Endpoints,
		DialTimeout:          cfg.DialTimeout,
		DialKeepAliveTime:    cfg.KeepAliveTime,
		DialKeepAliveTimeout: cfg.KeepAliveTimeout,
		AutoSyncInterval:     cfg.AutoSyncInterval,
		Username:             cfg.Username,
		Password:             cfg.Password,
		Logger:               logger.Named("etcd"),
		DialOptions: []grpc.DialOption{
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create etcd client: %w", err)
	}
	return cli, nil
}

// CloseQuietly closes the client, ignoring a nil client and logging any
// close error at warn level instead of returning it.
func CloseQuietly(cli *clientv3.Client, logger *zap.Logger) {
	if cli == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cli.Close(); err != nil {
		logger.Warn("unable to close etcd client", zap.Error(err))
	}
}
