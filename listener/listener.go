// Package listener contains logging glue for etcd coordination events. The
// functions block and are meant to be run in their own goroutine; they
// return when the watched source or the context ends.
package listener

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// LogSessionEvents logs, at warn level, when a coordination session's lease
// is lost - either because it expired or because the session was closed.
// done is the session's Done channel; name identifies the session in logs.
func LogSessionEvents(ctx context.Context, done <-chan struct{}, name string, logger *zap.Logger) {
	select {
	case <-ctx.Done():
	case <-done:
		logger.Warn("etcd session ended; lease expired or session closed",
			zap.String("session", name))
	}
}

// LogWatchEvents watches all keys beneath prefix and logs each event until
// ctx ends or the watch channel closes.
func LogWatchEvents(ctx context.Context, watcher clientv3.Watcher, prefix string, logger *zap.Logger) {
	ch := watcher.Watch(ctx, prefix, clientv3.WithPrefix())

	for resp := range ch {
		if err := resp.Err(); err != nil {
			logger.Warn("watch error",
				zap.String("prefix", prefix),
				zap.Error(err))
			continue
		}

		for _, ev := range resp.Events {
			logger.Info("watch event",
				zap.String("prefix", prefix),
				zap.String("type", ev.Type.String()),
				zap.ByteString("key", ev.Kv.Key),
				zap.Int64("mod_revision", ev.Kv.ModRevision))
		}
	}
}
