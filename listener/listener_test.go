package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSessionEvents(t *testing.T) {
	t.Run("warns when the session ends", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		done := make(chan struct{})
		close(done)

		LogSessionEvents(context.Background(), done, "job-lock", zap.New(core))

		entries := logs.FilterMessage("etcd session ended; lease expired or session closed").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "job-lock", entries[0].ContextMap()["session"])
	})

	t.Run("stays quiet when the context ends first", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		LogSessionEvents(ctx, make(chan struct{}), "job-lock", zap.New(core))

		assert.Zero(t, logs.Len())
	})
}

// fakeWatcher replays a scripted watch channel.
type fakeWatcher struct {
	ch clientv3.WatchChan

	gotKey  string
	gotOpts int
}

func (f *fakeWatcher) Watch(_ context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	f.gotKey = key
	f.gotOpts = len(opts)
	return f.ch
}

func (f *fakeWatcher) RequestProgress(context.Context) error { return nil }

func (f *fakeWatcher) Close() error { return nil }

func TestLogWatchEvents(t *testing.T) {
	t.Run("logs each event until the channel closes", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)

		ch := make(chan clientv3.WatchResponse, 1)
		ch <- clientv3.WatchResponse{
			Events: []*clientv3.Event{
				{
					Type: mvccpb.PUT,
					Kv:   &mvccpb.KeyValue{Key: []byte("/locks/jobs/run"), ModRevision: 7},
				},
				{
					Type: mvccpb.DELETE,
					Kv:   &mvccpb.KeyValue{Key: []byte("/locks/jobs/run"), ModRevision: 8},
				},
			},
		}
		close(ch)

		watcher := &fakeWatcher{ch: ch}
		done := make(chan struct{})
		go func() {
			defer close(done)
			LogWatchEvents(context.Background(), watcher, "/locks/jobs/", zap.New(core))
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("LogWatchEvents did not return after the watch channel closed")
		}

		assert.Equal(t, "/locks/jobs/", watcher.gotKey)
		assert.Equal(t, 1, watcher.gotOpts)

		entries := logs.FilterMessage("watch event").All()
		require.Len(t, entries, 2)
		assert.Equal(t, "PUT", entries[0].ContextMap()["type"])
		assert.Equal(t, "DELETE", entries[1].ContextMap()["type"])
		assert.Equal(t, int64(8), entries[1].ContextMap()["mod_revision"])
	})

	t.Run("logs watch errors and keeps consuming", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)

		ch := make(chan clientv3.WatchResponse, 2)
		ch <- clientv3.WatchResponse{Canceled: true}
		ch <- clientv3.WatchResponse{
			Events: []*clientv3.Event{
				{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Key: []byte("/locks/a"), ModRevision: 1}},
			},
		}
		close(ch)

		LogWatchEvents(context.Background(), &fakeWatcher{ch: ch}, "/locks/", zap.New(core))

		assert.Equal(t, 1, logs.FilterMessage("watch error").Len())
		assert.Equal(t, 1, logs.FilterMessage("watch event").Len())
	})
}
