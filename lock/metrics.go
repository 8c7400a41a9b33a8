package lock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultAcquired = "acquired"
	resultTimeout  = "timeout"
	resultFailure  = "failure"
	resultReleased = "released"
)

var (
	acquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etcdkit_lock_acquisitions_total",
			Help: "Total number of lock acquisition attempts, by result.",
		},
		[]string{"result"},
	)

	releasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etcdkit_lock_releases_total",
			Help: "Total number of lock release attempts, by result.",
		},
		[]string{"result"},
	)

	holdDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "etcdkit_lock_hold_duration_seconds",
			Help:    "Time spent holding a lock inside UseLock or WithLock.",
			Buckets: prometheus.DefBuckets,
		},
	)
)
