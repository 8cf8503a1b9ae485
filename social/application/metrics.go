package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readshelf_sync_passes_total",
		Help: "Sync passes by trigger.",
	}, []string{"trigger"})
	syncPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readshelf_sync_pushes_total",
		Help: "Entity pushes by kind and result.",
	}, []string{"kind", "result"})
	syncPassDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "readshelf_sync_pass_duration_seconds",
		Help:    "Duration of one sync pass.",
		Buckets: prometheus.DefBuckets,
	})
)
