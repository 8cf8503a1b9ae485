package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readshelf_image_cache_hits_total",
		Help: "Image lookups answered from a live cache record.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readshelf_image_cache_misses_total",
		Help: "Image lookups without a live cache record.",
	})
	coalescedFetchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readshelf_image_cache_coalesced_fetches_total",
		Help: "Callers that shared another caller's in-flight download.",
	})
	fetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "readshelf_image_cache_fetch_failures_total",
		Help: "Failed image downloads by failure kind.",
	}, []string{"kind"})
	fetchDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "readshelf_image_cache_fetch_duration_seconds",
		Help:    "Time to download and persist one image.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	cachedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readshelf_image_cache_written_bytes_total",
		Help: "Bytes written to the image cache directory.",
	})
	orphanRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readshelf_image_cache_orphan_records_total",
		Help: "Records dropped on lookup because their file was missing.",
	})
	evictionRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readshelf_image_cache_eviction_runs_total",
		Help: "Completed eviction sweeps.",
	})
	evictedRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readshelf_image_cache_evicted_records_total",
		Help: "Records removed by eviction sweeps.",
	})
	sweptFilesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "readshelf_image_cache_swept_files_total",
		Help: "Files without a record removed by eviction sweeps.",
	})
)
