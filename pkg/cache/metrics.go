package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks Get calls that found an entry, by namespace
	cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"namespace"},
	)

	// cacheMisses tracks Get calls that found nothing, by namespace
	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"namespace"},
	)

	// cacheEvictions tracks entries removed by bound enforcement
	cacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_evictions_total",
			Help: "Total number of entries evicted to enforce namespace bounds",
		},
		[]string{"namespace"},
	)

	// cacheEntries tracks the current entry count per namespace
	cacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edge_cache_entries",
			Help: "Current number of entries per namespace",
		},
		[]string{"namespace"},
	)

	// cacheErrors tracks failed store operations
	cacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "put", "delete", "keys", "count", "namespaces", "drop"
	)
)
