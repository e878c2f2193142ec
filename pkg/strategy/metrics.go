package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal tracks served requests by class and outcome. Outcomes:
	// network, cache, stale, shell, fallback, queued, bypass, bypass_error.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_requests_total",
			Help: "Total number of requests served, by class and outcome",
		},
		[]string{"class", "outcome"},
	)

	// requestDuration tracks end-to-end serving latency by class
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edge_request_duration_seconds",
			Help:    "Request serving duration in seconds, by class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	// originFailures tracks origin fetches that failed at the transport level
	originFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_origin_failures_total",
			Help: "Total number of origin fetches that failed at the transport level",
		},
	)
)
