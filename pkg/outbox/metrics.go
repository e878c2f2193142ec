package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// outboxPending tracks the number of tasks waiting for replay
	outboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_outbox_pending",
		Help: "Number of captured mutations waiting for replay",
	})

	// outboxCompleted tracks successfully replayed tasks
	outboxCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_outbox_completed_total",
		Help: "Total number of tasks replayed successfully",
	})

	// outboxRetries tracks replay attempts that did not succeed
	outboxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_outbox_retries_total",
		Help: "Total number of failed replay attempts",
	})

	// outboxDropped tracks tasks abandoned after exhausting their attempts
	outboxDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_outbox_dropped_total",
		Help: "Total number of tasks dropped after exhausting replay attempts",
	})
)
