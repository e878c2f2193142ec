package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// installsTotal tracks install outcomes by result: success, failure
	installsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_installs_total",
			Help: "Total number of cache version installs, by result",
		},
		[]string{"result"},
	)

	// namespacesDropped tracks namespaces removed during activation
	namespacesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_namespaces_dropped_total",
			Help: "Total number of stale namespaces dropped during activation",
		},
	)
)
