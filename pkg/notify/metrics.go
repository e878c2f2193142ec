package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// clientsConnected tracks currently connected websocket clients
	clientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edge_notify_clients",
			Help: "Number of currently connected notification clients",
		},
	)

	// broadcastsTotal tracks broadcasts delivered to at least one client
	broadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_notify_broadcasts_total",
			Help: "Total number of notification broadcasts sent",
		},
	)

	// droppedTotal tracks clients dropped for failed writes or missed pings
	droppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edge_notify_dropped_clients_total",
			Help: "Total number of notification clients dropped",
		},
	)
)
