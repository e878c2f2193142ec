package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// messagesTotal tracks dispatched control messages by op, unknown ops
// included
var messagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "edge_control_messages_total",
		Help: "Total number of control messages dispatched, by op",
	},
	[]string{"op"},
)
