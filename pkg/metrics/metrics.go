// Package metrics provides the centralized Prometheus metrics registry for
// the offline edge proxy. All metrics are defined in their respective
// packages (cache, strategy, lifecycle, control, outbox, netstate, notify)
// to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the proxy.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - edge_cache_hits_total{namespace} (Counter): Cache hits by namespace
//   - edge_cache_misses_total{namespace} (Counter): Cache misses by namespace
//   - edge_cache_evictions_total{namespace} (Counter): Entries evicted to hold a namespace bound
//   - edge_cache_entries{namespace} (Gauge): Current entry count by namespace
//   - edge_cache_errors_total{operation} (Counter): Store operation errors
//
// Request Metrics (pkg/strategy):
//   - edge_requests_total{class, outcome} (Counter): Served requests; outcome is one of
//     network, cache, stale, shell, fallback, queued, bypass, bypass_error
//   - edge_request_duration_seconds{class} (Histogram): End-to-end serving duration
//   - edge_origin_failures_total (Counter): Origin fetches that failed at the transport level
//
// Lifecycle Metrics (pkg/lifecycle):
//   - edge_installs_total{result} (Counter): Cache version installs by result
//   - edge_namespaces_dropped_total (Counter): Stale namespaces dropped during activation
//
// Control Metrics (pkg/control):
//   - edge_control_messages_total{op} (Counter): Dispatched control messages by op
//
// Connectivity Metrics (pkg/netstate):
//   - edge_origin_online (Gauge): 1 while the origin counts as reachable, 0 while offline
//
// Outbox Metrics (pkg/outbox):
//   - edge_outbox_pending (Gauge): Tasks currently queued for replay
//   - edge_outbox_completed_total (Counter): Tasks replayed to completion
//   - edge_outbox_retries_total (Counter): Replay attempts that did not succeed
//   - edge_outbox_dropped_total (Counter): Tasks dropped after exhausting their attempts
//
// Notification Metrics (pkg/notify):
//   - edge_notify_clients (Gauge): Currently connected websocket clients
//   - edge_notify_broadcasts_total (Counter): Broadcasts sent
//   - edge_notify_dropped_clients_total (Counter): Clients dropped for dead connections
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(edge_cache_hits_total[5m])) /
//   (sum(rate(edge_cache_hits_total[5m])) + sum(rate(edge_cache_misses_total[5m])))
//
//   # Share of requests served without the network
//   sum(rate(edge_requests_total{outcome=~"cache|stale|shell|fallback"}[5m])) /
//   sum(rate(edge_requests_total[5m]))
//
//   # Origin availability
//   edge_origin_online
//
//   # Sync backlog
//   edge_outbox_pending
//
//   # P95 Serving Latency
//   histogram_quantile(0.95, rate(edge_request_duration_seconds_bucket[5m]))
