// Package cache provides the namespaced response store behind the offline-edge
// gateway.
//
// A Store maps request identities to stored responses inside named namespaces.
// Each namespace is an isolated cache region with its own retention policy;
// the gateway keeps one namespace per resource class and cache version
// (bootstrap-v3, api-v3, ...). Two implementations are provided:
//
// - Memory: mutex-guarded in-process store, the default backend and the one used in tests
// - Redis: shared backend for multi-instance deployments, entries stored as JSON blobs with a per-namespace sorted-set insertion index
//
// # Basic Usage
//
//	store := cache.NewMemory()
//
//	key := cache.Key(req.Method, req.URL)
//	entry, err := cache.NewEntry(key, resp)
//	if err != nil {
//		return err
//	}
//	if err := store.Put(ctx, "api-v3", key, entry); err != nil {
//		return err
//	}
//	if _, err := cache.EnforceBound(ctx, store, "api-v3", 30); err != nil {
//		return err
//	}
//
// # Staleness
//
// Staleness is always the caller's decision: Get returns entries of any age
// together with their insertion stamp, and strategies that never expire simply
// never consult the stamp.
//
//	entry, err := store.Get(ctx, "api-v3", key)
//	if err == nil && !entry.Expired(5*time.Minute) {
//		return entry.Response(req), nil
//	}
//
// An entry without a stamp reports expired for every TTL: an unknown age is
// treated as stale, never as fresh.
//
// # Eviction
//
// Eviction is FIFO by insertion order, not LRU. EnforceBound deletes the
// oldest entries until the namespace is back under its bound and guarantees
// the bound holds when it returns. Reads may race with eviction and observe
// either the pre- or post-eviction state; per-key deletes are atomic in both
// implementations, so a partially deleted entry is never observable.
//
// # Metrics
//
// Both stores export Prometheus metrics:
//
//   - edge_cache_hits_total{namespace} - Get calls that found an entry
//   - edge_cache_misses_total{namespace} - Get calls that found nothing
//   - edge_cache_evictions_total{namespace} - entries removed by EnforceBound
//   - edge_cache_entries{namespace} - current entry count
//   - edge_cache_errors_total{operation} - failed store operations
package cache
