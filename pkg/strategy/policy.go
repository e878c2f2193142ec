package strategy

import (
	"time"

	"github.com/ristomat/offline-edge/pkg/classify"
)

// Strategy selects how a class balances network and cache.
type Strategy string

const (
	// NetworkFirst tries the origin and falls back to the cache, then to a
	// synthesized response. Fresh responses are written through.
	NetworkFirst Strategy = "network-first"

	// CacheFirst serves from the cache and only goes to the origin on a
	// miss, writing the fetched response through.
	CacheFirst Strategy = "cache-first"

	// NetworkOnly passes requests through untouched. No lookups, no
	// writes, no synthesized responses.
	NetworkOnly Strategy = "network-only"
)

// Policy is the retention contract for one resource class.
type Policy struct {
	// Strategy picks the serving order.
	Strategy Strategy

	// Namespace is the purpose half of the namespace id the class stores
	// into; the engine appends its cache version ("api" becomes "api-v3").
	Namespace string

	// TTL bounds how long an entry may serve. Zero means entries never
	// expire.
	TTL time.Duration

	// MaxEntries bounds the namespace, enforced after every write. Zero
	// means unbounded.
	MaxEntries int
}

// DefaultPolicies returns the stock policy table:
//
//	navigation   network-first  runtime  1 day   50 entries
//	api          network-first  api      5 min   30 entries
//	image        cache-first    image    7 days  60 entries
//	static       cache-first    runtime  never   50 entries
//	other        network-first  runtime  never   50 entries
//
// Pages and API payloads prefer freshness and keep a bounded offline copy;
// images and static assets prefer bytes-off-the-network and are refreshed by
// cache version bumps instead of TTLs. The bootstrap namespace holds only the
// seeded shell manifest and has no policy row: it is written at install time,
// never by request traffic.
func DefaultPolicies() map[classify.Class]Policy {
	return map[classify.Class]Policy{
		classify.Navigation: {
			Strategy:   NetworkFirst,
			Namespace:  "runtime",
			TTL:        24 * time.Hour,
			MaxEntries: 50,
		},
		classify.API: {
			Strategy:   NetworkFirst,
			Namespace:  "api",
			TTL:        5 * time.Minute,
			MaxEntries: 30,
		},
		classify.Image: {
			Strategy:   CacheFirst,
			Namespace:  "image",
			TTL:        7 * 24 * time.Hour,
			MaxEntries: 60,
		},
		classify.StaticAsset: {
			Strategy:   CacheFirst,
			Namespace:  "runtime",
			MaxEntries: 50,
		},
		classify.Other: {
			Strategy:   NetworkFirst,
			Namespace:  "runtime",
			MaxEntries: 50,
		},
	}
}
