package cache

import (
	"context"
	"fmt"
)

// EnforceBound trims namespace to at most max entries by deleting the oldest
// ones first. It returns the number of entries evicted. When it returns
// without error the namespace holds at most max entries.
//
// A max of zero or less means the namespace is unbounded and nothing is
// evicted. Call EnforceBound after every Put to a bounded namespace; reads
// concurrent with enforcement may still observe the pre-eviction state.
func EnforceBound(ctx context.Context, store Store, namespace string, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	keys, err := store.Keys(ctx, namespace)
	if err != nil {
		return 0, fmt.Errorf("list %s keys: %w", namespace, err)
	}

	excess := len(keys) - max
	if excess <= 0 {
		return 0, nil
	}

	evicted := 0
	for _, key := range keys[:excess] {
		if err := store.Delete(ctx, namespace, key); err != nil {
			cacheEvictions.WithLabelValues(namespace).Add(float64(evicted))
			return evicted, fmt.Errorf("evict %s from %s: %w", key, namespace, err)
		}
		evicted++
	}

	cacheEvictions.WithLabelValues(namespace).Add(float64(evicted))
	return evicted, nil
}
