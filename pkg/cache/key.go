package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key generates the deterministic request identity used as a cache key.
// Format: METHOD:/path:query1=val1:query2=val2
//
// Query parameters are sorted so that equivalent requests map to the same
// entry regardless of parameter order. Fragments are never part of the
// identity; origin and scheme are not either, because cross-origin requests
// bypass the cache entirely.
//
// Example:
//
//	GET:/api/menu:category=pizza:lang=de
func Key(method string, u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	parts := []string{strings.ToUpper(method), path}

	query := u.Query()
	if len(query) > 0 {
		queryKeys := make([]string, 0, len(query))
		for key := range query {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			values := query[key]
			sort.Strings(values)
			for _, value := range values {
				parts = append(parts, fmt.Sprintf("%s=%s", key, value))
			}
		}
	}

	return strings.Join(parts, ":")
}
