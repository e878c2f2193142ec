package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss is returned when a key is not found in a namespace.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry is returned when a stored entry cannot be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a persistent mapping of request identities to entries, partitioned
// into named namespaces. Namespaces are created implicitly on first Put and
// are fully isolated from each other: dropping one never touches another.
//
// Get returns entries of any age; staleness is the caller's decision (see
// Entry.Expired). Implementations must make per-key writes and deletes
// atomic, so that concurrent readers observe either the whole entry or none
// of it.
type Store interface {
	// Get returns the entry stored under key, or ErrCacheMiss.
	Get(ctx context.Context, namespace, key string) (*Entry, error)

	// Put stores entry under key, replacing any previous entry. A replaced
	// key counts as a fresh insertion: its position in the eviction order
	// moves to the back, matching its new stamp.
	Put(ctx context.Context, namespace, key string, entry *Entry) error

	// Delete removes the entry stored under key. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Keys returns all keys in the namespace in insertion order, oldest
	// first. A missing namespace yields an empty slice.
	Keys(ctx context.Context, namespace string) ([]string, error)

	// Count returns the number of entries in the namespace.
	Count(ctx context.Context, namespace string) (int, error)

	// Namespaces returns the names of all existing namespaces, sorted.
	Namespaces(ctx context.Context) ([]string, error)

	// Drop removes a namespace and all its entries. Dropping a missing
	// namespace is not an error.
	Drop(ctx context.Context, namespace string) error
}
