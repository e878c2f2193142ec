package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store. It is safe for concurrent use: every
// operation takes a single lock, which keeps the entry maps and the
// insertion order consistent without further coordination.
//
// Get returns the stored entry itself, not a copy. Entries are immutable
// snapshots; callers must not modify them.
type Memory struct {
	mu         sync.RWMutex
	namespaces map[string]*memoryNamespace
}

type memoryNamespace struct {
	entries map[string]*Entry
	order   []string // insertion order, oldest first
}

func (ns *memoryNamespace) removeFromOrder(key string) {
	for i, k := range ns.order {
		if k == key {
			ns.order = append(ns.order[:i], ns.order[i+1:]...)
			return
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		namespaces: make(map[string]*memoryNamespace),
	}
}

// Get retrieves an entry. Returns ErrCacheMiss if the namespace or key does
// not exist.
func (m *Memory) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		cacheMisses.WithLabelValues(namespace).Inc()
		return nil, ErrCacheMiss
	}

	entry, ok := ns.entries[key]
	if !ok {
		cacheMisses.WithLabelValues(namespace).Inc()
		return nil, ErrCacheMiss
	}

	cacheHits.WithLabelValues(namespace).Inc()
	return entry, nil
}

// Put stores an entry, creating the namespace if needed. Overwriting an
// existing key moves it to the back of the insertion order.
func (m *Memory) Put(ctx context.Context, namespace, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = &memoryNamespace{entries: make(map[string]*Entry)}
		m.namespaces[namespace] = ns
	}

	if _, exists := ns.entries[key]; exists {
		ns.removeFromOrder(key)
	}
	ns.entries[key] = entry
	ns.order = append(ns.order, key)

	cacheEntries.WithLabelValues(namespace).Set(float64(len(ns.entries)))
	return nil
}

// Delete removes an entry. Missing namespaces and keys are not errors.
func (m *Memory) Delete(ctx context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil
	}
	if _, exists := ns.entries[key]; !exists {
		return nil
	}

	delete(ns.entries, key)
	ns.removeFromOrder(key)

	cacheEntries.WithLabelValues(namespace).Set(float64(len(ns.entries)))
	return nil
}

// Keys returns the namespace's keys in insertion order, oldest first.
func (m *Memory) Keys(ctx context.Context, namespace string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, nil
	}

	keys := make([]string, len(ns.order))
	copy(keys, ns.order)
	return keys, nil
}

// Count returns the number of entries in the namespace.
func (m *Memory) Count(ctx context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		return 0, nil
	}
	return len(ns.entries), nil
}

// Namespaces returns all namespace names, sorted.
func (m *Memory) Namespaces(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Drop removes a namespace and all its entries.
func (m *Memory) Drop(ctx context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.namespaces[namespace]; !ok {
		return nil
	}

	delete(m.namespaces, namespace)
	cacheEntries.DeleteLabelValues(namespace)
	return nil
}
