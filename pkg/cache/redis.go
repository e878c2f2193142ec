package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "edge"

// Redis is a Store backed by a shared Redis instance.
//
// Layout, for key prefix "edge":
//
//	edge:ns                 SET of namespace names
//	edge:ns:{name}:idx      ZSET key -> insertion stamp (micros), the
//	                        eviction order
//	edge:ns:{name}:e:{key}  JSON-encoded entry
//
// Entries carry no Redis TTL: namespaces that never expire must keep their
// entries until eviction or an explicit drop, and staleness for the others
// is decided by the caller against the entry's stamp.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed store. An empty prefix selects "edge".
// The client remains owned by the caller.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func (r *Redis) namespacesKey() string {
	return r.prefix + ":ns"
}

func (r *Redis) indexKey(namespace string) string {
	return fmt.Sprintf("%s:ns:%s:idx", r.prefix, namespace)
}

func (r *Redis) entryKey(namespace, key string) string {
	return fmt.Sprintf("%s:ns:%s:e:%s", r.prefix, namespace, key)
}

// insertionScore converts the entry stamp to a ZSET score. Microsecond
// resolution fits float64 exactly; unstamped entries sort before everything
// else and are evicted first.
func insertionScore(e *Entry) float64 {
	return float64(e.StoredAt.UnixMicro())
}

// Get retrieves an entry. Returns ErrCacheMiss if the key doesn't exist and
// ErrInvalidEntry if the stored blob cannot be decoded.
func (r *Redis) Get(ctx context.Context, namespace, key string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.entryKey(namespace, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			cacheMisses.WithLabelValues(namespace).Inc()
			return nil, ErrCacheMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	cacheHits.WithLabelValues(namespace).Inc()
	return &entry, nil
}

// Put stores an entry and records it in the namespace's insertion index.
// The blob write and the index update run in one transaction, so readers
// never observe one without the other.
func (r *Redis) Put(ctx context.Context, namespace, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, r.namespacesKey(), namespace)
	pipe.Set(ctx, r.entryKey(namespace, key), data, 0)
	pipe.ZAdd(ctx, r.indexKey(namespace), redis.Z{
		Score:  insertionScore(entry),
		Member: key,
	})
	card := pipe.ZCard(ctx, r.indexKey(namespace))
	if _, err := pipe.Exec(ctx); err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("redis put: %w", err)
	}

	cacheEntries.WithLabelValues(namespace).Set(float64(card.Val()))
	return nil
}

// Delete removes an entry and its index membership atomically.
func (r *Redis) Delete(ctx context.Context, namespace, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.entryKey(namespace, key))
	pipe.ZRem(ctx, r.indexKey(namespace), key)
	card := pipe.ZCard(ctx, r.indexKey(namespace))
	if _, err := pipe.Exec(ctx); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis delete: %w", err)
	}

	cacheEntries.WithLabelValues(namespace).Set(float64(card.Val()))
	return nil
}

// Keys returns the namespace's keys in insertion order, oldest first.
func (r *Redis) Keys(ctx context.Context, namespace string) ([]string, error) {
	keys, err := r.client.ZRange(ctx, r.indexKey(namespace), 0, -1).Result()
	if err != nil {
		cacheErrors.WithLabelValues("keys").Inc()
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return keys, nil
}

// Count returns the number of entries in the namespace.
func (r *Redis) Count(ctx context.Context, namespace string) (int, error) {
	card, err := r.client.ZCard(ctx, r.indexKey(namespace)).Result()
	if err != nil {
		cacheErrors.WithLabelValues("count").Inc()
		return 0, fmt.Errorf("redis zcard: %w", err)
	}
	return int(card), nil
}

// Namespaces returns all namespace names, sorted.
func (r *Redis) Namespaces(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.namespacesKey()).Result()
	if err != nil {
		cacheErrors.WithLabelValues("namespaces").Inc()
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Drop removes a namespace: every entry, the insertion index and the
// namespace-set membership in one transaction.
func (r *Redis) Drop(ctx context.Context, namespace string) error {
	keys, err := r.Keys(ctx, namespace)
	if err != nil {
		return err
	}

	del := make([]string, 0, len(keys)+1)
	for _, key := range keys {
		del = append(del, r.entryKey(namespace, key))
	}
	del = append(del, r.indexKey(namespace))

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, del...)
	pipe.SRem(ctx, r.namespacesKey(), namespace)
	if _, err := pipe.Exec(ctx); err != nil {
		cacheErrors.WithLabelValues("drop").Inc()
		return fmt.Errorf("redis drop: %w", err)
	}

	cacheEntries.DeleteLabelValues(namespace)
	return nil
}
