package cache

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value     V
	fetchedAt time.Time
}

// TTL is an in-process key/value cache. Concurrent refreshes are allowed;
// the last writer wins and a reader never sees a value older than the TTL.
type TTL[K comparable, V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[K]ttlEntry[V]
}

// NewTTL builds a cache whose clock is now. A nil clock uses time.Now.
func NewTTL[K comparable, V any](ttl time.Duration, now func() time.Time) *TTL[K, V] {
	if now == nil {
		now = time.Now
	}
	return &TTL[K, V]{ttl: ttl, now: now, entries: map[K]ttlEntry[V]{}}
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(entry.fetchedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.entries[key] = ttlEntry[V]{value: value, fetchedAt: c.now()}
	c.mu.Unlock()
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached.
func (c *TTL[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	value, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, value)
	return value, nil
}
