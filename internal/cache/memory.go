package cache

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that MemoryCache implements Cache.
var _ Cache = (*MemoryCache)(nil)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is an in-process Cache for development and tests.
type MemoryCache struct {
	mu     sync.RWMutex
	values map[string]memoryEntry
	hashes map[string]map[string][]byte
	now    func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		values: make(map[string]memoryEntry),
		hashes: make(map[string]map[string][]byte),
		now:    time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.values[key]
	if !ok || entry.expired(c.now()) {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.values[key] = entry
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	delete(c.hashes, key)
	return nil
}

func (c *MemoryCache) HGet(ctx context.Context, key, field string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.hashes[key][field]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), value...), true, nil
}

func (c *MemoryCache) HSet(ctx context.Context, key, field string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string][]byte)
		c.hashes[key] = h
	}
	h[field] = append([]byte(nil), value...)
	return nil
}

func (c *MemoryCache) HDel(ctx context.Context, key, field string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.hashes[key]; ok {
		delete(h, field)
		if len(h) == 0 {
			delete(c.hashes, key)
		}
	}
	return nil
}

func (c *MemoryCache) Ping(ctx context.Context) error { return nil }

func (c *MemoryCache) Close() error { return nil }
