// Package cache provides the key-value cache used by the robot feed and the
// cache-aside accessor that reads users, toolkits and session logs through it.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key-value store with optional expiry and hash
// fields. Misses are reported through the boolean result, not an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key; a ttl of zero keeps it until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	HGet(ctx context.Context, key, field string) ([]byte, bool, error)
	HSet(ctx context.Context, key, field string, value []byte) error
	HDel(ctx context.Context, key, field string) error
	Ping(ctx context.Context) error
	Close() error
}
