// Package cache is the key/value layer behind the price cache, review
// decisions and refresh locks: in-process, Redis, or memory in front of Redis.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is the cache contract. Values are stored as JSON unless they are
// string or []byte, which are stored raw.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// Get decodes the value into dest, ErrCacheMiss when absent or expired.
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// TryLock takes a lock that expires after ttl. It reports false when the
	// lock is already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// GenerateKey joins a namespace and an id: "price:TOSS".
func GenerateKey(prefix string, id string) string {
	return prefix + ":" + id
}

var (
	_ Service = (*MemoryCache)(nil)
	_ Service = (*RedisCache)(nil)
	_ Service = (*LayeredCache)(nil)
)
