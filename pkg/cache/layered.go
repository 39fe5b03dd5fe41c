package cache

import (
	"context"
	"time"
)

// LayeredCache fronts a RedisCache with a bounded in-process MemoryCache.
// Redis is the source of truth: writes land there first and a memory entry
// never outlives the Redis entry it mirrors. Locks bypass memory so they are
// shared across instances.
type LayeredCache struct {
	l1    *MemoryCache
	l2    *RedisCache
	l1TTL time.Duration
}

// NewLayeredCache wraps l2 with a memory layer sized by opts.
func NewLayeredCache(l2 *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := LayeredConfig{MemoryMaxSize: 1000, MemoryTTL: time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LayeredCache{
		l1:    NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		l2:    l2,
		l1TTL: cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.l2.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, value, lc.memoryTTL(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if lc.l1.Get(ctx, key, dest) == nil {
		return nil
	}
	remaining, err := lc.l2.getWithTTL(ctx, key, dest)
	if err != nil {
		return err
	}
	_ = lc.l1.Set(ctx, key, dest, lc.memoryTTL(remaining))
	return nil
}

// memoryTTL caps the L1 lifetime at the L2 lifetime; zero means L2 never
// expires the key.
func (lc *LayeredCache) memoryTTL(l2 time.Duration) time.Duration {
	if l2 > 0 && l2 < lc.l1TTL {
		return l2
	}
	return lc.l1TTL
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.l1.Delete(ctx, keys...)
	return lc.l2.Delete(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.l2.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.l2.Unlock(ctx, key)
}

// Close releases both layers.
func (lc *LayeredCache) Close() error {
	_ = lc.l1.Close()
	return lc.l2.Close()
}
