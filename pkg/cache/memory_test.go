package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type quote struct {
	Asset string  `json:"asset"`
	Price float64 `json:"price"`
}

func TestMemoryCacheTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, GenerateKey("price", "TOSS"), quote{Asset: "TOSS", Price: 2}, time.Minute))

	var got quote
	require.NoError(t, mc.Get(ctx, "price:TOSS", &got))
	require.Equal(t, quote{Asset: "TOSS", Price: 2}, got)

	var raw string
	require.NoError(t, mc.Get(ctx, "price:TOSS", &raw))
	require.JSONEq(t, `{"asset":"TOSS","price":2}`, raw)

	require.ErrorIs(t, mc.Get(ctx, "price:ETH", &got), ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryClock(clk.Now))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "review:i1", "approved", time.Minute))
	var v string
	require.NoError(t, mc.Get(ctx, "review:i1", &v))
	require.Equal(t, "approved", v)

	clk.Advance(2 * time.Minute)
	require.ErrorIs(t, mc.Get(ctx, "review:i1", &v), ErrCacheMiss)

	locked, err := mc.TryLock(ctx, "lock:f1", time.Second)
	require.NoError(t, err)
	require.True(t, locked)
	locked, err = mc.TryLock(ctx, "lock:f1", time.Second)
	require.NoError(t, err)
	require.False(t, locked)
	clk.Advance(2 * time.Second)
	locked, err = mc.TryLock(ctx, "lock:f1", time.Second)
	require.NoError(t, err)
	require.True(t, locked)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryClock(clk.Now))
	defer mc.Close()

	require.NoError(t, mc.Set(ctx, "price:A", "1", 0))
	clk.Advance(time.Second)
	require.NoError(t, mc.Set(ctx, "price:B", "2", 0))
	clk.Advance(time.Second)

	var v string
	require.NoError(t, mc.Get(ctx, "price:A", &v))
	clk.Advance(time.Second)

	require.NoError(t, mc.Set(ctx, "price:C", "3", 0))
	require.Equal(t, 2, mc.Len())
	require.ErrorIs(t, mc.Get(ctx, "price:B", &v), ErrCacheMiss)
	require.NoError(t, mc.Get(ctx, "price:A", &v))
	require.Equal(t, "1", v)

	require.NoError(t, mc.Delete(ctx, "price:A", "price:C"))
	require.Equal(t, 0, mc.Len())
}
