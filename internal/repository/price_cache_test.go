package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
	"FundGuard/pkg/cache"
	"FundGuard/pkg/metrics"
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

type stubOracle struct {
	clk   *clock
	price decimal.Decimal
	err   error
	calls int
}

func (o *stubOracle) GetPrice(_ context.Context, asset string) (models.PriceQuote, error) {
	o.calls++
	if o.err != nil {
		return models.PriceQuote{}, o.err
	}
	return models.PriceQuote{Asset: asset, Price: o.price, Confidence: 1, ObservedAt: o.clk.Now()}, nil
}

var testPriceCfg = PriceCacheConfig{
	FreshWindow:         30 * time.Second,
	MaxStaleness:        10 * time.Minute,
	MaxDecayDiscountPct: 5,
}

func newTestPriceCache(t *testing.T, oracle *stubOracle, clk *clock) *PriceCache {
	t.Helper()
	store := cache.NewMemoryCache(cache.WithMemoryClock(clk.Now))
	t.Cleanup(func() { _ = store.Close() })
	opts := []PriceCacheOption{
		WithPriceClock(clk.Now),
		WithRefreshRunner(func(f func()) { f() }),
	}
	if oracle == nil {
		return NewPriceCache(store, nil, metrics.Nop{}, testPriceCfg, opts...)
	}
	return NewPriceCache(store, oracle, metrics.Nop{}, testPriceCfg, opts...)
}

func TestDecayDiscount(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want string
	}{
		{0, "0"},
		{30 * time.Second, "0"},
		{30*time.Second + (10*time.Minute-30*time.Second)/2, "0.025"},
		{10 * time.Minute, "0.05"},
		{time.Hour, "0.05"},
	}
	for _, tt := range tests {
		got := DecayDiscount(tt.age, testPriceCfg)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "age %s: got %s", tt.age, got)
	}
}

func TestPriceCacheFreshAndDecayed(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	pc := newTestPriceCache(t, nil, clk)

	require.NoError(t, pc.Store(ctx, models.PriceQuote{Asset: "TOSS", Price: decimal.NewFromInt(100), ObservedAt: clk.Now()}))

	p, err := pc.EffectivePrice(ctx, "TOSS")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, p.Discount.IsZero())

	clk.Advance(10 * time.Minute)
	p, err = pc.EffectivePrice(ctx, "TOSS")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(95)), "got %s", p.Price)
	assert.Equal(t, 10*time.Minute, p.Age)
}

func TestPriceCacheRefusesStaleAndRefreshes(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	oracle := &stubOracle{clk: clk, price: decimal.NewFromInt(120)}
	pc := newTestPriceCache(t, oracle, clk)

	require.NoError(t, pc.Store(ctx, models.PriceQuote{Asset: "TOSS", Price: decimal.NewFromInt(100), ObservedAt: clk.Now()}))
	clk.Advance(11 * time.Minute)

	_, err := pc.EffectivePrice(ctx, "TOSS")
	var stale *models.StaleDataError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 11*time.Minute, stale.Age)
	assert.Equal(t, 1, oracle.calls)

	p, err := pc.EffectivePrice(ctx, "TOSS")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(120)))
}

func TestPriceCacheMissingPrice(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	oracle := &stubOracle{clk: clk, err: errors.New("oracle down")}
	pc := newTestPriceCache(t, oracle, clk)

	_, err := pc.EffectivePrice(ctx, "ETH")
	var stale *models.StaleDataError
	require.ErrorAs(t, err, &stale)
	assert.Less(t, stale.Age, time.Duration(0))
	assert.Equal(t, 1, oracle.calls)
}

func TestPriceCacheStoreKeepsNewest(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	pc := newTestPriceCache(t, nil, clk)

	newer := models.PriceQuote{Asset: "TOSS", Price: decimal.NewFromInt(110), ObservedAt: clk.Now()}
	older := models.PriceQuote{Asset: "TOSS", Price: decimal.NewFromInt(90), ObservedAt: clk.Now().Add(-time.Second)}
	require.NoError(t, pc.Store(ctx, newer))
	require.NoError(t, pc.Store(ctx, older))

	p, err := pc.EffectivePrice(ctx, "TOSS")
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(decimal.NewFromInt(110)))

	var pre *models.PreconditionError
	assert.ErrorAs(t, pc.Store(ctx, models.PriceQuote{Asset: "TOSS", Price: decimal.Zero}), &pre)
}
