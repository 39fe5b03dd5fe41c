package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	domsvc "FundGuard/internal/domain/service"
	"FundGuard/pkg/cache"
	"FundGuard/pkg/logger"
)

// PriceCacheConfig bounds the time decay of cached quotes.
type PriceCacheConfig struct {
	// FreshWindow is the age up to which a quote is used as is.
	FreshWindow time.Duration
	// MaxStaleness is the age beyond which a quote is refused.
	MaxStaleness time.Duration
	// MaxDecayDiscountPct is the haircut applied at MaxStaleness, in percent.
	MaxDecayDiscountPct float64
	// RefreshTimeout bounds one asynchronous oracle refresh.
	RefreshTimeout time.Duration
}

// PriceCache serves the last valid oracle quote with a linear time-decay
// haircut. It never waits on the oracle: quotes past the fresh window trigger
// a background refresh, and quotes past MaxStaleness are refused.
type PriceCache struct {
	store   cache.Service
	oracle  domsvc.PriceOracle
	metrics domrepo.Metrics
	logger  *logger.Logger
	cfg     PriceCacheConfig
	now     func() time.Time
	async   func(func())
}

type PriceCacheOption func(*PriceCache)

func WithPriceClock(now func() time.Time) PriceCacheOption {
	return func(p *PriceCache) { p.now = now }
}

func WithPriceLogger(l *logger.Logger) PriceCacheOption {
	return func(p *PriceCache) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRefreshRunner replaces the goroutine launcher used for background
// refreshes; tests run refreshes inline.
func WithRefreshRunner(run func(func())) PriceCacheOption {
	return func(p *PriceCache) { p.async = run }
}

func NewPriceCache(store cache.Service, oracle domsvc.PriceOracle, metrics domrepo.Metrics, cfg PriceCacheConfig, opts ...PriceCacheOption) *PriceCache {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 5 * time.Second
	}
	p := &PriceCache{
		store:   store,
		oracle:  oracle,
		metrics: metrics,
		logger:  logger.Nop(),
		cfg:     cfg,
		now:     time.Now,
		async:   func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func priceKey(asset string) string { return cache.GenerateKey("price", asset) }

// Store keeps q unless a newer quote for the asset is already cached.
func (p *PriceCache) Store(ctx context.Context, q models.PriceQuote) error {
	if q.Price.Sign() <= 0 {
		return &models.PreconditionError{Field: "price", Reason: fmt.Sprintf("non-positive price for %s", q.Asset)}
	}
	var cur models.PriceQuote
	err := p.store.Get(ctx, priceKey(q.Asset), &cur)
	switch {
	case err == nil && cur.ObservedAt.After(q.ObservedAt):
		return nil
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		return fmt.Errorf("read cached price: %w", err)
	}
	// kept a little past the staleness bound so the age can still be reported
	return p.store.Set(ctx, priceKey(q.Asset), q, 2*p.cfg.MaxStaleness)
}

// EffectivePrice implements service.PriceSource.
func (p *PriceCache) EffectivePrice(ctx context.Context, asset string) (models.EffectivePrice, error) {
	var q models.PriceQuote
	if err := p.store.Get(ctx, priceKey(asset), &q); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			p.refreshAsync(asset)
			return models.EffectivePrice{}, &models.StaleDataError{Asset: asset, Age: -1, MaxAge: p.cfg.MaxStaleness}
		}
		return models.EffectivePrice{}, fmt.Errorf("read cached price: %w", err)
	}

	age := p.now().Sub(q.ObservedAt)
	if age < 0 {
		age = 0
	}
	p.metrics.RecordPriceAge(asset, age.Seconds())

	if age > p.cfg.FreshWindow {
		p.refreshAsync(asset)
	}
	if age > p.cfg.MaxStaleness {
		return models.EffectivePrice{}, &models.StaleDataError{Asset: asset, Age: age, MaxAge: p.cfg.MaxStaleness}
	}

	discount := DecayDiscount(age, p.cfg)
	return models.EffectivePrice{
		Quote:    q,
		Price:    q.Price.Mul(decimal.NewFromInt(1).Sub(discount)),
		Age:      age,
		Discount: discount,
	}, nil
}

// DecayDiscount is the haircut fraction for a quote of the given age: zero
// inside the fresh window, then linear up to MaxDecayDiscountPct/100 at
// MaxStaleness.
func DecayDiscount(age time.Duration, cfg PriceCacheConfig) decimal.Decimal {
	if age <= cfg.FreshWindow || cfg.MaxStaleness <= cfg.FreshWindow {
		return decimal.Zero
	}
	if age > cfg.MaxStaleness {
		age = cfg.MaxStaleness
	}
	maxFrac := decimal.NewFromFloat(cfg.MaxDecayDiscountPct).Div(decimal.NewFromInt(100))
	elapsed := decimal.NewFromInt(int64(age - cfg.FreshWindow))
	window := decimal.NewFromInt(int64(cfg.MaxStaleness - cfg.FreshWindow))
	return maxFrac.Mul(elapsed).DivRound(window, 18)
}

// Refresh fetches a quote from the oracle and caches it.
func (p *PriceCache) Refresh(ctx context.Context, asset string) error {
	q, err := p.oracle.GetPrice(ctx, asset)
	if err != nil {
		p.metrics.RecordError("oracle_fetch")
		return fmt.Errorf("oracle price %s: %w", asset, err)
	}
	return p.Store(ctx, q)
}

// refreshAsync starts at most one background refresh per asset across all
// instances sharing the store.
func (p *PriceCache) refreshAsync(asset string) {
	if p.oracle == nil {
		return
	}
	lockKey := cache.GenerateKey("price-refresh", asset)
	ok, err := p.store.TryLock(context.Background(), lockKey, p.cfg.RefreshTimeout)
	if err != nil || !ok {
		return
	}
	p.async(func() {
		defer p.store.Unlock(context.Background(), lockKey)
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RefreshTimeout)
		defer cancel()
		if err := p.Refresh(ctx, asset); err != nil {
			p.logger.Warn("price refresh failed", logger.String("asset", asset), logger.Error(err))
		}
	})
}
