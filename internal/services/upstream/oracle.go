package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"FundGuard/internal/domain/models"
	domsvc "FundGuard/internal/domain/service"
	"FundGuard/internal/service/cache"
	svcmetrics "FundGuard/internal/service/metrics"
	"FundGuard/pkg/logger"
)

// HTTPOracle reads prices and protocol health from the oracle service.
type HTTPOracle struct {
	base   *HTTPServiceBase
	health *cache.TTLCache[models.SystemHealth]
	logger *logger.Logger
	now    func() time.Time
}

func NewHTTPOracle(baseURL string, timeout, healthTTL time.Duration, metrics *svcmetrics.ClientMetrics, l *logger.Logger) *HTTPOracle {
	if l == nil {
		l = logger.Nop()
	}
	return &HTTPOracle{
		base:   NewHTTPServiceBase("oracle", baseURL, timeout, metrics),
		health: cache.NewTTLCache[models.SystemHealth](healthTTL),
		logger: l.With(logger.String("component", "oracle_client")),
		now:    time.Now,
	}
}

type priceResponse struct {
	Asset      string  `json:"asset"`
	Price      string  `json:"price"`
	Confidence float64 `json:"confidence"`
	AgeSeconds float64 `json:"age_seconds"`
}

// GetPrice implements service.PriceOracle.
func (o *HTTPOracle) GetPrice(ctx context.Context, asset string) (models.PriceQuote, error) {
	var pr priceResponse
	if err := o.base.GetJSONWithRetry(ctx, "/prices/"+url.PathEscape(asset), "/prices", &pr, 3); err != nil {
		return models.PriceQuote{}, fmt.Errorf("get price: %w", err)
	}
	price, err := decimal.NewFromString(pr.Price)
	if err != nil {
		return models.PriceQuote{}, fmt.Errorf("oracle price %q: %w", pr.Price, err)
	}
	age := time.Duration(pr.AgeSeconds * float64(time.Second))
	return models.PriceQuote{
		Asset:      asset,
		Price:      price,
		Confidence: pr.Confidence,
		ObservedAt: o.now().Add(-age),
	}, nil
}

type healthResponse struct {
	OracleLive         bool    `json:"oracle_live"`
	SequencerUp        bool    `json:"sequencer_up"`
	BridgeDelaySeconds float64 `json:"bridge_delay_seconds"`
}

// Health implements service.HealthProbe. Samples are reused for the health
// TTL; an unreachable oracle reports everything down.
func (o *HTTPOracle) Health(ctx context.Context) models.SystemHealth {
	if h, ok := o.health.Get("health"); ok {
		return h
	}
	var hr healthResponse
	if err := o.base.GetJSON(ctx, "/health", "/health", &hr); err != nil {
		o.logger.Warn("health probe failed", logger.Error(err))
		return models.SystemHealth{SampledAt: o.now()}
	}
	h := models.SystemHealth{
		OracleLive:  hr.OracleLive,
		SequencerUp: hr.SequencerUp,
		BridgeDelay: time.Duration(hr.BridgeDelaySeconds * float64(time.Second)),
		SampledAt:   o.now(),
	}
	o.health.Set("health", h)
	return h
}

var (
	_ domsvc.PriceOracle = (*HTTPOracle)(nil)
	_ domsvc.HealthProbe = (*HTTPOracle)(nil)
)
