package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/internal/service/cache"
	svcmetrics "FundGuard/internal/service/metrics"
)

// HTTPRegistry reads behavioural metrics from the investor registry. Answers
// are memoized for a short TTL; pushed updates replace the memoized value.
type HTTPRegistry struct {
	base *HTTPServiceBase
	memo *cache.TTLCache[models.InvestorMetrics]
}

func NewHTTPRegistry(baseURL string, timeout, cacheTTL time.Duration, metrics *svcmetrics.ClientMetrics) *HTTPRegistry {
	return &HTTPRegistry{
		base: NewHTTPServiceBase("registry", baseURL, timeout, metrics),
		memo: cache.NewTTLCache[models.InvestorMetrics](cacheTTL),
	}
}

type metricsResponse struct {
	InvestorID        string  `json:"investor_id"`
	WBR               float64 `json:"wbr"`
	DVR               float64 `json:"dvr"`
	LRI               float64 `json:"lri"`
	IntentProbability float64 `json:"intent_probability"`
	Violations7d      int     `json:"violations_7d"`
	Violations30d     int     `json:"violations_30d"`
	ObservedAt        int64   `json:"observed_at"` // unix ms
}

func (r metricsResponse) toModel(investorID string) models.InvestorMetrics {
	return models.InvestorMetrics{
		InvestorID: investorID,
		Behavior: models.BehaviorMetrics{
			WBR:               r.WBR,
			DVR:               r.DVR,
			LRI:               r.LRI,
			IntentProbability: r.IntentProbability,
		},
		Violations: models.ViolationCounts{Last7d: r.Violations7d, Last30d: r.Violations30d},
		ObservedAt: time.UnixMilli(r.ObservedAt),
	}
}

// GetMetrics implements repository.InvestorRegistry. Unknown investors yield
// models.ErrNotFound.
func (r *HTTPRegistry) GetMetrics(ctx context.Context, investorID string) (models.InvestorMetrics, error) {
	if m, ok := r.memo.Get(investorID); ok {
		return m, nil
	}
	var mr metricsResponse
	if err := r.base.GetJSONWithRetry(ctx, "/investors/"+url.PathEscape(investorID)+"/metrics", "/investors/metrics", &mr, 3); err != nil {
		return models.InvestorMetrics{}, fmt.Errorf("get investor metrics: %w", err)
	}
	m := mr.toModel(investorID)
	r.memo.Set(investorID, m)
	return m, nil
}

// Observe stores pushed metrics so the next lookup does not hit the registry.
func (r *HTTPRegistry) Observe(m models.InvestorMetrics) {
	r.memo.Set(m.InvestorID, m)
}

var _ domrepo.InvestorRegistry = (*HTTPRegistry)(nil)
