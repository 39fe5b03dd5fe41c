package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	pkgkafka "FundGuard/pkg/kafka"
	"FundGuard/pkg/logger"

	"github.com/shopspring/decimal"
)

// GovernanceHandler consumes governance proposals and publishes them as new
// config versions. Tiers may be omitted to keep the current ones.
type GovernanceHandler struct {
	topic    string
	provider domrepo.ConfigProvider
	metrics  domrepo.Metrics
	logger   *logger.Logger
}

func NewGovernanceHandler(topic string, provider domrepo.ConfigProvider, metrics domrepo.Metrics, l *logger.Logger) *GovernanceHandler {
	if l == nil {
		l = logger.Nop()
	}
	return &GovernanceHandler{topic: topic, provider: provider, metrics: metrics, logger: l}
}

func (h *GovernanceHandler) Topic() string { return h.topic }

// incoming message schema: {weights{l,b,d,i}, gamma, alpha, min_slashing_fi, ban_threshold_fi, warning_fi, tiers}
func (h *GovernanceHandler) Handle(_ context.Context, b []byte) error {
	var m struct {
		Weights        models.Weights    `json:"weights"`
		Gamma          int               `json:"gamma"`
		Alpha          decimal.Decimal   `json:"alpha"`
		MinSlashingFI  int               `json:"min_slashing_fi"`
		BanThresholdFI int               `json:"ban_threshold_fi"`
		WarningFI      int               `json:"warning_fi"`
		Tiers          []models.RiskTier `json:"tiers"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	params := models.RiskParams{
		Weights:        m.Weights,
		Gamma:          m.Gamma,
		Alpha:          m.Alpha,
		MinSlashingFI:  m.MinSlashingFI,
		BanThresholdFI: m.BanThresholdFI,
		WarningFI:      m.WarningFI,
		Tiers:          m.Tiers,
	}
	if len(params.Tiers) == 0 {
		params.Tiers = h.provider.Current().Tiers
	}
	cfg, err := h.provider.Update(params)
	if err != nil {
		h.metrics.RecordError("governance_update")
		return fmt.Errorf("governance proposal rejected: %w", err)
	}
	h.logger.Info("governance proposal applied", logger.Uint64("version", cfg.Version))
	return nil
}

// InvestorMetricsHandler consumes metrics pushed by the investor registry and
// re-scores the investor right away.
type InvestorMetricsHandler struct {
	topic    string
	engine   *RiskEngine
	observer interface{ Observe(models.InvestorMetrics) }
	metrics  domrepo.Metrics
	logger   *logger.Logger
}

func NewInvestorMetricsHandler(topic string, engine *RiskEngine, registry domrepo.InvestorRegistry, metrics domrepo.Metrics, l *logger.Logger) *InvestorMetricsHandler {
	if l == nil {
		l = logger.Nop()
	}
	h := &InvestorMetricsHandler{topic: topic, engine: engine, metrics: metrics, logger: l}
	if o, ok := registry.(interface{ Observe(models.InvestorMetrics) }); ok {
		h.observer = o
	}
	return h
}

func (h *InvestorMetricsHandler) Topic() string { return h.topic }

// incoming message schema: models.InvestorMetrics
func (h *InvestorMetricsHandler) Handle(ctx context.Context, b []byte) error {
	var m models.InvestorMetrics
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.InvestorID == "" {
		h.metrics.RecordError("consumer_invalid")
		return &models.PreconditionError{Field: "investor_id", Reason: "metrics without investor"}
	}
	if h.observer != nil {
		h.observer.Observe(m)
	}
	ts, err := h.engine.ApplyMetrics(ctx, m)
	if errors.Is(err, models.ErrNotFound) {
		h.logger.Debug("metrics for unknown investor", logger.String("investor_id", m.InvestorID))
		return nil
	}
	if err != nil {
		h.metrics.RecordError("metrics_rescore")
		return err
	}
	if len(ts) > 0 {
		h.logger.Info("investor rescored from registry push",
			logger.String("investor_id", m.InvestorID),
			logger.Int("transitions", len(ts)))
	}
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*GovernanceHandler)(nil)
	_ pkgkafka.MessageHandler = (*InvestorMetricsHandler)(nil)
)
