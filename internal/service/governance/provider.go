// Package governance holds the versioned risk configuration. Snapshots are
// immutable; an update validates the new parameters and publishes them under
// the next version, keeping every earlier version available for audit replay.
package governance

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/pkg/logger"
)

// DefaultHistory is the number of snapshots retained by default.
const DefaultHistory = 256

type Provider struct {
	current atomic.Pointer[models.RiskConfig]

	mu       sync.RWMutex
	versions map[uint64]models.RiskConfig
	history  int

	logger *logger.Logger
}

type Option func(*Provider)

// WithHistory bounds how many snapshots are retained. The current one is
// never evicted.
func WithHistory(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.history = n
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// New validates the seed parameters and publishes them as version 1.
func New(seed models.RiskParams, opts ...Option) (*Provider, error) {
	p := &Provider{
		versions: make(map[uint64]models.RiskConfig),
		history:  DefaultHistory,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	cfg, err := models.NewRiskConfig(1, seed)
	if err != nil {
		return nil, fmt.Errorf("seed risk config: %w", err)
	}
	p.publish(cfg)
	return p, nil
}

func (p *Provider) Current() models.RiskConfig {
	return *p.current.Load()
}

// Version returns a retained snapshot.
func (p *Provider) Version(v uint64) (models.RiskConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.versions[v]
	return cfg, ok
}

// Versions lists the retained version numbers in ascending order.
func (p *Provider) Versions() []uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]uint64, 0, len(p.versions))
	for v := range p.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Update publishes params as the next version. Invalid params leave the
// current snapshot in place and return a *models.PreconditionError.
func (p *Provider) Update(params models.RiskParams) (models.RiskConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.current.Load().Version + 1
	cfg, err := models.NewRiskConfig(next, params)
	if err != nil {
		p.logger.Warn("governance update rejected", logger.Uint64("version", next), logger.Error(err))
		return models.RiskConfig{}, err
	}
	p.publishLocked(cfg)
	p.logger.Info("governance config published",
		logger.Uint64("version", cfg.Version),
		logger.Int("gamma", cfg.Gamma),
		logger.Decimal("alpha", cfg.Alpha),
		logger.Int("min_slashing_fi", cfg.MinSlashingFI),
		logger.Int("ban_threshold_fi", cfg.BanThresholdFI))
	return cfg, nil
}

func (p *Provider) publish(cfg models.RiskConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked(cfg)
}

func (p *Provider) publishLocked(cfg models.RiskConfig) {
	p.versions[cfg.Version] = cfg
	p.current.Store(&cfg)
	if len(p.versions) <= p.history {
		return
	}
	oldest := cfg.Version
	for v := range p.versions {
		if v < oldest {
			oldest = v
		}
	}
	delete(p.versions, oldest)
}

var _ domrepo.ConfigProvider = (*Provider)(nil)
