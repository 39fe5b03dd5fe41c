package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/pkg/logger"
)

// Sweeper is the part of the risk engine driven by the periodic jobs.
type Sweeper interface {
	RecoverySweep(ctx context.Context) (int, error)
	Reconcile(ctx context.Context) (int, error)
}

// PriceRefresher reloads one asset from the oracle into the price cache.
type PriceRefresher interface {
	Refresh(ctx context.Context, asset string) error
}

// Specs are six-field cron expressions (with seconds). An empty spec disables the job.
type Specs struct {
	RecoverySweep string
	NAVReconcile  string
	PriceRefresh  string
}

// Scheduler runs the recovery sweep, the dirty NAV reconcile and the price refresh.
type Scheduler struct {
	cron    *cron.Cron
	engine  Sweeper
	prices  PriceRefresher
	assets  []string
	metrics domrepo.Metrics
	logger  *logger.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

type Option func(*Scheduler)

// WithJobTimeout bounds a single job run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(engine Sweeper, prices PriceRefresher, assets []string, metrics domrepo.Metrics, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:  engine,
		prices:  prices,
		assets:  assets,
		metrics: metrics,
		logger:  logger.Nop(),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	// overlapping runs of a slow job are skipped, not queued
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(
		cron.Recover(cron.DiscardLogger),
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register adds the jobs with a non-empty spec.
func (s *Scheduler) Register(specs Specs) error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"recovery_sweep", specs.RecoverySweep, s.RunRecoverySweep},
		{"nav_reconcile", specs.NAVReconcile, s.RunReconcile},
		{"price_refresh", specs.PriceRefresh, s.RunPriceRefresh},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if j.name == "price_refresh" && (s.prices == nil || len(s.assets) == 0) {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("register %s job: %w", j.name, err)
		}
		s.logger.Info("job registered", logger.String("job", j.name), logger.String("spec", j.spec))
	}
	return nil
}

// Jobs is the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", logger.Int("jobs", s.Jobs()))
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.timeout)
}

func (s *Scheduler) RunRecoverySweep() {
	ctx, cancel := s.jobContext()
	defer cancel()
	start := time.Now()
	n, err := s.engine.RecoverySweep(ctx)
	s.metrics.RecordLatency("recovery_sweep", time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordError("recovery_sweep")
		s.logger.Error("recovery sweep failed", logger.Int("transitions", n), logger.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("recovery sweep", logger.Int("transitions", n))
	}
}

func (s *Scheduler) RunReconcile() {
	ctx, cancel := s.jobContext()
	defer cancel()
	n, err := s.engine.Reconcile(ctx)
	if err != nil {
		s.metrics.RecordError("nav_reconcile")
		s.logger.Warn("nav reconcile incomplete", logger.Int("reconciled", n), logger.Error(err))
		return
	}
	if n > 0 {
		s.logger.Debug("nav reconciled", logger.Int("funds", n))
	}
}

func (s *Scheduler) RunPriceRefresh() {
	if s.prices == nil {
		return
	}
	ctx, cancel := s.jobContext()
	defer cancel()
	for _, asset := range s.assets {
		if err := s.prices.Refresh(ctx, asset); err != nil {
			s.metrics.RecordError("price_refresh")
			s.logger.Warn("price refresh failed", logger.String("asset", asset), logger.Error(err))
		}
	}
}
