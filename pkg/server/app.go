package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/internal/repository"
	"FundGuard/internal/scheduler"
	"FundGuard/internal/usecase"
	"FundGuard/pkg/cache"
	"FundGuard/pkg/config"
	xhttp "FundGuard/pkg/http"
	pkgkafka "FundGuard/pkg/kafka"
	"FundGuard/pkg/logger"
	"FundGuard/pkg/queue"
)

// Deps are the long-lived components the App starts and stops. Optional
// components are nil when disabled in config.
type Deps struct {
	Registry  *prometheus.Registry
	Handler   xhttp.Handler
	Outbox    *repository.Outbox
	Audit     domrepo.AuditStore
	Consumer  *pkgkafka.Consumer
	Handlers  []pkgkafka.MessageHandler
	Producer  *pkgkafka.Producer
	Queue     *queue.RedisQueue
	Collector *usecase.PriceCollector
	Scheduler *scheduler.Scheduler
	Cache     cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg    *config.Config
	logger *logger.Logger
	deps   Deps
	http   *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *logger.Logger, deps Deps) *App {
	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.Disabled {
		metricsPath = ""
	}
	srv := xhttp.NewServer(deps.Handler,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithRegistry(deps.Registry),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithServerLogger(l),
	)
	return &App{cfg: cfg, logger: l, deps: deps, http: srv}
}

// Start brings up the background workers and then the HTTP server.
func (a *App) Start(ctx context.Context) error {
	a.deps.Outbox.Start()

	if a.deps.Queue != nil {
		if err := a.deps.Queue.Start(); err != nil {
			return err
		}
		a.logger.Info("settlement queue started")
	}

	if a.deps.Consumer != nil && len(a.deps.Handlers) > 0 {
		topics := make([]string, 0, len(a.deps.Handlers))
		for _, h := range a.deps.Handlers {
			a.deps.Consumer.RegisterHandler(h)
			topics = append(topics, h.Topic())
		}
		if err := a.deps.Consumer.Start(); err != nil {
			return err
		}
		a.logger.Info("kafka consumer started", logger.Strings("topics", topics))
	}

	if a.deps.Collector != nil {
		if err := a.deps.Collector.Start(ctx); err != nil {
			return err
		}
		a.logger.Info("price collector started", logger.Strings("assets", a.cfg.Oracle.Assets))
	}

	if a.deps.Scheduler != nil {
		a.deps.Scheduler.Start()
	}

	if err := a.http.Start(); err != nil {
		return err
	}
	a.logger.Info("http server started", logger.Int("port", a.cfg.Server.Port))
	return nil
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.logger.Error("startup failed", logger.Error(err))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(err, a.Shutdown(shutdownCtx))
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Shutdown stops intake first, drains the outbox and closes the stores last.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	warn := func(what string, err error) {
		if err != nil {
			a.logger.Warn(what+" stop error", logger.Error(err))
			errs = append(errs, err)
		}
	}

	warn("http", a.http.Stop(ctx))
	if a.deps.Scheduler != nil {
		warn("scheduler", a.deps.Scheduler.Stop(ctx))
	}
	if a.deps.Collector != nil {
		warn("collector", a.deps.Collector.Shutdown(ctx))
	}
	if a.deps.Consumer != nil {
		warn("kafka consumer", a.deps.Consumer.Stop(ctx))
	}
	if a.deps.Queue != nil {
		warn("settlement queue", a.deps.Queue.Stop(ctx))
	}
	warn("outbox", a.deps.Outbox.Stop(ctx))

	if a.deps.Audit != nil {
		warn("audit store", a.deps.Audit.Close())
	}
	if a.deps.Producer != nil {
		warn("kafka producer", a.deps.Producer.Close())
	}
	// Closes the redis client too when the cache is layered.
	if c, ok := a.deps.Cache.(io.Closer); ok {
		warn("cache", c.Close())
	}

	a.logger.Info("shutdown complete")
	a.logger.RemoveCollector()
	return errors.Join(errs...)
}
