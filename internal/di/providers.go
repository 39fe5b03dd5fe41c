package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/internal/handler/api"
	mid "FundGuard/internal/middleware"
	"FundGuard/internal/pipeline"
	internalrepo "FundGuard/internal/repository"
	"FundGuard/internal/scheduler"
	"FundGuard/internal/service/governance"
	"FundGuard/internal/service/ledger"
	svcmetrics "FundGuard/internal/service/metrics"
	"FundGuard/internal/service/pricefeed"
	"FundGuard/internal/service/ratelimit"
	"FundGuard/internal/services/upstream"
	"FundGuard/internal/statemachine"
	"FundGuard/internal/usecase"
	"FundGuard/internal/validators"
	"FundGuard/pkg/cache"
	pkgch "FundGuard/pkg/clickhouse"
	"FundGuard/pkg/config"
	pkgkafka "FundGuard/pkg/kafka"
	"FundGuard/pkg/logger"
	"FundGuard/pkg/metrics"
	"FundGuard/pkg/queue"
	"FundGuard/pkg/server"
	pkgsqlite "FundGuard/pkg/sqlite"
)

// ProvideRegistry creates the Prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pkgkafka.SetConsumerMetricsRegisterer(reg)
	return reg
}

// ProvideMetrics creates the domain metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.New(reg)
}

// ProvideClientMetrics creates the upstream HTTP client metrics.
func ProvideClientMetrics(reg *prometheus.Registry) *svcmetrics.ClientMetrics {
	return svcmetrics.NewClientMetrics(reg)
}

// ProvideKafkaProducer creates a Kafka producer, nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithKeyHashing(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger creates the application logger. Error entries are aggregated
// and published on the log topic when collection is enabled.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stdout"})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collect.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.Collect.Interval,
			CountThreshold: cfg.Log.Collect.Threshold,
			Topic:          cfg.Kafka.LogTopic,
			Publisher:      producer,
			Service:        "fundguard",
		})
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideKafkaConsumer creates a Kafka consumer, nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(pkgkafka.TraceHook(), pkgkafka.LoggingHook(l)))
	return consumer, nil
}

// ProvideRedisCache connects to Redis, nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/2, 30*time.Second),
		cache.WithRedisDialTimeout(cfg.Redis.DialTimeout),
		cache.WithRedisPrefix("fundguard"),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache returns the layered memory+redis cache, or memory only.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize))
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Cache.MemoryMaxSize),
		cache.WithLayeredMemoryTTL(cfg.Cache.MemoryTTL),
	)
}

// ProvideAuditStore opens the queryable audit store selected by backend.type
// and mirrors it to Kafka when Kafka is enabled.
func ProvideAuditStore(cfg *config.Config, producer *pkgkafka.Producer) (domrepo.AuditStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var primary domrepo.AuditStore
	switch cfg.Backend.Type {
	case "clickhouse":
		client, err := pkgch.NewClient(
			pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
			pkgch.WithDatabase(cfg.ClickHouse.Database),
			pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
			pkgch.WithPool(10, 5, 0),
			pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
			pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
			pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
			pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
		)
		if err != nil {
			return nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store := internalrepo.NewClickHouseAuditStore(client, cfg.ClickHouse.Database+".audit_events")
		if err := store.Init(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		primary = store
	default:
		db, err := pkgsqlite.Open(ctx, cfg.SQLite.Path,
			pkgsqlite.WithWAL(!cfg.SQLite.NoWAL),
			pkgsqlite.WithBusyTimeout(cfg.SQLite.BusyTimeout),
			pkgsqlite.WithMigrations(internalrepo.SQLiteMigrations...),
		)
		if err != nil {
			return nil, err
		}
		primary = internalrepo.NewSQLiteAuditStore(db)
	}

	if producer == nil {
		return primary, nil
	}
	return internalrepo.NewTeeSink(primary, internalrepo.NewKafkaAuditSink(producer, cfg.Kafka.AuditTopic)), nil
}

// ProvideOutbox creates the audit outbox in front of the store.
func ProvideOutbox(cfg *config.Config, store domrepo.AuditStore, m domrepo.Metrics, l *logger.Logger) *internalrepo.Outbox {
	return internalrepo.NewOutbox(store, m, cfg.Backend.OutboxSize,
		internalrepo.WithOutboxBatch(cfg.Backend.BatchSize, cfg.Backend.FlushInterval),
		internalrepo.WithOutboxLogger(l),
	)
}

// ProvideGovernance seeds config version 1 from the risk section.
func ProvideGovernance(cfg *config.Config, l *logger.Logger) (*governance.Provider, error) {
	params, err := cfg.RiskParams()
	if err != nil {
		return nil, err
	}
	p, err := governance.New(params, governance.WithLogger(l))
	if err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return p, nil
}

// ProvideOracle creates the oracle HTTP client.
func ProvideOracle(cfg *config.Config, cm *svcmetrics.ClientMetrics, l *logger.Logger) *upstream.HTTPOracle {
	return upstream.NewHTTPOracle(cfg.Oracle.URL, cfg.Oracle.Timeout, cfg.Oracle.HealthTTL, cm, l)
}

// ProvidePriceCache creates the decaying last-valid price cache.
func ProvidePriceCache(cfg *config.Config, store cache.Service, oracle *upstream.HTTPOracle, m domrepo.Metrics, l *logger.Logger) *internalrepo.PriceCache {
	return internalrepo.NewPriceCache(store, oracle, m, internalrepo.PriceCacheConfig{
		FreshWindow:         cfg.Oracle.FreshWindow,
		MaxStaleness:        cfg.Oracle.MaxStaleness,
		MaxDecayDiscountPct: cfg.Oracle.MaxDecayDiscountPct,
		RefreshTimeout:      cfg.Oracle.Timeout,
	}, internalrepo.WithPriceLogger(l))
}

// ProvideInvestorRegistry creates the investor registry HTTP client.
func ProvideInvestorRegistry(cfg *config.Config, cm *svcmetrics.ClientMetrics) *upstream.HTTPRegistry {
	return upstream.NewHTTPRegistry(cfg.Registry.URL, cfg.Registry.Timeout, cfg.Registry.CacheTTL, cm)
}

// ProvideReviewHook stores operator review decisions in the cache.
func ProvideReviewHook(cfg *config.Config, store cache.Service) *internalrepo.CacheReviewHook {
	return internalrepo.NewCacheReviewHook(store, cfg.Cache.ReviewTTL)
}

// ProvideLedgerBook creates the in-process ledger book.
func ProvideLedgerBook(l *logger.Logger) *ledger.Book {
	return ledger.NewBook(ledger.WithLogger(l))
}

// ProvideSettlementQueue creates the redis settlement queue, nil when disabled.
func ProvideSettlementQueue(cfg *config.Config, rc *cache.RedisCache, l *logger.Logger) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	return queue.NewRedisQueue(l.With(logger.String("component", "settlement_queue")), &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.MaxRetries,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), queue.WithKeyPrefix("fundguard:settlement"))
}

// ProvideSettlementJob applies queued settlements to the ledger book.
func ProvideSettlementJob(book *ledger.Book, m domrepo.Metrics, l *logger.Logger) *usecase.SettlementJob {
	return usecase.NewSettlementJob(book, m, l)
}

// ProvideSettler hands settlements to the queue when it is enabled and to the
// ledger book directly otherwise.
func ProvideSettler(book *ledger.Book, q *queue.RedisQueue, job *usecase.SettlementJob) domrepo.Settler {
	if q == nil {
		return book
	}
	q.RegisterJob(job)
	return internalrepo.NewQueueSettler(q)
}

// ProvideRiskEngine assembles the risk engine.
func ProvideRiskEngine(
	cfg *config.Config,
	outbox *internalrepo.Outbox,
	gov *governance.Provider,
	prices *internalrepo.PriceCache,
	oracle *upstream.HTTPOracle,
	registry *upstream.HTTPRegistry,
	review *internalrepo.CacheReviewHook,
	settler domrepo.Settler,
	book *ledger.Book,
	m domrepo.Metrics,
	l *logger.Logger,
) (*usecase.RiskEngine, error) {
	maxDeposit, maxWithdrawal, err := cfg.Caps()
	if err != nil {
		return nil, err
	}
	th := cfg.StateMachine
	return usecase.NewRiskEngine(usecase.EngineDeps{
		Arena:    internalrepo.NewArena(),
		Outbox:   outbox,
		SlashLog: internalrepo.NewSlashLog(180 * 24 * time.Hour),
		Config:   gov,
		Prices:   prices,
		Health:   oracle,
		Registry: registry,
		Review:   review,
		Settler:  settler,
		Ledger:   book,
		Machine:  statemachine.NewMachine(th),
		Validators: []validators.DomainValidator{
			validators.NewProtocolValidator(cfg.Oracle.MaxBridgeDelay, cfg.Oracle.MaxDiscountPct),
			validators.NewFundValidator(),
			validators.NewInvestorValidator(th),
		},
		Metrics: m,
	}, pipeline.Caps{MaxDeposit: maxDeposit, MaxWithdrawal: maxWithdrawal},
		usecase.WithEngineLogger(l.With(logger.String("component", "risk_engine"))),
		usecase.WithStakeToken(cfg.Oracle.StakeToken),
	), nil
}

// ProvideKafkaHandlers creates the governance and investor metrics consumers.
func ProvideKafkaHandlers(cfg *config.Config, gov *governance.Provider, engine *usecase.RiskEngine, registry *upstream.HTTPRegistry, m domrepo.Metrics, l *logger.Logger) []pkgkafka.MessageHandler {
	return []pkgkafka.MessageHandler{
		usecase.NewGovernanceHandler(cfg.Kafka.GovernanceTopic, gov, m, l),
		usecase.NewInvestorMetricsHandler(cfg.Kafka.MetricsTopic, engine, registry, m, l),
	}
}

// ProvidePriceCollector streams oracle prices into the cache, nil when the
// stream is disabled.
func ProvidePriceCollector(cfg *config.Config, prices *internalrepo.PriceCache, m domrepo.Metrics, l *logger.Logger) *usecase.PriceCollector {
	if !cfg.Oracle.Stream.Enabled {
		return nil
	}
	stream := pricefeed.New(cfg.Oracle.Stream.URL, cfg.Oracle.Assets,
		cfg.Oracle.Stream.ReconnectDelay, cfg.Oracle.Stream.PingInterval,
		pricefeed.WithLogger(l))
	pipe := mid.NewTickPipeline(mid.NewStoreProc(prices), m,
		mid.WithMaxRPS(cfg.Oracle.Stream.MaxTicksPerSec),
		mid.WithBufferSize(2000),
	)
	return usecase.NewPriceCollector(stream, pipe, m, l)
}

// ProvideScheduler registers the periodic jobs.
func ProvideScheduler(cfg *config.Config, engine *usecase.RiskEngine, prices *internalrepo.PriceCache, m domrepo.Metrics, l *logger.Logger) (*scheduler.Scheduler, error) {
	assets := append([]string{cfg.Oracle.StakeToken}, cfg.Oracle.Assets...)
	s := scheduler.New(engine, prices, assets, m, scheduler.WithLogger(l.With(logger.String("component", "scheduler"))))
	if err := s.Register(scheduler.Specs{
		RecoverySweep: cfg.Scheduler.RecoverySweep,
		NAVReconcile:  cfg.Scheduler.NAVReconcile,
		PriceRefresh:  cfg.Scheduler.PriceRefresh,
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// ProvideRateLimiter creates the per-client API rate limiter.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(cfg.RateLimit.RPS, float64(cfg.RateLimit.Burst))
}

// ProvideRiskHandler creates the HTTP API.
func ProvideRiskHandler(l *logger.Logger, engine *usecase.RiskEngine, store domrepo.AuditStore, gov *governance.Provider, limiter *ratelimit.Limiter) *api.RiskHandler {
	return api.NewRiskHandler(l.With(logger.String("component", "api")), engine, store, gov, limiter)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	reg *prometheus.Registry,
	handler *api.RiskHandler,
	outbox *internalrepo.Outbox,
	store domrepo.AuditStore,
	consumer *pkgkafka.Consumer,
	handlers []pkgkafka.MessageHandler,
	producer *pkgkafka.Producer,
	q *queue.RedisQueue,
	collector *usecase.PriceCollector,
	sched *scheduler.Scheduler,
	kv cache.Service,
) *server.App {
	return server.New(cfg, l, server.Deps{
		Registry:  reg,
		Handler:   handler,
		Outbox:    outbox,
		Audit:     store,
		Consumer:  consumer,
		Handlers:  handlers,
		Producer:  producer,
		Queue:     q,
		Collector: collector,
		Scheduler: sched,
		Cache:     kv,
	})
}
