//go:build wireinject
// +build wireinject

package di

import (
	"FundGuard/pkg/config"
	"FundGuard/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Metrics
		ProvideRegistry,
		ProvideMetrics,
		ProvideClientMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideLogger,
		ProvideKafkaConsumer,
		ProvideRedisCache,
		ProvideCache,

		// Repositories
		ProvideAuditStore,
		ProvideOutbox,
		ProvidePriceCache,
		ProvideReviewHook,
		ProvideSettlementQueue,
		ProvideSettler,

		// Services
		ProvideGovernance,
		ProvideOracle,
		ProvideInvestorRegistry,
		ProvideLedgerBook,
		ProvideRateLimiter,

		// Use cases
		ProvideSettlementJob,
		ProvideRiskEngine,
		ProvideKafkaHandlers,
		ProvidePriceCollector,
		ProvideScheduler,

		// Handlers
		ProvideRiskHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
