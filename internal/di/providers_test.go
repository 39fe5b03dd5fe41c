package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalrepo "FundGuard/internal/repository"
	"FundGuard/internal/service/ledger"
	"FundGuard/pkg/cache"
	"FundGuard/pkg/config"
	"FundGuard/pkg/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte("environment: test\nsqlite:\n  path: \":memory:\"\n"))
	require.NoError(t, err)
	return cfg
}

func TestOptionalProvidersDisabled(t *testing.T) {
	cfg := testConfig(t)

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)

	consumer, err := ProvideKafkaConsumer(cfg, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, consumer)

	rc, err := ProvideRedisCache(cfg)
	require.NoError(t, err)
	assert.Nil(t, rc)
	assert.Nil(t, ProvideSettlementQueue(cfg, rc, logger.Nop()))
	assert.Nil(t, ProvidePriceCollector(cfg, nil, nil, logger.Nop()))

	kv := ProvideCache(cfg, nil)
	_, ok := kv.(*cache.MemoryCache)
	assert.True(t, ok)
}

func TestProvideRedisCacheBadAddr(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "no-port"
	_, err := ProvideRedisCache(cfg)
	assert.Error(t, err)
}

func TestProvideSettlerWithoutQueue(t *testing.T) {
	book := ledger.NewBook()
	s := ProvideSettler(book, nil, ProvideSettlementJob(book, nil, logger.Nop()))
	assert.Same(t, book, s)
}

func TestProvideAuditStoreSQLite(t *testing.T) {
	store, err := ProvideAuditStore(testConfig(t), nil)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*internalrepo.SQLiteAuditStore)
	assert.True(t, ok)
	rows, err := store.SlashingHistory(context.Background(), "f1", time.Time{}, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestProvideGovernanceRejectsBadRisk(t *testing.T) {
	cfg := testConfig(t)
	cfg.Risk.Gamma = 95
	_, err := ProvideGovernance(cfg, logger.Nop())
	assert.Error(t, err)
}

func TestInitializeAppDefaults(t *testing.T) {
	app, err := InitializeApp(testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, app)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, app.Shutdown(ctx))
}
