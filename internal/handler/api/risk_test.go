package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/pipeline"
	"FundGuard/internal/repository"
	"FundGuard/internal/service/governance"
	"FundGuard/internal/service/ledger"
	"FundGuard/internal/service/ratelimit"
	"FundGuard/internal/statemachine"
	"FundGuard/internal/usecase"
	"FundGuard/internal/validators"
	"FundGuard/pkg/metrics"
	pkgsqlite "FundGuard/pkg/sqlite"
)

type fixedPrice struct{}

func (fixedPrice) EffectivePrice(_ context.Context, asset string) (models.EffectivePrice, error) {
	p := decimal.NewFromInt(2)
	return models.EffectivePrice{Quote: models.PriceQuote{Asset: asset, Price: p, Confidence: 1, ObservedAt: time.Now()}, Price: p}, nil
}

type healthy struct{}

func (healthy) Health(context.Context) models.SystemHealth {
	return models.SystemHealth{OracleLive: true, SequencerUp: true}
}

type cleanRegistry struct{}

func (cleanRegistry) GetMetrics(_ context.Context, id string) (models.InvestorMetrics, error) {
	return models.InvestorMetrics{InvestorID: id, Behavior: models.BehaviorMetrics{WBR: 0.1, DVR: 0.1, LRI: 10, IntentProbability: 5}}, nil
}

type server struct {
	e      *echo.Echo
	outbox *repository.Outbox
}

func newServer(t *testing.T, limiter *ratelimit.Limiter) *server {
	t.Helper()
	provider, err := governance.New(models.RiskParams{
		Weights:        models.Weights{L: 25, B: 25, D: 25, I: 25},
		Gamma:          80,
		Alpha:          decimal.NewFromInt(1),
		MinSlashingFI:  30,
		BanThresholdFI: 90,
		WarningFI:      10,
		Tiers: []models.RiskTier{
			{ID: 1, MaxPositionPct: 10, MaxConcentrationPct: 25, MaxExposurePct: 150, MaxVolatilityPct: 60, MaxDrawdownPct: 20},
		},
	})
	require.NoError(t, err)

	db, err := pkgsqlite.Open(context.Background(), ":memory:", pkgsqlite.WithMigrations(repository.SQLiteMigrations...))
	require.NoError(t, err)
	store := repository.NewSQLiteAuditStore(db)
	t.Cleanup(func() { _ = store.Close() })

	outbox := repository.NewOutbox(store, metrics.Nop{}, 64)
	book := ledger.NewBook()
	engine := usecase.NewRiskEngine(usecase.EngineDeps{
		Arena:    repository.NewArena(),
		Outbox:   outbox,
		SlashLog: repository.NewSlashLog(180 * 24 * time.Hour),
		Config:   provider,
		Prices:   fixedPrice{},
		Health:   healthy{},
		Registry: cleanRegistry{},
		Settler:  book,
		Ledger:   book,
		Machine:  statemachine.NewMachine(statemachine.DefaultThresholds()),
		Validators: []validators.DomainValidator{
			validators.NewProtocolValidator(10*time.Minute, 5),
			validators.NewFundValidator(),
			validators.NewInvestorValidator(statemachine.DefaultThresholds()),
		},
		Metrics: metrics.Nop{},
	}, pipeline.Caps{})

	e := echo.New()
	NewRiskHandler(nil, engine, store, provider, limiter).RegisterRoutes(e)
	return &server{e: e, outbox: outbox}
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func (s *server) do(t *testing.T, method, path, body string) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func (s *server) seed(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/managers",
		`{"id":"m1","total_stake":"23000","fund_stakes":{"f1":"10000"}}`).Status)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/funds",
		`{"id":"f1","manager_id":"m1","risk_tier_id":1,"nav":"100000000","total_shares":"100000000"}`).Status)
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/v1/investors",
		`{"id":"i1","shares":{"f1":"10000"}}`).Status)
}

func tradeBody(id string, loss string, velocity, intent float64) string {
	return fmt.Sprintf(`{"id":%q,"kind":"TRADE","fund_id":"f1","caller_id":"m1","session_id":"s1",
		"session_expires_at":%d,"asset":"ETH","amount":"50000","loss_usd":%q,
		"trade_velocity_ratio":%v,"manager_intent":%v}`,
		id, time.Now().Add(time.Hour).Unix(), loss, velocity, intent)
}

func TestRiskHandlerRegistration(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t)

	env := s.do(t, http.MethodPost, "/api/v1/managers", `{"id":"m1","total_stake":"1"}`)
	assert.Equal(t, http.StatusConflict, env.Status)

	env = s.do(t, http.MethodPost, "/api/v1/funds",
		`{"id":"f2","manager_id":"ghost","risk_tier_id":1,"nav":"1","total_shares":"1"}`)
	assert.Equal(t, http.StatusNotFound, env.Status)

	env = s.do(t, http.MethodPost, "/api/v1/investors", `{"id":"i2","state":"SLEEPY"}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)

	env = s.do(t, http.MethodGet, "/api/v1/investors/i1", "")
	require.Equal(t, http.StatusOK, env.Status)
	var view models.InvestorView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, models.StateActive, view.Investor.State)

	env = s.do(t, http.MethodGet, "/api/v1/investors/ghost", "")
	assert.Equal(t, http.StatusNotFound, env.Status)
}

func TestRiskHandlerOperations(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t)

	env := s.do(t, http.MethodPost, "/api/v1/operations/preview", tradeBody("op-1", "0", 1, 0))
	require.Equal(t, http.StatusOK, env.Status)
	var res models.OperationResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, models.OutcomeApproved, res.Outcome)
	assert.True(t, res.DryRun)

	env = s.do(t, http.MethodPost, "/api/v1/operations", tradeBody("op-2", "50000", 5, 100))
	require.Equal(t, http.StatusOK, env.Status)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, models.OutcomeSlashed, res.Outcome)
	require.NotNil(t, res.Slash)
	assert.True(t, decimal.NewFromInt(700).Equal(res.Slash.Amount))

	require.NoError(t, s.outbox.Flush(context.Background()))
	env = s.do(t, http.MethodGet, "/api/v1/funds/f1/slashing?limit=10", "")
	require.Equal(t, http.StatusOK, env.Status)
	var list struct {
		Rows  []models.SlashingEvent `json:"rows"`
		Total int64                  `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.EqualValues(t, 1, list.Total)
	assert.Equal(t, "op-2", list.Rows[0].OperationID)

	env = s.do(t, http.MethodPost, "/api/v1/operations", `{"kind":"TRADE"}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestRiskHandlerInvestorWorkflow(t *testing.T) {
	s := newServer(t, nil)
	s.seed(t)

	env := s.do(t, http.MethodPost, "/api/v1/investors/i1/fraud", `{"reason":"wash trading"}`)
	require.Equal(t, http.StatusOK, env.Status)
	var ts []models.StateTransition
	require.NoError(t, json.Unmarshal(env.Data, &ts))
	require.NotEmpty(t, ts)
	assert.Equal(t, models.StateBanned, ts[len(ts)-1].To)

	// no review store is wired
	env = s.do(t, http.MethodPost, "/api/v1/investors/i1/review", `{"approved":true,"reviewer":"ops"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, env.Status)
}

func TestRiskHandlerBreakerAndConfig(t *testing.T) {
	s := newServer(t, nil)

	env := s.do(t, http.MethodGet, "/api/v1/breaker", "")
	require.Equal(t, http.StatusOK, env.Status)
	assert.JSONEq(t, `{"open":false,"trips":0,"tripped_at":"0001-01-01T00:00:00Z"}`, string(env.Data))

	env = s.do(t, http.MethodPost, "/api/v1/breaker/reset", `{}`)
	assert.Equal(t, http.StatusBadRequest, env.Status)
	env = s.do(t, http.MethodPost, "/api/v1/breaker/reset", `{"operator":"ops"}`)
	assert.Equal(t, http.StatusOK, env.Status)

	env = s.do(t, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, env.Status)
	var cfg models.RiskConfig
	require.NoError(t, json.Unmarshal(env.Data, &cfg))
	assert.Equal(t, uint64(1), cfg.Version)
	assert.Equal(t, 80, cfg.Gamma)
}

func TestRateLimit(t *testing.T) {
	s := newServer(t, ratelimit.New(0, 2))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/config", "").Status)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/config", "").Status)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodGet, "/api/v1/config", "").Status)
}
