package validators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/statemachine"
)

func testConfig(t *testing.T) models.RiskConfig {
	t.Helper()
	cfg, err := models.NewRiskConfig(1, models.RiskParams{
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
	return cfg
}

func baseInput(t *testing.T, op *models.Operation) *Input {
	cfg := testConfig(t)
	tier, _ := cfg.Tier(1)
	return &Input{
		Op: op,
		Fund: &models.Fund{
			ID:            "f1",
			ManagerID:     "m1",
			RiskTierID:    1,
			Status:        models.FundActive,
			NAV:           decimal.NewFromInt(1_000_000),
			TotalShares:   decimal.NewFromInt(1_000_000),
			HighWaterMark: decimal.NewFromInt(1),
			Exposures:     map[string]decimal.Decimal{"ETH": decimal.NewFromInt(100_000)},
		},
		Investor: &models.Investor{ID: "i1", State: models.StateActive},
		Tier:     tier,
		Health:   models.SystemHealth{OracleLive: true, SequencerUp: true},
		Price: models.EffectivePrice{
			Quote: models.PriceQuote{Asset: "ETH", Price: decimal.NewFromInt(2000), Confidence: 1},
			Price: decimal.NewFromInt(2000),
		},
		Config: cfg,
	}
}

func all() []DomainValidator {
	return []DomainValidator{
		NewProtocolValidator(time.Minute, 5),
		NewFundValidator(),
		NewInvestorValidator(statemachine.DefaultThresholds()),
	}
}

func TestCleanTradePasses(t *testing.T) {
	op := &models.Operation{Kind: models.OpTrade, Asset: "ETH", Amount: decimal.NewFromInt(50_000), Signals: models.OperationSignals{TradeVelocityRatio: 1, AssetVolatilityPct: 30}}
	res, err := Run(baseInput(t, op), all()...)
	require.NoError(t, err)
	require.True(t, res.Passed)
	require.Zero(t, res.FaultIndex)
	require.Len(t, res.Verdicts, 3)
}

func TestOversizedTradeScoresFundDomain(t *testing.T) {
	// 200k notional on a 1M fund is 20% against a 10% position limit
	op := &models.Operation{
		Kind:    models.OpTrade,
		Asset:   "ETH",
		Amount:  decimal.NewFromInt(200_000),
		LossUSD: decimal.NewFromInt(100_000),
		Signals: models.OperationSignals{TradeVelocityRatio: 3, ManagerIntent: 40},
	}
	res, err := Run(baseInput(t, op), all()...)
	require.NoError(t, err)

	fund := res.Verdicts[1]
	require.Equal(t, models.DomainFund, fund.Domain)
	require.Equal(t, 100, fund.Components.L)
	require.Equal(t, 50, fund.Components.B)
	require.Equal(t, 50, fund.Components.D)
	require.Equal(t, 40, fund.Components.I)
	require.Equal(t, 60, fund.FaultIndex)
	require.False(t, fund.Passed)
	require.NotEmpty(t, fund.Reasons)

	require.Equal(t, 60, res.FaultIndex)
	require.False(t, res.Passed)
}

func TestCombinedIsMaxNotAverage(t *testing.T) {
	op := &models.Operation{Kind: models.OpWithdrawal, InvestorID: "i1", Amount: decimal.NewFromInt(1000)}
	in := baseInput(t, op)
	in.Metrics = models.BehaviorMetrics{WBR: 1.0, DVR: 0.1, LRI: 10, IntentProbability: 90}
	in.Counts = models.ViolationCounts{Last7d: 2, Last30d: 4}

	res, err := Run(in, all()...)
	require.NoError(t, err)

	inv := res.Verdicts[2]
	require.Equal(t, models.ScoreComponents{L: 60, B: 100, D: 1, I: 90}, inv.Components)
	require.Equal(t, 62, inv.FaultIndex)
	require.Equal(t, 62, res.FaultIndex)
	require.Zero(t, res.Verdicts[0].FaultIndex)
	require.Zero(t, res.Verdicts[1].FaultIndex)
}

func TestInvestorValidatorIgnoresTrades(t *testing.T) {
	op := &models.Operation{Kind: models.OpTrade, Asset: "ETH", Amount: decimal.NewFromInt(1)}
	in := baseInput(t, op)
	in.Metrics = models.BehaviorMetrics{IntentProbability: 100}
	v, err := NewInvestorValidator(statemachine.DefaultThresholds()).Validate(in)
	require.NoError(t, err)
	require.Zero(t, v.FaultIndex)
	require.True(t, v.Passed)
}

func TestProtocolValidatorScoresDegradedSystem(t *testing.T) {
	op := &models.Operation{Kind: models.OpTrade, Asset: "ETH", Amount: decimal.NewFromInt(1)}
	in := baseInput(t, op)
	in.Health.BridgeDelay = 2 * time.Minute
	in.Price.Quote.Confidence = 0.5
	in.Price.Discount = decimal.RequireFromString("0.025")

	v, err := NewProtocolValidator(time.Minute, 5).Validate(in)
	require.NoError(t, err)
	require.Equal(t, models.ScoreComponents{L: 100, B: 50, D: 50}, v.Components)
	require.Equal(t, 50, v.FaultIndex)
	require.Len(t, v.Reasons, 2)
}

func TestRunPropagatesPreconditionErrors(t *testing.T) {
	op := &models.Operation{Kind: models.OpDeposit, InvestorID: "i1", Amount: decimal.NewFromInt(1)}
	in := baseInput(t, op)
	in.Config.Weights = models.Weights{L: 50, B: 50, D: 50}
	_, err := Run(in, NewFundValidator())
	require.Error(t, err)
	var pe *models.PreconditionError
	require.ErrorAs(t, err, &pe)
}
