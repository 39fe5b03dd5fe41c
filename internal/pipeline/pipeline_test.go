package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/statemachine"
	"FundGuard/internal/validators"
	"FundGuard/pkg/metrics"
)

var now = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type fakeSlasher struct {
	calls    int
	previews int
	err      error
}

func (s *fakeSlasher) Slash(_ context.Context, ev *Evaluation) (*Penalty, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Penalty{Slash: &models.SlashOutcome{Amount: decimal.NewFromInt(7)}}, nil
}

func (s *fakeSlasher) PreviewSlash(ev *Evaluation) (*Penalty, error) {
	s.previews++
	return &Penalty{Slash: &models.SlashOutcome{Amount: decimal.NewFromInt(7)}}, nil
}

type fakeExecutor struct {
	calls int
	err   error
}

func (e *fakeExecutor) Execute(context.Context, *Evaluation) error {
	e.calls++
	return e.err
}

func config(t *testing.T) models.RiskConfig {
	t.Helper()
	cfg, err := models.NewRiskConfig(4, models.RiskParams{
		Weights:        models.Weights{L: 25, B: 25, D: 25, I: 25},
		Gamma:          80,
		Alpha:          decimal.NewFromInt(1),
		MinSlashingFI:  30,
		BanThresholdFI: 90,
		WarningFI:      10,
		Tiers: []models.RiskTier{
			{ID: 1, MaxPositionPct: 10, MaxConcentrationPct: 25, MaxExposurePct: 150, MaxVolatilityPct: 60, MaxDrawdownPct: 20},
			{ID: 3, MaxPositionPct: 20, MaxConcentrationPct: 40, MaxExposurePct: 200, MaxVolatilityPct: 90, MaxDrawdownPct: 30},
		},
	})
	require.NoError(t, err)
	return cfg
}

func newPipeline(s *fakeSlasher, e *fakeExecutor, opts ...Option) *Pipeline {
	vs := []validators.DomainValidator{
		validators.NewProtocolValidator(time.Minute, 5),
		validators.NewFundValidator(),
		validators.NewInvestorValidator(statemachine.DefaultThresholds()),
	}
	return New(NewBreaker(), vs, s, e, statemachine.LimitsFor, metrics.Nop{}, opts...)
}

func tradeEval(t *testing.T) *Evaluation {
	cfg := config(t)
	tier, _ := cfg.Tier(1)
	return &Evaluation{
		Op: &models.Operation{
			ID:       "op-1",
			Kind:     models.OpTrade,
			FundID:   "f1",
			CallerID: "m1",
			Session:  models.Session{ID: "s1", ExpiresAt: now.Add(time.Hour)},
			Asset:    "ETH",
			Amount:   decimal.NewFromInt(50_000),
			Signals:  models.OperationSignals{TradeVelocityRatio: 1},
		},
		Config: cfg,
		Now:    now,
		Fund: &models.Fund{
			ID: "f1", ManagerID: "m1", RiskTierID: 1, Status: models.FundActive,
			NAV: decimal.NewFromInt(1_000_000), TotalShares: decimal.NewFromInt(1_000_000),
			HighWaterMark: decimal.NewFromInt(1),
		},
		Manager:   &models.FundManager{ID: "m1", TotalStake: decimal.NewFromInt(10_000), FundStakes: map[string]decimal.Decimal{"f1": decimal.NewFromInt(10_000)}},
		Tier:      tier,
		TierKnown: true,
		Health:    models.SystemHealth{OracleLive: true, SequencerUp: true},
		Price: models.EffectivePrice{
			Quote: models.PriceQuote{Asset: "TOSS", Price: decimal.NewFromInt(2), Confidence: 1},
			Price: decimal.NewFromInt(2),
		},
	}
}

func investorEval(t *testing.T, kind models.OperationKind, state models.InvestorState, amount int64) *Evaluation {
	ev := tradeEval(t)
	ev.Op.Kind = kind
	ev.Op.InvestorID = "i1"
	ev.Op.CallerID = "i1"
	ev.Op.Amount = decimal.NewFromInt(amount)
	ev.Investor = &models.Investor{
		ID:     "i1",
		State:  state,
		Shares: map[string]decimal.Decimal{"f1": decimal.NewFromInt(10_000)},
	}
	ev.Metrics = models.InvestorMetrics{InvestorID: "i1"}
	return ev
}

func TestApprovedTradeRunsAllStages(t *testing.T) {
	s, e := &fakeSlasher{}, &fakeExecutor{}
	ev := tradeEval(t)
	res := newPipeline(s, e).Run(context.Background(), ev)

	require.Equal(t, models.OutcomeApproved, res.Outcome)
	require.NoError(t, res.Err())
	require.Equal(t, []models.Stage{
		models.StageCriticalSafety,
		models.StageRiskValidation,
		models.StageAccessControl,
		models.StageStateValidation,
		models.StageExecution,
	}, ev.Passed)
	require.Equal(t, 1, e.calls)
	require.Zero(t, s.calls)
	require.Equal(t, uint64(4), res.ConfigVersion)
	require.Len(t, res.Verdicts, 3)
}

func TestCriticalFailureStopsEverything(t *testing.T) {
	s, e := &fakeSlasher{}, &fakeExecutor{}
	p := newPipeline(s, e)
	ev := tradeEval(t)
	ev.Health.SequencerUp = false
	ev.Op.Signals.ManagerIntent = 100

	res := p.Run(context.Background(), ev)
	require.Equal(t, models.OutcomeRejected, res.Outcome)
	require.Equal(t, models.StageCriticalSafety, res.FailedStage)
	require.Equal(t, models.ReasonSystemUnhealthy, res.Reason)
	require.Empty(t, ev.Passed)
	require.Zero(t, s.calls)
	require.Zero(t, e.calls)
	require.True(t, p.Breaker().Open())

	// the open breaker halts healthy operations too
	res = p.Run(context.Background(), tradeEval(t))
	require.Equal(t, models.ReasonCircuitOpen, res.Reason)
	require.Zero(t, e.calls)

	prev := p.Breaker().Reset()
	require.Equal(t, "sequencer is down", prev.Reason)
	res = p.Run(context.Background(), tradeEval(t))
	require.Equal(t, models.OutcomeApproved, res.Outcome)
}

func TestStalePriceRejectsWithoutTripping(t *testing.T) {
	p := newPipeline(&fakeSlasher{}, &fakeExecutor{})
	ev := tradeEval(t)
	ev.PriceErr = &models.StaleDataError{Asset: "TOSS", Age: time.Hour, MaxAge: 10 * time.Minute}

	res := p.Run(context.Background(), ev)
	require.Equal(t, models.ReasonStaleData, res.Reason)
	require.False(t, p.Breaker().Open())

	var rej *models.OperationRejected
	require.True(t, errors.As(res.Err(), &rej))
	require.Equal(t, models.StageCriticalSafety, rej.Stage)
}

func TestUnknownEntityDoesNotTrip(t *testing.T) {
	p := newPipeline(&fakeSlasher{}, &fakeExecutor{})
	ev := tradeEval(t)
	ev.Fund = nil
	res := p.Run(context.Background(), ev)
	require.Equal(t, models.ReasonUnknownEntity, res.Reason)
	require.False(t, p.Breaker().Open())
}

func TestNegativeNAVTrips(t *testing.T) {
	p := newPipeline(&fakeSlasher{}, &fakeExecutor{})
	ev := tradeEval(t)
	ev.Fund.NAV = decimal.NewFromInt(-1)
	res := p.Run(context.Background(), ev)
	require.Equal(t, models.ReasonInvariantBroken, res.Reason)
	require.True(t, p.Breaker().Open())
}

func TestRiskFailureSlashesAndStops(t *testing.T) {
	s, e := &fakeSlasher{}, &fakeExecutor{}
	ev := tradeEval(t)
	ev.Op.Amount = decimal.NewFromInt(200_000)
	ev.Op.Signals.ManagerIntent = 80
	ev.Op.CallerID = "intruder"

	res := newPipeline(s, e).Run(context.Background(), ev)
	require.Equal(t, models.OutcomeSlashed, res.Outcome)
	require.Equal(t, models.StageRiskValidation, res.FailedStage)
	require.Equal(t, models.ReasonRiskThreshold, res.Reason)
	require.GreaterOrEqual(t, res.FaultIndex, 30)
	require.NotNil(t, res.Slash)
	require.Equal(t, 1, s.calls)
	require.Zero(t, e.calls)
	// access control never ran, the bad caller is not what was reported
	require.Equal(t, []models.Stage{models.StageCriticalSafety}, ev.Passed)

	var st *models.SlashingTriggered
	require.True(t, errors.As(res.Err(), &st))
}

func TestSlashFailureIsReportedAsRejection(t *testing.T) {
	s := &fakeSlasher{err: errors.New("settler unavailable")}
	ev := tradeEval(t)
	ev.Op.Amount = decimal.NewFromInt(200_000)
	ev.Op.Signals.ManagerIntent = 80

	res := newPipeline(s, &fakeExecutor{}).Run(context.Background(), ev)
	require.Equal(t, models.OutcomeRejected, res.Outcome)
	require.Equal(t, models.ReasonExecutionFailed, res.Reason)
	require.Nil(t, res.Slash)
}

func TestDryRunHasNoSideEffects(t *testing.T) {
	s, e := &fakeSlasher{}, &fakeExecutor{}
	p := newPipeline(s, e)

	ev := tradeEval(t)
	ev.DryRun = true
	res := p.Run(context.Background(), ev)
	require.Equal(t, models.OutcomeApproved, res.Outcome)
	require.True(t, res.DryRun)
	require.Zero(t, e.calls)

	ev = tradeEval(t)
	ev.DryRun = true
	ev.Op.Amount = decimal.NewFromInt(200_000)
	ev.Op.Signals.ManagerIntent = 80
	res = p.Run(context.Background(), ev)
	require.Equal(t, models.OutcomeSlashed, res.Outcome)
	require.Zero(t, s.calls)
	require.Equal(t, 1, s.previews)
}

func TestAccessControl(t *testing.T) {
	p := newPipeline(&fakeSlasher{}, &fakeExecutor{})

	ev := tradeEval(t)
	ev.Op.CallerID = "m2"
	require.Equal(t, models.ReasonUnauthorized, p.Run(context.Background(), ev).Reason)

	ev = tradeEval(t)
	ev.Op.Session.ExpiresAt = now
	require.Equal(t, models.ReasonSessionInvalid, p.Run(context.Background(), ev).Reason)

	ev = tradeEval(t)
	ev.Manager.Banned = true
	res := p.Run(context.Background(), ev)
	require.Equal(t, models.ReasonManagerBanned, res.Reason)
	require.Equal(t, models.StageAccessControl, res.FailedStage)

	ev = investorEval(t, models.OpDeposit, models.StateActive, 100)
	ev.Op.CallerID = "i2"
	require.Equal(t, models.ReasonUnauthorized, p.Run(context.Background(), ev).Reason)
}

func TestStateValidation(t *testing.T) {
	caps := WithCaps(Caps{MaxDeposit: decimal.NewFromInt(10_000), MaxWithdrawal: decimal.NewFromInt(8_000)})
	tests := []struct {
		name   string
		ev     func(t *testing.T) *Evaluation
		reason models.ReasonCode
		delta  string
	}{
		{"fund paused", func(t *testing.T) *Evaluation {
			ev := tradeEval(t)
			ev.Fund.Status = models.FundPaused
			return ev
		}, models.ReasonFundNotActive, ""},
		{"zero amount", func(t *testing.T) *Evaluation {
			ev := tradeEval(t)
			ev.Op.Amount = decimal.Zero
			return ev
		}, models.ReasonInvalidAmount, ""},
		{"active deposit", func(t *testing.T) *Evaluation {
			return investorEval(t, models.OpDeposit, models.StateActive, 10_000)
		}, models.ReasonNone, "10000"},
		{"limited deposit over half cap", func(t *testing.T) *Evaluation {
			return investorEval(t, models.OpDeposit, models.StateLimited, 5_001)
		}, models.ReasonStateLimit, ""},
		{"limited withdrawal within quarter cap", func(t *testing.T) *Evaluation {
			return investorEval(t, models.OpWithdrawal, models.StateLimited, 2_000)
		}, models.ReasonNone, "-2000"},
		{"limited withdrawal over quarter cap", func(t *testing.T) *Evaluation {
			return investorEval(t, models.OpWithdrawal, models.StateLimited, 2_001)
		}, models.ReasonStateLimit, ""},
		{"high risk half position", func(t *testing.T) *Evaluation {
			return investorEval(t, models.OpWithdrawal, models.StateHighRisk, 5_000)
		}, models.ReasonNone, "-5000"},
		{"high risk over half position", func(t *testing.T) *Evaluation {
			return investorEval(t, models.OpWithdrawal, models.StateHighRisk, 5_001)
		}, models.ReasonStateLimit, ""},
		{"high risk second withdrawal", func(t *testing.T) *Evaluation {
			ev := investorEval(t, models.OpWithdrawal, models.StateHighRisk, 100)
			ev.Investor.HighRiskWithdrawalUsed = true
			return ev
		}, models.ReasonStateLimit, ""},
		{"frozen deposit", func(t *testing.T) *Evaluation {
			return investorEval(t, models.OpDeposit, models.StateFrozen, 1)
		}, models.ReasonStateLimit, ""},
		{"limited into tier 3", func(t *testing.T) *Evaluation {
			ev := investorEval(t, models.OpDeposit, models.StateLimited, 10)
			ev.Fund.RiskTierID = 3
			ev.Tier, _ = ev.Config.Tier(3)
			return ev
		}, models.ReasonTierRestricted, ""},
		{"withdraw more than held", func(t *testing.T) *Evaluation {
			ev := investorEval(t, models.OpWithdrawal, models.StateActive, 5_000)
			ev.Investor.Shares["f1"] = decimal.NewFromInt(10)
			return ev
		}, models.ReasonInsufficientFunds, ""},
		{"shares without NAV", func(t *testing.T) *Evaluation {
			ev := investorEval(t, models.OpDeposit, models.StateActive, 10)
			ev.Fund.NAV = decimal.Zero
			return ev
		}, models.ReasonDegenerateShares, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(&fakeSlasher{}, &fakeExecutor{}, caps)
			res := p.Run(context.Background(), tt.ev(t))
			require.Equal(t, tt.reason, res.Reason, res.Detail)
			if tt.reason != models.ReasonNone {
				require.Equal(t, models.StageStateValidation, res.FailedStage)
				return
			}
			require.True(t, res.Approved())
			require.True(t, decimal.RequireFromString(tt.delta).Equal(res.SharesDelta), res.SharesDelta.String())
		})
	}
}

func TestStateLimitsWithoutCapsUsePosition(t *testing.T) {
	p := newPipeline(&fakeSlasher{}, &fakeExecutor{})
	tests := []struct {
		name   string
		kind   models.OperationKind
		state  models.InvestorState
		amount int64
		reason models.ReasonCode
	}{
		{"active deposit unbounded", models.OpDeposit, models.StateActive, 50_000, models.ReasonNone},
		{"active full withdrawal", models.OpWithdrawal, models.StateActive, 10_000, models.ReasonNone},
		{"limited deposit half position", models.OpDeposit, models.StateLimited, 5_000, models.ReasonNone},
		{"limited deposit over half position", models.OpDeposit, models.StateLimited, 5_001, models.ReasonStateLimit},
		{"limited withdrawal quarter position", models.OpWithdrawal, models.StateLimited, 2_500, models.ReasonNone},
		{"limited full withdrawal", models.OpWithdrawal, models.StateLimited, 10_000, models.ReasonStateLimit},
		{"high risk deposit over tenth", models.OpDeposit, models.StateHighRisk, 1_001, models.ReasonStateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Run(context.Background(), investorEval(t, tt.kind, tt.state, tt.amount))
			require.Equal(t, tt.reason, res.Reason, res.Detail)
		})
	}
}

func TestExecutionFailureRollsBack(t *testing.T) {
	e := &fakeExecutor{err: errors.New("settle: connection refused")}
	res := newPipeline(&fakeSlasher{}, e).Run(context.Background(), tradeEval(t))
	require.Equal(t, models.OutcomeRejected, res.Outcome)
	require.Equal(t, models.StageExecution, res.FailedStage)
	require.Equal(t, models.ReasonExecutionFailed, res.Reason)
}

func TestWarningBand(t *testing.T) {
	ev := tradeEval(t)
	// intent 60 alone scores 15: above warning 10, below slashing 30
	ev.Op.Signals.ManagerIntent = 60
	res := newPipeline(&fakeSlasher{}, &fakeExecutor{}).Run(context.Background(), ev)
	require.Equal(t, models.OutcomeApprovedWithWarning, res.Outcome)
	require.Equal(t, 15, res.FaultIndex)
	require.True(t, res.Approved())
}
