// Package pipeline runs an operation through the five ordered stages: critical
// safety, risk validation, access control, state validation and execution.
// A stage runs only when every earlier stage passed, and only a risk
// validation failure leads to a penalty.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/internal/risk"
	"FundGuard/internal/validators"
	"FundGuard/pkg/logger"

	"github.com/shopspring/decimal"
)

// Slasher applies the stage-2 penalty atomically.
type Slasher interface {
	Slash(ctx context.Context, ev *Evaluation) (*Penalty, error)
	// PreviewSlash computes the penalty without applying it.
	PreviewSlash(ev *Evaluation) (*Penalty, error)
}

// Executor commits an approved operation. A returned error means nothing was
// applied.
type Executor interface {
	Execute(ctx context.Context, ev *Evaluation) error
}

// Caps are the base amounts the per-state percentages apply to. A zero cap
// falls back to the investor's position value for restricted states.
type Caps struct {
	MaxDeposit    decimal.Decimal
	MaxWithdrawal decimal.Decimal
}

// Failure is a stage verdict. Systemic failures trip the breaker.
type Failure struct {
	Code     models.ReasonCode
	Detail   string
	Systemic bool
}

func fail(code models.ReasonCode, format string, args ...interface{}) *Failure {
	return &Failure{Code: code, Detail: fmt.Sprintf(format, args...)}
}

func systemic(code models.ReasonCode, format string, args ...interface{}) *Failure {
	f := fail(code, format, args...)
	f.Systemic = true
	return f
}

type stage struct {
	id  models.Stage
	run func(ctx context.Context, ev *Evaluation) *Failure
}

type Pipeline struct {
	breaker    *Breaker
	validators []validators.DomainValidator
	slasher    Slasher
	executor   Executor
	limitsFor  func(models.InvestorState) models.StateLimits
	caps       Caps
	metrics    domrepo.Metrics
	logger     *logger.Logger
	stages     []stage
}

type Option func(*Pipeline)

func WithCaps(c Caps) Option {
	return func(p *Pipeline) { p.caps = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(
	breaker *Breaker,
	vs []validators.DomainValidator,
	slasher Slasher,
	executor Executor,
	limitsFor func(models.InvestorState) models.StateLimits,
	metrics domrepo.Metrics,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		breaker:    breaker,
		validators: vs,
		slasher:    slasher,
		executor:   executor,
		limitsFor:  limitsFor,
		metrics:    metrics,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.stages = []stage{
		{models.StageCriticalSafety, p.criticalSafety},
		{models.StageRiskValidation, p.riskValidation},
		{models.StageAccessControl, p.accessControl},
		{models.StageStateValidation, p.stateValidation},
		{models.StageExecution, p.execution},
	}
	return p
}

func (p *Pipeline) Breaker() *Breaker { return p.breaker }

// Run evaluates ev. Rejections are returned as results, never as errors.
func (p *Pipeline) Run(ctx context.Context, ev *Evaluation) *models.OperationResult {
	start := time.Now()
	res := &models.OperationResult{
		OperationID:   ev.Op.ID,
		Kind:          ev.Op.Kind,
		ConfigVersion: ev.Config.Version,
		DryRun:        ev.DryRun,
		EvaluatedAt:   ev.Now,
		SharesDelta:   decimal.Zero,
	}
	defer func() {
		p.metrics.RecordEvaluation(string(res.Kind), string(res.Outcome))
		p.metrics.RecordLatency("pipeline_run", time.Since(start).Seconds())
	}()

	log := p.logger.With(
		logger.String("operation_id", ev.Op.ID),
		logger.String("kind", string(ev.Op.Kind)),
		logger.String("fund_id", ev.Op.FundID),
	)

	if p.breaker.Open() {
		st := p.breaker.Status()
		p.reject(res, models.StageCriticalSafety, &Failure{Code: models.ReasonCircuitOpen, Detail: st.Reason})
		log.Info("operation rejected", logger.String("reason", string(res.Reason)))
		return res
	}

	for _, st := range p.stages {
		f := st.run(ctx, ev)
		p.fillVerdicts(res, ev)
		if f == nil {
			ev.Passed = append(ev.Passed, st.id)
			continue
		}
		if f.Systemic && p.breaker.Trip(f.Detail, "pipeline", ev.Now) {
			log.Error("circuit breaker tripped",
				logger.String("reason", string(f.Code)),
				logger.String("detail", f.Detail))
		}
		if ev.Penalty != nil && st.id == models.StageRiskValidation {
			res.Outcome = models.OutcomeSlashed
			res.FailedStage = st.id
			res.Reason = f.Code
			res.Detail = f.Detail
			res.Slash = ev.Penalty.Slash
			res.Transitions = ev.Penalty.Transitions
			log.Warn("operation slashed",
				logger.Int("fault_index", res.FaultIndex),
				logger.Bool("dry_run", ev.DryRun))
			return res
		}
		p.reject(res, st.id, f)
		log.Info("operation rejected",
			logger.String("stage", st.id.String()),
			logger.String("reason", string(f.Code)),
			logger.String("detail", f.Detail))
		return res
	}

	res.SharesDelta = ev.SharesDelta
	res.Outcome = models.OutcomeApproved
	if risk.Classify(res.FaultIndex, ev.Config) == risk.SeverityWarning {
		res.Outcome = models.OutcomeApprovedWithWarning
		log.Warn("operation approved with warning", logger.Int("fault_index", res.FaultIndex))
	}
	return res
}

func (p *Pipeline) reject(res *models.OperationResult, st models.Stage, f *Failure) {
	res.Outcome = models.OutcomeRejected
	res.FailedStage = st
	res.Reason = f.Code
	res.Detail = f.Detail
}

func (p *Pipeline) fillVerdicts(res *models.OperationResult, ev *Evaluation) {
	if ev.Validation.Verdicts != nil && res.Verdicts == nil {
		res.Verdicts = ev.Validation.Verdicts
		res.FaultIndex = ev.Validation.FaultIndex
	}
}

// criticalSafety cannot be disabled. Health and invariant failures are
// systemic; missing entities and stale prices only fail the operation.
func (p *Pipeline) criticalSafety(_ context.Context, ev *Evaluation) *Failure {
	if !ev.Health.OracleLive {
		return systemic(models.ReasonSystemUnhealthy, "price oracle is not live")
	}
	if !ev.Health.SequencerUp {
		return systemic(models.ReasonSystemUnhealthy, "sequencer is down")
	}
	if ev.Fund == nil {
		return fail(models.ReasonUnknownEntity, "fund %s", ev.Op.FundID)
	}
	if ev.Manager == nil {
		return fail(models.ReasonUnknownEntity, "manager %s", ev.Fund.ManagerID)
	}
	if !ev.TierKnown {
		return fail(models.ReasonUnknownEntity, "risk tier %d", ev.Fund.RiskTierID)
	}
	if ev.InvestorOp() && ev.Investor == nil {
		return fail(models.ReasonUnknownEntity, "investor %s", ev.Op.InvestorID)
	}

	switch {
	case ev.Fund.NAV.IsNegative():
		return systemic(models.ReasonInvariantBroken, "fund %s has negative NAV", ev.Fund.ID)
	case ev.Fund.TotalShares.IsNegative():
		return systemic(models.ReasonInvariantBroken, "fund %s has negative shares", ev.Fund.ID)
	case ev.Manager.TotalStake.IsNegative() || ev.Manager.StakeIn(ev.Fund.ID).IsNegative():
		return systemic(models.ReasonInvariantBroken, "manager %s has negative stake", ev.Manager.ID)
	}
	if ev.Investor != nil {
		for fundID, s := range ev.Investor.Shares {
			if s.IsNegative() {
				return systemic(models.ReasonInvariantBroken, "investor %s has negative balance in %s", ev.Investor.ID, fundID)
			}
		}
	}

	if ev.Op.Kind.ManagerInitiated() && ev.PriceErr != nil {
		var stale *models.StaleDataError
		if errors.As(ev.PriceErr, &stale) {
			return fail(models.ReasonStaleData, "%s", stale.Error())
		}
		return fail(models.ReasonStaleData, "price unavailable: %v", ev.PriceErr)
	}
	if ev.InvestorOp() && ev.MetricsErr != nil {
		if errors.Is(ev.MetricsErr, models.ErrNotFound) {
			return fail(models.ReasonUnknownEntity, "investor %s unknown to registry", ev.Op.InvestorID)
		}
		return fail(models.ReasonSystemUnhealthy, "investor registry: %v", ev.MetricsErr)
	}
	return nil
}

func (p *Pipeline) riskValidation(ctx context.Context, ev *Evaluation) *Failure {
	result, err := validators.Run(ev.validatorInput(), p.validators...)
	if err != nil {
		return fail(models.ReasonPreconditionFailed, "%v", err)
	}
	ev.Validation = result
	for _, v := range result.Verdicts {
		p.metrics.RecordFaultIndex(string(v.Domain), v.FaultIndex)
	}
	if result.FaultIndex < ev.Config.MinSlashingFI {
		return nil
	}

	var penalty *Penalty
	if ev.DryRun {
		penalty, err = p.slasher.PreviewSlash(ev)
	} else {
		penalty, err = p.slasher.Slash(ctx, ev)
	}
	if err != nil {
		p.metrics.RecordError("slash")
		p.logger.Error("slash failed",
			logger.String("operation_id", ev.Op.ID),
			logger.Int("fault_index", result.FaultIndex),
			logger.Error(err))
		return fail(models.ReasonExecutionFailed, "fault index %d, slash not applied: %v", result.FaultIndex, err)
	}
	ev.Penalty = penalty
	return fail(models.ReasonRiskThreshold, "fault index %d >= %d", result.FaultIndex, ev.Config.MinSlashingFI)
}

func (p *Pipeline) accessControl(_ context.Context, ev *Evaluation) *Failure {
	op := ev.Op
	if op.Session.ID == "" || !op.Session.ExpiresAt.After(ev.Now) {
		return fail(models.ReasonSessionInvalid, "session %q expired or missing", op.Session.ID)
	}
	if op.Kind.ManagerInitiated() {
		if op.CallerID != ev.Fund.ManagerID {
			return fail(models.ReasonUnauthorized, "caller %s does not manage fund %s", op.CallerID, ev.Fund.ID)
		}
		if ev.Manager.Banned {
			return fail(models.ReasonManagerBanned, "manager %s is banned", ev.Manager.ID)
		}
		return nil
	}
	if op.CallerID != op.InvestorID {
		return fail(models.ReasonUnauthorized, "caller %s cannot act for investor %s", op.CallerID, op.InvestorID)
	}
	return nil
}

func (p *Pipeline) stateValidation(_ context.Context, ev *Evaluation) *Failure {
	if ev.Fund.Status != models.FundActive {
		return fail(models.ReasonFundNotActive, "fund %s is %s", ev.Fund.ID, ev.Fund.Status)
	}
	if !ev.Op.Amount.IsPositive() {
		return fail(models.ReasonInvalidAmount, "amount %s must be positive", ev.Op.Amount)
	}
	switch ev.Op.Kind {
	case models.OpTrade:
		if ev.Fund.NAV.Add(ev.Op.PnL).IsNegative() {
			return fail(models.ReasonInsufficientFunds, "pnl %s exceeds NAV %s", ev.Op.PnL, ev.Fund.NAV)
		}
		return nil
	case models.OpDeposit:
		return p.validateDeposit(ev)
	case models.OpWithdrawal:
		return p.validateWithdrawal(ev)
	default:
		return fail(models.ReasonPreconditionFailed, "unknown operation kind %q", ev.Op.Kind)
	}
}

func pctOf(v decimal.Decimal, pct int) decimal.Decimal {
	return v.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100))
}

// stateLimit is pct of the configured cap or, when no cap is configured, of
// the investor's position value in the fund. ok is false when the amount is
// not bounded.
func stateLimit(limitCap decimal.Decimal, pct int, position decimal.Decimal) (limit decimal.Decimal, ok bool) {
	switch {
	case limitCap.IsPositive():
		return pctOf(limitCap, pct), true
	case pct < 100:
		return pctOf(position, pct), true
	default:
		return decimal.Zero, false
	}
}

func positionValue(ev *Evaluation) decimal.Decimal {
	return ev.Investor.SharesIn(ev.Fund.ID).Mul(ev.Fund.SharePrice())
}

func (p *Pipeline) stateGate(ev *Evaluation, pct int) *Failure {
	ev.Limits = p.limitsFor(ev.Investor.State)
	if pct == 0 {
		return fail(models.ReasonStateLimit, "investor %s is %s", ev.Investor.ID, ev.Investor.State)
	}
	if !ev.Limits.AllowsTier(ev.Fund.RiskTierID) {
		return fail(models.ReasonTierRestricted, "tier %d not accessible in %s", ev.Fund.RiskTierID, ev.Investor.State)
	}
	return nil
}

func (p *Pipeline) validateDeposit(ev *Evaluation) *Failure {
	if f := p.stateGate(ev, p.limitsFor(ev.Investor.State).DepositPct); f != nil {
		return f
	}
	if limit, ok := stateLimit(p.caps.MaxDeposit, ev.Limits.DepositPct, positionValue(ev)); ok && ev.Op.Amount.GreaterThan(limit) {
		return fail(models.ReasonStateLimit, "deposit %s above %s limit %s", ev.Op.Amount, ev.Investor.State, limit)
	}
	if ev.Fund.TotalShares.IsPositive() && !ev.Fund.NAV.IsPositive() {
		return fail(models.ReasonDegenerateShares, "fund %s has shares but no NAV", ev.Fund.ID)
	}
	shares := ev.Op.Amount.DivRound(ev.Fund.SharePrice(), risk.AmountScale)
	if !shares.IsPositive() {
		return fail(models.ReasonDegenerateShares, "deposit %s mints no shares", ev.Op.Amount)
	}
	ev.SharesDelta = shares
	return nil
}

func (p *Pipeline) validateWithdrawal(ev *Evaluation) *Failure {
	if f := p.stateGate(ev, p.limitsFor(ev.Investor.State).WithdrawalPct); f != nil {
		return f
	}
	price := ev.Fund.SharePrice()
	if !price.IsPositive() {
		return fail(models.ReasonDegenerateShares, "fund %s share price is %s", ev.Fund.ID, price)
	}
	held := ev.Investor.SharesIn(ev.Fund.ID)
	shares := ev.Op.Amount.DivRound(price, risk.AmountScale)
	if !shares.IsPositive() {
		return fail(models.ReasonDegenerateShares, "withdrawal %s burns no shares", ev.Op.Amount)
	}
	if shares.GreaterThan(held) {
		return fail(models.ReasonInsufficientFunds, "withdrawal needs %s shares, investor holds %s", shares, held)
	}
	if ev.Op.Amount.GreaterThan(ev.Fund.NAV) {
		return fail(models.ReasonInsufficientFunds, "withdrawal %s above NAV %s", ev.Op.Amount, ev.Fund.NAV)
	}

	l := ev.Limits
	if l.OneTimeWithdrawal && ev.Investor.HighRiskWithdrawalUsed {
		return fail(models.ReasonStateLimit, "single %s withdrawal already used", ev.Investor.State)
	}
	if l.WithdrawalOfPosition {
		limit := pctOf(held.Mul(price), l.WithdrawalPct)
		if ev.Op.Amount.GreaterThan(limit) {
			return fail(models.ReasonStateLimit, "withdrawal %s above %d%% of position", ev.Op.Amount, l.WithdrawalPct)
		}
	} else if limit, ok := stateLimit(p.caps.MaxWithdrawal, l.WithdrawalPct, held.Mul(price)); ok && ev.Op.Amount.GreaterThan(limit) {
		return fail(models.ReasonStateLimit, "withdrawal %s above %s limit %s", ev.Op.Amount, ev.Investor.State, limit)
	}
	ev.SharesDelta = shares.Neg()
	return nil
}

func (p *Pipeline) execution(ctx context.Context, ev *Evaluation) *Failure {
	if ev.DryRun {
		return nil
	}
	if err := p.executor.Execute(ctx, ev); err != nil {
		p.metrics.RecordError("execute")
		p.logger.Error("execution rolled back",
			logger.String("operation_id", ev.Op.ID),
			logger.Error(err))
		return fail(models.ReasonExecutionFailed, "%v", err)
	}
	return nil
}
