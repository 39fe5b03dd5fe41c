package usecase

import (
	"context"
	"time"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	domsvc "FundGuard/internal/domain/service"
	"FundGuard/internal/pipeline"
	"FundGuard/internal/repository"
	"FundGuard/internal/risk"
	"FundGuard/internal/statemachine"
	"FundGuard/internal/validators"
	"FundGuard/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EngineDeps are the collaborators of a RiskEngine.
type EngineDeps struct {
	Arena      *repository.Arena
	Outbox     *repository.Outbox
	SlashLog   *repository.SlashLog
	Config     domrepo.ConfigProvider
	Prices     domsvc.PriceSource
	Health     domsvc.HealthProbe
	Registry   domrepo.InvestorRegistry
	Review     domsvc.ReviewHook
	Settler    domrepo.Settler
	Ledger     domrepo.FundLedger
	Machine    *statemachine.Machine
	Breaker    *pipeline.Breaker
	Validators []validators.DomainValidator
	Metrics    domrepo.Metrics
}

// RiskEngine evaluates operations against the current governance snapshot and
// commits their effects. All mutations of one entity are serialized through
// the arena locks; reads from remote collaborators happen before any lock is
// taken.
type RiskEngine struct {
	arena    *repository.Arena
	outbox   *repository.Outbox
	slashLog *repository.SlashLog
	config   domrepo.ConfigProvider
	prices   domsvc.PriceSource
	health   domsvc.HealthProbe
	registry domrepo.InvestorRegistry
	review   domsvc.ReviewHook
	settler  domrepo.Settler
	ledger   domrepo.FundLedger
	journal  domrepo.NAVJournal
	machine  *statemachine.Machine
	metrics  domrepo.Metrics
	logger   *logger.Logger

	pipeline   *pipeline.Pipeline
	stakeToken string
	now        func() time.Time
	newID      func() string
}

type EngineOption func(*RiskEngine)

func WithEngineLogger(l *logger.Logger) EngineOption {
	return func(e *RiskEngine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *RiskEngine) { e.now = now }
}

// WithStakeToken sets the asset whose price converts USD losses into stake tokens.
func WithStakeToken(asset string) EngineOption {
	return func(e *RiskEngine) { e.stakeToken = asset }
}

func WithIDGenerator(fn func() string) EngineOption {
	return func(e *RiskEngine) { e.newID = fn }
}

// WithNAVJournal overrides the journal detected on the fund ledger.
func WithNAVJournal(j domrepo.NAVJournal) EngineOption {
	return func(e *RiskEngine) { e.journal = j }
}

func NewRiskEngine(deps EngineDeps, caps pipeline.Caps, opts ...EngineOption) *RiskEngine {
	e := &RiskEngine{
		arena:      deps.Arena,
		outbox:     deps.Outbox,
		slashLog:   deps.SlashLog,
		config:     deps.Config,
		prices:     deps.Prices,
		health:     deps.Health,
		registry:   deps.Registry,
		review:     deps.Review,
		settler:    deps.Settler,
		ledger:     deps.Ledger,
		machine:    deps.Machine,
		metrics:    deps.Metrics,
		logger:     logger.Nop(),
		stakeToken: "TOSS",
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if j, ok := deps.Ledger.(domrepo.NAVJournal); ok {
		e.journal = j
	}
	for _, opt := range opts {
		opt(e)
	}
	breaker := deps.Breaker
	if breaker == nil {
		breaker = pipeline.NewBreaker()
	}
	e.pipeline = pipeline.New(breaker, deps.Validators, e, e, statemachine.LimitsFor, e.metrics,
		pipeline.WithCaps(caps),
		pipeline.WithLogger(e.logger))
	return e
}

var (
	_ pipeline.Slasher  = (*RiskEngine)(nil)
	_ pipeline.Executor = (*RiskEngine)(nil)
)

func (e *RiskEngine) Breaker() *pipeline.Breaker { return e.pipeline.Breaker() }

// ResetBreaker closes the breaker on behalf of an operator and returns the
// status it had.
func (e *RiskEngine) ResetBreaker(operator string) pipeline.BreakerStatus {
	prev := e.pipeline.Breaker().Reset()
	if prev.Open {
		e.logger.Warn("circuit breaker reset",
			logger.String("operator", operator),
			logger.String("reason", prev.Reason),
			logger.Duration("open_for", e.now().Sub(prev.TrippedAt)))
	}
	return prev
}

// Submit evaluates op and, when it is approved, executes it. Rejections and
// slashes are results, not errors; an error means the operation could not be
// evaluated at all.
func (e *RiskEngine) Submit(ctx context.Context, op models.Operation) (*models.OperationResult, error) {
	return e.evaluate(ctx, op, false)
}

// Preview runs the same evaluation without side effects and returns the
// verdict the operation would get now.
func (e *RiskEngine) Preview(ctx context.Context, op models.Operation) (*models.OperationResult, error) {
	return e.evaluate(ctx, op, true)
}

func (e *RiskEngine) evaluate(ctx context.Context, op models.Operation, dryRun bool) (*models.OperationResult, error) {
	if op.ID == "" {
		return nil, &models.PreconditionError{Field: "id", Reason: "operation without id"}
	}
	if op.RequestedAt.IsZero() {
		op.RequestedAt = e.now()
	}
	cfg := e.config.Current()

	ev := &pipeline.Evaluation{Op: &op, Config: cfg, DryRun: dryRun}
	ev.Health = e.health.Health(ctx)
	if op.Kind.ManagerInitiated() {
		ev.Price, ev.PriceErr = e.prices.EffectivePrice(ctx, e.stakeToken)
	} else {
		ev.Metrics, ev.MetricsErr = e.registry.GetMetrics(ctx, op.InvestorID)
	}

	var reservation *repository.Reservation
	if !dryRun {
		r, err := e.outbox.Reserve(1)
		if err != nil {
			e.metrics.RecordError("outbox_full")
			return nil, err
		}
		reservation = r
		defer reservation.Cancel()
	}

	keys := []string{repository.FundKey(op.FundID)}
	if f, ok := e.arena.Fund(op.FundID); ok {
		keys = append(keys, repository.ManagerKey(f.ManagerID))
	}
	if !op.Kind.ManagerInitiated() {
		keys = append(keys, repository.InvestorKey(op.InvestorID))
	}
	unlock := e.arena.Lock(keys...)
	defer unlock()

	ev.Now = e.now()
	e.loadEntities(ev)
	res := e.pipeline.Run(ctx, ev)

	if reservation != nil {
		reservation.Commit([]models.AuditEvent{e.newEvent(models.EventOperationEvaluated, scope(ev), func(a *models.AuditEvent) {
			a.Evaluation = &models.OperationEvaluated{Operation: op, Result: *res}
		})})
	}
	return res, nil
}

// loadEntities fills the snapshot fields of ev. Callers hold the entity locks.
func (e *RiskEngine) loadEntities(ev *pipeline.Evaluation) {
	f, ok := e.arena.Fund(ev.Op.FundID)
	if !ok {
		return
	}
	ev.Fund = f
	if m, ok := e.arena.Manager(f.ManagerID); ok {
		ev.Manager = m
	}
	ev.Tier, ev.TierKnown = ev.Config.Tier(f.RiskTierID)
	if ev.InvestorOp() {
		if inv, ok := e.arena.Investor(ev.Op.InvestorID); ok {
			ev.Investor = inv
		}
	}
}

// Slash applies the penalty for a stage-2 failure: the manager's stake for
// trades, a violation and re-scoring for investor operations.
func (e *RiskEngine) Slash(ctx context.Context, ev *pipeline.Evaluation) (*pipeline.Penalty, error) {
	plan, err := e.planSlash(ev)
	if err != nil {
		return nil, err
	}
	if err := e.commit(ctx, plan); err != nil {
		return nil, err
	}
	if s := plan.slash; s != nil {
		e.logger.Warn("manager slashed",
			logger.String("operation_id", ev.Op.ID),
			logger.String("manager_id", s.Input.ManagerID),
			logger.String("fund_id", s.Input.FundID),
			logger.Int("fault_index", s.Input.FaultIndex),
			logger.Decimal("amount", s.Outcome.Amount),
			logger.String("bound", string(s.Outcome.Bound)))
		if s.Outcome.Ban {
			e.logger.Warn("manager banned",
				logger.String("manager_id", s.Input.ManagerID),
				logger.Int("fault_index", s.Input.FaultIndex))
		}
	}
	return plan.penalty, nil
}

func (e *RiskEngine) PreviewSlash(ev *pipeline.Evaluation) (*pipeline.Penalty, error) {
	plan, err := e.planSlash(ev)
	if err != nil {
		return nil, err
	}
	return plan.penalty, nil
}

func (e *RiskEngine) planSlash(ev *pipeline.Evaluation) (*commitPlan, error) {
	if ev.InvestorOp() {
		inv := ev.Investor.Clone()
		sig := statemachine.Signals{Violation: true, Systemic: ev.Op.Signals.Systemic}
		_, transitions, err := e.machine.Apply(inv, ev.Metrics.Behavior, sig, ev.Now)
		if err != nil {
			return nil, err
		}
		plan := &commitPlan{
			change:      repository.Change{Investors: []*models.Investor{inv}},
			transitions: transitions,
			penalty:     &pipeline.Penalty{Transitions: transitions},
		}
		plan.events = e.transitionEvents(scope(ev), inv, transitions)
		return plan, nil
	}

	fund, mgr := ev.Fund.Clone(), ev.Manager.Clone()
	loss := ev.Op.LossUSD
	if !loss.IsPositive() {
		loss = fund.DrawdownLoss()
	}
	// The loss cap converts at the last valid price; the stale-price haircut
	// only lowers the USD value credited to the fund.
	in := models.SlashInput{
		ManagerID:         mgr.ID,
		FundID:            fund.ID,
		FaultIndex:        ev.Validation.FaultIndex,
		Stake:             mgr.StakeIn(fund.ID),
		ManagerTotalStake: mgr.TotalStake,
		FundLossUSD:       loss,
		TokenPrice:        ev.Price.Quote.Price,
	}
	out, err := risk.ComputeSlash(in, ev.Config)
	if err != nil {
		return nil, err
	}

	mgr.FundStakes[fund.ID] = in.Stake.Sub(out.Amount)
	mgr.TotalStake = mgr.TotalStake.Sub(out.Amount)
	if out.Ban {
		mgr.Ban(ev.Now)
	}
	record := models.SlashingEvent{
		ID:          e.newID(),
		OperationID: ev.Op.ID,
		Input:       in,
		Outcome:     out,
		ExecutedAt:  ev.Now,
	}
	mgr.ReputationScore = risk.ReputationScore(mgr, append(e.slashLog.ForManager(mgr.ID), record), ev.Now)

	plan := &commitPlan{
		change:  repository.Change{Funds: []*models.Fund{fund}, Managers: []*models.FundManager{mgr}},
		slash:   &record,
		penalty: &pipeline.Penalty{Slash: &out},
	}
	if out.Amount.IsPositive() {
		compUSD := out.Compensation.Mul(ev.Price.Price)
		plan.settlement = &models.SettlementInstruction{
			ID:              e.newID(),
			OperationID:     ev.Op.ID,
			ManagerID:       mgr.ID,
			FundID:          fund.ID,
			Burn:            out.Burn,
			Compensation:    out.Compensation,
			CompensationUSD: compUSD,
			CreatedAt:       ev.Now,
		}
		if compUSD.IsPositive() {
			fund.Dirty = true
		}
	}
	plan.events = []models.AuditEvent{e.newEvent(models.EventSlashingExecuted, scope(ev), func(a *models.AuditEvent) {
		a.ManagerID = mgr.ID
		a.Slashing = &models.SlashingExecuted{Input: in, Outcome: out}
	})}
	return plan, nil
}

// Execute applies an approved operation to clones of its entities and
// publishes them together with the NAV journal entry.
func (e *RiskEngine) Execute(ctx context.Context, ev *pipeline.Evaluation) error {
	op := ev.Op
	fund := ev.Fund.Clone()
	fund.UpdatedAt = ev.Now
	plan := &commitPlan{fundID: fund.ID}

	switch op.Kind {
	case models.OpTrade:
		fund.NAV = fund.NAV.Add(op.PnL)
		if op.Asset != "" {
			fund.Exposures[op.Asset] = fund.Exposures[op.Asset].Add(op.Amount)
		}
		fund.MarkHighWater()
		plan.navDelta = op.PnL
		plan.change.Funds = []*models.Fund{fund}
		return e.commit(ctx, plan)
	case models.OpDeposit:
		fund.NAV = fund.NAV.Add(op.Amount)
		plan.navDelta = op.Amount
	case models.OpWithdrawal:
		fund.NAV = fund.NAV.Sub(op.Amount)
		plan.navDelta = op.Amount.Neg()
	default:
		return &models.PreconditionError{Field: "kind", Reason: string(op.Kind)}
	}

	inv := ev.Investor.Clone()
	fund.TotalShares = fund.TotalShares.Add(ev.SharesDelta)
	inv.Shares[fund.ID] = inv.SharesIn(fund.ID).Add(ev.SharesDelta)
	if op.Kind == models.OpWithdrawal && ev.Limits.OneTimeWithdrawal {
		inv.HighRiskWithdrawalUsed = true
	}
	if fund.TotalShares.IsNegative() || inv.SharesIn(fund.ID).IsNegative() {
		return &models.PreconditionError{Field: "shares", Reason: "execution would leave a negative share balance"}
	}

	_, transitions, err := e.machine.Apply(inv, ev.Metrics.Behavior, statemachine.Signals{}, ev.Now)
	if err != nil {
		return err
	}
	plan.change = repository.Change{Funds: []*models.Fund{fund}, Investors: []*models.Investor{inv}}
	plan.transitions = transitions
	plan.events = e.transitionEvents(scope(ev), inv, transitions)
	return e.commit(ctx, plan)
}

// commitPlan is everything one commit publishes.
type commitPlan struct {
	change      repository.Change
	settlement  *models.SettlementInstruction
	fundID      string
	navDelta    decimal.Decimal
	slash       *models.SlashingEvent
	transitions []models.StateTransition
	events      []models.AuditEvent
	penalty     *pipeline.Penalty
}

// commit reserves outbox room, hands the remote effects off, and only then
// swaps the clones into the arena. A failure before the swap leaves nothing
// applied.
func (e *RiskEngine) commit(ctx context.Context, p *commitPlan) error {
	var reservation *repository.Reservation
	if len(p.events) > 0 {
		r, err := e.outbox.Reserve(len(p.events))
		if err != nil {
			e.metrics.RecordError("outbox_full")
			return err
		}
		reservation = r
	}

	if err := e.handOff(ctx, p); err != nil {
		if reservation != nil {
			reservation.Cancel()
		}
		return err
	}

	e.arena.Commit(p.change)
	if reservation != nil {
		reservation.Commit(p.events)
	}
	if p.slash != nil {
		e.slashLog.Append(*p.slash)
		e.metrics.RecordSlash(string(p.slash.Outcome.Bound), p.slash.Outcome.Amount.InexactFloat64())
	}
	for _, t := range p.transitions {
		e.metrics.RecordTransition(string(t.From), string(t.To))
		e.logger.Info("investor state changed",
			logger.String("investor_id", t.InvestorID),
			logger.String("from", string(t.From)),
			logger.String("to", string(t.To)),
			logger.String("trigger", t.Trigger))
	}
	return nil
}

func (e *RiskEngine) handOff(ctx context.Context, p *commitPlan) error {
	if p.settlement != nil {
		return e.settler.Settle(ctx, *p.settlement)
	}
	if e.journal != nil && p.fundID != "" && !p.navDelta.IsZero() {
		return e.journal.AdjustNAV(ctx, p.fundID, p.navDelta)
	}
	return nil
}

// scope is the audit envelope shared by every event of one evaluation.
func scope(ev *pipeline.Evaluation) models.AuditEvent {
	a := models.AuditEvent{
		OccurredAt:    ev.Now,
		ConfigVersion: ev.Config.Version,
		OperationID:   ev.Op.ID,
		FundID:        ev.Op.FundID,
		InvestorID:    ev.Op.InvestorID,
	}
	if ev.Fund != nil {
		a.ManagerID = ev.Fund.ManagerID
	}
	return a
}

func (e *RiskEngine) newEvent(typ models.EventType, envelope models.AuditEvent, fill func(*models.AuditEvent)) models.AuditEvent {
	envelope.ID = e.newID()
	envelope.Type = typ
	if fill != nil {
		fill(&envelope)
	}
	return envelope
}

func (e *RiskEngine) transitionEvents(envelope models.AuditEvent, inv *models.Investor, ts []models.StateTransition) []models.AuditEvent {
	events := make([]models.AuditEvent, 0, len(ts))
	for _, t := range ts {
		events = append(events, e.newEvent(models.EventStateTransitioned, envelope, func(a *models.AuditEvent) {
			a.InvestorID = inv.ID
			a.Transition = &models.StateTransitioned{Transition: t, Metrics: inv.Metrics}
		}))
	}
	return events
}
