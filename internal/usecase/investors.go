package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/repository"
	"FundGuard/internal/risk"
	"FundGuard/internal/statemachine"
	"FundGuard/pkg/logger"
)

// reviewStore is implemented by review hooks that also accept decisions.
type reviewStore interface {
	Submit(ctx context.Context, d models.ReviewDecision) error
	Consume(ctx context.Context, investorID string) error
}

// Rescore re-evaluates an investor against fresh registry metrics and walks
// any transition the state machine decides.
func (e *RiskEngine) Rescore(ctx context.Context, investorID string, sig statemachine.Signals) ([]models.StateTransition, error) {
	m, err := e.registry.GetMetrics(ctx, investorID)
	if err != nil {
		return nil, fmt.Errorf("investor %s metrics: %w", investorID, err)
	}
	return e.rescore(ctx, investorID, &m.Behavior, sig)
}

// ApplyMetrics re-scores an investor with metrics pushed by the registry.
func (e *RiskEngine) ApplyMetrics(ctx context.Context, m models.InvestorMetrics) ([]models.StateTransition, error) {
	return e.rescore(ctx, m.InvestorID, &m.Behavior, statemachine.Signals{})
}

// ConfirmFraud bans the investor, through FROZEN when the matrix requires it.
func (e *RiskEngine) ConfirmFraud(ctx context.Context, investorID, reason string) ([]models.StateTransition, error) {
	e.logger.Warn("fraud confirmed",
		logger.String("investor_id", investorID),
		logger.String("reason", reason))
	return e.rescore(ctx, investorID, nil, statemachine.Signals{Fraud: true})
}

// SubmitReview stores a manual review decision and, when it approves,
// immediately tries the FROZEN recovery.
func (e *RiskEngine) SubmitReview(ctx context.Context, d models.ReviewDecision) ([]models.StateTransition, error) {
	store, ok := e.review.(reviewStore)
	if !ok {
		return nil, &models.PreconditionError{Field: "review", Reason: "review hook does not accept decisions"}
	}
	if _, ok := e.arena.Investor(d.InvestorID); !ok {
		return nil, fmt.Errorf("investor %s: %w", d.InvestorID, models.ErrNotFound)
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = e.now()
	}
	if err := store.Submit(ctx, d); err != nil {
		return nil, fmt.Errorf("store review: %w", err)
	}
	e.logger.Info("review recorded",
		logger.String("investor_id", d.InvestorID),
		logger.String("reviewer", d.Reviewer),
		logger.Bool("approved", d.Approved))
	if !d.Approved {
		return nil, nil
	}
	return e.Rescore(ctx, d.InvestorID, statemachine.Signals{})
}

// rescore applies the state machine under the investor lock. A nil behavior
// reuses the metrics stored on the investor.
func (e *RiskEngine) rescore(ctx context.Context, investorID string, behavior *models.BehaviorMetrics, sig statemachine.Signals) ([]models.StateTransition, error) {
	snap, ok := e.arena.Investor(investorID)
	if !ok {
		return nil, fmt.Errorf("investor %s: %w", investorID, models.ErrNotFound)
	}
	if snap.State == models.StateFrozen && e.review != nil {
		approved, err := e.review.Approved(ctx, investorID)
		if err != nil {
			e.logger.Warn("review hook unavailable",
				logger.String("investor_id", investorID),
				logger.Error(err))
		}
		sig.ReviewApproved = approved && err == nil
	}

	unlock := e.arena.Lock(repository.InvestorKey(investorID))
	defer unlock()

	inv, ok := e.arena.Investor(investorID)
	if !ok {
		return nil, fmt.Errorf("investor %s: %w", investorID, models.ErrNotFound)
	}
	b := inv.Metrics
	if behavior != nil {
		b = *behavior
	}
	now := e.now()
	from := inv.State
	d, transitions, err := e.machine.Apply(inv, b, sig, now)
	if err != nil {
		return nil, err
	}

	envelope := models.AuditEvent{
		OccurredAt:    now,
		ConfigVersion: e.config.Current().Version,
		InvestorID:    investorID,
	}
	plan := &commitPlan{
		change:      repository.Change{Investors: []*models.Investor{inv}},
		transitions: transitions,
		events:      e.transitionEvents(envelope, inv, transitions),
	}
	if err := e.commit(ctx, plan); err != nil {
		return nil, err
	}

	if from == models.StateFrozen && d.Recovering && len(transitions) > 0 {
		if store, ok := e.review.(reviewStore); ok {
			if err := store.Consume(ctx, investorID); err != nil && !errors.Is(err, models.ErrNotFound) {
				e.logger.Warn("review not consumed",
					logger.String("investor_id", investorID),
					logger.Error(err))
			}
		}
	}
	return transitions, nil
}

// InvestorView returns the investor with its current limits and violation counts.
func (e *RiskEngine) InvestorView(_ context.Context, investorID string) (models.InvestorView, error) {
	inv, ok := e.arena.Investor(investorID)
	if !ok {
		return models.InvestorView{}, fmt.Errorf("investor %s: %w", investorID, models.ErrNotFound)
	}
	return models.InvestorView{
		Investor: inv,
		Limits:   statemachine.LimitsFor(inv.State),
		Counts:   inv.ViolationCounts(e.now()),
	}, nil
}

// RecoverySweep re-scores every investor that is neither ACTIVE nor BANNED,
// so time gated recovery happens without a new operation. It returns the
// number of transitions taken.
func (e *RiskEngine) RecoverySweep(ctx context.Context) (int, error) {
	ids := e.arena.InvestorIDs(func(s models.InvestorState) bool {
		return s != models.StateActive && s != models.StateBanned
	})
	moved, failed := 0, 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		ts, err := e.Rescore(ctx, id, statemachine.Signals{})
		if err != nil {
			failed++
			e.metrics.RecordError("recovery_sweep")
			e.logger.Warn("recovery rescore failed",
				logger.String("investor_id", id),
				logger.Error(err))
			continue
		}
		moved += len(ts)
	}
	e.logger.Info("recovery sweep finished",
		logger.Int("investors", len(ids)),
		logger.Int("transitions", moved),
		logger.Int("failed", failed))
	return moved, nil
}

// dirtyTracker is implemented by fund ledgers that track which funds have
// received compensation since the last reconcile.
type dirtyTracker interface {
	DirtyFunds() []string
	ClearDirty(fundID string)
}

// Reconcile reloads the NAV of funds marked dirty by a slash from the fund
// ledger and clears the flag. Funds whose settlement has not reached a
// tracking ledger yet are left for the next run. It returns the number of
// funds reconciled.
func (e *RiskEngine) Reconcile(ctx context.Context) (int, error) {
	settled := func(string) bool { return true }
	if t, ok := e.ledger.(dirtyTracker); ok {
		ids := t.DirtyFunds()
		settled = func(id string) bool { return slices.Contains(ids, id) }
	}
	done := 0
	for _, id := range e.arena.DirtyFunds() {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if !settled(id) {
			continue
		}
		if err := e.reconcileFund(ctx, id); err != nil {
			e.metrics.RecordError("reconcile")
			e.logger.Warn("nav reconcile failed",
				logger.String("fund_id", id),
				logger.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (e *RiskEngine) reconcileFund(ctx context.Context, fundID string) error {
	unlock := e.arena.Lock(repository.FundKey(fundID))
	defer unlock()

	fund, ok := e.arena.Fund(fundID)
	if !ok || !fund.Dirty {
		return nil
	}
	nav, err := e.ledger.GetNAV(ctx, fundID)
	if err != nil {
		return err
	}
	e.logger.Info("fund nav reconciled",
		logger.String("fund_id", fundID),
		logger.Decimal("nav", nav),
		logger.Decimal("previous", fund.NAV))
	fund.NAV = nav
	fund.Dirty = false
	fund.UpdatedAt = e.now()
	e.arena.Commit(repository.Change{Funds: []*models.Fund{fund}})
	if t, ok := e.ledger.(dirtyTracker); ok {
		t.ClearDirty(fundID)
	}
	return nil
}

// RegisterManager adds a staked manager supplied by the host system.
func (e *RiskEngine) RegisterManager(_ context.Context, m *models.FundManager) error {
	if m.ID == "" {
		return &models.PreconditionError{Field: "id", Reason: "manager without id"}
	}
	if m.TotalStake.IsNegative() {
		return &models.PreconditionError{Field: "total_stake", Reason: "negative stake"}
	}
	for fundID, s := range m.FundStakes {
		if s.IsNegative() || s.GreaterThan(m.TotalStake) {
			return &models.PreconditionError{Field: "fund_stakes", Reason: fmt.Sprintf("stake in %s outside [0, total]", fundID)}
		}
	}

	unlock := e.arena.Lock(repository.ManagerKey(m.ID))
	defer unlock()
	if _, ok := e.arena.Manager(m.ID); ok {
		return fmt.Errorf("manager %s: %w", m.ID, models.ErrExists)
	}
	m = m.Clone()
	m.ReputationScore = risk.ReputationScore(m, e.slashLog.ForManager(m.ID), e.now())
	e.arena.Commit(repository.Change{Managers: []*models.FundManager{m}})
	return nil
}

// RegisterFund adds a fund. Its risk tier must exist in the current governance
// snapshot; an unregistered manager is ErrNotFound.
func (e *RiskEngine) RegisterFund(ctx context.Context, f *models.Fund) error {
	switch {
	case f.ID == "":
		return &models.PreconditionError{Field: "id", Reason: "fund without id"}
	case f.NAV.IsNegative():
		return &models.PreconditionError{Field: "nav", Reason: "negative NAV"}
	case f.TotalShares.IsNegative():
		return &models.PreconditionError{Field: "total_shares", Reason: "negative shares"}
	}
	if _, ok := e.config.Current().Tier(f.RiskTierID); !ok {
		return &models.PreconditionError{Field: "risk_tier_id", Reason: fmt.Sprintf("unknown tier %d", f.RiskTierID)}
	}
	if f.ManagerID == "" {
		return &models.PreconditionError{Field: "manager_id", Reason: "fund without manager"}
	}

	unlock := e.arena.Lock(repository.FundKey(f.ID), repository.ManagerKey(f.ManagerID))
	defer unlock()
	if _, ok := e.arena.Manager(f.ManagerID); !ok {
		return fmt.Errorf("manager %s: %w", f.ManagerID, models.ErrNotFound)
	}
	if _, ok := e.arena.Fund(f.ID); ok {
		return fmt.Errorf("fund %s: %w", f.ID, models.ErrExists)
	}
	f = f.Clone()
	if f.Status == "" {
		f.Status = models.FundActive
	}
	f.MarkHighWater()
	f.UpdatedAt = e.now()
	if e.journal != nil && !f.NAV.IsZero() {
		if err := e.journal.AdjustNAV(ctx, f.ID, f.NAV); err != nil {
			return fmt.Errorf("open fund %s in ledger: %w", f.ID, err)
		}
	}
	e.arena.Commit(repository.Change{Funds: []*models.Fund{f}})
	return nil
}

func (e *RiskEngine) RegisterInvestor(_ context.Context, inv *models.Investor) error {
	if inv.ID == "" {
		return &models.PreconditionError{Field: "id", Reason: "investor without id"}
	}
	for fundID, s := range inv.Shares {
		if s.IsNegative() {
			return &models.PreconditionError{Field: "shares", Reason: fmt.Sprintf("negative balance in %s", fundID)}
		}
	}

	unlock := e.arena.Lock(repository.InvestorKey(inv.ID))
	defer unlock()
	if _, ok := e.arena.Investor(inv.ID); ok {
		return fmt.Errorf("investor %s: %w", inv.ID, models.ErrExists)
	}
	inv = inv.Clone()
	if inv.State == "" {
		inv.State = models.StateActive
	}
	if !slices.Contains(statemachine.States, inv.State) {
		return &models.PreconditionError{Field: "state", Reason: fmt.Sprintf("unknown state %q", inv.State)}
	}
	if inv.StateChangedAt.IsZero() {
		inv.StateChangedAt = e.now()
	}
	e.arena.Commit(repository.Change{Investors: []*models.Investor{inv}})
	return nil
}
