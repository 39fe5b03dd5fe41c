package statemachine

import (
	"math/bits"
	"time"

	"FundGuard/internal/domain/models"
)

const day = 24 * time.Hour

// Thresholds hold the escalation and recovery bounds. Recovery bounds are
// stricter than escalation bounds so an investor does not oscillate around a
// single threshold.
type Thresholds struct {
	WBR    float64 `yaml:"wbr" json:"wbr" default:"0.5"`
	DVR    float64 `yaml:"dvr" json:"dvr" default:"0.7"`
	LRI    float64 `yaml:"lri" json:"lri" default:"60"`
	Intent float64 `yaml:"intent" json:"intent" default:"80"`

	RecoveryWBR    float64 `yaml:"recovery_wbr" json:"recovery_wbr" default:"0.3"`
	RecoveryDVR    float64 `yaml:"recovery_dvr" json:"recovery_dvr" default:"0.5"`
	RecoveryLRI    float64 `yaml:"recovery_lri" json:"recovery_lri" default:"40"`
	RecoveryIntent float64 `yaml:"recovery_intent" json:"recovery_intent" default:"50"`

	// SevereViolations7d is the 7 day violation count treated as a severe breach.
	SevereViolations7d int `yaml:"severe_violations_7d" json:"severe_violations_7d" default:"3"`

	LimitedCleanPeriod  time.Duration `yaml:"limited_clean_period" json:"limited_clean_period" default:"720h"`
	HighRiskCleanPeriod time.Duration `yaml:"high_risk_clean_period" json:"high_risk_clean_period" default:"1440h"`
	FrozenCleanPeriod   time.Duration `yaml:"frozen_clean_period" json:"frozen_clean_period" default:"1440h"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		WBR:                 0.5,
		DVR:                 0.7,
		LRI:                 60,
		Intent:              80,
		RecoveryWBR:         0.3,
		RecoveryDVR:         0.5,
		RecoveryLRI:         40,
		RecoveryIntent:      50,
		SevereViolations7d:  3,
		LimitedCleanPeriod:  30 * day,
		HighRiskCleanPeriod: 60 * day,
		FrozenCleanPeriod:   60 * day,
	}
}

// Signals are the non-metric inputs of a re-scoring.
type Signals struct {
	// Violation is set when the current operation itself broke a rule.
	Violation bool
	Systemic  bool
	Fraud     bool
	// ReviewApproved carries the manual review decision, only read in FROZEN.
	ReviewApproved bool
}

// Decision is the pure outcome of Decide.
type Decision struct {
	Trigger Trigger
	Path    []models.InvestorState
	// Breach is set when this re-scoring counts as a new violation: the
	// operation broke a rule or a metric crossed its bound since the previous
	// observation.
	Breach bool
	// Breaches is the number of metrics currently above their bound.
	Breaches int
	// Holding is set while any metric stays above its bound.
	Holding    bool
	Recovering bool
}

// Moves reports whether the decision changes the investor state.
func (d Decision) Moves() bool { return len(d.Path) > 0 }

type Machine struct {
	th Thresholds
}

func NewMachine(th Thresholds) *Machine {
	return &Machine{th: th}
}

func (m *Machine) Thresholds() Thresholds { return m.th }

const (
	breachWBR uint8 = 1 << iota
	breachDVR
	breachLRI
)

// breachMask flags the behavioural metrics above their escalation bound.
func (m *Machine) breachMask(b models.BehaviorMetrics) uint8 {
	var mask uint8
	if b.WBR > m.th.WBR {
		mask |= breachWBR
	}
	if b.DVR > m.th.DVR {
		mask |= breachDVR
	}
	if b.LRI > m.th.LRI {
		mask |= breachLRI
	}
	return mask
}

func (m *Machine) withinRecoveryBounds(b models.BehaviorMetrics) bool {
	return b.WBR < m.th.RecoveryWBR &&
		b.DVR < m.th.RecoveryDVR &&
		b.LRI < m.th.RecoveryLRI &&
		b.IntentProbability < m.th.RecoveryIntent
}

// CleanPeriod is the minimum violation free time before a state can recover.
func (m *Machine) CleanPeriod(s models.InvestorState) time.Duration {
	switch s {
	case models.StateLimited:
		return m.th.LimitedCleanPeriod
	case models.StateHighRisk:
		return m.th.HighRiskCleanPeriod
	case models.StateFrozen:
		return m.th.FrozenCleanPeriod
	default:
		return 0
	}
}

// CleanSince is the start of the current clean period: the latest of the last
// violation, the last observed breach and the last state change.
func CleanSince(inv *models.Investor) time.Time {
	since := inv.StateChangedAt
	for _, t := range []time.Time{inv.LastViolationAt(), inv.LastBreachAt} {
		if t.After(since) {
			since = t
		}
	}
	return since
}

// Decide evaluates one re-scoring without touching the investor. Only a new
// violation counts towards the 7 day window: a metric that was already above
// its bound at the previous observation does not count again, so the outcome
// does not depend on how often the investor is re-scored.
func (m *Machine) Decide(inv *models.Investor, b models.BehaviorMetrics, sig Signals, now time.Time) Decision {
	cur := m.breachMask(b)
	crossed := cur &^ m.breachMask(inv.Metrics)
	d := Decision{Breaches: bits.OnesCount8(cur), Holding: cur != 0}
	d.Breach = crossed != 0 || sig.Violation

	if inv.State == models.StateBanned {
		return d
	}

	recent := inv.ViolationCounts(now).Last7d
	if d.Breach {
		recent++
	}

	switch {
	case sig.Fraud:
		d.Trigger = TriggerFraud
	case sig.Systemic || b.IntentProbability > m.th.Intent:
		d.Trigger = TriggerFreeze
	case d.Breach && (d.Breaches >= 2 || recent >= m.th.SevereViolations7d):
		d.Trigger = TriggerSevereBreach
	case d.Breach:
		d.Trigger = TriggerBreach
	case m.canRecover(inv, b, sig, now, recent):
		d.Trigger = TriggerRecovery
		d.Recovering = true
	default:
		return d
	}
	d.Path = Route(inv.State, d.Trigger)
	return d
}

func (m *Machine) canRecover(inv *models.Investor, b models.BehaviorMetrics, sig Signals, now time.Time, recent int) bool {
	if inv.State == models.StateActive || recent > 0 {
		return false
	}
	if !m.withinRecoveryBounds(b) {
		return false
	}
	if now.Sub(CleanSince(inv)) < m.CleanPeriod(inv.State) {
		return false
	}
	if inv.State == models.StateFrozen && !sig.ReviewApproved {
		return false
	}
	return true
}

// Apply re-scores inv in place: it stores the metrics, records a violation on
// a new breach, restarts the clean period while a breach is held and walks the
// decided path. Every edge is checked against the matrix
// before anything is mutated.
func (m *Machine) Apply(inv *models.Investor, b models.BehaviorMetrics, sig Signals, now time.Time) (Decision, []models.StateTransition, error) {
	d := m.Decide(inv, b, sig, now)

	from := inv.State
	for _, to := range d.Path {
		if !Allowed(from, to) {
			return d, nil, &models.InvalidTransitionError{From: from, To: to}
		}
		from = to
	}

	inv.Metrics = b
	if d.Breach {
		inv.RecordViolation(now)
	}
	if d.Holding {
		inv.LastBreachAt = now
	}
	transitions := make([]models.StateTransition, 0, len(d.Path))
	for _, to := range d.Path {
		t, err := Transition(inv, to, d.Trigger, now)
		if err != nil {
			return d, transitions, err
		}
		transitions = append(transitions, t)
	}
	return d, transitions, nil
}

// Transition moves inv along a single edge. Edges outside the matrix return
// InvalidTransitionError and leave inv untouched.
func Transition(inv *models.Investor, to models.InvestorState, trigger Trigger, now time.Time) (models.StateTransition, error) {
	if !Allowed(inv.State, to) {
		return models.StateTransition{}, &models.InvalidTransitionError{From: inv.State, To: to}
	}
	t := models.StateTransition{
		InvestorID: inv.ID,
		From:       inv.State,
		To:         to,
		Trigger:    string(trigger),
		At:         now,
	}
	inv.State = to
	inv.StateChangedAt = now
	if to == models.StateHighRisk {
		inv.HighRiskWithdrawalUsed = false
	}
	return t, nil
}
