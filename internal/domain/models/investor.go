package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvestorState string

const (
	StateActive   InvestorState = "ACTIVE"
	StateLimited  InvestorState = "LIMITED"
	StateHighRisk InvestorState = "HIGH_RISK"
	StateFrozen   InvestorState = "FROZEN"
	StateBanned   InvestorState = "BANNED"
)

// BehaviorMetrics are the behavioural ratios reported by the investor registry.
// WBR and DVR are fractions, LRI and IntentProbability are 0-100 scores.
type BehaviorMetrics struct {
	WBR               float64 `json:"wbr"`
	DVR               float64 `json:"dvr"`
	LRI               float64 `json:"lri"`
	IntentProbability float64 `json:"intent_probability"`
}

type ViolationCounts struct {
	Last7d  int `json:"last_7d"`
	Last30d int `json:"last_30d"`
}

// InvestorMetrics is the registry view of an investor at a point in time.
type InvestorMetrics struct {
	InvestorID string          `json:"investor_id"`
	Behavior   BehaviorMetrics `json:"behavior"`
	Violations ViolationCounts `json:"violations"`
	ObservedAt time.Time       `json:"observed_at"`
}

type Investor struct {
	ID             string                     `json:"id"`
	State          InvestorState              `json:"state"`
	StateChangedAt time.Time                  `json:"state_changed_at"`
	Metrics        BehaviorMetrics            `json:"metrics"`
	Violations     []time.Time                `json:"violations"`
	Shares         map[string]decimal.Decimal `json:"shares"`
	// LastBreachAt is the last re-scoring that saw a metric above its bound,
	// including breaches that were already counted as a violation earlier.
	LastBreachAt time.Time `json:"last_breach_at,omitempty"`
	// HighRiskWithdrawalUsed is consumed by the single withdrawal allowed in HIGH_RISK.
	HighRiskWithdrawalUsed bool `json:"high_risk_withdrawal_used"`
}

const violationRetention = 30 * 24 * time.Hour

// RecordViolation appends a violation and drops entries older than the 30 day window.
func (i *Investor) RecordViolation(at time.Time) {
	i.Violations = append(i.Violations, at)
	kept := i.Violations[:0]
	for _, v := range i.Violations {
		if at.Sub(v) <= violationRetention {
			kept = append(kept, v)
		}
	}
	i.Violations = kept
}

// LastViolationAt returns the most recent violation, zero when there is none.
func (i *Investor) LastViolationAt() time.Time {
	var last time.Time
	for _, v := range i.Violations {
		if v.After(last) {
			last = v
		}
	}
	return last
}

// ViolationCounts counts recorded violations inside the rolling windows ending at now.
func (i *Investor) ViolationCounts(now time.Time) ViolationCounts {
	var c ViolationCounts
	for _, v := range i.Violations {
		age := now.Sub(v)
		if age < 0 {
			continue
		}
		if age <= 7*24*time.Hour {
			c.Last7d++
		}
		if age <= violationRetention {
			c.Last30d++
		}
	}
	return c
}

// SharesIn returns the investor's share balance in a fund.
func (i *Investor) SharesIn(fundID string) decimal.Decimal {
	return i.Shares[fundID]
}

func (i *Investor) Clone() *Investor {
	c := *i
	c.Violations = append([]time.Time(nil), i.Violations...)
	c.Shares = make(map[string]decimal.Decimal, len(i.Shares))
	for k, v := range i.Shares {
		c.Shares[k] = v
	}
	return &c
}

// StateTransition records one edge taken by the investor state machine.
type StateTransition struct {
	InvestorID string        `json:"investor_id"`
	From       InvestorState `json:"from"`
	To         InvestorState `json:"to"`
	Trigger    string        `json:"trigger"`
	At         time.Time     `json:"at"`
}

// StateLimits are the operation limits attached to an investor state.
// Percentages apply to the configured base caps. MaxTier 0 means no tier restriction,
// a negative MaxTier means no fund is accessible.
type StateLimits struct {
	DepositPct           int  `json:"deposit_pct"`
	WithdrawalPct        int  `json:"withdrawal_pct"`
	WithdrawalOfPosition bool `json:"withdrawal_of_position"`
	OneTimeWithdrawal    bool `json:"one_time_withdrawal"`
	MaxTier              int  `json:"max_tier"`
}

// AllowsTier reports whether a fund of the given risk tier is accessible.
func (l StateLimits) AllowsTier(tier int) bool {
	if l.MaxTier < 0 {
		return false
	}
	return l.MaxTier == 0 || tier <= l.MaxTier
}
