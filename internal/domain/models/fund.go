package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type FundStatus string

const (
	FundActive    FundStatus = "ACTIVE"
	FundPaused    FundStatus = "PAUSED"
	FundClosed    FundStatus = "CLOSED"
	FundEmergency FundStatus = "EMERGENCY"
)

// Fund is the pooled capital vehicle. NAV and exposures are USD denominated;
// HighWaterMark tracks the best share price ever reached and never decreases.
type Fund struct {
	ID            string                     `json:"id"`
	ManagerID     string                     `json:"manager_id"`
	RiskTierID    int                        `json:"risk_tier_id"`
	Status        FundStatus                 `json:"status"`
	NAV           decimal.Decimal            `json:"nav"`
	TotalShares   decimal.Decimal            `json:"total_shares"`
	HighWaterMark decimal.Decimal            `json:"high_water_mark"`
	Exposures     map[string]decimal.Decimal `json:"exposures"`
	Dirty         bool                       `json:"dirty"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// SharePrice is NAV per share, 1 for a fund that has not minted shares yet.
func (f *Fund) SharePrice() decimal.Decimal {
	if f.TotalShares.Sign() <= 0 {
		return decimal.NewFromInt(1)
	}
	return f.NAV.DivRound(f.TotalShares, 18)
}

// TotalExposure sums the absolute exposure over all assets.
func (f *Fund) TotalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, v := range f.Exposures {
		total = total.Add(v.Abs())
	}
	return total
}

// Drawdown is the fractional drop of the share price below the high water mark.
func (f *Fund) Drawdown() decimal.Decimal {
	if f.HighWaterMark.Sign() <= 0 {
		return decimal.Zero
	}
	price := f.SharePrice()
	if price.GreaterThanOrEqual(f.HighWaterMark) {
		return decimal.Zero
	}
	return f.HighWaterMark.Sub(price).DivRound(f.HighWaterMark, 18)
}

// DrawdownLoss is the USD value lost below the high water mark.
func (f *Fund) DrawdownLoss() decimal.Decimal {
	price := f.SharePrice()
	if f.HighWaterMark.LessThanOrEqual(price) {
		return decimal.Zero
	}
	return f.HighWaterMark.Sub(price).Mul(f.TotalShares)
}

// MarkHighWater raises the high water mark to the current share price when it is higher.
func (f *Fund) MarkHighWater() {
	if price := f.SharePrice(); price.GreaterThan(f.HighWaterMark) {
		f.HighWaterMark = price
	}
}

func (f *Fund) Clone() *Fund {
	c := *f
	c.Exposures = make(map[string]decimal.Decimal, len(f.Exposures))
	for k, v := range f.Exposures {
		c.Exposures[k] = v
	}
	return &c
}

// FundManager is a staked operator. Once Banned is set it is never cleared.
type FundManager struct {
	ID              string                     `json:"id"`
	TotalStake      decimal.Decimal            `json:"total_stake"`
	FundStakes      map[string]decimal.Decimal `json:"fund_stakes"`
	Banned          bool                       `json:"banned"`
	BannedAt        time.Time                  `json:"banned_at,omitempty"`
	ReputationScore int                        `json:"reputation_score"`
}

// StakeIn returns the stake committed to a single fund.
func (m *FundManager) StakeIn(fundID string) decimal.Decimal {
	return m.FundStakes[fundID]
}

// Ban marks the manager banned. Calling it again keeps the original timestamp.
func (m *FundManager) Ban(at time.Time) {
	if m.Banned {
		return
	}
	m.Banned = true
	m.BannedAt = at
}

func (m *FundManager) Clone() *FundManager {
	c := *m
	c.FundStakes = make(map[string]decimal.Decimal, len(m.FundStakes))
	for k, v := range m.FundStakes {
		c.FundStakes[k] = v
	}
	return &c
}

// RiskTier holds the per-tier fund limits, all expressed as percentages.
type RiskTier struct {
	ID                  int     `yaml:"id" json:"id" validate:"gte=1"`
	MaxPositionPct      float64 `yaml:"max_position_pct" json:"max_position_pct" validate:"gt=0,lte=100"`
	MaxConcentrationPct float64 `yaml:"max_concentration_pct" json:"max_concentration_pct" validate:"gt=0,lte=100"`
	MaxExposurePct      float64 `yaml:"max_exposure_pct" json:"max_exposure_pct" validate:"gt=0"`
	MaxVolatilityPct    float64 `yaml:"max_volatility_pct" json:"max_volatility_pct" validate:"gt=0"`
	MaxDrawdownPct      float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct" validate:"gt=0,lte=100"`
}
