package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type Domain string

const (
	DomainProtocol Domain = "protocol"
	DomainFund     Domain = "fund"
	DomainInvestor Domain = "investor"
)

// ScoreComponents are the four 0-100 fault components: limit breach severity (L),
// behavioural anomaly (B), damage ratio (D) and intent probability (I).
type ScoreComponents struct {
	L int `json:"l"`
	B int `json:"b"`
	D int `json:"d"`
	I int `json:"i"`
}

// Weights are integer percentages that must sum to exactly 100.
type Weights struct {
	L int `json:"l" yaml:"l"`
	B int `json:"b" yaml:"b"`
	D int `json:"d" yaml:"d"`
	I int `json:"i" yaml:"i"`
}

func (w Weights) Sum() int { return w.L + w.B + w.D + w.I }

// DomainVerdict is what one domain validator reports.
type DomainVerdict struct {
	Domain     Domain          `json:"domain"`
	Passed     bool            `json:"passed"`
	FaultIndex int             `json:"fault_index"`
	Components ScoreComponents `json:"components"`
	Reasons    []string        `json:"reasons,omitempty"`
}

// RiskConfig is an immutable, versioned governance snapshot. Values are only
// produced by NewRiskConfig, which rejects anything out of bounds.
type RiskConfig struct {
	Version        uint64          `json:"version"`
	Weights        Weights         `json:"weights"`
	Gamma          int             `json:"gamma"`
	Alpha          decimal.Decimal `json:"alpha"`
	MinSlashingFI  int             `json:"min_slashing_fi"`
	BanThresholdFI int             `json:"ban_threshold_fi"`
	WarningFI      int             `json:"warning_fi"`
	Tiers          []RiskTier      `json:"tiers"`
}

// Governance bounds.
const (
	GammaMin          = 50
	GammaMax          = 90
	MinSlashingFIMin  = 20
	MinSlashingFIMax  = 50
	BanThresholdFIMin = 75
	BanThresholdFIMax = 95
)

var (
	AlphaMin = decimal.RequireFromString("0.5")
	AlphaMax = decimal.RequireFromString("2.0")
)

// RiskParams is the unversioned input to NewRiskConfig.
type RiskParams struct {
	Weights        Weights
	Gamma          int
	Alpha          decimal.Decimal
	MinSlashingFI  int
	BanThresholdFI int
	WarningFI      int
	Tiers          []RiskTier
}

// NewRiskConfig validates params against the governance bounds. Out of range
// values are rejected, never clamped.
func NewRiskConfig(version uint64, p RiskParams) (RiskConfig, error) {
	if p.Weights.L < 0 || p.Weights.B < 0 || p.Weights.D < 0 || p.Weights.I < 0 {
		return RiskConfig{}, &PreconditionError{Field: "weights", Reason: "weights must be non-negative"}
	}
	if sum := p.Weights.Sum(); sum != 100 {
		return RiskConfig{}, &PreconditionError{Field: "weights", Reason: fmt.Sprintf("weights sum to %d, want 100", sum)}
	}
	if p.Gamma < GammaMin || p.Gamma > GammaMax {
		return RiskConfig{}, &PreconditionError{Field: "gamma", Reason: fmt.Sprintf("%d outside [%d,%d]", p.Gamma, GammaMin, GammaMax)}
	}
	if p.Alpha.LessThan(AlphaMin) || p.Alpha.GreaterThan(AlphaMax) {
		return RiskConfig{}, &PreconditionError{Field: "alpha", Reason: fmt.Sprintf("%s outside [%s,%s]", p.Alpha, AlphaMin, AlphaMax)}
	}
	if p.MinSlashingFI < MinSlashingFIMin || p.MinSlashingFI > MinSlashingFIMax {
		return RiskConfig{}, &PreconditionError{Field: "min_slashing_fi", Reason: fmt.Sprintf("%d outside [%d,%d]", p.MinSlashingFI, MinSlashingFIMin, MinSlashingFIMax)}
	}
	if p.BanThresholdFI < BanThresholdFIMin || p.BanThresholdFI > BanThresholdFIMax {
		return RiskConfig{}, &PreconditionError{Field: "ban_threshold_fi", Reason: fmt.Sprintf("%d outside [%d,%d]", p.BanThresholdFI, BanThresholdFIMin, BanThresholdFIMax)}
	}
	if p.WarningFI < 0 || p.WarningFI >= p.MinSlashingFI {
		return RiskConfig{}, &PreconditionError{Field: "warning_fi", Reason: "warning_fi must be in [0, min_slashing_fi)"}
	}
	seen := make(map[int]struct{}, len(p.Tiers))
	for _, t := range p.Tiers {
		if t.ID < 1 {
			return RiskConfig{}, &PreconditionError{Field: "tiers", Reason: fmt.Sprintf("tier id %d must be positive", t.ID)}
		}
		if _, dup := seen[t.ID]; dup {
			return RiskConfig{}, &PreconditionError{Field: "tiers", Reason: fmt.Sprintf("duplicate tier %d", t.ID)}
		}
		if t.MaxPositionPct <= 0 || t.MaxConcentrationPct <= 0 || t.MaxExposurePct <= 0 ||
			t.MaxVolatilityPct <= 0 || t.MaxDrawdownPct <= 0 {
			return RiskConfig{}, &PreconditionError{Field: "tiers", Reason: fmt.Sprintf("tier %d limits must be positive", t.ID)}
		}
		seen[t.ID] = struct{}{}
	}

	tiers := append([]RiskTier(nil), p.Tiers...)
	return RiskConfig{
		Version:        version,
		Weights:        p.Weights,
		Gamma:          p.Gamma,
		Alpha:          p.Alpha,
		MinSlashingFI:  p.MinSlashingFI,
		BanThresholdFI: p.BanThresholdFI,
		WarningFI:      p.WarningFI,
		Tiers:          tiers,
	}, nil
}

// Params returns the unversioned parameters of the snapshot.
func (c RiskConfig) Params() RiskParams {
	return RiskParams{
		Weights:        c.Weights,
		Gamma:          c.Gamma,
		Alpha:          c.Alpha,
		MinSlashingFI:  c.MinSlashingFI,
		BanThresholdFI: c.BanThresholdFI,
		WarningFI:      c.WarningFI,
		Tiers:          append([]RiskTier(nil), c.Tiers...),
	}
}

// Tier looks up the limits of a risk tier.
func (c RiskConfig) Tier(id int) (RiskTier, bool) {
	for _, t := range c.Tiers {
		if t.ID == id {
			return t, true
		}
	}
	return RiskTier{}, false
}
