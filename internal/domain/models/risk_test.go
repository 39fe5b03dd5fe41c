package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func validParams() RiskParams {
	return RiskParams{
		Weights:        Weights{L: 40, B: 30, D: 20, I: 10},
		Gamma:          80,
		Alpha:          decimal.NewFromInt(1),
		MinSlashingFI:  30,
		BanThresholdFI: 90,
		WarningFI:      15,
		Tiers: []RiskTier{
			{ID: 1, MaxPositionPct: 5, MaxConcentrationPct: 20, MaxExposurePct: 100, MaxVolatilityPct: 40, MaxDrawdownPct: 10},
		},
	}
}

func TestNewRiskConfigAcceptsBounds(t *testing.T) {
	cfg, err := NewRiskConfig(7, validParams())
	require.NoError(t, err)
	require.Equal(t, uint64(7), cfg.Version)
	tier, ok := cfg.Tier(1)
	require.True(t, ok)
	require.Equal(t, 5.0, tier.MaxPositionPct)
	_, ok = cfg.Tier(2)
	require.False(t, ok)
}

func TestNewRiskConfigRejectsOutOfBounds(t *testing.T) {
	tests := []struct {
		name  string
		field string
		edit  func(p *RiskParams)
	}{
		{"weights sum", "weights", func(p *RiskParams) { p.Weights.I = 11 }},
		{"negative weight", "weights", func(p *RiskParams) { p.Weights = Weights{L: 110, B: -10} }},
		{"gamma low", "gamma", func(p *RiskParams) { p.Gamma = 49 }},
		{"gamma high", "gamma", func(p *RiskParams) { p.Gamma = 91 }},
		{"alpha low", "alpha", func(p *RiskParams) { p.Alpha = decimal.RequireFromString("0.49") }},
		{"alpha high", "alpha", func(p *RiskParams) { p.Alpha = decimal.RequireFromString("2.01") }},
		{"min fi low", "min_slashing_fi", func(p *RiskParams) { p.MinSlashingFI = 19 }},
		{"min fi high", "min_slashing_fi", func(p *RiskParams) { p.MinSlashingFI = 51 }},
		{"ban low", "ban_threshold_fi", func(p *RiskParams) { p.BanThresholdFI = 74 }},
		{"ban high", "ban_threshold_fi", func(p *RiskParams) { p.BanThresholdFI = 96 }},
		{"warning above min", "warning_fi", func(p *RiskParams) { p.WarningFI = 30 }},
		{"duplicate tier", "tiers", func(p *RiskParams) { p.Tiers = append(p.Tiers, p.Tiers[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.edit(&p)
			_, err := NewRiskConfig(1, p)
			var pe *PreconditionError
			require.True(t, errors.As(err, &pe), "got %v", err)
			require.Equal(t, tt.field, pe.Field)
		})
	}
}

func TestRiskConfigParamsRoundTrip(t *testing.T) {
	cfg, err := NewRiskConfig(3, validParams())
	require.NoError(t, err)
	again, err := NewRiskConfig(4, cfg.Params())
	require.NoError(t, err)
	require.Equal(t, cfg.Weights, again.Weights)
	require.Equal(t, cfg.Tiers, again.Tiers)
}
