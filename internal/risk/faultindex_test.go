package risk

import (
	"errors"
	"testing"

	"FundGuard/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testConfig(t testing.TB) models.RiskConfig {
	t.Helper()
	cfg, err := models.NewRiskConfig(1, models.RiskParams{
		Weights:        models.Weights{L: 25, B: 25, D: 25, I: 25},
		Gamma:          80,
		Alpha:          decimal.NewFromInt(1),
		MinSlashingFI:  30,
		BanThresholdFI: 90,
		WarningFI:      10,
	})
	require.NoError(t, err)
	return cfg
}

func TestComputeFIWeightedFloor(t *testing.T) {
	tests := []struct {
		name string
		c    models.ScoreComponents
		w    models.Weights
		want int
	}{
		{"all zero", models.ScoreComponents{}, models.Weights{L: 25, B: 25, D: 25, I: 25}, 0},
		{"all max", models.ScoreComponents{L: 100, B: 100, D: 100, I: 100}, models.Weights{L: 40, B: 30, D: 20, I: 10}, 100},
		{"floor", models.ScoreComponents{L: 33, B: 0, D: 0, I: 0}, models.Weights{L: 50, B: 50}, 16},
		{"single weight", models.ScoreComponents{L: 10, B: 20, D: 30, I: 77}, models.Weights{I: 100}, 77},
		{"mixed", models.ScoreComponents{L: 80, B: 40, D: 20, I: 10}, models.Weights{L: 40, B: 30, D: 20, I: 10}, 49},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeFI(tt.c, tt.w)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestComputeFIRejectsBadWeights(t *testing.T) {
	_, err := ComputeFI(models.ScoreComponents{L: 50}, models.Weights{L: 50, B: 49})
	var pe *models.PreconditionError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "weights", pe.Field)
}

func TestComputeFIRejectsOutOfRangeComponent(t *testing.T) {
	_, err := ComputeFI(models.ScoreComponents{D: 101}, models.Weights{L: 25, B: 25, D: 25, I: 25})
	var pe *models.PreconditionError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "D", pe.Field)
}

func drawWeights(t *rapid.T) models.Weights {
	l := rapid.IntRange(0, 100).Draw(t, "wl")
	b := rapid.IntRange(0, 100-l).Draw(t, "wb")
	d := rapid.IntRange(0, 100-l-b).Draw(t, "wd")
	return models.Weights{L: l, B: b, D: d, I: 100 - l - b - d}
}

func drawComponents(t *rapid.T) models.ScoreComponents {
	return models.ScoreComponents{
		L: rapid.IntRange(0, 100).Draw(t, "l"),
		B: rapid.IntRange(0, 100).Draw(t, "b"),
		D: rapid.IntRange(0, 100).Draw(t, "d"),
		I: rapid.IntRange(0, 100).Draw(t, "i"),
	}
}

func TestComputeFIBoundedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := drawWeights(t)
		c := drawComponents(t)
		fi, err := ComputeFI(c, w)
		require.NoError(t, err)
		require.GreaterOrEqual(t, fi, 0)
		require.LessOrEqual(t, fi, 100)

		again, err := ComputeFI(c, w)
		require.NoError(t, err)
		require.Equal(t, fi, again)
	})
}

func TestComputeFIMonotoneProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		w := drawWeights(t)
		c := drawComponents(t)
		bumped := c
		bumped.B = rapid.IntRange(c.B, 100).Draw(t, "bumped")

		lo, err := ComputeFI(c, w)
		require.NoError(t, err)
		hi, err := ComputeFI(bumped, w)
		require.NoError(t, err)
		require.GreaterOrEqual(t, hi, lo)
	})
}

func TestCombineDomainFIIsMax(t *testing.T) {
	got := CombineDomainFI([]models.DomainVerdict{
		{Domain: models.DomainProtocol, FaultIndex: 12},
		{Domain: models.DomainFund, FaultIndex: 64},
		{Domain: models.DomainInvestor, FaultIndex: 31},
	})
	require.Equal(t, 64, got)
	require.Equal(t, 0, CombineDomainFI(nil))
}

func TestClassify(t *testing.T) {
	cfg := testConfig(t)
	require.Equal(t, SeverityClean, Classify(9, cfg))
	require.Equal(t, SeverityWarning, Classify(10, cfg))
	require.Equal(t, SeverityWarning, Classify(29, cfg))
	require.Equal(t, SeveritySlashable, Classify(30, cfg))
	require.Equal(t, SeverityBannable, Classify(90, cfg))
}

func TestClampScore(t *testing.T) {
	require.Equal(t, 0, ClampScore(-3))
	require.Equal(t, 42, ClampScore(42.9))
	require.Equal(t, 100, ClampScore(250))
}
