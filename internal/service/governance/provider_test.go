package governance

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
)

func params() models.RiskParams {
	return models.RiskParams{
		Weights:        models.Weights{L: 30, B: 25, D: 25, I: 20},
		Gamma:          80,
		Alpha:          decimal.NewFromInt(1),
		MinSlashingFI:  30,
		BanThresholdFI: 90,
		WarningFI:      10,
	}
}

func TestProviderSeedsVersionOne(t *testing.T) {
	p, err := New(params())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.Current().Version)

	cfg, ok := p.Version(1)
	require.True(t, ok)
	assert.Equal(t, 80, cfg.Gamma)
}

func TestProviderRejectsBadSeed(t *testing.T) {
	bad := params()
	bad.Weights.I = 21
	_, err := New(bad)
	var pre *models.PreconditionError
	assert.ErrorAs(t, err, &pre)
}

func TestProviderUpdateKeepsHistory(t *testing.T) {
	p, err := New(params())
	require.NoError(t, err)

	next := params()
	next.Gamma = 60
	cfg, err := p.Update(next)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cfg.Version)
	assert.Equal(t, 60, p.Current().Gamma)

	old, ok := p.Version(1)
	require.True(t, ok)
	assert.Equal(t, 80, old.Gamma, "published snapshots never change")

	bad := params()
	bad.Gamma = 95
	_, err = p.Update(bad)
	var pre *models.PreconditionError
	require.ErrorAs(t, err, &pre)
	assert.Equal(t, "gamma", pre.Field)
	assert.Equal(t, uint64(2), p.Current().Version, "rejected update leaves current in place")
}

func TestProviderHistoryBound(t *testing.T) {
	p, err := New(params(), WithHistory(2))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := p.Update(params())
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{3, 4}, p.Versions())
	_, ok := p.Version(1)
	assert.False(t, ok)
}

func TestProviderConcurrentUpdatesAreSequential(t *testing.T) {
	p, err := New(params())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Update(params())
			_ = p.Current()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(21), p.Current().Version)
	assert.Len(t, p.Versions(), 21)
}
