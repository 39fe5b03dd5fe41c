package repository

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FundGuard/internal/domain/models"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	counters := map[string]int{"a": 0, "b": 0}
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"a", "b"}
			if i%2 == 0 {
				keys = []string{"b", "a", "a"}
			}
			unlock := km.Lock(keys...)
			defer unlock()
			counters["a"]++
			counters["b"]++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 200, counters["a"])
	assert.Equal(t, 200, counters["b"])
	assert.Zero(t, km.Len(), "entries are released once unused")
}

func TestKeyedMutexUnlockIsIdempotent(t *testing.T) {
	km := NewKeyedMutex()
	unlock := km.Lock("fund:1", "")
	unlock()
	unlock()
	assert.Zero(t, km.Len())
}

func TestArenaHandsOutClones(t *testing.T) {
	a := NewArena()
	a.RegisterFund(&models.Fund{ID: "f1", NAV: decimal.NewFromInt(100), Exposures: map[string]decimal.Decimal{"ETH": decimal.NewFromInt(10)}})

	f, ok := a.Fund("f1")
	require.True(t, ok)
	f.NAV = decimal.NewFromInt(1)
	f.Exposures["ETH"] = decimal.Zero

	again, _ := a.Fund("f1")
	assert.True(t, again.NAV.Equal(decimal.NewFromInt(100)))
	assert.True(t, again.Exposures["ETH"].Equal(decimal.NewFromInt(10)))

	_, ok = a.Fund("missing")
	assert.False(t, ok)
}

func TestArenaCommitAndQueries(t *testing.T) {
	a := NewArena()
	a.RegisterInvestor(&models.Investor{ID: "i2", State: models.StateLimited})
	a.RegisterInvestor(&models.Investor{ID: "i1", State: models.StateActive})
	a.RegisterInvestor(&models.Investor{ID: "i3", State: models.StateBanned})

	a.Commit(Change{
		Funds:    []*models.Fund{{ID: "f2", Dirty: true}, {ID: "f1"}},
		Managers: []*models.FundManager{{ID: "m1", Banned: true}},
	})

	assert.Equal(t, []string{"f2"}, a.DirtyFunds())
	m, ok := a.Manager("m1")
	require.True(t, ok)
	assert.True(t, m.Banned)

	notActive := func(s models.InvestorState) bool { return s != models.StateActive }
	assert.Equal(t, []string{"i2", "i3"}, a.InvestorIDs(notActive))
	assert.Equal(t, []string{"i1", "i2", "i3"}, a.InvestorIDs(nil))
}
