package repository

import (
	"sort"
	"sync"

	"FundGuard/internal/domain/models"
)

// Arena owns the fund, manager and investor records, keyed by id. Readers get
// clones; writers mutate clones under the entity locks and publish them with
// Commit, so a half applied change is never visible.
type Arena struct {
	mu        sync.RWMutex
	funds     map[string]*models.Fund
	managers  map[string]*models.FundManager
	investors map[string]*models.Investor

	locks *KeyedMutex
}

func NewArena() *Arena {
	return &Arena{
		funds:     make(map[string]*models.Fund),
		managers:  make(map[string]*models.FundManager),
		investors: make(map[string]*models.Investor),
		locks:     NewKeyedMutex(),
	}
}

// Lock takes the per-entity locks for the given keys (see FundKey, ManagerKey
// and InvestorKey).
func (a *Arena) Lock(keys ...string) func() {
	return a.locks.Lock(keys...)
}

func (a *Arena) Fund(id string) (*models.Fund, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	f, ok := a.funds[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

func (a *Arena) Manager(id string) (*models.FundManager, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.managers[id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

func (a *Arena) Investor(id string) (*models.Investor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	inv, ok := a.investors[id]
	if !ok {
		return nil, false
	}
	return inv.Clone(), true
}

// Change is a set of records to publish together.
type Change struct {
	Funds     []*models.Fund
	Managers  []*models.FundManager
	Investors []*models.Investor
}

func (c Change) Empty() bool {
	return len(c.Funds) == 0 && len(c.Managers) == 0 && len(c.Investors) == 0
}

// Commit publishes every record of the change at once. Callers must hold the
// entity locks of the records they commit.
func (a *Arena) Commit(c Change) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range c.Funds {
		a.funds[f.ID] = f.Clone()
	}
	for _, m := range c.Managers {
		a.managers[m.ID] = m.Clone()
	}
	for _, inv := range c.Investors {
		a.investors[inv.ID] = inv.Clone()
	}
}

// RegisterFund stores a record supplied by the host system, taking its lock.
func (a *Arena) RegisterFund(f *models.Fund) {
	defer a.Lock(FundKey(f.ID))()
	a.Commit(Change{Funds: []*models.Fund{f}})
}

func (a *Arena) RegisterManager(m *models.FundManager) {
	defer a.Lock(ManagerKey(m.ID))()
	a.Commit(Change{Managers: []*models.FundManager{m}})
}

func (a *Arena) RegisterInvestor(inv *models.Investor) {
	defer a.Lock(InvestorKey(inv.ID))()
	a.Commit(Change{Investors: []*models.Investor{inv}})
}

// InvestorIDs lists investors whose state matches filter, sorted by id.
func (a *Arena) InvestorIDs(filter func(models.InvestorState) bool) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.investors))
	for id, inv := range a.investors {
		if filter == nil || filter(inv.State) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// DirtyFunds lists funds marked dirty by a slash and not yet reconciled.
func (a *Arena) DirtyFunds() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var ids []string
	for id, f := range a.funds {
		if f.Dirty {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
