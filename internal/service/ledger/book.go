// Package ledger is an in-process reference implementation of the token and
// fund ledgers. It is what the service settles against when no remote ledger
// is configured, and what settlement queue workers apply instructions to.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/pkg/logger"
)

// Account is the ledger view of one manager's stake tokens.
type Account struct {
	ManagerID   string          `json:"manager_id"`
	Burned      decimal.Decimal `json:"burned"`
	Compensated decimal.Decimal `json:"compensated"`
}

// FundAccount is the ledger view of one fund.
type FundAccount struct {
	FundID       string          `json:"fund_id"`
	NAV          decimal.Decimal `json:"nav"`
	Compensation decimal.Decimal `json:"compensation"`
	Dirty        bool            `json:"dirty"`
}

// Book keeps every balance under one mutex, so a settlement is applied as a
// single step. Settlements are idempotent on the instruction id.
type Book struct {
	mu       sync.Mutex
	accounts map[string]*Account
	funds    map[string]*FundAccount
	settled  map[string]struct{}
	pool     decimal.Decimal
	logger   *logger.Logger
}

type Option func(*Book)

func WithLogger(l *logger.Logger) Option {
	return func(b *Book) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewBook(opts ...Option) *Book {
	b := &Book{
		accounts: make(map[string]*Account),
		funds:    make(map[string]*FundAccount),
		settled:  make(map[string]struct{}),
		pool:     decimal.Zero,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) account(managerID string) *Account {
	a, ok := b.accounts[managerID]
	if !ok {
		a = &Account{ManagerID: managerID, Burned: decimal.Zero, Compensated: decimal.Zero}
		b.accounts[managerID] = a
	}
	return a
}

func (b *Book) fund(fundID string) (*FundAccount, error) {
	f, ok := b.funds[fundID]
	if !ok {
		return nil, fmt.Errorf("fund %s: %w", fundID, models.ErrNotFound)
	}
	return f, nil
}

func checkAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return &models.PreconditionError{Field: field, Reason: fmt.Sprintf("negative amount %s", amount)}
	}
	return nil
}

// OpenFund registers a fund with its opening NAV. Reopening keeps the
// existing balances.
func (b *Book) OpenFund(fundID string, nav decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.funds[fundID]; ok {
		return
	}
	b.funds[fundID] = &FundAccount{FundID: fundID, NAV: nav, Compensation: decimal.Zero}
}

func (b *Book) Burn(_ context.Context, managerID string, amount decimal.Decimal) error {
	if err := checkAmount("burn", amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.account(managerID)
	a.Burned = a.Burned.Add(amount)
	return nil
}

func (b *Book) TransferToCompensationPool(_ context.Context, managerID string, amount decimal.Decimal) error {
	if err := checkAmount("compensation", amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.account(managerID)
	a.Compensated = a.Compensated.Add(amount)
	b.pool = b.pool.Add(amount)
	return nil
}

func (b *Book) GetNAV(_ context.Context, fundID string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := b.fund(fundID)
	if err != nil {
		return decimal.Zero, err
	}
	return f.NAV, nil
}

// ApplyCompensation credits amount, in USD, to the fund NAV.
func (b *Book) ApplyCompensation(_ context.Context, fundID string, amount decimal.Decimal) error {
	if err := checkAmount("compensation_usd", amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := b.fund(fundID)
	if err != nil {
		return err
	}
	f.NAV = f.NAV.Add(amount)
	f.Compensation = f.Compensation.Add(amount)
	return nil
}

func (b *Book) MarkDirty(_ context.Context, fundID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, err := b.fund(fundID)
	if err != nil {
		return err
	}
	f.Dirty = true
	return nil
}

// ClearDirty is called once the fund NAV has been reconciled.
func (b *Book) ClearDirty(fundID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.funds[fundID]; ok {
		f.Dirty = false
	}
}

// AdjustNAV records the NAV change of an executed operation. The first
// adjustment of an unknown fund opens it.
func (b *Book) AdjustNAV(_ context.Context, fundID string, delta decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.funds[fundID]
	if !ok {
		f = &FundAccount{FundID: fundID, NAV: decimal.Zero, Compensation: decimal.Zero}
	}
	next := f.NAV.Add(delta)
	if next.IsNegative() {
		return &models.PreconditionError{Field: "nav", Reason: fmt.Sprintf("fund %s NAV would become %s", fundID, next)}
	}
	f.NAV = next
	b.funds[fundID] = f
	return nil
}

// Settle applies the burn, the pool transfer, the NAV credit and the dirty
// mark together. Everything is checked before the first balance moves.
func (b *Book) Settle(_ context.Context, in models.SettlementInstruction) error {
	if in.ID == "" {
		return &models.PreconditionError{Field: "id", Reason: "settlement instruction without id"}
	}
	for field, v := range map[string]decimal.Decimal{
		"burn":             in.Burn,
		"compensation":     in.Compensation,
		"compensation_usd": in.CompensationUSD,
	} {
		if err := checkAmount(field, v); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, done := b.settled[in.ID]; done {
		return nil
	}
	f, err := b.fund(in.FundID)
	if err != nil {
		return err
	}

	a := b.account(in.ManagerID)
	a.Burned = a.Burned.Add(in.Burn)
	a.Compensated = a.Compensated.Add(in.Compensation)
	b.pool = b.pool.Add(in.Compensation)
	f.NAV = f.NAV.Add(in.CompensationUSD)
	f.Compensation = f.Compensation.Add(in.CompensationUSD)
	f.Dirty = true
	b.settled[in.ID] = struct{}{}

	b.logger.Info("settlement applied",
		logger.String("instruction_id", in.ID),
		logger.String("manager_id", in.ManagerID),
		logger.String("fund_id", in.FundID),
		logger.Decimal("burn", in.Burn),
		logger.Decimal("compensation", in.Compensation))
	return nil
}

// Settled reports whether an instruction has been applied.
func (b *Book) Settled(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.settled[id]
	return ok
}

// Account returns a copy of the manager's ledger account.
func (b *Book) Account(managerID string) Account {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.accounts[managerID]; ok {
		return *a
	}
	return Account{ManagerID: managerID, Burned: decimal.Zero, Compensated: decimal.Zero}
}

// Fund returns a copy of the fund account.
func (b *Book) Fund(fundID string) (FundAccount, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.funds[fundID]
	if !ok {
		return FundAccount{}, false
	}
	return *f, true
}

// Pool is the compensation pool balance in stake tokens.
func (b *Book) Pool() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pool
}

// DirtyFunds lists funds with compensation not yet reconciled.
func (b *Book) DirtyFunds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for id, f := range b.funds {
		if f.Dirty {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

var (
	_ domrepo.TokenLedger = (*Book)(nil)
	_ domrepo.FundLedger  = (*Book)(nil)
	_ domrepo.NAVJournal  = (*Book)(nil)
	_ domrepo.Settler     = (*Book)(nil)
)
