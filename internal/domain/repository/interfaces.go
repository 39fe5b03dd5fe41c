package repository

import (
	"context"
	"time"

	"FundGuard/internal/domain/models"

	"github.com/shopspring/decimal"
)

// ConfigProvider serves immutable, versioned governance snapshots.
type ConfigProvider interface {
	Current() models.RiskConfig
	Version(v uint64) (models.RiskConfig, bool)
	Update(p models.RiskParams) (models.RiskConfig, error)
}

// TokenLedger moves stake tokens. It is owned by an external system.
type TokenLedger interface {
	Burn(ctx context.Context, managerID string, amount decimal.Decimal) error
	TransferToCompensationPool(ctx context.Context, managerID string, amount decimal.Decimal) error
}

// FundLedger is the external NAV bookkeeping system.
type FundLedger interface {
	GetNAV(ctx context.Context, fundID string) (decimal.Decimal, error)
	ApplyCompensation(ctx context.Context, fundID string, amount decimal.Decimal) error
	MarkDirty(ctx context.Context, fundID string) error
}

// NAVJournal is implemented by fund ledgers that track the NAV changes of
// executed operations. Deltas are USD.
type NAVJournal interface {
	AdjustNAV(ctx context.Context, fundID string, delta decimal.Decimal) error
}

// Settler applies a settlement instruction as a single atomic unit.
type Settler interface {
	Settle(ctx context.Context, in models.SettlementInstruction) error
}

// InvestorRegistry reports behavioural metrics for investors.
type InvestorRegistry interface {
	GetMetrics(ctx context.Context, investorID string) (models.InvestorMetrics, error)
}

// AuditSink receives committed audit events.
type AuditSink interface {
	Record(ctx context.Context, events []models.AuditEvent) error
	Close() error
}

// AuditStore is an AuditSink that can also be queried.
type AuditStore interface {
	AuditSink
	SlashingHistory(ctx context.Context, fundID string, since time.Time, limit int) ([]models.SlashingEvent, error)
}

// PriceStream is a push feed of oracle prices.
type PriceStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.PriceTick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type Metrics interface {
	RecordEvaluation(kind, outcome string)
	RecordFaultIndex(domain string, fi int)
	RecordSlash(bound string, amount float64)
	RecordTransition(from, to string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordPriceAge(asset string, seconds float64)
}
