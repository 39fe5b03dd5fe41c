package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlashBound names the cap that determined the final slash amount.
type SlashBound string

const (
	BoundNone  SlashBound = "none"
	BoundStake SlashBound = "stake"
	BoundLoss  SlashBound = "loss"
	BoundTotal SlashBound = "total"
)

// SlashInput carries everything the slash calculation reads, so that the
// result can be reproduced from an audit record.
type SlashInput struct {
	ManagerID         string          `json:"manager_id"`
	FundID            string          `json:"fund_id"`
	FaultIndex        int             `json:"fault_index"`
	Stake             decimal.Decimal `json:"stake"`
	ManagerTotalStake decimal.Decimal `json:"manager_total_stake"`
	FundLossUSD       decimal.Decimal `json:"fund_loss_usd"`
	TokenPrice        decimal.Decimal `json:"token_price"`
}

// SlashOutcome is the full decomposition of a slash. Burn + Compensation always
// equals Amount exactly.
type SlashOutcome struct {
	Ratio         decimal.Decimal `json:"ratio"`
	Base          decimal.Decimal `json:"base"`
	LossCap       decimal.Decimal `json:"loss_cap"`
	TotalCap      decimal.Decimal `json:"total_cap"`
	Amount        decimal.Decimal `json:"amount"`
	Burn          decimal.Decimal `json:"burn"`
	Compensation  decimal.Decimal `json:"compensation"`
	Bound         SlashBound      `json:"bound"`
	Ban           bool            `json:"ban"`
	ConfigVersion uint64          `json:"config_version"`
}

// SlashingEvent is the append-only record of an executed slash.
type SlashingEvent struct {
	ID          string       `json:"id"`
	OperationID string       `json:"operation_id"`
	Input       SlashInput   `json:"input"`
	Outcome     SlashOutcome `json:"outcome"`
	ExecutedAt  time.Time    `json:"executed_at"`
}

// SettlementInstruction is handed to the settler in a single call. Either all of
// its effects are applied or none.
type SettlementInstruction struct {
	ID           string          `json:"id"`
	OperationID  string          `json:"operation_id"`
	ManagerID    string          `json:"manager_id"`
	FundID       string          `json:"fund_id"`
	Burn         decimal.Decimal `json:"burn"`
	Compensation decimal.Decimal `json:"compensation"`
	// CompensationUSD is Compensation valued at the slash token price, credited to the fund NAV.
	CompensationUSD decimal.Decimal `json:"compensation_usd"`
	CreatedAt       time.Time       `json:"created_at"`
}
