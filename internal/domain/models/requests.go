package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Requests for the risk HTTP endpoints.

type OperationRequest struct {
	ID                 string  `json:"id" validate:"required,max=128"`
	Kind               string  `json:"kind" validate:"required,oneof=TRADE DEPOSIT WITHDRAWAL"`
	FundID             string  `json:"fund_id" validate:"required"`
	InvestorID         string  `json:"investor_id" validate:"required_unless=Kind TRADE"`
	CallerID           string  `json:"caller_id" validate:"required"`
	SessionID          string  `json:"session_id" validate:"required"`
	SessionExpiresAt   int64   `json:"session_expires_at" validate:"gt=0"`
	Asset              string  `json:"asset" validate:"required_if=Kind TRADE"`
	Amount             string  `json:"amount" validate:"required,udecimal"`
	PnL                string  `json:"pnl" default:"0" validate:"decimal"`
	LossUSD            string  `json:"loss_usd" default:"0" validate:"udecimal"`
	TradeVelocityRatio float64 `json:"trade_velocity_ratio" default:"1" validate:"gte=0"`
	ManagerIntent      float64 `json:"manager_intent" validate:"gte=0,lte=100"`
	AssetVolatilityPct float64 `json:"asset_volatility_pct" validate:"gte=0"`
	Systemic           bool    `json:"systemic"`
}

// ToOperation converts the validated request into a domain operation.
func (r *OperationRequest) ToOperation(now time.Time) (Operation, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return Operation{}, fmt.Errorf("amount: %w", err)
	}
	pnl, err := decimal.NewFromString(r.PnL)
	if err != nil {
		return Operation{}, fmt.Errorf("pnl: %w", err)
	}
	loss, err := decimal.NewFromString(r.LossUSD)
	if err != nil {
		return Operation{}, fmt.Errorf("loss_usd: %w", err)
	}
	return Operation{
		ID:         r.ID,
		Kind:       OperationKind(r.Kind),
		FundID:     r.FundID,
		InvestorID: r.InvestorID,
		CallerID:   r.CallerID,
		Session:    Session{ID: r.SessionID, ExpiresAt: time.Unix(r.SessionExpiresAt, 0)},
		Asset:      r.Asset,
		Amount:     amount,
		PnL:        pnl,
		LossUSD:    loss,
		Signals: OperationSignals{
			TradeVelocityRatio: r.TradeVelocityRatio,
			ManagerIntent:      r.ManagerIntent,
			AssetVolatilityPct: r.AssetVolatilityPct,
			Systemic:           r.Systemic,
		},
		RequestedAt: now,
	}, nil
}

type InvestorRequest struct {
	ID string `param:"id" validate:"required"`
}

type ReviewRequest struct {
	ID       string `param:"id" json:"-" validate:"required"`
	Approved bool   `json:"approved"`
	Reviewer string `json:"reviewer" validate:"required"`
	Note     string `json:"note" validate:"max=512"`
}

type FraudRequest struct {
	ID     string `param:"id" json:"-" validate:"required"`
	Reason string `json:"reason" validate:"required,max=512"`
}

type SlashingHistoryRequest struct {
	FundID string `param:"id" validate:"required"`
	Limit  int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
	Since  string `query:"since"` // RFC3339, unix seconds or a lookback like "90d"
}

type BreakerResetRequest struct {
	Operator string `json:"operator" validate:"required"`
}

// ReviewDecision is the operator verdict consumed by the FROZEN recovery hook.
type ReviewDecision struct {
	InvestorID string    `json:"investor_id"`
	Approved   bool      `json:"approved"`
	Reviewer   string    `json:"reviewer"`
	Note       string    `json:"note,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// InvestorView is the read model returned by the investor endpoint.
type InvestorView struct {
	Investor *Investor       `json:"investor"`
	Limits   StateLimits     `json:"limits"`
	Counts   ViolationCounts `json:"violation_counts"`
}

type RegisterManagerRequest struct {
	ID         string            `json:"id" validate:"required,max=128"`
	TotalStake string            `json:"total_stake" validate:"required,udecimal"`
	FundStakes map[string]string `json:"fund_stakes" validate:"dive,keys,required,endkeys,udecimal"`
}

func (r *RegisterManagerRequest) ToManager() (*FundManager, error) {
	total, err := decimal.NewFromString(r.TotalStake)
	if err != nil {
		return nil, fmt.Errorf("total_stake: %w", err)
	}
	stakes, err := decimalMap("fund_stakes", r.FundStakes)
	if err != nil {
		return nil, err
	}
	return &FundManager{ID: r.ID, TotalStake: total, FundStakes: stakes}, nil
}

type RegisterFundRequest struct {
	ID          string `json:"id" validate:"required,max=128"`
	ManagerID   string `json:"manager_id" validate:"required"`
	RiskTierID  int    `json:"risk_tier_id" validate:"gte=1"`
	NAV         string `json:"nav" validate:"required,udecimal"`
	TotalShares string `json:"total_shares" validate:"required,udecimal"`
}

func (r *RegisterFundRequest) ToFund() (*Fund, error) {
	nav, err := decimal.NewFromString(r.NAV)
	if err != nil {
		return nil, fmt.Errorf("nav: %w", err)
	}
	shares, err := decimal.NewFromString(r.TotalShares)
	if err != nil {
		return nil, fmt.Errorf("total_shares: %w", err)
	}
	return &Fund{ID: r.ID, ManagerID: r.ManagerID, RiskTierID: r.RiskTierID, NAV: nav, TotalShares: shares}, nil
}

type RegisterInvestorRequest struct {
	ID     string            `json:"id" validate:"required,max=128"`
	State  string            `json:"state" default:"ACTIVE" validate:"oneof=ACTIVE LIMITED HIGH_RISK FROZEN BANNED"`
	Shares map[string]string `json:"shares" validate:"dive,keys,required,endkeys,udecimal"`
}

func (r *RegisterInvestorRequest) ToInvestor(now time.Time) (*Investor, error) {
	shares, err := decimalMap("shares", r.Shares)
	if err != nil {
		return nil, err
	}
	return &Investor{ID: r.ID, State: InvestorState(r.State), StateChangedAt: now, Shares: shares}, nil
}

func decimalMap(field string, in map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("%s[%s]: %w", field, k, err)
		}
		out[k] = d
	}
	return out, nil
}
