package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OperationKind string

const (
	OpTrade      OperationKind = "TRADE"
	OpDeposit    OperationKind = "DEPOSIT"
	OpWithdrawal OperationKind = "WITHDRAWAL"
)

// ManagerInitiated reports whether the operation is executed by the fund manager.
func (k OperationKind) ManagerInitiated() bool { return k == OpTrade }

// Session identifies the authenticated caller session.
type Session struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OperationSignals are caller supplied observations scored by the fund validator.
type OperationSignals struct {
	// TradeVelocityRatio is the manager's trade rate relative to its baseline (1 = normal).
	TradeVelocityRatio float64 `json:"trade_velocity_ratio"`
	// ManagerIntent is an intent probability on a 0-100 scale.
	ManagerIntent float64 `json:"manager_intent"`
	// AssetVolatilityPct is the annualised volatility of the traded asset.
	AssetVolatilityPct float64 `json:"asset_volatility_pct"`
	Systemic           bool    `json:"systemic"`
}

// Operation is a request to mutate fund state. Amount is the USD notional for
// trades and the USD value for deposits and withdrawals. PnL is the realised
// result of a trade.
type Operation struct {
	ID          string           `json:"id"`
	Kind        OperationKind    `json:"kind"`
	FundID      string           `json:"fund_id"`
	InvestorID  string           `json:"investor_id,omitempty"`
	CallerID    string           `json:"caller_id"`
	Session     Session          `json:"session"`
	Asset       string           `json:"asset,omitempty"`
	Amount      decimal.Decimal  `json:"amount"`
	PnL         decimal.Decimal  `json:"pnl"`
	LossUSD     decimal.Decimal  `json:"loss_usd"`
	Signals     OperationSignals `json:"signals"`
	RequestedAt time.Time        `json:"requested_at"`
}

type Outcome string

const (
	OutcomeApproved            Outcome = "APPROVED"
	OutcomeApprovedWithWarning Outcome = "APPROVED_WITH_WARNING"
	OutcomeRejected            Outcome = "REJECTED"
	OutcomeSlashed             Outcome = "SLASHED"
)

// Stage identifies a pipeline stage, in fixed priority order.
type Stage int

const (
	StageNone Stage = iota
	StageCriticalSafety
	StageRiskValidation
	StageAccessControl
	StageStateValidation
	StageExecution
)

func (s Stage) String() string {
	switch s {
	case StageCriticalSafety:
		return "critical_safety"
	case StageRiskValidation:
		return "risk_validation"
	case StageAccessControl:
		return "access_control"
	case StageStateValidation:
		return "state_validation"
	case StageExecution:
		return "execution"
	default:
		return "none"
	}
}

type ReasonCode string

const (
	ReasonNone               ReasonCode = ""
	ReasonCircuitOpen        ReasonCode = "CIRCUIT_OPEN"
	ReasonSystemUnhealthy    ReasonCode = "SYSTEM_UNHEALTHY"
	ReasonStaleData          ReasonCode = "STALE_DATA"
	ReasonUnknownEntity      ReasonCode = "UNKNOWN_ENTITY"
	ReasonInvariantBroken    ReasonCode = "INVARIANT_BROKEN"
	ReasonRiskThreshold      ReasonCode = "RISK_THRESHOLD"
	ReasonUnauthorized       ReasonCode = "UNAUTHORIZED"
	ReasonSessionInvalid     ReasonCode = "SESSION_INVALID"
	ReasonManagerBanned      ReasonCode = "MANAGER_BANNED"
	ReasonFundNotActive      ReasonCode = "FUND_NOT_ACTIVE"
	ReasonInvalidAmount      ReasonCode = "INVALID_AMOUNT"
	ReasonInsufficientFunds  ReasonCode = "INSUFFICIENT_FUNDS"
	ReasonDegenerateShares   ReasonCode = "DEGENERATE_SHARES"
	ReasonStateLimit         ReasonCode = "STATE_LIMIT"
	ReasonTierRestricted     ReasonCode = "TIER_RESTRICTED"
	ReasonExecutionFailed    ReasonCode = "EXECUTION_FAILED"
	ReasonPreconditionFailed ReasonCode = "PRECONDITION_FAILED"
)

// OperationResult is the pipeline verdict for one operation.
type OperationResult struct {
	OperationID   string            `json:"operation_id"`
	Kind          OperationKind     `json:"kind"`
	Outcome       Outcome           `json:"outcome"`
	FailedStage   Stage             `json:"failed_stage"`
	Reason        ReasonCode        `json:"reason,omitempty"`
	Detail        string            `json:"detail,omitempty"`
	FaultIndex    int               `json:"fault_index"`
	ConfigVersion uint64            `json:"config_version"`
	Verdicts      []DomainVerdict   `json:"verdicts,omitempty"`
	Slash         *SlashOutcome     `json:"slash,omitempty"`
	Transitions   []StateTransition `json:"transitions,omitempty"`
	SharesDelta   decimal.Decimal   `json:"shares_delta"`
	DryRun        bool              `json:"dry_run,omitempty"`
	EvaluatedAt   time.Time         `json:"evaluated_at"`
}

// Approved reports whether the operation was (or, in a dry run, would be) executed.
func (r *OperationResult) Approved() bool {
	return r.Outcome == OutcomeApproved || r.Outcome == OutcomeApprovedWithWarning
}

// Err converts a negative result into the matching typed error, nil for approvals.
func (r *OperationResult) Err() error {
	switch r.Outcome {
	case OutcomeSlashed:
		return &SlashingTriggered{
			OperationID: r.OperationID,
			FaultIndex:  r.FaultIndex,
			Slash:       r.Slash,
			Transitions: r.Transitions,
		}
	case OutcomeRejected:
		return &OperationRejected{Stage: r.FailedStage, Code: r.Reason, Detail: r.Detail}
	default:
		return nil
	}
}
