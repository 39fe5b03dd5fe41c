package risk

import (
	"FundGuard/internal/domain/models"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits kept on token amounts.
const AmountScale int32 = 18

// Break points of the piecewise-linear slash curve.
const (
	moderateFI = 60
	severeFI   = 85
)

var (
	hundred = decimal.NewFromInt(100)

	ratioAtMin      = decimal.RequireFromString("0.01")
	ratioAtModerate = decimal.RequireFromString("0.10")
	ratioAtSevere   = decimal.RequireFromString("0.50")
	ratioAtMax      = decimal.NewFromInt(1)
)

// SlashRatio is the fraction of the stake slashed at a fault index:
// 0 below minFI, then linear over [minFI,60) 1%..10%, [60,85) 10%..50% and
// [85,100] 50%..100%. Fault indices above 100 are treated as 100.
func SlashRatio(fi, minFI int) decimal.Decimal {
	if fi < minFI {
		return decimal.Zero
	}
	if fi > MaxScore {
		fi = MaxScore
	}
	switch {
	case fi < moderateFI:
		return lerp(fi, minFI, moderateFI, ratioAtMin, ratioAtModerate)
	case fi < severeFI:
		return lerp(fi, moderateFI, severeFI, ratioAtModerate, ratioAtSevere)
	default:
		return lerp(fi, severeFI, MaxScore, ratioAtSevere, ratioAtMax)
	}
}

func lerp(x, x0, x1 int, y0, y1 decimal.Decimal) decimal.Decimal {
	if x1 <= x0 {
		return y0
	}
	span := y1.Sub(y0).Mul(decimal.NewFromInt(int64(x - x0)))
	return y0.Add(span.DivRound(decimal.NewFromInt(int64(x1-x0)), AmountScale))
}

// ComputeSlash derives the slash for a manager:
//
//	amount       = min(stake*ratio(FI), alpha*loss/price, totalStake)
//	burn         = amount*(100-gamma)/100
//	compensation = amount - burn
//
// Compensation is obtained by subtraction so burn+compensation == amount exactly.
func ComputeSlash(in models.SlashInput, cfg models.RiskConfig) (models.SlashOutcome, error) {
	switch {
	case in.Stake.IsNegative():
		return models.SlashOutcome{}, &models.PreconditionError{Field: "stake", Reason: "negative stake"}
	case in.ManagerTotalStake.IsNegative():
		return models.SlashOutcome{}, &models.PreconditionError{Field: "manager_total_stake", Reason: "negative total stake"}
	case in.FundLossUSD.IsNegative():
		return models.SlashOutcome{}, &models.PreconditionError{Field: "fund_loss_usd", Reason: "negative loss"}
	case in.FaultIndex < 0:
		return models.SlashOutcome{}, &models.PreconditionError{Field: "fault_index", Reason: "negative fault index"}
	}

	out := models.SlashOutcome{
		Ratio:         SlashRatio(in.FaultIndex, cfg.MinSlashingFI),
		Bound:         models.BoundNone,
		Ban:           in.FaultIndex >= cfg.BanThresholdFI,
		ConfigVersion: cfg.Version,
		TotalCap:      in.ManagerTotalStake,
	}
	if out.Ratio.IsZero() {
		return out, nil
	}
	if in.TokenPrice.Sign() <= 0 {
		return models.SlashOutcome{}, &models.PreconditionError{Field: "token_price", Reason: "token price must be positive"}
	}

	out.Base = in.Stake.Mul(out.Ratio).Truncate(AmountScale)
	out.LossCap = cfg.Alpha.Mul(in.FundLossUSD).DivRound(in.TokenPrice, AmountScale)

	out.Amount, out.Bound = out.Base, models.BoundStake
	if out.LossCap.LessThan(out.Amount) {
		out.Amount, out.Bound = out.LossCap, models.BoundLoss
	}
	if out.TotalCap.LessThan(out.Amount) {
		out.Amount, out.Bound = out.TotalCap, models.BoundTotal
	}
	out.Amount = out.Amount.Truncate(AmountScale)

	out.Burn = out.Amount.Mul(decimal.NewFromInt(int64(100 - cfg.Gamma))).Div(hundred).Truncate(AmountScale)
	out.Compensation = out.Amount.Sub(out.Burn)
	return out, nil
}
