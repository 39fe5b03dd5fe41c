package validators

import (
	"fmt"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/risk"

	"github.com/shopspring/decimal"
)

// FundValidator checks an operation against the position, concentration,
// exposure, volatility and drawdown limits of the fund's risk tier.
type FundValidator struct{}

func NewFundValidator() *FundValidator { return &FundValidator{} }

func (v *FundValidator) Domain() models.Domain { return models.DomainFund }

func (v *FundValidator) Validate(in *Input) (models.DomainVerdict, error) {
	if in.Op.Kind.ManagerInitiated() {
		return v.trade(in)
	}
	return v.flow(in)
}

func (v *FundValidator) trade(in *Input) (models.DomainVerdict, error) {
	f, t, op := in.Fund, in.Tier, in.Op
	notional := op.Amount.Abs()

	position := pctOf(notional, f.NAV)
	concentration := pctOf(f.Exposures[op.Asset].Abs().Add(notional), f.NAV)
	exposure := pctOf(f.TotalExposure().Add(notional), f.NAV)

	loss := op.LossUSD
	if loss.IsZero() && op.PnL.IsNegative() {
		loss = op.PnL.Neg()
	}
	drawdownPct := f.Drawdown().Mul(decimal.NewFromInt(100)).InexactFloat64()
	lossPct := pctOf(loss, f.NAV)

	var reasons []string
	check := func(name string, value, limit float64) int {
		s := overshoot(value, limit)
		if s > 0 {
			reasons = append(reasons, fmt.Sprintf("%s %.2f%% above tier %d limit %.2f%%", name, value, t.ID, limit))
		}
		return s
	}

	c := models.ScoreComponents{
		L: maxInt(
			check("position", position, t.MaxPositionPct),
			check("concentration", concentration, t.MaxConcentrationPct),
			check("exposure", exposure, t.MaxExposurePct),
			check("volatility", op.Signals.AssetVolatilityPct, t.MaxVolatilityPct),
			check("drawdown", drawdownPct, t.MaxDrawdownPct),
		),
		B: velocityScore(op.Signals.TradeVelocityRatio),
		I: risk.ClampScore(op.Signals.ManagerIntent),
	}
	if t.MaxDrawdownPct > 0 {
		c.D = risk.ClampScore(lossPct / t.MaxDrawdownPct * 100)
	}
	if c.B > 0 {
		reasons = append(reasons, fmt.Sprintf("trade velocity %.2fx baseline", op.Signals.TradeVelocityRatio))
	}
	return verdict(models.DomainFund, c, in.Config, reasons)
}

// flow scores deposits and withdrawals from the fund's point of view: a single
// withdrawal above the concentration limit is a liquidity shock.
func (v *FundValidator) flow(in *Input) (models.DomainVerdict, error) {
	var (
		c       models.ScoreComponents
		reasons []string
	)
	if in.Op.Kind == models.OpWithdrawal {
		share := pctOf(in.Op.Amount, in.Fund.NAV)
		c.L = overshoot(share, in.Tier.MaxConcentrationPct)
		c.D = risk.ClampScore(share)
		if c.L > 0 {
			reasons = append(reasons, fmt.Sprintf("withdrawal is %.2f%% of NAV", share))
		}
	}
	return verdict(models.DomainFund, c, in.Config, reasons)
}

// velocityScore maps a trade rate relative to baseline onto 0-100: baseline or
// slower scores 0, five times baseline scores 100.
func velocityScore(ratio float64) int {
	if ratio <= 1 {
		return 0
	}
	return risk.ClampScore((ratio - 1) / 4 * 100)
}
