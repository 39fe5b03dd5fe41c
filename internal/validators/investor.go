package validators

import (
	"fmt"
	"math"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/risk"
	"FundGuard/internal/statemachine"
)

// InvestorValidator scores the behavioural metrics and violation history of the
// investor behind a deposit or withdrawal. Trades score zero here.
type InvestorValidator struct {
	th statemachine.Thresholds
}

func NewInvestorValidator(th statemachine.Thresholds) *InvestorValidator {
	return &InvestorValidator{th: th}
}

func (v *InvestorValidator) Domain() models.Domain { return models.DomainInvestor }

func (v *InvestorValidator) Validate(in *Input) (models.DomainVerdict, error) {
	if in.Op.Kind.ManagerInitiated() || in.Investor == nil {
		return verdict(models.DomainInvestor, models.ScoreComponents{}, in.Config, nil)
	}

	m := in.Metrics
	var reasons []string
	ratio := 0.0
	for _, x := range []struct {
		name         string
		value, limit float64
	}{
		{"wbr", m.WBR, v.th.WBR},
		{"dvr", m.DVR, v.th.DVR},
		{"lri", m.LRI, v.th.LRI},
	} {
		if x.limit <= 0 {
			continue
		}
		r := x.value / x.limit
		ratio = math.Max(ratio, r)
		if r > 1 {
			reasons = append(reasons, fmt.Sprintf("%s %.2f above %.2f", x.name, x.value, x.limit))
		}
	}

	c := models.ScoreComponents{
		L: risk.ClampScore(float64(in.Counts.Last7d*20 + in.Counts.Last30d*5)),
		// at the escalation bound B is 50, at twice the bound it saturates
		B: risk.ClampScore(ratio * 50),
		I: risk.ClampScore(m.IntentProbability),
	}
	if in.Op.Kind == models.OpWithdrawal {
		c.D = risk.ClampScore(pctOf(in.Op.Amount, in.Fund.NAV) * 10)
	}
	if m.IntentProbability > v.th.Intent {
		reasons = append(reasons, fmt.Sprintf("intent probability %.0f", m.IntentProbability))
	}
	return verdict(models.DomainInvestor, c, in.Config, reasons)
}
