// Package validators scores an operation in the protocol, fund and investor
// domains. Each validator produces a weighted fault index for its own domain;
// the domains are combined with risk.CombineDomainFI.
package validators

import (
	"fmt"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/risk"

	"github.com/shopspring/decimal"
)

// Input is the read-only snapshot a validator scores.
type Input struct {
	Op       *models.Operation
	Fund     *models.Fund
	Manager  *models.FundManager
	Investor *models.Investor
	// Metrics are the investor metrics fetched for this evaluation.
	Metrics models.BehaviorMetrics
	Counts  models.ViolationCounts
	Tier    models.RiskTier
	Health  models.SystemHealth
	Price   models.EffectivePrice
	Config  models.RiskConfig
}

// DomainValidator scores one domain.
type DomainValidator interface {
	Domain() models.Domain
	Validate(in *Input) (models.DomainVerdict, error)
}

// Result is the combined verdict of all domains.
type Result struct {
	Verdicts   []models.DomainVerdict
	FaultIndex int
	Passed     bool
}

// Run executes every validator and combines the domain indices with max.
func Run(in *Input, vs ...DomainValidator) (Result, error) {
	res := Result{Verdicts: make([]models.DomainVerdict, 0, len(vs)), Passed: true}
	for _, v := range vs {
		verdict, err := v.Validate(in)
		if err != nil {
			return Result{}, fmt.Errorf("%s validator: %w", v.Domain(), err)
		}
		res.Verdicts = append(res.Verdicts, verdict)
		if !verdict.Passed {
			res.Passed = false
		}
	}
	res.FaultIndex = risk.CombineDomainFI(res.Verdicts)
	return res, nil
}

// verdict finishes a domain verdict from its components.
func verdict(d models.Domain, c models.ScoreComponents, cfg models.RiskConfig, reasons []string) (models.DomainVerdict, error) {
	fi, err := risk.ComputeFI(c, cfg.Weights)
	if err != nil {
		return models.DomainVerdict{}, err
	}
	return models.DomainVerdict{
		Domain:     d,
		Passed:     fi < cfg.MinSlashingFI,
		FaultIndex: fi,
		Components: c,
		Reasons:    reasons,
	}, nil
}

// overshoot scores how far value exceeds limit: 0 at or under the limit, 100
// at twice the limit.
func overshoot(value, limit float64) int {
	if limit <= 0 || value <= limit {
		return 0
	}
	return risk.ClampScore((value/limit - 1) * 100)
}

// pctOf returns part/whole as a percentage, 0 when whole is not positive.
func pctOf(part, whole decimal.Decimal) float64 {
	if whole.Sign() <= 0 {
		return 0
	}
	return part.Mul(decimal.NewFromInt(100)).Div(whole).InexactFloat64()
}

func maxInt(vs ...int) int {
	m := 0
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}
