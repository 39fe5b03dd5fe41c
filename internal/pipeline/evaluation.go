package pipeline

import (
	"time"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/validators"

	"github.com/shopspring/decimal"
)

// Evaluation is the state accumulated while an operation moves through the
// stages. The caller fills the snapshot fields; the stages fill the rest.
type Evaluation struct {
	Op     *models.Operation
	Config models.RiskConfig
	Now    time.Time
	DryRun bool

	// Snapshots of the referenced entities. Stages never mutate them; the
	// executor and slasher work on clones.
	Fund      *models.Fund
	Manager   *models.FundManager
	Investor  *models.Investor
	Tier      models.RiskTier
	TierKnown bool

	Health models.SystemHealth
	// Price is the effective stake token price, required for trades.
	Price    models.EffectivePrice
	PriceErr error
	// Metrics are fetched from the investor registry for deposits and withdrawals.
	Metrics    models.InvestorMetrics
	MetricsErr error

	// Filled by the stages.
	Validation  validators.Result
	Limits      models.StateLimits
	SharesDelta decimal.Decimal
	Penalty     *Penalty
	Passed      []models.Stage
}

// InvestorOp reports whether the operation is initiated by an investor.
func (ev *Evaluation) InvestorOp() bool {
	return !ev.Op.Kind.ManagerInitiated()
}

// ViolationCounts merges the registry counts with the locally recorded ones.
func (ev *Evaluation) ViolationCounts() models.ViolationCounts {
	c := ev.Metrics.Violations
	if ev.Investor != nil {
		local := ev.Investor.ViolationCounts(ev.Now)
		if local.Last7d > c.Last7d {
			c.Last7d = local.Last7d
		}
		if local.Last30d > c.Last30d {
			c.Last30d = local.Last30d
		}
	}
	return c
}

func (ev *Evaluation) validatorInput() *validators.Input {
	return &validators.Input{
		Op:       ev.Op,
		Fund:     ev.Fund,
		Manager:  ev.Manager,
		Investor: ev.Investor,
		Metrics:  ev.Metrics.Behavior,
		Counts:   ev.ViolationCounts(),
		Tier:     ev.Tier,
		Health:   ev.Health,
		Price:    ev.Price,
		Config:   ev.Config,
	}
}

// Penalty is what the slasher applied (or, in a dry run, would apply).
type Penalty struct {
	Slash       *models.SlashOutcome
	Transitions []models.StateTransition
}
