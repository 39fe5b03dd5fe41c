package validators

import (
	"fmt"
	"time"

	"FundGuard/internal/domain/models"
	"FundGuard/internal/risk"

	"github.com/shopspring/decimal"
)

// ProtocolValidator scores system conditions around an operation: bridge delay,
// oracle confidence and the decay haircut on the price used.
type ProtocolValidator struct {
	maxBridgeDelay time.Duration
	maxDiscountPct float64
}

func NewProtocolValidator(maxBridgeDelay time.Duration, maxDiscountPct float64) *ProtocolValidator {
	return &ProtocolValidator{maxBridgeDelay: maxBridgeDelay, maxDiscountPct: maxDiscountPct}
}

func (v *ProtocolValidator) Domain() models.Domain { return models.DomainProtocol }

func (v *ProtocolValidator) Validate(in *Input) (models.DomainVerdict, error) {
	var (
		c       models.ScoreComponents
		reasons []string
	)
	if v.maxBridgeDelay > 0 && in.Health.BridgeDelay > 0 {
		c.L = risk.ClampScore(float64(in.Health.BridgeDelay) / float64(v.maxBridgeDelay) * 100)
		if in.Health.BridgeDelay > v.maxBridgeDelay {
			reasons = append(reasons, fmt.Sprintf("bridge delay %s above %s", in.Health.BridgeDelay, v.maxBridgeDelay))
		}
	}
	if in.Op.Kind == models.OpTrade && !in.Price.Price.IsZero() {
		c.B = risk.ClampScore((1 - in.Price.Quote.Confidence) * 100)
		if v.maxDiscountPct > 0 {
			discountPct := in.Price.Discount.Mul(decimal.NewFromInt(100)).InexactFloat64()
			c.D = risk.ClampScore(discountPct / v.maxDiscountPct * 100)
		}
		if c.B >= 50 {
			reasons = append(reasons, fmt.Sprintf("low oracle confidence %.2f", in.Price.Quote.Confidence))
		}
	}
	return verdict(models.DomainProtocol, c, in.Config, reasons)
}
