package service

import (
	"context"

	"FundGuard/internal/domain/models"
)

// PriceOracle is the external price source. It may be slow; callers on the
// decision path go through a PriceSource instead.
type PriceOracle interface {
	GetPrice(ctx context.Context, asset string) (models.PriceQuote, error)
}

// PriceSource returns the last valid price with the time-decay haircut applied,
// or a *models.StaleDataError. It never blocks on the oracle.
type PriceSource interface {
	EffectivePrice(ctx context.Context, asset string) (models.EffectivePrice, error)
}

// HealthProbe samples protocol health.
type HealthProbe interface {
	Health(ctx context.Context) models.SystemHealth
}

// ReviewHook is the external manual-review signal for FROZEN recovery.
type ReviewHook interface {
	Approved(ctx context.Context, investorID string) (bool, error)
}
