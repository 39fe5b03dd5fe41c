package usecase

import (
	"context"
	"fmt"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
	"FundGuard/internal/repository"
	"FundGuard/pkg/logger"
	"FundGuard/pkg/queue"
)

// SettlementJob applies queued settlement instructions to the ledger. The
// ledger skips instruction ids it has already applied, so redelivery is safe.
type SettlementJob struct {
	ledger  domrepo.Settler
	metrics domrepo.Metrics
	logger  *logger.Logger
}

func NewSettlementJob(ledger domrepo.Settler, metrics domrepo.Metrics, l *logger.Logger) *SettlementJob {
	if l == nil {
		l = logger.Nop()
	}
	return &SettlementJob{ledger: ledger, metrics: metrics, logger: l}
}

func (j *SettlementJob) Name() string { return "settlement_apply" }
func (j *SettlementJob) Type() string { return repository.SettlementJobType }

func (j *SettlementJob) Handle(ctx context.Context, payload interface{}) error {
	in, err := queue.ParsePayload[models.SettlementInstruction](payload)
	if err != nil {
		j.metrics.RecordError("settlement_payload")
		return fmt.Errorf("settlement payload: %w", err)
	}
	if err := j.ledger.Settle(ctx, *in); err != nil {
		j.metrics.RecordError("settlement_apply")
		return fmt.Errorf("apply settlement %s: %w", in.ID, err)
	}
	j.logger.Info("settlement applied",
		logger.String("message_id", queue.MessageID(ctx)),
		logger.String("settlement_id", in.ID),
		logger.String("fund_id", in.FundID),
		logger.Decimal("burn", in.Burn),
		logger.Decimal("compensation", in.Compensation))
	return nil
}

var _ queue.Job = (*SettlementJob)(nil)
