package repository

import (
	"context"
	"fmt"

	"FundGuard/internal/domain/models"
)

// SettlementJobType is the queue message type carrying a settlement instruction.
const SettlementJobType = "settlement"

// Enqueuer is the part of the redis queue the settler needs.
type Enqueuer interface {
	EnqueueWithID(ctx context.Context, id, msgType string, payload interface{}) error
}

// QueueSettler hands settlement instructions to the durable queue in a single
// push. Workers apply them to the remote ledgers, keyed by instruction id.
type QueueSettler struct {
	q Enqueuer
}

func NewQueueSettler(q Enqueuer) *QueueSettler {
	return &QueueSettler{q: q}
}

func (s *QueueSettler) Settle(ctx context.Context, in models.SettlementInstruction) error {
	if in.ID == "" {
		return &models.PreconditionError{Field: "id", Reason: "settlement instruction without id"}
	}
	if err := s.q.EnqueueWithID(ctx, in.ID, SettlementJobType, in); err != nil {
		return fmt.Errorf("enqueue settlement %s: %w", in.ID, err)
	}
	return nil
}
