package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"FundGuard/internal/domain/models"
	domrepo "FundGuard/internal/domain/repository"
)

// TeeSink writes every batch to a primary store and then to the mirrors.
// History queries are answered by the primary.
type TeeSink struct {
	primary domrepo.AuditStore
	mirrors []domrepo.AuditSink
}

func NewTeeSink(primary domrepo.AuditStore, mirrors ...domrepo.AuditSink) *TeeSink {
	return &TeeSink{primary: primary, mirrors: mirrors}
}

// Record stops at the first failing sink. The outbox retries the whole batch,
// so every sink must tolerate replays of the same event ids.
func (t *TeeSink) Record(ctx context.Context, events []models.AuditEvent) error {
	if err := t.primary.Record(ctx, events); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Record(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (t *TeeSink) SlashingHistory(ctx context.Context, fundID string, since time.Time, limit int) ([]models.SlashingEvent, error) {
	return t.primary.SlashingHistory(ctx, fundID, since, limit)
}

func (t *TeeSink) Close() error {
	errs := []error{t.primary.Close()}
	for _, m := range t.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}

// slashingFromEvent rebuilds the slashing record carried by an audit event.
func slashingFromEvent(ev models.AuditEvent) (models.SlashingEvent, bool) {
	if ev.Type != models.EventSlashingExecuted || ev.Slashing == nil {
		return models.SlashingEvent{}, false
	}
	return models.SlashingEvent{
		ID:          ev.ID,
		OperationID: ev.OperationID,
		Input:       ev.Slashing.Input,
		Outcome:     ev.Slashing.Outcome,
		ExecutedAt:  ev.OccurredAt,
	}, true
}

func decodeSlashing(payload []byte) (models.SlashingEvent, error) {
	var ev models.AuditEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return models.SlashingEvent{}, fmt.Errorf("decode audit event: %w", err)
	}
	s, ok := slashingFromEvent(ev)
	if !ok {
		return models.SlashingEvent{}, fmt.Errorf("audit event %s is not a slashing event", ev.ID)
	}
	return s, nil
}

// SlashLog keeps recent slashing records in memory, per manager, for
// reputation scoring. Records older than the retention are pruned on append.
type SlashLog struct {
	mu        sync.RWMutex
	retention time.Duration
	byManager map[string][]models.SlashingEvent
}

func NewSlashLog(retention time.Duration) *SlashLog {
	return &SlashLog{retention: retention, byManager: make(map[string][]models.SlashingEvent)}
}

func (l *SlashLog) Append(ev models.SlashingEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append(l.byManager[ev.Input.ManagerID], ev)
	kept := list[:0]
	for _, e := range list {
		if ev.ExecutedAt.Sub(e.ExecutedAt) <= l.retention {
			kept = append(kept, e)
		}
	}
	l.byManager[ev.Input.ManagerID] = kept
}

// ForManager returns the manager's records, oldest first.
func (l *SlashLog) ForManager(managerID string) []models.SlashingEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := append([]models.SlashingEvent(nil), l.byManager[managerID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out
}
