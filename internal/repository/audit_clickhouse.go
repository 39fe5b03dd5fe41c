package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FundGuard/internal/domain/models"
	pkgch "FundGuard/pkg/clickhouse"
)

// ClickHouseSchema is applied by InitSchema. ReplacingMergeTree collapses
// replays of the same event id.
func ClickHouseSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id             String,
			type           LowCardinality(String),
			occurred_at    DateTime64(3, 'UTC'),
			config_version UInt64,
			operation_id   String,
			fund_id        String,
			manager_id     String,
			investor_id    String,
			payload        String
		) ENGINE = ReplacingMergeTree
		ORDER BY (fund_id, type, occurred_at, id)`, table),
	}
}

// ClickHouseAuditStore writes the audit trail to a columnar table for
// long-horizon analysis.
type ClickHouseAuditStore struct {
	client *pkgch.Client
	table  string
}

func NewClickHouseAuditStore(client *pkgch.Client, table string) *ClickHouseAuditStore {
	return &ClickHouseAuditStore{client: client, table: table}
}

func (s *ClickHouseAuditStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, ClickHouseSchema(s.table))
}

func auditRow(ev models.AuditEvent) ([]any, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode audit event %s: %w", ev.ID, err)
	}
	return []any{
		ev.ID,
		string(ev.Type),
		ev.OccurredAt.UTC(),
		ev.ConfigVersion,
		ev.OperationID,
		ev.FundID,
		ev.ManagerID,
		ev.InvestorID,
		string(payload),
	}, nil
}

func (s *ClickHouseAuditStore) Record(ctx context.Context, events []models.AuditEvent) error {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		row, err := auditRow(ev)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, type, occurred_at, config_version, operation_id, fund_id, manager_id, investor_id, payload)`, s.table)
	return s.client.InsertBatch(ctx, q, rows)
}

func (s *ClickHouseAuditStore) SlashingHistory(ctx context.Context, fundID string, since time.Time, limit int) ([]models.SlashingEvent, error) {
	q := fmt.Sprintf(`SELECT payload FROM %s FINAL
		WHERE type = ? AND fund_id = ? AND occurred_at >= ?
		ORDER BY occurred_at DESC LIMIT ?`, s.table)
	rows, err := s.client.DB().QueryContext(ctx, q, string(models.EventSlashingExecuted), fundID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query slashing history: %w", err)
	}
	defer rows.Close()

	var out []models.SlashingEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		ev, err := decodeSlashing([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *ClickHouseAuditStore) Close() error { return s.client.Close() }
