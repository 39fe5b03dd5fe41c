package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"FundGuard/internal/domain/models"
	pkgsqlite "FundGuard/pkg/sqlite"
)

// SQLiteMigrations create the audit table of the embedded store.
var SQLiteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_events (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		occurred_at    INTEGER NOT NULL,
		config_version INTEGER NOT NULL,
		operation_id   TEXT,
		fund_id        TEXT,
		manager_id     TEXT,
		investor_id    TEXT,
		payload        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_fund_type ON audit_events (fund_id, type, occurred_at)`,
}

// SQLiteAuditStore keeps the audit trail in an embedded database. Inserts are
// idempotent on the event id, so outbox retries never duplicate rows.
type SQLiteAuditStore struct {
	db *pkgsqlite.DB
}

func NewSQLiteAuditStore(db *pkgsqlite.DB) *SQLiteAuditStore {
	return &SQLiteAuditStore{db: db}
}

func (s *SQLiteAuditStore) Record(ctx context.Context, events []models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO audit_events
			(id, type, occurred_at, config_version, operation_id, fund_id, manager_id, investor_id, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare audit insert: %w", err)
		}
		defer stmt.Close()

		for _, ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encode audit event %s: %w", ev.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				ev.ID,
				string(ev.Type),
				ev.OccurredAt.UnixNano(),
				int64(ev.ConfigVersion),
				ev.OperationID,
				ev.FundID,
				ev.ManagerID,
				ev.InvestorID,
				string(payload),
			); err != nil {
				return fmt.Errorf("insert audit event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteAuditStore) SlashingHistory(ctx context.Context, fundID string, since time.Time, limit int) ([]models.SlashingEvent, error) {
	rows, err := s.db.SQL().QueryContext(ctx, `SELECT payload FROM audit_events
		WHERE type = ? AND fund_id = ? AND occurred_at >= ?
		ORDER BY occurred_at DESC LIMIT ?`,
		string(models.EventSlashingExecuted), fundID, since.UnixNano(), limit)
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

// Count returns the number of stored events of a type, all types when empty.
func (s *SQLiteAuditStore) Count(ctx context.Context, typ models.EventType) (int, error) {
	q, args := `SELECT COUNT(*) FROM audit_events`, []any{}
	if typ != "" {
		q, args = q+` WHERE type = ?`, append(args, string(typ))
	}
	var n int
	if err := s.db.SQL().QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteAuditStore) Close() error { return s.db.Close() }
