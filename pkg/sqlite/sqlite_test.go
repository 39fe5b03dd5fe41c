package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRunsMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.db")
	db, err := Open(ctx, path, WithMigrations(`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Health(ctx))
	_, err = db.SQL().ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', '1')`)
	require.NoError(t, err)

	var mode string
	require.NoError(t, db.SQL().QueryRowContext(ctx, `PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, ":memory:", WithMigrations(`CREATE TABLE kv (k TEXT PRIMARY KEY)`))
	require.NoError(t, err)
	defer db.Close()

	boom := errors.New("boom")
	err = db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (k) VALUES ('x')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n))
	assert.Zero(t, n)
}

func TestOpenBadMigration(t *testing.T) {
	_, err := Open(context.Background(), ":memory:", WithMigrations("NOT SQL"))
	assert.Error(t, err)
}
