package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConnectionString(t *testing.T) {
	ledger := buildConnectionString("/data/history.db", ProfileLedger)
	assert.Contains(t, ledger, "/data/history.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, ledger, "synchronous(FULL)")

	cache := buildConnectionString("file:test?mode=memory", ProfileCache)
	assert.Contains(t, cache, "file:test?mode=memory&_pragma=journal_mode(WAL)")
	assert.Contains(t, cache, "synchronous(OFF)")

	standard := buildConnectionString("x.db", ProfileStandard)
	assert.Contains(t, standard, "synchronous(NORMAL)")
}

func TestNew_MigrateHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	db, err := New(Config{Path: path, Profile: ProfileLedger, Name: "history"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "history", db.Name())
	assert.Equal(t, ProfileLedger, db.Profile())
	assert.Equal(t, path, db.Path())

	require.NoError(t, db.Migrate())
	// Migrations are idempotent
	require.NoError(t, db.Migrate())

	_, err = db.Conn().Exec(`INSERT INTO job_history (job_id, kind, fired_at) VALUES ('on_open', 'one_shot', 1)`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM job_history`).Scan(&count))
	assert.Equal(t, 1, count)

	assert.NoError(t, db.QuickCheck(context.Background()))
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestMigrate_UnknownNameIsNoop(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "other.db"), Name: "other"})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Migrate())
}

func TestWithTransaction(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "history.db"), Name: "history"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO job_history (job_id, kind, fired_at) VALUES ('a', 'cron', 1)`)
		require.NoError(t, err)
		return errors.New("abort")
	})
	assert.Error(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("boom")
	})
	assert.ErrorContains(t, err, "panic in transaction")

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM job_history`).Scan(&count))
	assert.Equal(t, 0, count)

	assert.Error(t, WithTransaction(nil, func(tx *sql.Tx) error { return nil }))
}

func TestCheckpointWAL(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "history.db"), Profile: ProfileCache, Name: "history"})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := db.Conn().Exec(`INSERT INTO job_history (job_id, kind, fired_at) VALUES ('on_tick_am', 'interval', ?)`, i)
		require.NoError(t, err)
	}

	status, err := db.CheckpointWAL(ctx, "PASSIVE")
	require.NoError(t, err)
	assert.False(t, status.Busy)
	assert.False(t, status.Lagging())

	_, err = db.CheckpointWAL(ctx, "DROP TABLE job_history")
	assert.Error(t, err)

	assert.NoError(t, db.Maintain(ctx))
	assert.True(t, WALStatus{Frames: walWarnFrames + 1}.Lagging())
}
