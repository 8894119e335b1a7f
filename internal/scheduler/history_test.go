package scheduler

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/algorunner/internal/database"
	"github.com/aristath/algorunner/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistoryDB(t *testing.T) *sql.DB {
	return testutil.NewMemoryDB(t, database.HistorySchema)
}

func TestHistoryRepository_RecordAndRecent(t *testing.T) {
	db := setupHistoryDB(t)
	defer db.Close()

	repo := NewHistoryRepository(db)
	ctx := context.Background()
	base := time.Date(2024, 3, 5, 9, 26, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, JobRun{
		JobID:    "on_open",
		Kind:     KindOneShot,
		FiredAt:  base,
		Duration: 3 * time.Millisecond,
		Labels:   map[string]string{"event": "on_open"},
	}))
	require.NoError(t, repo.Record(ctx, JobRun{
		JobID:    "on_tick_am",
		Kind:     KindInterval,
		FiredAt:  base.Add(15 * time.Second),
		Duration: time.Millisecond,
		Error:    "queue full",
	}))

	runs, err := repo.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "on_tick_am", runs[0].JobID)
	assert.Equal(t, KindInterval, runs[0].Kind)
	assert.Equal(t, "queue full", runs[0].Error)
	assert.Equal(t, base.Add(15*time.Second).UnixMilli(), runs[0].FiredAt.UnixMilli())

	assert.Equal(t, "on_open", runs[1].JobID)
	assert.Equal(t, 3*time.Millisecond, runs[1].Duration)
	assert.Equal(t, "on_open", runs[1].Labels["event"])
	assert.Empty(t, runs[1].Error)

	filtered, err := repo.Recent(ctx, "on_open", 10)
	require.NoError(t, err)
	assert.Len(t, filtered, 1)
}

func TestHistoryRepository_RecentLimit(t *testing.T) {
	db := setupHistoryDB(t)
	defer db.Close()

	repo := NewHistoryRepository(db)
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Record(ctx, JobRun{JobID: "tick", Kind: KindInterval, FiredAt: base.Add(time.Duration(i) * time.Second)}))
	}

	runs, err := repo.Recent(ctx, "", 3)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestHistoryRepository_Prune(t *testing.T) {
	db := setupHistoryDB(t)
	defer db.Close()

	repo := NewHistoryRepository(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Record(ctx, JobRun{JobID: "old", Kind: KindOneShot, FiredAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.Record(ctx, JobRun{JobID: "new", Kind: KindOneShot, FiredAt: now}))

	removed, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	runs, err := repo.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].JobID)
}
