package database

import (
	"context"
	"fmt"
)

// walWarnFrames is the WAL size above which a checkpoint is reported as lagging.
const walWarnFrames = 1000

// WALStatus is the result of PRAGMA wal_checkpoint.
type WALStatus struct {
	Busy         bool
	Frames       int
	Checkpointed int
}

// Lagging reports whether the WAL has grown past the autocheckpoint threshold.
func (s WALStatus) Lagging() bool {
	return s.Frames > walWarnFrames
}

// CheckpointWAL runs a WAL checkpoint. mode is one of PASSIVE, FULL, RESTART or TRUNCATE.
func (db *DB) CheckpointWAL(ctx context.Context, mode string) (WALStatus, error) {
	switch mode {
	case "PASSIVE", "FULL", "RESTART", "TRUNCATE":
	default:
		return WALStatus{}, fmt.Errorf("invalid checkpoint mode %q", mode)
	}

	var busy, frames, checkpointed int
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)
	if err := db.conn.QueryRowContext(ctx, query).Scan(&busy, &frames, &checkpointed); err != nil {
		return WALStatus{}, fmt.Errorf("wal checkpoint failed for %s: %w", db.name, err)
	}
	return WALStatus{Busy: busy != 0, Frames: frames, Checkpointed: checkpointed}, nil
}

// Maintain verifies the database and truncates its WAL.
func (db *DB) Maintain(ctx context.Context) error {
	if err := db.HealthCheck(ctx); err != nil {
		return err
	}
	status, err := db.CheckpointWAL(ctx, "TRUNCATE")
	if err != nil {
		return err
	}
	if status.Busy {
		return fmt.Errorf("wal checkpoint for %s blocked by readers", db.name)
	}
	return nil
}
