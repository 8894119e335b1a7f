package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// JobRun is one recorded fire of a job.
type JobRun struct {
	JobID    string            `json:"job_id"`
	Kind     Kind              `json:"kind"`
	FiredAt  time.Time         `json:"fired_at"`
	Duration time.Duration     `json:"duration"`
	Error    string            `json:"error,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// HistoryRecorder persists job runs.
type HistoryRecorder interface {
	Record(ctx context.Context, run JobRun) error
}

// runDetails is the msgpack-encoded part of a history row.
type runDetails struct {
	Error  string            `msgpack:"error,omitempty"`
	Labels map[string]string `msgpack:"labels,omitempty"`
}

// HistoryRepository stores job runs in the job_history table.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new job history repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Record inserts one run.
func (r *HistoryRepository) Record(ctx context.Context, run JobRun) error {
	details, err := msgpack.Marshal(runDetails{Error: run.Error, Labels: run.Labels})
	if err != nil {
		return fmt.Errorf("failed to encode run details: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO job_history (job_id, kind, fired_at, duration_ms, failed, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.JobID,
		string(run.Kind),
		run.FiredAt.UnixMilli(),
		run.Duration.Milliseconds(),
		run.Error != "",
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job run for %s: %w", run.JobID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty jobID matches every job.
func (r *HistoryRepository) Recent(ctx context.Context, jobID string, limit int) ([]JobRun, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT job_id, kind, fired_at, duration_ms, details FROM job_history`
	args := []interface{}{}
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY fired_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query job history: %w", err)
	}
	defer rows.Close()

	runs := make([]JobRun, 0)
	for rows.Next() {
		var (
			run        JobRun
			kind       string
			firedAt    int64
			durationMs int64
			details    []byte
		)
		if err := rows.Scan(&run.JobID, &kind, &firedAt, &durationMs, &details); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		run.Kind = Kind(kind)
		run.FiredAt = time.UnixMilli(firedAt)
		run.Duration = time.Duration(durationMs) * time.Millisecond

		if len(details) > 0 {
			var d runDetails
			if err := msgpack.Unmarshal(details, &d); err != nil {
				return nil, fmt.Errorf("failed to decode run details for %s: %w", run.JobID, err)
			}
			run.Error = d.Error
			run.Labels = d.Labels
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune deletes runs fired before cutoff and returns how many were removed.
func (r *HistoryRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM job_history WHERE fired_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune job history: %w", err)
	}
	return result.RowsAffected()
}
