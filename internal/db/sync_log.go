package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SyncLog is one append-only audit row per sync step execution
// (scheduled or manually triggered).
type SyncLog struct {
	ID           int64
	StepName     string
	Status       string // success, error
	FetchedCount int
	CreatedCount int
	UpdatedCount int
	ErrorCount   int
	DurationMs   int
	ErrorMessage sql.NullString
	StartedAt    time.Time
}

// CreateSyncLog inserts one step-execution record.
func (q *Queries) CreateSyncLog(ctx context.Context, l *SyncLog) (int64, error) {
	const query = `
		INSERT INTO sync_log (step_name, status, fetched_count, created_count, updated_count, error_count, duration_ms, error_message, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		l.StepName, l.Status, l.FetchedCount, l.CreatedCount, l.UpdatedCount, l.ErrorCount, l.DurationMs, l.ErrorMessage, l.StartedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create sync log: %w", err)
	}
	return id, nil
}

// RecentSyncLogs lists the most recent log rows for a step, newest
// first.
func (q *Queries) RecentSyncLogs(ctx context.Context, stepName string, limit int) ([]SyncLog, error) {
	const query = `
		SELECT id, step_name, status, fetched_count, created_count, updated_count, error_count, duration_ms, error_message, started_at
		FROM sync_log WHERE step_name = $1 ORDER BY started_at DESC LIMIT $2
	`
	rows, err := q.exec().QueryContext(ctx, query, stepName, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sync logs: %w", err)
	}
	defer rows.Close()

	var out []SyncLog
	for rows.Next() {
		l := SyncLog{}
		if err := rows.Scan(
			&l.ID, &l.StepName, &l.Status, &l.FetchedCount, &l.CreatedCount, &l.UpdatedCount, &l.ErrorCount, &l.DurationMs, &l.ErrorMessage, &l.StartedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
