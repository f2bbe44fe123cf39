package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncState is one configured sync step's cursor and configuration. No
// audit envelope: sync steps are system-managed, not user-edited
// business entities.
type SyncState struct {
	ID              int64
	StepName        string
	IDOName         string
	FilterTemplate  sql.NullString
	Properties      sql.NullString
	DateField       string
	IntervalSeconds int
	Enabled         bool
	LastSyncAt      sql.NullTime
	CreatedCount    int
	UpdatedCount    int
	ErrorCount      int
	LastError       sql.NullString
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func scanSyncState(row rowScanner, s *SyncState) error {
	return row.Scan(
		&s.ID, &s.StepName, &s.IDOName, &s.FilterTemplate, &s.Properties, &s.DateField, &s.IntervalSeconds, &s.Enabled,
		&s.LastSyncAt, &s.CreatedCount, &s.UpdatedCount, &s.ErrorCount, &s.LastError, &s.CreatedAt, &s.UpdatedAt,
	)
}

const syncStateColumns = `
	id, step_name, ido_name, filter_template, properties, date_field, interval_seconds, enabled,
	last_sync_at, created_count, updated_count, error_count, last_error, created_at, updated_at
`

// CreateSyncState inserts a new sync step, used by EnsureDefaultSteps to
// seed the six built-in steps on first start. A pre-existing step_name
// is left untouched (ON CONFLICT DO NOTHING), so operator edits to
// interval/enabled survive restarts.
func (q *Queries) CreateSyncState(ctx context.Context, s *SyncState) error {
	const query = `
		INSERT INTO sync_state (step_name, ido_name, filter_template, properties, date_field, interval_seconds, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (step_name) DO NOTHING
	`
	_, err := q.exec().ExecContext(ctx, query, s.StepName, s.IDOName, s.FilterTemplate, s.Properties, s.DateField, s.IntervalSeconds, s.Enabled)
	if err != nil {
		return fmt.Errorf("create sync state: %w", err)
	}
	return nil
}

// AllSyncSteps lists every configured sync step.
func (q *Queries) AllSyncSteps(ctx context.Context) ([]SyncState, error) {
	query := "SELECT " + syncStateColumns + " FROM sync_state ORDER BY step_name"
	rows, err := q.exec().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("all sync steps: %w", err)
	}
	defer rows.Close()

	var out []SyncState
	for rows.Next() {
		s := SyncState{}
		if err := scanSyncState(rows, &s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSyncStateByName fetches one sync step by name.
func (q *Queries) GetSyncStateByName(ctx context.Context, stepName string) (*SyncState, error) {
	query := "SELECT " + syncStateColumns + " FROM sync_state WHERE step_name = $1"
	s := &SyncState{}
	if err := scanSyncState(q.exec().QueryRowContext(ctx, query, stepName), s); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return s, nil
}

// RecordSyncStepResult advances the watermark to tickStart and updates
// the running counters after a step execution. On success lastError is
// cleared; on failure watermark is NOT advanced — the next tick retries
// the same window.
func (q *Queries) RecordSyncStepResult(ctx context.Context, stepName string, success bool, tickStart time.Time, created, updated, errorCount int, lastError string) error {
	if success {
		const query = `
			UPDATE sync_state
			SET last_sync_at = $2, created_count = created_count + $3, updated_count = updated_count + $4,
			    error_count = error_count + $5, last_error = NULL, updated_at = now()
			WHERE step_name = $1
		`
		_, err := q.exec().ExecContext(ctx, query, stepName, tickStart, created, updated, errorCount)
		if err != nil {
			return fmt.Errorf("record sync step result: %w", err)
		}
		return nil
	}

	if len(lastError) > 500 {
		lastError = lastError[:500]
	}
	const query = `
		UPDATE sync_state
		SET error_count = error_count + 1, last_error = $2, updated_at = now()
		WHERE step_name = $1
	`
	_, err := q.exec().ExecContext(ctx, query, stepName, lastError)
	if err != nil {
		return fmt.Errorf("record sync step failure: %w", err)
	}
	return nil
}

// SetSyncStepEnabled toggles whether the scheduler's tick loop considers
// a step due; manual triggers bypass this flag.
func (q *Queries) SetSyncStepEnabled(ctx context.Context, stepName string, enabled bool) error {
	const query = `UPDATE sync_state SET enabled = $2, updated_at = now() WHERE step_name = $1`
	_, err := q.exec().ExecContext(ctx, query, stepName, enabled)
	if err != nil {
		return fmt.Errorf("set sync step enabled: %w", err)
	}
	return nil
}
