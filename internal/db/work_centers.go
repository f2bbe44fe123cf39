package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WorkCenter is a machine / work center, identified externally by its
// decimal work_center_number (allocated sequentially by internal/ids).
type WorkCenter struct {
	ID               int64   `json:"id"`
	WorkCenterNumber string  `json:"work_center_number"`
	Name             string  `json:"name"`
	WorkCenterType   string  `json:"work_center_type"`
	RateSetup        float64 `json:"rate_setup"`
	RateOperation    float64 `json:"rate_operation"`
	RateMachine      float64 `json:"rate_machine"`
	RateLabor        float64 `json:"rate_labor"`
	Audit
}

// GetWorkCenter fetches a non-deleted WorkCenter by internal id,
// including its billing rates for cost calculation.
func (q *Queries) GetWorkCenter(ctx context.Context, id int64) (*WorkCenter, error) {
	const query = `
		SELECT id, work_center_number, name, work_center_type, rate_setup, rate_operation, rate_machine, rate_labor,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM work_centers WHERE id = $1 AND deleted_at IS NULL
	`
	wc := &WorkCenter{}
	err := q.exec().QueryRowContext(ctx, query, id).Scan(
		&wc.ID, &wc.WorkCenterNumber, &wc.Name, &wc.WorkCenterType, &wc.RateSetup, &wc.RateOperation, &wc.RateMachine, &wc.RateLabor,
		&wc.CreatedAt, &wc.UpdatedAt, &wc.CreatedBy, &wc.UpdatedBy, &wc.DeletedAt, &wc.DeletedBy, &wc.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("work center %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get work center: %w", err)
	}
	return wc, nil
}

// WorkCenterIDByNumber resolves a Gestima work_center_number to its
// internal id.
func (q *Queries) WorkCenterIDByNumber(ctx context.Context, number string) (int64, bool, error) {
	const query = `SELECT id FROM work_centers WHERE work_center_number = $1 AND deleted_at IS NULL`
	var id int64
	err := q.exec().QueryRowContext(ctx, query, number).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("work center by number: %w", err)
	}
	return id, true, nil
}

// WorkCenterIDsByNumbers batch-resolves many numbers in one round trip,
// used by the resolver's cache warmup.
func (q *Queries) WorkCenterIDsByNumbers(ctx context.Context, numbers []string) (map[string]int64, error) {
	out := map[string]int64{}
	if len(numbers) == 0 {
		return out, nil
	}

	placeholders := make([]interface{}, len(numbers))
	query := `SELECT id, work_center_number FROM work_centers WHERE deleted_at IS NULL AND work_center_number IN (`
	for i, n := range numbers {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+1)
		placeholders[i] = n
	}
	query += ")"

	rows, err := q.exec().QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("work center ids by numbers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var number string
		if err := rows.Scan(&id, &number); err != nil {
			return nil, err
		}
		out[number] = id
	}
	return out, rows.Err()
}

// CreateWorkCenter inserts a new WorkCenter row with a pre-allocated
// sequential number (see internal/ids.GenerateWorkCenterNumber).
func (q *Queries) CreateWorkCenter(ctx context.Context, wc *WorkCenter, actor string) (int64, error) {
	const query = `
		INSERT INTO work_centers (work_center_number, name, work_center_type, rate_setup, rate_operation, rate_machine, rate_labor, created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		wc.WorkCenterNumber, wc.Name, wc.WorkCenterType, wc.RateSetup, wc.RateOperation, wc.RateMachine, wc.RateLabor, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create work center: %w", err)
	}
	return id, nil
}
