package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Operation is one routing step on a Part.
type Operation struct {
	ID                     int64
	PartID                 int64
	Seq                    int
	WorkCenterID           sql.NullInt64
	SetupMinutes           float64
	OperationMinutes       float64
	ManningCoefficient     float64
	UtilizationCoefficient float64
	IsCooperation          bool
	Audit
}

// GetOperationByPartSeq finds a non-deleted Operation by its natural
// key, the duplicate-detection field for JobRoutingImporter.
func (q *Queries) GetOperationByPartSeq(ctx context.Context, partID int64, seq int) (*Operation, error) {
	const query = `
		SELECT id, part_id, seq, work_center_id, setup_minutes, operation_minutes,
		       manning_coefficient, utilization_coefficient, is_cooperation,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM operations WHERE part_id = $1 AND seq = $2 AND deleted_at IS NULL
	`
	o := &Operation{}
	err := q.exec().QueryRowContext(ctx, query, partID, seq).Scan(
		&o.ID, &o.PartID, &o.Seq, &o.WorkCenterID, &o.SetupMinutes, &o.OperationMinutes,
		&o.ManningCoefficient, &o.UtilizationCoefficient, &o.IsCooperation,
		&o.CreatedAt, &o.UpdatedAt, &o.CreatedBy, &o.UpdatedBy, &o.DeletedAt, &o.DeletedBy, &o.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get operation by part/seq: %w", err)
	}
	return o, nil
}

// OperationsByPartSeqs batch-resolves (part_id, seq) pairs to
// Operations for the material-inputs importer's link cache.
func (q *Queries) OperationsByPartSeqs(ctx context.Context, partIDs []int64) (map[int64]map[int]int64, error) {
	out := map[int64]map[int]int64{}
	if len(partIDs) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(partIDs))
	query := `SELECT id, part_id, seq FROM operations WHERE deleted_at IS NULL AND part_id IN (`
	for i, id := range partIDs {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query += ")"

	rows, err := q.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("operations by part seqs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, partID int64
		var seq int
		if err := rows.Scan(&id, &partID, &seq); err != nil {
			return nil, err
		}
		if out[partID] == nil {
			out[partID] = map[int]int64{}
		}
		out[partID][seq] = id
	}
	return out, rows.Err()
}

// CreateOperation inserts a new Operation.
func (q *Queries) CreateOperation(ctx context.Context, o *Operation, actor string) (int64, error) {
	const query = `
		INSERT INTO operations (part_id, seq, work_center_id, setup_minutes, operation_minutes,
		                         manning_coefficient, utilization_coefficient, is_cooperation,
		                         created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		o.PartID, o.Seq, o.WorkCenterID, o.SetupMinutes, o.OperationMinutes,
		o.ManningCoefficient, o.UtilizationCoefficient, o.IsCooperation, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create operation: %w", err)
	}
	return id, nil
}

// UpdateOperation overwrites an existing Operation's routing data.
func (q *Queries) UpdateOperation(ctx context.Context, id int64, o *Operation, actor string) error {
	const query = `
		UPDATE operations
		SET work_center_id = $2, setup_minutes = $3, operation_minutes = $4,
		    manning_coefficient = $5, utilization_coefficient = $6, is_cooperation = $7,
		    updated_by = $8, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query,
		id, o.WorkCenterID, o.SetupMinutes, o.OperationMinutes,
		o.ManningCoefficient, o.UtilizationCoefficient, o.IsCooperation, actor,
	)
	if err != nil {
		return fmt.Errorf("update operation: %w", err)
	}
	return nil
}
