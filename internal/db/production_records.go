package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProductionRecord is append-only telemetry merged by duplicate key
// (part_id, infor_order_number, operation_seq).
type ProductionRecord struct {
	ID                      int64
	PartID                  int64
	InforOrderNumber        string
	OperationSeq            int
	WorkCenterID            sql.NullInt64
	PlannedSetupMinutes     sql.NullFloat64
	PlannedOperationMinutes sql.NullFloat64
	ActualSetupMinutes      sql.NullFloat64
	ActualOperationMinutes  sql.NullFloat64
	ManningCoefficient      sql.NullFloat64 // planned: rated machine hours / rated labor hours
	ActualManningCoefficient sql.NullFloat64 // actual: reported labor hours / reported machine hours, once the job reports actuals
	RecordDate              sql.NullTime
	Audit
}

// GetProductionRecord finds a record by its duplicate-detection key.
func (q *Queries) GetProductionRecord(ctx context.Context, partID int64, orderNumber string, seq int) (*ProductionRecord, error) {
	const query = `
		SELECT id, part_id, infor_order_number, operation_seq, work_center_id,
		       planned_setup_minutes, planned_operation_minutes,
		       actual_setup_minutes, actual_operation_minutes, manning_coefficient,
		       actual_manning_coefficient, record_date,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM production_records
		WHERE part_id = $1 AND infor_order_number = $2 AND operation_seq = $3 AND deleted_at IS NULL
	`
	r := &ProductionRecord{}
	err := q.exec().QueryRowContext(ctx, query, partID, orderNumber, seq).Scan(
		&r.ID, &r.PartID, &r.InforOrderNumber, &r.OperationSeq, &r.WorkCenterID,
		&r.PlannedSetupMinutes, &r.PlannedOperationMinutes,
		&r.ActualSetupMinutes, &r.ActualOperationMinutes, &r.ManningCoefficient,
		&r.ActualManningCoefficient, &r.RecordDate,
		&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy, &r.DeletedAt, &r.DeletedBy, &r.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get production record: %w", err)
	}
	return r, nil
}

// CreateProductionRecord inserts a new ProductionRecord.
func (q *Queries) CreateProductionRecord(ctx context.Context, r *ProductionRecord, actor string) (int64, error) {
	const query = `
		INSERT INTO production_records
			(part_id, infor_order_number, operation_seq, work_center_id,
			 planned_setup_minutes, planned_operation_minutes,
			 actual_setup_minutes, actual_operation_minutes, manning_coefficient,
			 actual_manning_coefficient, record_date,
			 created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		r.PartID, r.InforOrderNumber, r.OperationSeq, r.WorkCenterID,
		r.PlannedSetupMinutes, r.PlannedOperationMinutes,
		r.ActualSetupMinutes, r.ActualOperationMinutes, r.ManningCoefficient,
		r.ActualManningCoefficient, r.RecordDate, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create production record: %w", err)
	}
	return id, nil
}

// UpdateProductionRecord overwrites an existing record's telemetry.
func (q *Queries) UpdateProductionRecord(ctx context.Context, id int64, r *ProductionRecord, actor string) error {
	const query = `
		UPDATE production_records
		SET work_center_id = $2, planned_setup_minutes = $3, planned_operation_minutes = $4,
		    actual_setup_minutes = $5, actual_operation_minutes = $6, manning_coefficient = $7,
		    actual_manning_coefficient = $8, record_date = $9, updated_by = $10, updated_at = now(),
		    version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query,
		id, r.WorkCenterID, r.PlannedSetupMinutes, r.PlannedOperationMinutes,
		r.ActualSetupMinutes, r.ActualOperationMinutes, r.ManningCoefficient,
		r.ActualManningCoefficient, r.RecordDate, actor,
	)
	if err != nil {
		return fmt.Errorf("update production record: %w", err)
	}
	return nil
}

// MaxSyncedRecordDate is unused by watermark logic directly (the
// watermark is tick-start time, not a data-derived max) but is kept
// available for diagnostics/backfill tooling.
func (q *Queries) MaxSyncedRecordDate(ctx context.Context, partID int64) (time.Time, bool, error) {
	var t *time.Time
	err := q.exec().QueryRowContext(ctx,
		`SELECT MAX(record_date) FROM production_records WHERE part_id = $1 AND deleted_at IS NULL`, partID,
	).Scan(&t)
	if err != nil {
		return time.Time{}, false, err
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return *t, true, nil
}
