package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Batch is one costed quantity break for a Part: the material, labor,
// and overhead cost to produce Quantity units, optionally frozen with a
// snapshot a Quote can price from.
type Batch struct {
	ID                int64
	BatchNumber       string
	PartID            int64
	BatchSetID        sql.NullInt64
	Quantity          float64
	MaterialCost      float64
	LaborCost         float64
	OverheadCost      float64
	UnitCost          float64
	UnitPriceFrozen   sql.NullFloat64
	TotalPriceFrozen  sql.NullFloat64
	IsFrozen          bool
	FrozenAt          sql.NullTime
	FrozenBy          sql.NullString
	SnapshotData      json.RawMessage
	Audit
}

// CreateBatch inserts a new Batch.
func (q *Queries) CreateBatch(ctx context.Context, b *Batch, actor string) (int64, error) {
	const query = `
		INSERT INTO batches (batch_number, part_id, batch_set_id, quantity, material_cost, labor_cost, overhead_cost, unit_cost,
		                      created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		b.BatchNumber, b.PartID, b.BatchSetID, b.Quantity, b.MaterialCost, b.LaborCost, b.OverheadCost, b.UnitCost, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create batch: %w", err)
	}
	return id, nil
}

// GetBatch fetches a non-deleted Batch by internal id.
func (q *Queries) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	const query = `
		SELECT id, batch_number, part_id, batch_set_id, quantity, material_cost, labor_cost, overhead_cost, unit_cost,
		       unit_price_frozen, total_price_frozen, is_frozen, frozen_at, frozen_by, snapshot_data,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM batches WHERE id = $1 AND deleted_at IS NULL
	`
	b := &Batch{}
	if err := scanBatch(q.exec().QueryRowContext(ctx, query, id), b); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %d: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// BatchesInSet lists every active Batch belonging to a BatchSet, ordered
// by ascending quantity, the order FindBestBatch scans in.
func (q *Queries) BatchesInSet(ctx context.Context, batchSetID int64) ([]Batch, error) {
	const query = `
		SELECT id, batch_number, part_id, batch_set_id, quantity, material_cost, labor_cost, overhead_cost, unit_cost,
		       unit_price_frozen, total_price_frozen, is_frozen, frozen_at, frozen_by, snapshot_data,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM batches WHERE batch_set_id = $1 AND deleted_at IS NULL
		ORDER BY quantity ASC
	`
	rows, err := q.exec().QueryContext(ctx, query, batchSetID)
	if err != nil {
		return nil, fmt.Errorf("batches in set: %w", err)
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b := Batch{}
		if err := scanBatchRows(rows, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// FreezeBatch snapshots a Batch's pricing, locking it for quoting.
func (q *Queries) FreezeBatch(ctx context.Context, id int64, unitPrice, totalPrice float64, snapshot json.RawMessage, frozenAt time.Time, actor string) error {
	const query = `
		UPDATE batches
		SET is_frozen = true, frozen_at = $2, frozen_by = $3, unit_price_frozen = $4, total_price_frozen = $5,
		    snapshot_data = $6, updated_by = $3, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query, id, frozenAt, actor, unitPrice, totalPrice, snapshot)
	if err != nil {
		return fmt.Errorf("freeze batch: %w", err)
	}
	return nil
}

// CountBatches returns the number of active Batches, used by NumberAllocator.
func (q *Queries) CountBatches(ctx context.Context) (int64, error) {
	var n int64
	err := q.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner, b *Batch) error {
	return row.Scan(
		&b.ID, &b.BatchNumber, &b.PartID, &b.BatchSetID, &b.Quantity, &b.MaterialCost, &b.LaborCost, &b.OverheadCost, &b.UnitCost,
		&b.UnitPriceFrozen, &b.TotalPriceFrozen, &b.IsFrozen, &b.FrozenAt, &b.FrozenBy, &b.SnapshotData,
		&b.CreatedAt, &b.UpdatedAt, &b.CreatedBy, &b.UpdatedBy, &b.DeletedAt, &b.DeletedBy, &b.Version,
	)
}

func scanBatchRows(rows *sql.Rows, b *Batch) error {
	return scanBatch(rows, b)
}
