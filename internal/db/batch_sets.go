package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BatchSet groups a set of Batches (one per quantity break) for a Part,
// optionally frozen together as a priced snapshot a Quote can draw from.
type BatchSet struct {
	ID        int64
	SetNumber string
	PartID    sql.NullInt64
	Name      string
	Status    string // draft, final
	IsFrozen  bool
	FrozenAt  sql.NullTime
	FrozenBy  sql.NullString
	Audit
}

// CreateBatchSet inserts a new BatchSet.
func (q *Queries) CreateBatchSet(ctx context.Context, bs *BatchSet, actor string) (int64, error) {
	const query = `
		INSERT INTO batch_sets (set_number, part_id, name, status, created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $5, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query, bs.SetNumber, bs.PartID, bs.Name, bs.Status, actor).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create batch set: %w", err)
	}
	return id, nil
}

// GetBatchSet fetches a non-deleted BatchSet by internal id.
func (q *Queries) GetBatchSet(ctx context.Context, id int64) (*BatchSet, error) {
	const query = `
		SELECT id, set_number, part_id, name, status, is_frozen, frozen_at, frozen_by,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM batch_sets WHERE id = $1 AND deleted_at IS NULL
	`
	bs := &BatchSet{}
	err := q.exec().QueryRowContext(ctx, query, id).Scan(
		&bs.ID, &bs.SetNumber, &bs.PartID, &bs.Name, &bs.Status, &bs.IsFrozen, &bs.FrozenAt, &bs.FrozenBy,
		&bs.CreatedAt, &bs.UpdatedAt, &bs.CreatedBy, &bs.UpdatedBy, &bs.DeletedAt, &bs.DeletedBy, &bs.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch set %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch set: %w", err)
	}
	return bs, nil
}

// LatestFrozenBatchSetForPart returns the most recently updated frozen
// BatchSet for a Part, the QuoteEngine's auto-pricing source.
func (q *Queries) LatestFrozenBatchSetForPart(ctx context.Context, partID int64) (*BatchSet, error) {
	const query = `
		SELECT id, set_number, part_id, name, status, is_frozen, frozen_at, frozen_by,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM batch_sets
		WHERE part_id = $1 AND is_frozen = true AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT 1
	`
	bs := &BatchSet{}
	err := q.exec().QueryRowContext(ctx, query, partID).Scan(
		&bs.ID, &bs.SetNumber, &bs.PartID, &bs.Name, &bs.Status, &bs.IsFrozen, &bs.FrozenAt, &bs.FrozenBy,
		&bs.CreatedAt, &bs.UpdatedAt, &bs.CreatedBy, &bs.UpdatedBy, &bs.DeletedAt, &bs.DeletedBy, &bs.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest frozen batch set for part: %w", err)
	}
	return bs, nil
}

// FreezeBatchSet marks a BatchSet (and, by convention, its Batches) as
// frozen, locking its pricing for quoting.
func (q *Queries) FreezeBatchSet(ctx context.Context, id int64, frozenAt time.Time, actor string) error {
	const query = `
		UPDATE batch_sets
		SET is_frozen = true, frozen_at = $2, frozen_by = $3, status = 'final',
		    updated_by = $3, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query, id, frozenAt, actor)
	if err != nil {
		return fmt.Errorf("freeze batch set: %w", err)
	}
	return nil
}

// CountBatchSets returns the number of active BatchSets, used by NumberAllocator.
func (q *Queries) CountBatchSets(ctx context.Context) (int64, error) {
	var n int64
	err := q.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_sets WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}
