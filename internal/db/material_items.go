package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MaterialItem is one catalog entry of stock material (bar, plate,
// tube...) that a MaterialInput line item resolves against by code.
// The material-inputs importer never creates these — a code with no
// catalog match is an error, not an auto-create.
type MaterialItem struct {
	ID                int64
	Code              string
	Shape             sql.NullString
	Diameter          sql.NullFloat64
	Width             sql.NullFloat64
	Thickness         sql.NullFloat64
	WallThickness     sql.NullFloat64
	StandardLength    sql.NullFloat64
	PriceCategoryID   sql.NullInt64
	Audit
}

// GetMaterialItemByCode finds a non-deleted MaterialItem by its
// external catalog code.
func (q *Queries) GetMaterialItemByCode(ctx context.Context, code string) (*MaterialItem, error) {
	const query = `
		SELECT id, code, shape, diameter, width, thickness, wall_thickness, standard_length, price_category_id,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM material_items WHERE code = $1 AND deleted_at IS NULL
	`
	m := &MaterialItem{}
	err := q.exec().QueryRowContext(ctx, query, code).Scan(
		&m.ID, &m.Code, &m.Shape, &m.Diameter, &m.Width, &m.Thickness, &m.WallThickness, &m.StandardLength, &m.PriceCategoryID,
		&m.CreatedAt, &m.UpdatedAt, &m.CreatedBy, &m.UpdatedBy, &m.DeletedAt, &m.DeletedBy, &m.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get material item by code: %w", err)
	}
	return m, nil
}

// MaterialItemsByCodes batch-resolves many catalog codes in one round
// trip, used by the material-inputs sync dispatcher's per-batch cache.
func (q *Queries) MaterialItemsByCodes(ctx context.Context, codes []string) (map[string]*MaterialItem, error) {
	out := map[string]*MaterialItem{}
	if len(codes) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(codes))
	query := `
		SELECT id, code, shape, diameter, width, thickness, wall_thickness, standard_length, price_category_id,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM material_items WHERE deleted_at IS NULL AND code IN (
	`
	for i, c := range codes {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+1)
		args[i] = c
	}
	query += ")"

	rows, err := q.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("material items by codes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m := &MaterialItem{}
		if err := rows.Scan(
			&m.ID, &m.Code, &m.Shape, &m.Diameter, &m.Width, &m.Thickness, &m.WallThickness, &m.StandardLength, &m.PriceCategoryID,
			&m.CreatedAt, &m.UpdatedAt, &m.CreatedBy, &m.UpdatedBy, &m.DeletedAt, &m.DeletedBy, &m.Version,
		); err != nil {
			return nil, err
		}
		out[m.Code] = m
	}
	return out, rows.Err()
}

// CreateMaterialItem inserts a new MaterialItem catalog entry.
func (q *Queries) CreateMaterialItem(ctx context.Context, m *MaterialItem, actor string) (int64, error) {
	const query = `
		INSERT INTO material_items (code, shape, diameter, width, thickness, wall_thickness, standard_length, price_category_id,
		                             created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		m.Code, m.Shape, m.Diameter, m.Width, m.Thickness, m.WallThickness, m.StandardLength, m.PriceCategoryID, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create material item: %w", err)
	}
	return id, nil
}

// UpdateMaterialItem overwrites an existing MaterialItem's catalog data.
func (q *Queries) UpdateMaterialItem(ctx context.Context, id int64, m *MaterialItem, actor string) error {
	const query = `
		UPDATE material_items
		SET shape = $2, diameter = $3, width = $4, thickness = $5, wall_thickness = $6,
		    standard_length = $7, price_category_id = $8, updated_by = $9, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query,
		id, m.Shape, m.Diameter, m.Width, m.Thickness, m.WallThickness, m.StandardLength, m.PriceCategoryID, actor,
	)
	if err != nil {
		return fmt.Errorf("update material item: %w", err)
	}
	return nil
}

// CountMaterialItems returns the number of active MaterialItems.
func (q *Queries) CountMaterialItems(ctx context.Context) (int64, error) {
	var n int64
	err := q.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM material_items WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}
