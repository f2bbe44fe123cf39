package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// MaterialInput is one Part's raw-material line item: a stock shape cut
// to the dimensions and quantity the routing consumes, resolved against
// a MaterialItem catalog entry by external item code.
type MaterialInput struct {
	ID              int64
	MaterialNumber  string
	PartID          int64
	Seq             int
	PriceCategoryID sql.NullInt64
	MaterialItemID  sql.NullInt64
	StockShape      sql.NullString
	StockDimensions json.RawMessage
	Quantity        float64
	Audit
}

// GetMaterialInputByPartAndItem finds a non-deleted MaterialInput by
// the (part_id, material_item_id) duplicate-detection key the
// material-inputs sync dispatcher uses.
func (q *Queries) GetMaterialInputByPartAndItem(ctx context.Context, partID, materialItemID int64) (*MaterialInput, error) {
	const query = `
		SELECT id, material_number, part_id, seq, price_category_id, material_item_id,
		       stock_shape, stock_dimensions, quantity,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM material_inputs
		WHERE part_id = $1 AND material_item_id = $2 AND deleted_at IS NULL
	`
	m := &MaterialInput{}
	err := q.exec().QueryRowContext(ctx, query, partID, materialItemID).Scan(
		&m.ID, &m.MaterialNumber, &m.PartID, &m.Seq, &m.PriceCategoryID, &m.MaterialItemID,
		&m.StockShape, &m.StockDimensions, &m.Quantity,
		&m.CreatedAt, &m.UpdatedAt, &m.CreatedBy, &m.UpdatedBy, &m.DeletedAt, &m.DeletedBy, &m.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get material input by part/item: %w", err)
	}
	return m, nil
}

// MaterialInputsForPart lists every active MaterialInput line item on a
// Part, ordered by seq.
func (q *Queries) MaterialInputsForPart(ctx context.Context, partID int64) ([]MaterialInput, error) {
	const query = `
		SELECT id, material_number, part_id, seq, price_category_id, material_item_id,
		       stock_shape, stock_dimensions, quantity,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM material_inputs
		WHERE part_id = $1 AND deleted_at IS NULL
		ORDER BY seq
	`
	rows, err := q.exec().QueryContext(ctx, query, partID)
	if err != nil {
		return nil, fmt.Errorf("material inputs for part: %w", err)
	}
	defer rows.Close()

	var out []MaterialInput
	for rows.Next() {
		m := MaterialInput{}
		if err := rows.Scan(
			&m.ID, &m.MaterialNumber, &m.PartID, &m.Seq, &m.PriceCategoryID, &m.MaterialItemID,
			&m.StockShape, &m.StockDimensions, &m.Quantity,
			&m.CreatedAt, &m.UpdatedAt, &m.CreatedBy, &m.UpdatedBy, &m.DeletedAt, &m.DeletedBy, &m.Version,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CreateMaterialInput inserts a new MaterialInput line item. number is
// the pre-allocated material_number from internal/ids.
func (q *Queries) CreateMaterialInput(ctx context.Context, number string, m *MaterialInput, actor string) (int64, error) {
	const query = `
		INSERT INTO material_inputs
			(material_number, part_id, seq, price_category_id, material_item_id,
			 stock_shape, stock_dimensions, quantity, created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		number, m.PartID, m.Seq, m.PriceCategoryID, m.MaterialItemID,
		m.StockShape, m.StockDimensions, m.Quantity, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create material input: %w", err)
	}
	return id, nil
}

// UpdateMaterialInput overwrites the mutable stock/quantity fields of an
// existing MaterialInput line item.
func (q *Queries) UpdateMaterialInput(ctx context.Context, id int64, m *MaterialInput, actor string) error {
	const query = `
		UPDATE material_inputs
		SET price_category_id = $2, material_item_id = $3, stock_shape = $4,
		    stock_dimensions = $5, quantity = $6, updated_by = $7, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query,
		id, m.PriceCategoryID, m.MaterialItemID, m.StockShape, m.StockDimensions, m.Quantity, actor,
	)
	if err != nil {
		return fmt.Errorf("update material input: %w", err)
	}
	return nil
}

// LinkMaterialToOperation records that operationID consumes quantity
// units of the materialID line item, upserting the consumed quantity on
// conflict.
func (q *Queries) LinkMaterialToOperation(ctx context.Context, operationID, materialID int64, quantity sql.NullFloat64) error {
	const query = `
		INSERT INTO material_input_operations (operation_id, material_input_id, consumed_quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (material_input_id, operation_id) DO UPDATE SET consumed_quantity = EXCLUDED.consumed_quantity
	`
	_, err := q.exec().ExecContext(ctx, query, operationID, materialID, quantity)
	if err != nil {
		return fmt.Errorf("link material to operation: %w", err)
	}
	return nil
}

// MaterialsForOperation lists every MaterialInput consumed by an
// Operation along with the consumed quantity.
func (q *Queries) MaterialsForOperation(ctx context.Context, operationID int64) ([]MaterialInput, []sql.NullFloat64, error) {
	const query = `
		SELECT mi.id, mi.material_number, mi.part_id, mi.seq, mi.price_category_id, mi.material_item_id,
		       mi.stock_shape, mi.stock_dimensions, mi.quantity,
		       mi.created_at, mi.updated_at, mi.created_by, mi.updated_by, mi.deleted_at, mi.deleted_by, mi.version,
		       mio.consumed_quantity
		FROM material_input_operations mio
		JOIN material_inputs mi ON mi.id = mio.material_input_id
		WHERE mio.operation_id = $1 AND mi.deleted_at IS NULL
	`
	rows, err := q.exec().QueryContext(ctx, query, operationID)
	if err != nil {
		return nil, nil, fmt.Errorf("materials for operation: %w", err)
	}
	defer rows.Close()

	var materials []MaterialInput
	var quantities []sql.NullFloat64
	for rows.Next() {
		m := MaterialInput{}
		var qty sql.NullFloat64
		if err := rows.Scan(
			&m.ID, &m.MaterialNumber, &m.PartID, &m.Seq, &m.PriceCategoryID, &m.MaterialItemID,
			&m.StockShape, &m.StockDimensions, &m.Quantity,
			&m.CreatedAt, &m.UpdatedAt, &m.CreatedBy, &m.UpdatedBy, &m.DeletedAt, &m.DeletedBy, &m.Version,
			&qty,
		); err != nil {
			return nil, nil, err
		}
		materials = append(materials, m)
		quantities = append(quantities, qty)
	}
	return materials, quantities, rows.Err()
}

// CountMaterialInputs returns the number of active MaterialInputs, used
// by NumberAllocator.
func (q *Queries) CountMaterialInputs(ctx context.Context) (int64, error) {
	var n int64
	err := q.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM material_inputs WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}
