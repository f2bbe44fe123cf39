package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Part is a manufactured item, externally keyed by ArticleNumber and
// internally by a sequentially-meaningless, randomly-allocated
// PartNumber.
type Part struct {
	ID              int64
	PartNumber      string
	ArticleNumber   string
	Name            string
	StockShape      sql.NullString
	StockDimensions json.RawMessage
	FileID          sql.NullInt64
	Audit
}

// CreatePart inserts a new Part.
func (q *Queries) CreatePart(ctx context.Context, p *Part, actor string) (int64, error) {
	const query = `
		INSERT INTO parts (part_number, article_number, name, stock_shape, stock_dimensions, file_id,
		                    created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		p.PartNumber, p.ArticleNumber, p.Name, p.StockShape, p.StockDimensions, p.FileID, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create part: %w", err)
	}
	return id, nil
}

// GetPartByArticleNumber finds a non-deleted Part by its external key.
func (q *Queries) GetPartByArticleNumber(ctx context.Context, articleNumber string) (*Part, error) {
	const query = `
		SELECT id, part_number, article_number, name, stock_shape, stock_dimensions, file_id,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM parts WHERE article_number = $1 AND deleted_at IS NULL
	`
	p := &Part{}
	err := q.exec().QueryRowContext(ctx, query, articleNumber).Scan(
		&p.ID, &p.PartNumber, &p.ArticleNumber, &p.Name, &p.StockShape, &p.StockDimensions, &p.FileID,
		&p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy, &p.DeletedAt, &p.DeletedBy, &p.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get part by article number: %w", err)
	}
	return p, nil
}

// GetPartsByArticleNumbers batch-resolves many article numbers to
// Parts in one round trip, used by sync dispatch for operations,
// production, and material input rows grouped by external item code.
func (q *Queries) GetPartsByArticleNumbers(ctx context.Context, articleNumbers []string) (map[string]*Part, error) {
	out := map[string]*Part{}
	if len(articleNumbers) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(articleNumbers))
	query := `
		SELECT id, part_number, article_number, name, stock_shape, stock_dimensions, file_id,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM parts WHERE deleted_at IS NULL AND article_number IN (
	`
	for i, a := range articleNumbers {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+1)
		args[i] = a
	}
	query += ")"

	rows, err := q.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get parts by article numbers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &Part{}
		if err := rows.Scan(
			&p.ID, &p.PartNumber, &p.ArticleNumber, &p.Name, &p.StockShape, &p.StockDimensions, &p.FileID,
			&p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy, &p.DeletedAt, &p.DeletedBy, &p.Version,
		); err != nil {
			return nil, err
		}
		out[p.ArticleNumber] = p
	}
	return out, rows.Err()
}

// ActiveParts lists every non-deleted Part, used by the document
// importer to build its article-number match lookup.
func (q *Queries) ActiveParts(ctx context.Context) ([]Part, error) {
	const query = `
		SELECT id, part_number, article_number, name, stock_shape, stock_dimensions, file_id,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM parts WHERE deleted_at IS NULL
	`
	rows, err := q.exec().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("active parts: %w", err)
	}
	defer rows.Close()

	var out []Part
	for rows.Next() {
		p := Part{}
		if err := rows.Scan(
			&p.ID, &p.PartNumber, &p.ArticleNumber, &p.Name, &p.StockShape, &p.StockDimensions, &p.FileID,
			&p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy, &p.DeletedAt, &p.DeletedBy, &p.Version,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPart fetches a non-deleted Part by internal id.
func (q *Queries) GetPart(ctx context.Context, id int64) (*Part, error) {
	const query = `
		SELECT id, part_number, article_number, name, stock_shape, stock_dimensions, file_id,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM parts WHERE id = $1 AND deleted_at IS NULL
	`
	p := &Part{}
	err := q.exec().QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.PartNumber, &p.ArticleNumber, &p.Name, &p.StockShape, &p.StockDimensions, &p.FileID,
		&p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy, &p.DeletedAt, &p.DeletedBy, &p.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("part %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get part: %w", err)
	}
	return p, nil
}

// UpdatePart applies an optimistic-concurrency-checked update. An empty
// name or stockShape and a nil stockDimensions leave the stored value
// untouched, matching the importer's "don't clobber user-entered data
// with blanks" update rule.
func (q *Queries) UpdatePart(ctx context.Context, id int64, name, stockShape string, stockDimensions json.RawMessage, expectedVersion int64, actor string) error {
	const query = `
		UPDATE parts
		SET name = COALESCE(NULLIF($2, ''), name),
		    stock_shape = COALESCE(NULLIF($3, ''), stock_shape),
		    stock_dimensions = COALESCE($4, stock_dimensions),
		    updated_by = $5,
		    updated_at = now(),
		    version = version + 1
		WHERE id = $1 AND deleted_at IS NULL AND version = $6
	`
	res, err := q.exec().ExecContext(ctx, query, id, name, stockShape, stockDimensions, actor, expectedVersion)
	if err != nil {
		return fmt.Errorf("update part: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrVersionConflict{Entity: "part", ID: id}
	}
	return nil
}

// SetPartFileID sets the primary drawing FileID on a Part, used by
// the document importer once a drawing is linked.
func (q *Queries) SetPartFileID(ctx context.Context, partID, fileID int64, actor string) error {
	const query = `
		UPDATE parts SET file_id = $2, updated_by = $3, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query, partID, fileID, actor)
	if err != nil {
		return fmt.Errorf("set part file id: %w", err)
	}
	return nil
}

// CountParts returns the number of active Parts, used by NumberAllocator.
func (q *Queries) CountParts(ctx context.Context) (int64, error) {
	var n int64
	err := q.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM parts WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}

// ExistingPartNumbers returns which of the candidate part numbers are
// already taken.
func (q *Queries) ExistingPartNumbers(ctx context.Context, candidates []int64) (map[int64]bool, error) {
	return existingNumbers(ctx, q, "parts", "part_number", candidates)
}

// existingNumbers is shared by every entity's number-uniqueness check:
// numbers are stored as strings but compared numerically.
func existingNumbers(ctx context.Context, q *Queries, table, column string, candidates []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	if len(candidates) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(candidates))
	query := fmt.Sprintf("SELECT %s FROM %s WHERE deleted_at IS NULL AND %s::bigint IN (", column, table, column)
	for i, c := range candidates {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+1)
		args[i] = c
	}
	query += ")"

	rows, err := q.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("existing numbers (%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		var n int64
		fmt.Sscanf(s, "%d", &n)
		out[n] = true
	}
	return out, rows.Err()
}
