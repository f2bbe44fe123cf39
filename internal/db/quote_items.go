package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// QuoteItem is one priced Part line on a Quote. PartNumber/PartName are
// denormalized at add-time so a Quote's content survives the
// referenced Part being renamed later.
type QuoteItem struct {
	ID         int64
	QuoteID    int64
	PartID     int64
	PartNumber string
	PartName   string
	Quantity   float64
	UnitPrice  float64
	LineTotal  float64
	Notes      sql.NullString
	Audit
}

func scanQuoteItem(row rowScanner, i *QuoteItem) error {
	return row.Scan(
		&i.ID, &i.QuoteID, &i.PartID, &i.PartNumber, &i.PartName, &i.Quantity, &i.UnitPrice, &i.LineTotal, &i.Notes,
		&i.CreatedAt, &i.UpdatedAt, &i.CreatedBy, &i.UpdatedBy, &i.DeletedAt, &i.DeletedBy, &i.Version,
	)
}

const quoteItemColumns = `
	id, quote_id, part_id, part_number, part_name, quantity, unit_price, line_total, notes,
	created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
`

// CreateQuoteItem inserts a new QuoteItem line.
func (q *Queries) CreateQuoteItem(ctx context.Context, item *QuoteItem, actor string) (int64, error) {
	const query = `
		INSERT INTO quote_items (quote_id, part_id, part_number, part_name, quantity, unit_price, line_total, notes,
		                          created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		item.QuoteID, item.PartID, item.PartNumber, item.PartName, item.Quantity, item.UnitPrice, item.LineTotal, item.Notes, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create quote item: %w", err)
	}
	return id, nil
}

// GetQuoteItem fetches a non-deleted QuoteItem by internal id.
func (q *Queries) GetQuoteItem(ctx context.Context, id int64) (*QuoteItem, error) {
	query := "SELECT " + quoteItemColumns + " FROM quote_items WHERE id = $1 AND deleted_at IS NULL"
	item := &QuoteItem{}
	if err := scanQuoteItem(q.exec().QueryRowContext(ctx, query, id), item); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("quote item %d: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("get quote item: %w", err)
	}
	return item, nil
}

// ItemsForQuote lists every active QuoteItem on a Quote, ordered by id
// (insertion order).
func (q *Queries) ItemsForQuote(ctx context.Context, quoteID int64) ([]QuoteItem, error) {
	query := "SELECT " + quoteItemColumns + " FROM quote_items WHERE quote_id = $1 AND deleted_at IS NULL ORDER BY id"
	rows, err := q.exec().QueryContext(ctx, query, quoteID)
	if err != nil {
		return nil, fmt.Errorf("items for quote: %w", err)
	}
	defer rows.Close()

	var out []QuoteItem
	for rows.Next() {
		item := QuoteItem{}
		if err := scanQuoteItem(rows, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// UpdateQuoteItem overwrites quantity/price/notes for an existing line,
// recomputing line_total.
func (q *Queries) UpdateQuoteItem(ctx context.Context, id int64, quantity, unitPrice, lineTotal float64, notes sql.NullString, expectedVersion int64, actor string) error {
	const query = `
		UPDATE quote_items
		SET quantity = $2, unit_price = $3, line_total = $4, notes = $5,
		    updated_by = $6, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL AND version = $7
	`
	res, err := q.exec().ExecContext(ctx, query, id, quantity, unitPrice, lineTotal, notes, actor, expectedVersion)
	if err != nil {
		return fmt.Errorf("update quote item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrVersionConflict{Entity: "quote_item", ID: id}
	}
	return nil
}

// DeleteQuoteItem soft-deletes a QuoteItem line.
func (q *Queries) DeleteQuoteItem(ctx context.Context, id int64, actor string) error {
	const query = `
		UPDATE quote_items SET deleted_at = now(), deleted_by = $2, updated_by = $2, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query, id, actor)
	if err != nil {
		return fmt.Errorf("delete quote item: %w", err)
	}
	return nil
}

// CloneQuoteItems copies every active item from sourceQuoteID onto
// targetQuoteID as fresh rows (new ids, same content), used by
// QuoteEngine.Clone.
func (q *Queries) CloneQuoteItems(ctx context.Context, sourceQuoteID, targetQuoteID int64, actor string) error {
	items, err := q.ItemsForQuote(ctx, sourceQuoteID)
	if err != nil {
		return fmt.Errorf("clone quote items: %w", err)
	}
	for _, item := range items {
		clone := &QuoteItem{
			QuoteID:    targetQuoteID,
			PartID:     item.PartID,
			PartNumber: item.PartNumber,
			PartName:   item.PartName,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
			Notes:      item.Notes,
		}
		if _, err := q.CreateQuoteItem(ctx, clone, actor); err != nil {
			return fmt.Errorf("clone quote items: %w", err)
		}
	}
	return nil
}
