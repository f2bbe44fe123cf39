package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Quote states, matching the QuoteEngine's state machine.
const (
	QuoteStatusDraft    = "draft"
	QuoteStatusSent     = "sent"
	QuoteStatusApproved = "approved"
	QuoteStatusRejected = "rejected"
)

// Quote is a priced proposal sent to a Partner. Once sent, pricing is
// frozen into SnapshotData and the live item rows are no longer the
// source of truth for what was actually quoted.
type Quote struct {
	ID              int64
	QuoteNumber     string
	PartnerID       int64
	Title           string
	Status          string
	DiscountPercent float64
	TaxPercent      float64
	Subtotal        float64
	DiscountAmount  float64
	Taxable         float64
	TaxAmount       float64
	Total           float64
	SnapshotData    json.RawMessage
	SentAt          sql.NullTime
	ApprovedAt      sql.NullTime
	RejectedAt      sql.NullTime
	Audit
}

func scanQuote(row rowScanner, q *Quote) error {
	return row.Scan(
		&q.ID, &q.QuoteNumber, &q.PartnerID, &q.Title, &q.Status, &q.DiscountPercent, &q.TaxPercent,
		&q.Subtotal, &q.DiscountAmount, &q.Taxable, &q.TaxAmount, &q.Total, &q.SnapshotData,
		&q.SentAt, &q.ApprovedAt, &q.RejectedAt,
		&q.CreatedAt, &q.UpdatedAt, &q.CreatedBy, &q.UpdatedBy, &q.DeletedAt, &q.DeletedBy, &q.Version,
	)
}

const quoteColumns = `
	id, quote_number, partner_id, title, status, discount_percent, tax_percent,
	subtotal, discount_amount, taxable, tax_amount, total, snapshot_data,
	sent_at, approved_at, rejected_at,
	created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
`

// CreateQuote inserts a new draft Quote.
func (q *Queries) CreateQuote(ctx context.Context, quote *Quote, actor string) (int64, error) {
	const query = `
		INSERT INTO quotes (quote_number, partner_id, title, status, discount_percent, tax_percent, created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		quote.QuoteNumber, quote.PartnerID, quote.Title, quote.Status, quote.DiscountPercent, quote.TaxPercent, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create quote: %w", err)
	}
	return id, nil
}

// GetQuote fetches a non-deleted Quote by internal id.
func (q *Queries) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	query := "SELECT " + quoteColumns + " FROM quotes WHERE id = $1 AND deleted_at IS NULL"
	quote := &Quote{}
	if err := scanQuote(q.exec().QueryRowContext(ctx, query, id), quote); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("quote %d: %w", id, sql.ErrNoRows)
		}
		return nil, fmt.Errorf("get quote: %w", err)
	}
	return quote, nil
}

// UpdateQuoteTotals persists the recomputed pricing invariant fields,
// version-checked.
func (q *Queries) UpdateQuoteTotals(ctx context.Context, id int64, subtotal, discountAmount, taxable, taxAmount, total float64, expectedVersion int64, actor string) error {
	const query = `
		UPDATE quotes
		SET subtotal = $2, discount_amount = $3, taxable = $4, tax_amount = $5, total = $6,
		    updated_by = $7, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL AND version = $8
	`
	res, err := q.exec().ExecContext(ctx, query, id, subtotal, discountAmount, taxable, taxAmount, total, actor, expectedVersion)
	if err != nil {
		return fmt.Errorf("update quote totals: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrVersionConflict{Entity: "quote", ID: id}
	}
	return nil
}

// UpdateQuoteHeader updates the mutable header fields of a draft Quote
// (title, discount and tax percentages) without touching totals.
func (q *Queries) UpdateQuoteHeader(ctx context.Context, id int64, title string, discountPercent, taxPercent float64, expectedVersion int64, actor string) error {
	const query = `
		UPDATE quotes
		SET title = $2, discount_percent = $3, tax_percent = $4,
		    updated_by = $5, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL AND version = $6
	`
	res, err := q.exec().ExecContext(ctx, query, id, title, discountPercent, taxPercent, actor, expectedVersion)
	if err != nil {
		return fmt.Errorf("update quote header: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrVersionConflict{Entity: "quote", ID: id}
	}
	return nil
}

// TransitionQuote moves a Quote to a new status, stamping the
// corresponding timestamp column and (for "sent") persisting the
// immutable snapshot.
func (q *Queries) TransitionQuote(ctx context.Context, id int64, status string, snapshot json.RawMessage, at time.Time, expectedVersion int64, actor string) error {
	var timestampCol string
	switch status {
	case QuoteStatusSent:
		timestampCol = "sent_at"
	case QuoteStatusApproved:
		timestampCol = "approved_at"
	case QuoteStatusRejected:
		timestampCol = "rejected_at"
	default:
		return fmt.Errorf("db: invalid quote transition target %q", status)
	}

	query := fmt.Sprintf(`
		UPDATE quotes
		SET status = $2, %s = $3, snapshot_data = COALESCE($4, snapshot_data),
		    updated_by = $5, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL AND version = $6
	`, timestampCol)
	res, err := q.exec().ExecContext(ctx, query, id, status, at, snapshot, actor, expectedVersion)
	if err != nil {
		return fmt.Errorf("transition quote: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrVersionConflict{Entity: "quote", ID: id}
	}
	return nil
}

// DeleteQuote soft-deletes a Quote. Callers must enforce the
// draft/rejected-only delete policy before calling this.
func (q *Queries) DeleteQuote(ctx context.Context, id int64, actor string) error {
	const query = `
		UPDATE quotes SET deleted_at = now(), deleted_by = $2, updated_by = $2, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL
	`
	_, err := q.exec().ExecContext(ctx, query, id, actor)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return nil
}

// CountQuotes returns the number of active Quotes, used by NumberAllocator.
func (q *Queries) CountQuotes(ctx context.Context) (int64, error) {
	var n int64
	err := q.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM quotes WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}
