// Package quote implements the quote lifecycle state machine: draft
// editing, edit-lock, auto-pricing from frozen pricing sets, snapshot
// freezing on send, clone, and idempotent totals recomputation with
// invariant checks.
package quote

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/ids"
)

// invariantTolerance is the rounding quantum totals checks tolerate: 1 cent.
var invariantTolerance = decimal.NewFromFloat(0.01)

// ErrInvalidStateTransition is returned for a transition the state
// machine doesn't allow from the Quote's current status.
var ErrInvalidStateTransition = errors.New("quote: invalid state transition")

// ErrEditLocked is returned by any mutating operation against a
// non-draft Quote or its items.
var ErrEditLocked = errors.New("quote: edit locked")

// ErrNoFrozenPricing is returned when AddItem can't find a frozen
// BatchSet to price from.
var ErrNoFrozenPricing = errors.New("quote: no frozen pricing available for part")

// ErrInvariantViolation is returned when recomputed totals don't match
// what's about to be persisted; the caller must abort its transaction.
var ErrInvariantViolation = errors.New("quote: invariant violation")

// ErrDeleteNotAllowed is returned when deleting a Quote whose status
// holds a legally binding snapshot (sent or approved).
var ErrDeleteNotAllowed = errors.New("quote: delete not allowed for this status, legally binding snapshot exists")

// Engine drives the Quote/QuoteItem state machine.
type Engine struct {
	queries   *db.Queries
	allocator *ids.Allocator
}

// New builds an Engine.
func New(queries *db.Queries, allocator *ids.Allocator) *Engine {
	return &Engine{queries: queries, allocator: allocator}
}

// CreateDraft creates a new draft Quote for a Partner.
func (e *Engine) CreateDraft(ctx context.Context, partnerID int64, title string, discountPercent, taxPercent float64, actor string) (*db.Quote, error) {
	num, err := e.allocator.Generate(ctx, ids.Quote)
	if err != nil {
		return nil, fmt.Errorf("allocate quote number: %w", err)
	}

	quote := &db.Quote{
		QuoteNumber:     fmt.Sprintf("%d", num),
		PartnerID:       partnerID,
		Title:           title,
		Status:          db.QuoteStatusDraft,
		DiscountPercent: discountPercent,
		TaxPercent:      taxPercent,
	}
	id, err := e.queries.CreateQuote(ctx, quote, actor)
	if err != nil {
		return nil, fmt.Errorf("create draft quote: %w", err)
	}
	quote.ID = id
	quote.Version = 1
	return quote, nil
}

// checkEditLock refuses any mutation against a non-draft Quote.
func checkEditLock(q *db.Quote) error {
	if q.Status != db.QuoteStatusDraft {
		return fmt.Errorf("%w: quote %s is %s", ErrEditLocked, q.QuoteNumber, q.Status)
	}
	return nil
}

// AutoPrice locates the unit price for a Part from its most recently
// updated frozen BatchSet, taking the first Batch (by ascending
// quantity) within it. UnitPriceFrozen is preferred over UnitCost when
// present.
func (e *Engine) AutoPrice(ctx context.Context, partID int64) (decimal.Decimal, error) {
	batchSet, err := e.queries.LatestFrozenBatchSetForPart(ctx, partID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("auto price: %w", err)
	}
	if batchSet == nil {
		return decimal.Zero, fmt.Errorf("%w: part %d", ErrNoFrozenPricing, partID)
	}

	batches, err := e.queries.BatchesInSet(ctx, batchSet.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("auto price: %w", err)
	}
	if len(batches) == 0 {
		return decimal.Zero, fmt.Errorf("%w: part %d batch set %s has no batches", ErrNoFrozenPricing, partID, batchSet.SetNumber)
	}

	batch := batches[0]
	if batch.UnitPriceFrozen.Valid {
		return decimal.NewFromFloat(batch.UnitPriceFrozen.Float64), nil
	}
	return decimal.NewFromFloat(batch.UnitCost), nil
}

// FindBestBatch implements the best-batch matching algorithm used when
// a quote request line carries a requested quantity: an exact match on
// quantity, else the largest batch below it, else nothing suitable.
func (e *Engine) FindBestBatch(ctx context.Context, batchSetID int64, quantity float64) (*db.Batch, string, []string, error) {
	batches, err := e.queries.BatchesInSet(ctx, batchSetID)
	if err != nil {
		return nil, "", nil, fmt.Errorf("find best batch: %w", err)
	}

	for i := range batches {
		if batches[i].Quantity == quantity {
			return &batches[i], "exact", nil, nil
		}
	}

	var best *db.Batch
	for i := range batches {
		if batches[i].Quantity < quantity {
			if best == nil || batches[i].Quantity > best.Quantity {
				best = &batches[i]
			}
		}
	}
	if best != nil {
		return best, "lower", []string{fmt.Sprintf("no exact batch for quantity %v, using next-lower quantity %v", quantity, best.Quantity)}, nil
	}

	available := make([]float64, 0, len(batches))
	for _, b := range batches {
		available = append(available, b.Quantity)
	}
	return nil, "missing", []string{fmt.Sprintf("no suitable batch for quantity %v; available quantities: %v", quantity, available)}, nil
}

// AddItem prices and appends a new QuoteItem to a draft Quote, then
// recomputes totals.
func (e *Engine) AddItem(ctx context.Context, quoteID, partID int64, quantity float64, notes string, actor string) (*db.QuoteItem, error) {
	quote, err := e.queries.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	if err := checkEditLock(quote); err != nil {
		return nil, err
	}

	part, err := e.queries.GetPart(ctx, partID)
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}

	unitPrice, err := e.AutoPrice(ctx, partID)
	if err != nil {
		return nil, err
	}

	lineTotal := unitPrice.Mul(decimal.NewFromFloat(quantity))

	item := &db.QuoteItem{
		QuoteID:    quoteID,
		PartID:     partID,
		PartNumber: part.PartNumber,
		PartName:   part.Name,
		Quantity:   quantity,
		UnitPrice:  toFloat(unitPrice),
		LineTotal:  toFloat(lineTotal),
		Notes:      sql.NullString{String: notes, Valid: notes != ""},
	}
	id, err := e.queries.CreateQuoteItem(ctx, item, actor)
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}
	item.ID = id

	if err := e.RecomputeTotals(ctx, quoteID, actor); err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem overwrites a draft Quote's line item quantity/price/notes
// and recomputes totals.
func (e *Engine) UpdateItem(ctx context.Context, itemID int64, quantity, unitPrice float64, notes string, expectedVersion int64, actor string) error {
	item, err := e.queries.GetQuoteItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	quote, err := e.queries.GetQuote(ctx, item.QuoteID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if err := checkEditLock(quote); err != nil {
		return err
	}

	lineTotal := toFloat(decimal.NewFromFloat(unitPrice).Mul(decimal.NewFromFloat(quantity)))
	notesVal := sql.NullString{String: notes, Valid: notes != ""}
	if err := e.queries.UpdateQuoteItem(ctx, itemID, quantity, unitPrice, lineTotal, notesVal, expectedVersion, actor); err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	return e.RecomputeTotals(ctx, item.QuoteID, actor)
}

// DeleteItem soft-deletes a draft Quote's line item and recomputes
// totals.
func (e *Engine) DeleteItem(ctx context.Context, itemID int64, actor string) error {
	item, err := e.queries.GetQuoteItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	quote, err := e.queries.GetQuote(ctx, item.QuoteID)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if err := checkEditLock(quote); err != nil {
		return err
	}

	if err := e.queries.DeleteQuoteItem(ctx, itemID, actor); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return e.RecomputeTotals(ctx, item.QuoteID, actor)
}

// UpdateHeader changes a draft Quote's mutable header fields (title,
// discount/tax percentages) and recomputes totals since the discount
// and tax percentages feed directly into them.
func (e *Engine) UpdateHeader(ctx context.Context, quoteID int64, title string, discountPercent, taxPercent float64, expectedVersion int64, actor string) error {
	quote, err := e.queries.GetQuote(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("update header: %w", err)
	}
	if err := checkEditLock(quote); err != nil {
		return err
	}

	if err := e.queries.UpdateQuoteHeader(ctx, quoteID, title, discountPercent, taxPercent, expectedVersion, actor); err != nil {
		return fmt.Errorf("update header: %w", err)
	}
	return e.RecomputeTotals(ctx, quoteID, actor)
}

// RecomputeTotals recomputes subtotal/discount/taxable/tax/total from
// the Quote's current active items and header percentages, per the §3
// formula, verifying the invariant before persisting. It is safe to
// call repeatedly: given unchanged inputs it recomputes and writes the
// same values (idempotent).
func (e *Engine) RecomputeTotals(ctx context.Context, quoteID int64, actor string) error {
	quote, err := e.queries.GetQuote(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("recompute totals: %w", err)
	}
	items, err := e.queries.ItemsForQuote(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("recompute totals: %w", err)
	}

	subtotal := decimal.Zero
	for _, item := range items {
		lineTotal := decimal.NewFromFloat(item.LineTotal)
		expected := decimal.NewFromFloat(item.UnitPrice).Mul(decimal.NewFromFloat(item.Quantity))
		if lineTotal.Sub(expected).Abs().GreaterThan(invariantTolerance) {
			return fmt.Errorf("%w: item %d line_total %v != quantity*unit_price %v", ErrInvariantViolation, item.ID, lineTotal, expected)
		}
		subtotal = subtotal.Add(lineTotal)
	}

	discountPercent := decimal.NewFromFloat(quote.DiscountPercent)
	taxPercent := decimal.NewFromFloat(quote.TaxPercent)

	discountAmount := subtotal.Mul(discountPercent).Div(decimal.NewFromInt(100))
	taxable := subtotal.Sub(discountAmount)
	taxAmount := taxable.Mul(taxPercent).Div(decimal.NewFromInt(100))
	total := taxable.Add(taxAmount)

	expectedTotal := taxable.Mul(decimal.NewFromInt(1).Add(taxPercent.Div(decimal.NewFromInt(100))))
	if total.Sub(expectedTotal).Abs().GreaterThan(invariantTolerance) {
		return fmt.Errorf("%w: quote %s total %v != taxable*(1+tax%%) %v", ErrInvariantViolation, quote.QuoteNumber, total, expectedTotal)
	}

	if err := e.queries.UpdateQuoteTotals(ctx, quoteID, toFloat(subtotal), toFloat(discountAmount), toFloat(taxable), toFloat(taxAmount), toFloat(total), quote.Version, actor); err != nil {
		return fmt.Errorf("recompute totals: %w", err)
	}
	return nil
}

// snapshot is the immutable JSON document materialized on Send. It is
// never recomputed from live data afterwards — that's the point of
// freezing it.
type snapshot struct {
	QuoteNumber     string          `json:"quote_number"`
	Title           string          `json:"title"`
	Partner         partnerSnapshot `json:"partner"`
	Items           []itemSnapshot  `json:"items"`
	DiscountPercent float64         `json:"discount_percent"`
	TaxPercent      float64         `json:"tax_percent"`
	Subtotal        float64         `json:"subtotal"`
	DiscountAmount  float64         `json:"discount_amount"`
	Taxable         float64         `json:"taxable"`
	TaxAmount       float64         `json:"tax_amount"`
	Total           float64         `json:"total"`
	IssuedBy        string          `json:"issued_by"`
	IssuedAt        time.Time       `json:"issued_at"`
}

type partnerSnapshot struct {
	PartnerNumber string `json:"partner_number"`
	Name          string `json:"name"`
	BusinessID    string `json:"business_id,omitempty"`
}

type itemSnapshot struct {
	PartNumber string  `json:"part_number"`
	PartName   string  `json:"part_name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	LineTotal  float64 `json:"line_total"`
}

// Send transitions a draft Quote to sent, materializing and persisting
// an immutable snapshot of its header, partner, items and totals.
func (e *Engine) Send(ctx context.Context, quoteID int64, expectedVersion int64, actor string) error {
	quote, err := e.queries.GetQuote(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("send quote: %w", err)
	}
	if quote.Status != db.QuoteStatusDraft {
		return fmt.Errorf("%w: cannot send quote %s from status %s", ErrInvalidStateTransition, quote.QuoteNumber, quote.Status)
	}

	partner, err := e.queries.GetPartner(ctx, quote.PartnerID)
	if err != nil {
		return fmt.Errorf("send quote: %w", err)
	}
	items, err := e.queries.ItemsForQuote(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("send quote: %w", err)
	}

	itemSnaps := make([]itemSnapshot, 0, len(items))
	for _, item := range items {
		itemSnaps = append(itemSnaps, itemSnapshot{
			PartNumber: item.PartNumber,
			PartName:   item.PartName,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
		})
	}

	snap := snapshot{
		QuoteNumber: quote.QuoteNumber,
		Title:       quote.Title,
		Partner: partnerSnapshot{
			PartnerNumber: partner.PartnerNumber,
			Name:          partner.Name,
			BusinessID:    partner.BusinessID.String,
		},
		Items:           itemSnaps,
		DiscountPercent: quote.DiscountPercent,
		TaxPercent:      quote.TaxPercent,
		Subtotal:        quote.Subtotal,
		DiscountAmount:  quote.DiscountAmount,
		Taxable:         quote.Taxable,
		TaxAmount:       quote.TaxAmount,
		Total:           quote.Total,
		IssuedBy:        actor,
		IssuedAt:        now(),
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("send quote: marshal snapshot: %w", err)
	}

	if err := e.queries.TransitionQuote(ctx, quoteID, db.QuoteStatusSent, payload, now(), expectedVersion, actor); err != nil {
		return fmt.Errorf("send quote: %w", err)
	}
	return nil
}

// Approve transitions a sent Quote to approved.
func (e *Engine) Approve(ctx context.Context, quoteID int64, expectedVersion int64, actor string) error {
	return e.transitionFrom(ctx, quoteID, db.QuoteStatusSent, db.QuoteStatusApproved, expectedVersion, actor)
}

// Reject transitions a sent Quote to rejected.
func (e *Engine) Reject(ctx context.Context, quoteID int64, expectedVersion int64, actor string) error {
	return e.transitionFrom(ctx, quoteID, db.QuoteStatusSent, db.QuoteStatusRejected, expectedVersion, actor)
}

func (e *Engine) transitionFrom(ctx context.Context, quoteID int64, from, to string, expectedVersion int64, actor string) error {
	quote, err := e.queries.GetQuote(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("transition quote: %w", err)
	}
	if quote.Status != from {
		return fmt.Errorf("%w: cannot transition quote %s from %s to %s", ErrInvalidStateTransition, quote.QuoteNumber, quote.Status, to)
	}
	if err := e.queries.TransitionQuote(ctx, quoteID, to, nil, now(), expectedVersion, actor); err != nil {
		return fmt.Errorf("transition quote: %w", err)
	}
	return nil
}

// Delete soft-deletes a Quote. draft and rejected quotes may be
// deleted; sent and approved quotes hold a legally binding snapshot and
// refuse.
func (e *Engine) Delete(ctx context.Context, quoteID int64, actor string) error {
	quote, err := e.queries.GetQuote(ctx, quoteID)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	if quote.Status != db.QuoteStatusDraft && quote.Status != db.QuoteStatusRejected {
		return fmt.Errorf("%w: quote %s is %s", ErrDeleteNotAllowed, quote.QuoteNumber, quote.Status)
	}
	if err := e.queries.DeleteQuote(ctx, quoteID, actor); err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return nil
}

// Clone duplicates a Quote (any status) into a new draft with the same
// items (fresh ids) and carried-over pricing, then recomputes totals.
func (e *Engine) Clone(ctx context.Context, quoteID int64, actor string) (*db.Quote, error) {
	source, err := e.queries.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, fmt.Errorf("clone quote: %w", err)
	}

	num, err := e.allocator.Generate(ctx, ids.Quote)
	if err != nil {
		return nil, fmt.Errorf("clone quote: allocate number: %w", err)
	}

	clone := &db.Quote{
		QuoteNumber:     fmt.Sprintf("%d", num),
		PartnerID:       source.PartnerID,
		Title:           source.Title + " (Copy)",
		Status:          db.QuoteStatusDraft,
		DiscountPercent: source.DiscountPercent,
		TaxPercent:      source.TaxPercent,
	}
	id, err := e.queries.CreateQuote(ctx, clone, actor)
	if err != nil {
		return nil, fmt.Errorf("clone quote: %w", err)
	}
	clone.ID = id
	clone.Version = 1

	if err := e.queries.CloneQuoteItems(ctx, quoteID, id, actor); err != nil {
		return nil, fmt.Errorf("clone quote: %w", err)
	}

	if err := e.RecomputeTotals(ctx, id, actor); err != nil {
		return nil, fmt.Errorf("clone quote: %w", err)
	}

	return e.queries.GetQuote(ctx, id)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// now is a seam so tests can observe snapshot/transition timestamps
// deterministically if needed; production always uses wall-clock time.
var now = time.Now
