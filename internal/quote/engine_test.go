package quote

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/ids"
)

// fakeAllocStore is an in-memory ids.Store double, mirroring the one
// used in the ids package's own tests.
type fakeAllocStore struct {
	taken map[ids.Entity]map[int64]bool
}

func newFakeAllocStore() *fakeAllocStore {
	return &fakeAllocStore{taken: map[ids.Entity]map[int64]bool{}}
}

func (f *fakeAllocStore) CountEntities(ctx context.Context, entity ids.Entity) (int64, error) {
	return int64(len(f.taken[entity])), nil
}

func (f *fakeAllocStore) ExistingNumbers(ctx context.Context, entity ids.Entity, candidates []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, c := range candidates {
		if f.taken[entity][c] {
			out[c] = true
		}
	}
	return out, nil
}

func (f *fakeAllocStore) MaxNumber(ctx context.Context, entity ids.Entity) (int64, bool, error) {
	return 0, false, nil
}

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	queries := db.New(sqlDB)
	alloc := ids.New(newFakeAllocStore())
	return New(queries, alloc), mock
}

func TestFindBestBatch_ExactMatch(t *testing.T) {
	engine, mock := newTestEngine(t)

	cols := []string{
		"id", "batch_number", "part_id", "batch_set_id", "quantity", "material_cost", "labor_cost", "overhead_cost", "unit_cost",
		"unit_price_frozen", "total_price_frozen", "is_frozen", "frozen_at", "frozen_by", "snapshot_data",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}
	rows := sqlmock.NewRows(cols).
		AddRow(1, "30000001", 10000001, 1, 10.0, 1.0, 1.0, 1.0, 3.0, nil, nil, false, nil, nil, nil, now(), now(), "a", "a", nil, nil, 1).
		AddRow(2, "30000002", 10000001, 1, 50.0, 1.0, 1.0, 1.0, 2.0, nil, nil, false, nil, nil, nil, now(), now(), "a", "a", nil, nil, 1)
	mock.ExpectQuery("SELECT (.+) FROM batches WHERE batch_set_id").WillReturnRows(rows)

	batch, kind, warnings, err := engine.FindBestBatch(context.Background(), 1, 50.0)
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Equal(t, "exact", kind)
	require.Empty(t, warnings)
	require.Equal(t, int64(2), batch.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBestBatch_FallsBackToNextLower(t *testing.T) {
	engine, mock := newTestEngine(t)

	cols := []string{
		"id", "batch_number", "part_id", "batch_set_id", "quantity", "material_cost", "labor_cost", "overhead_cost", "unit_cost",
		"unit_price_frozen", "total_price_frozen", "is_frozen", "frozen_at", "frozen_by", "snapshot_data",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}
	rows := sqlmock.NewRows(cols).
		AddRow(1, "30000001", 10000001, 1, 10.0, 1.0, 1.0, 1.0, 3.0, nil, nil, false, nil, nil, nil, now(), now(), "a", "a", nil, nil, 1).
		AddRow(2, "30000002", 10000001, 1, 50.0, 1.0, 1.0, 1.0, 2.0, nil, nil, false, nil, nil, nil, now(), now(), "a", "a", nil, nil, 1)
	mock.ExpectQuery("SELECT (.+) FROM batches WHERE batch_set_id").WillReturnRows(rows)

	batch, kind, warnings, err := engine.FindBestBatch(context.Background(), 1, 75.0)
	require.NoError(t, err)
	require.NotNil(t, batch)
	require.Equal(t, "lower", kind)
	require.NotEmpty(t, warnings)
	require.Equal(t, int64(2), batch.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBestBatch_NoSuitableBatchBelow(t *testing.T) {
	engine, mock := newTestEngine(t)

	cols := []string{
		"id", "batch_number", "part_id", "batch_set_id", "quantity", "material_cost", "labor_cost", "overhead_cost", "unit_cost",
		"unit_price_frozen", "total_price_frozen", "is_frozen", "frozen_at", "frozen_by", "snapshot_data",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}
	rows := sqlmock.NewRows(cols).
		AddRow(1, "30000001", 10000001, 1, 100.0, 1.0, 1.0, 1.0, 3.0, nil, nil, false, nil, nil, nil, now(), now(), "a", "a", nil, nil, 1)
	mock.ExpectQuery("SELECT (.+) FROM batches WHERE batch_set_id").WillReturnRows(rows)

	batch, kind, warnings, err := engine.FindBestBatch(context.Background(), 1, 10.0)
	require.NoError(t, err)
	require.Nil(t, batch)
	require.Equal(t, "missing", kind)
	require.NotEmpty(t, warnings)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSend_RejectsNonDraftQuote(t *testing.T) {
	engine, mock := newTestEngine(t)

	quoteCols := []string{
		"id", "quote_number", "partner_id", "title", "status", "discount_percent", "tax_percent",
		"subtotal", "discount_amount", "taxable", "tax_amount", "total", "snapshot_data",
		"sent_at", "approved_at", "rejected_at",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}
	rows := sqlmock.NewRows(quoteCols).
		AddRow(1, "85000001", 1, "Q1", db.QuoteStatusSent, 0.0, 0.0, 100.0, 0.0, 100.0, 0.0, 100.0, nil, now(), nil, nil, now(), now(), "a", "a", nil, nil, 1)
	mock.ExpectQuery("SELECT (.+) FROM quotes WHERE id").WillReturnRows(rows)

	err := engine.Send(context.Background(), 1, 1, "tester")
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_RefusesApprovedQuote(t *testing.T) {
	engine, mock := newTestEngine(t)

	quoteCols := []string{
		"id", "quote_number", "partner_id", "title", "status", "discount_percent", "tax_percent",
		"subtotal", "discount_amount", "taxable", "tax_amount", "total", "snapshot_data",
		"sent_at", "approved_at", "rejected_at",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}
	rows := sqlmock.NewRows(quoteCols).
		AddRow(1, "85000001", 1, "Q1", db.QuoteStatusApproved, 0.0, 0.0, 100.0, 0.0, 100.0, 0.0, 100.0, nil, now(), now(), nil, now(), now(), "a", "a", nil, nil, 1)
	mock.ExpectQuery("SELECT (.+) FROM quotes WHERE id").WillReturnRows(rows)

	err := engine.Delete(context.Background(), 1, "tester")
	require.ErrorIs(t, err, ErrDeleteNotAllowed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_AllowsDraftQuote(t *testing.T) {
	engine, mock := newTestEngine(t)

	quoteCols := []string{
		"id", "quote_number", "partner_id", "title", "status", "discount_percent", "tax_percent",
		"subtotal", "discount_amount", "taxable", "tax_amount", "total", "snapshot_data",
		"sent_at", "approved_at", "rejected_at",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}
	rows := sqlmock.NewRows(quoteCols).
		AddRow(1, "85000001", 1, "Q1", db.QuoteStatusDraft, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, nil, nil, nil, nil, now(), now(), "a", "a", nil, nil, 1)
	mock.ExpectQuery("SELECT (.+) FROM quotes WHERE id").WillReturnRows(rows)
	mock.ExpectExec("UPDATE quotes SET deleted_at").WillReturnResult(sqlmock.NewResult(0, 1))

	err := engine.Delete(context.Background(), 1, "tester")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddItem_NoFrozenPricingFails(t *testing.T) {
	engine, mock := newTestEngine(t)

	quoteCols := []string{
		"id", "quote_number", "partner_id", "title", "status", "discount_percent", "tax_percent",
		"subtotal", "discount_amount", "taxable", "tax_amount", "total", "snapshot_data",
		"sent_at", "approved_at", "rejected_at",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}
	quoteRows := sqlmock.NewRows(quoteCols).
		AddRow(1, "85000001", 1, "Q1", db.QuoteStatusDraft, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, nil, nil, nil, nil, now(), now(), "a", "a", nil, nil, 1)
	mock.ExpectQuery("SELECT (.+) FROM quotes WHERE id").WillReturnRows(quoteRows)

	partCols := []string{
		"id", "part_number", "article_number", "name", "stock_shape", "stock_dimensions", "file_id",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}
	partRows := sqlmock.NewRows(partCols).
		AddRow(10000001, "10000001", "ABC-1", "Bracket", nil, nil, nil, now(), now(), "a", "a", nil, nil, 1)
	mock.ExpectQuery("SELECT (.+) FROM parts WHERE id").WillReturnRows(partRows)

	mock.ExpectQuery("SELECT (.+) FROM batch_sets").WillReturnRows(sqlmock.NewRows([]string{
		"id", "set_number", "part_id", "name", "status", "is_frozen", "frozen_at", "frozen_by",
		"created_at", "updated_at", "created_by", "updated_by", "deleted_at", "deleted_by", "version",
	}))

	_, err := engine.AddItem(context.Background(), 1, 10000001, 5, "", "tester")
	require.ErrorIs(t, err, ErrNoFrozenPricing)
}
