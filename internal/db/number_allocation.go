package db

import (
	"context"
	"fmt"

	"github.com/pinggolf/gestima/internal/ids"
)

// numberColumns maps each allocator entity to the table and unique
// numeric column backing it. Every column is a VARCHAR storing a
// decimal number, so candidate comparisons cast to bigint.
var numberColumns = map[ids.Entity]struct {
	table  string
	column string
}{
	ids.Part:       {"parts", "part_number"},
	ids.Material:   {"material_inputs", "material_number"},
	ids.Batch:      {"batches", "batch_number"},
	ids.BatchSet:   {"batch_sets", "set_number"},
	ids.Partner:    {"partners", "partner_number"},
	ids.WorkCenter: {"work_centers", "work_center_number"},
	ids.Quote:      {"quotes", "quote_number"},
}

// NumberStore adapts Queries to ids.Store, so a single Allocator can
// serve every entity class via table-driven SQL, reusing the
// generic-by-table-name existingNumbers helper that ExistingPartNumbers
// also calls.
type NumberStore struct {
	q *Queries
}

// NewNumberStore builds a NumberStore backed by q.
func NewNumberStore(q *Queries) *NumberStore {
	return &NumberStore{q: q}
}

func (s *NumberStore) columns(entity ids.Entity) (string, string, error) {
	cols, ok := numberColumns[entity]
	if !ok {
		return "", "", fmt.Errorf("db: no number column mapped for entity %q", entity)
	}
	return cols.table, cols.column, nil
}

// CountEntities implements ids.Store.
func (s *NumberStore) CountEntities(ctx context.Context, entity ids.Entity) (int64, error) {
	table, _, err := s.columns(entity)
	if err != nil {
		return 0, err
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE deleted_at IS NULL", table)
	err = s.q.exec().QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

// ExistingNumbers implements ids.Store.
func (s *NumberStore) ExistingNumbers(ctx context.Context, entity ids.Entity, candidates []int64) (map[int64]bool, error) {
	table, column, err := s.columns(entity)
	if err != nil {
		return nil, err
	}
	return existingNumbers(ctx, s.q, table, column, candidates)
}

// MaxNumber implements ids.Store.
func (s *NumberStore) MaxNumber(ctx context.Context, entity ids.Entity) (int64, bool, error) {
	table, column, err := s.columns(entity)
	if err != nil {
		return 0, false, err
	}
	query := fmt.Sprintf("SELECT MAX(%s::bigint) FROM %s WHERE deleted_at IS NULL", column, table)
	var max *int64
	if err := s.q.exec().QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, false, err
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}
