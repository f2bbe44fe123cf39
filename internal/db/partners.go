package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Partner is a customer or supplier (or both) a Quote can be addressed
// to.
type Partner struct {
	ID            int64
	PartnerNumber string
	Name          string
	IsCustomer    bool
	IsSupplier    bool
	BusinessID    sql.NullString
	Audit
}

// CreatePartner inserts a new Partner.
func (q *Queries) CreatePartner(ctx context.Context, p *Partner, actor string) (int64, error) {
	const query = `
		INSERT INTO partners (partner_number, name, is_customer, is_supplier, business_id, created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		p.PartnerNumber, p.Name, p.IsCustomer, p.IsSupplier, p.BusinessID, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create partner: %w", err)
	}
	return id, nil
}

// GetPartner fetches a non-deleted Partner by internal id.
func (q *Queries) GetPartner(ctx context.Context, id int64) (*Partner, error) {
	const query = `
		SELECT id, partner_number, name, is_customer, is_supplier, business_id,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM partners WHERE id = $1 AND deleted_at IS NULL
	`
	p := &Partner{}
	err := q.exec().QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.PartnerNumber, &p.Name, &p.IsCustomer, &p.IsSupplier, &p.BusinessID,
		&p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy, &p.DeletedAt, &p.DeletedBy, &p.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("partner %d: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get partner: %w", err)
	}
	return p, nil
}

// UpdatePartner applies an optimistic-concurrency-checked update.
func (q *Queries) UpdatePartner(ctx context.Context, id int64, name string, isCustomer, isSupplier bool, businessID sql.NullString, expectedVersion int64, actor string) error {
	const query = `
		UPDATE partners
		SET name = $2, is_customer = $3, is_supplier = $4, business_id = $5,
		    updated_by = $6, updated_at = now(), version = version + 1
		WHERE id = $1 AND deleted_at IS NULL AND version = $7
	`
	res, err := q.exec().ExecContext(ctx, query, id, name, isCustomer, isSupplier, businessID, actor, expectedVersion)
	if err != nil {
		return fmt.Errorf("update partner: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return &ErrVersionConflict{Entity: "partner", ID: id}
	}
	return nil
}

// CountPartners returns the number of active Partners, used by NumberAllocator.
func (q *Queries) CountPartners(ctx context.Context) (int64, error) {
	var n int64
	err := q.exec().QueryRowContext(ctx, `SELECT COUNT(*) FROM partners WHERE deleted_at IS NULL`).Scan(&n)
	return n, err
}
