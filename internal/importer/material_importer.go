package importer

import (
	"context"
	"fmt"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
)

// materialItemStore is the persistence dependency MaterialImporter
// needs.
type materialItemStore interface {
	GetMaterialItemByCode(ctx context.Context, code string) (*db.MaterialItem, error)
	CreateMaterialItem(ctx context.Context, m *db.MaterialItem, actor string) (int64, error)
}

// MaterialImporter imports new MaterialItem catalog entries from Infor
// SLItems (FamilyCode = 'materiál'). Infor only carries the item code;
// the physical stock attributes (shape, diameter, standard length...)
// are curated by hand afterwards, so this importer never updates an
// existing catalog row — it only creates the ones that don't exist yet.
type MaterialImporter struct {
	BaseImporter[*db.MaterialItem]
	store      materialItemStore
	actingUser string
}

// NewMaterialImporter builds a MaterialImporter.
func NewMaterialImporter(store materialItemStore, actingUser string) *MaterialImporter {
	return &MaterialImporter{store: store, actingUser: actingUser}
}

// Config implements EntityImporter.
func (MaterialImporter) Config() Config {
	return Config{
		EntityName: "MaterialItem",
		IDOName:    "SLItems",
		FieldMappings: []FieldMapping{
			{SourceField: "Item", TargetField: "code", Required: true},
		},
		DuplicateCheckField: "code",
	}
}

// MapRowCustom has nothing to enrich: Description carries no catalog
// field on MaterialItem, so the basic mapping is already complete.
func (p *MaterialImporter) MapRowCustom(ctx context.Context, raw erpclient.Row, basic MappedRow) (MappedRow, error) {
	return basic, nil
}

// CheckDuplicate implements EntityImporter.
func (p *MaterialImporter) CheckDuplicate(ctx context.Context, mapped MappedRow) (*db.MaterialItem, bool, error) {
	code := stringOf(mapped["code"])
	if code == "" {
		return nil, false, nil
	}
	existing, err := p.store.GetMaterialItemByCode(ctx, code)
	if err != nil {
		return nil, false, fmt.Errorf("check duplicate material item: %w", err)
	}
	if existing == nil {
		return nil, false, nil
	}
	return existing, true, nil
}

// CreateEntity implements EntityImporter: a bare catalog stub, awaiting
// manual enrichment of its physical stock attributes.
func (p *MaterialImporter) CreateEntity(ctx context.Context, mapped MappedRow) (*db.MaterialItem, error) {
	m := &db.MaterialItem{Code: stringOf(mapped["code"])}
	id, err := p.store.CreateMaterialItem(ctx, m, p.actingUser)
	if err != nil {
		return nil, fmt.Errorf("create material item: %w", err)
	}
	m.ID = id
	return m, nil
}

// UpdateEntity uses BaseImporter's no-op default: existing catalog
// entries are never overwritten by sync.
