package importer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
	"github.com/pinggolf/gestima/internal/ids"
)

// partStore is the persistence dependency PartImporter needs.
type partStore interface {
	GetPartByArticleNumber(ctx context.Context, articleNumber string) (*db.Part, error)
	CreatePart(ctx context.Context, p *db.Part, actor string) (int64, error)
	UpdatePart(ctx context.Context, id int64, name, stockShape string, stockDimensions json.RawMessage, expectedVersion int64, actor string) error
}

// inforStatusMap translates Infor's RybTridaNazev1 classification name
// into a Gestima-side status; anything unrecognized defaults to "quote".
var inforStatusMap = map[string]string{
	"Nabídka": "quote",
	"Aktivní": "active",
}

// PartImporter imports Parts from Infor SLItems.
type PartImporter struct {
	BaseImporter[*db.Part]
	store      partStore
	allocator  *ids.Allocator
	actingUser string
}

// NewPartImporter builds a PartImporter.
func NewPartImporter(store partStore, allocator *ids.Allocator, actingUser string) *PartImporter {
	return &PartImporter{store: store, allocator: allocator, actingUser: actingUser}
}

// Config implements EntityImporter.
func (PartImporter) Config() Config {
	return Config{
		EntityName: "Part",
		IDOName:    "SLItems",
		FieldMappings: []FieldMapping{
			{SourceField: "Item", TargetField: "article_number", Required: true},
			{SourceField: "Description", TargetField: "name"},
			{SourceField: "DrawingNbr", TargetField: "drawing_number"},
			{SourceField: "Revision", TargetField: "customer_revision"},
			{SourceField: "RybTridaNazev1", TargetField: "infor_status"},
		},
		DuplicateCheckField: "article_number",
	}
}

// MapRowCustom translates Infor's status classification and drops
// fields Gestima's Part model doesn't carry.
func (p *PartImporter) MapRowCustom(ctx context.Context, raw erpclient.Row, basic MappedRow) (MappedRow, error) {
	mapped := MappedRow{}
	for k, v := range basic {
		mapped[k] = v
	}

	status := "quote"
	if inforStatus, ok := basic["infor_status"].(string); ok {
		if mapped_, found := inforStatusMap[inforStatus]; found {
			status = mapped_
		}
	}
	mapped["status"] = status
	delete(mapped, "infor_status")
	delete(mapped, "drawing_number")
	delete(mapped, "customer_revision")

	return mapped, nil
}

// CheckDuplicate implements EntityImporter.
func (p *PartImporter) CheckDuplicate(ctx context.Context, mapped MappedRow) (*db.Part, bool, error) {
	articleNumber, _ := mapped["article_number"].(string)
	if articleNumber == "" {
		return nil, false, nil
	}
	existing, err := p.store.GetPartByArticleNumber(ctx, articleNumber)
	if err != nil {
		return nil, false, fmt.Errorf("check duplicate part: %w", err)
	}
	if existing == nil {
		return nil, false, nil
	}
	return existing, true, nil
}

// CreateEntity implements EntityImporter, allocating a fresh part_number.
func (p *PartImporter) CreateEntity(ctx context.Context, mapped MappedRow) (*db.Part, error) {
	number, err := p.allocator.Generate(ctx, ids.Part)
	if err != nil {
		return nil, fmt.Errorf("allocate part number: %w", err)
	}

	name, _ := mapped["name"].(string)
	articleNumber, _ := mapped["article_number"].(string)

	part := &db.Part{
		PartNumber:    fmt.Sprintf("%d", number),
		ArticleNumber: articleNumber,
		Name:          name,
	}

	id, err := p.store.CreatePart(ctx, part, p.actingUser)
	if err != nil {
		return nil, fmt.Errorf("create part: %w", err)
	}
	part.ID = id
	return part, nil
}

// UpdateEntity implements EntityImporter: only overwrites name when
// Infor supplies a non-empty value, preserving user-entered data.
func (p *PartImporter) UpdateEntity(ctx context.Context, existing *db.Part, mapped MappedRow) error {
	name, _ := mapped["name"].(string)
	return p.store.UpdatePart(ctx, existing.ID, name, "", nil, existing.Version, p.actingUser)
}
