package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
	"github.com/pinggolf/gestima/internal/ids"
)

// materialInputStore is the persistence dependency JobMaterialsImporter
// needs.
type materialInputStore interface {
	GetMaterialInputByPartAndItem(ctx context.Context, partID, materialItemID int64) (*db.MaterialInput, error)
	CreateMaterialInput(ctx context.Context, number string, m *db.MaterialInput, actor string) (int64, error)
	UpdateMaterialInput(ctx context.Context, id int64, m *db.MaterialInput, actor string) error
	LinkMaterialToOperation(ctx context.Context, operationID, materialID int64, quantity sql.NullFloat64) error
}

// JobMaterialsImporter imports MaterialInput line items from Infor
// SLJobMaterials for a single Part. It never creates MaterialItem
// catalog entries — an Item code with no catalog match rejects the
// row.
type JobMaterialsImporter struct {
	BaseImporter[*db.MaterialInput]
	store         materialInputStore
	allocator     *ids.Allocator
	partID        int64
	materialItems map[string]*db.MaterialItem // Item code -> catalog entry
	operations    map[int]int64               // operation_seq -> operation_id
	actingUser    string
	seqCounter    int
}

// NewJobMaterialsImporter builds a JobMaterialsImporter scoped to one
// Part, with its material-item catalog and operation lookup caches
// pre-warmed by the sync dispatcher.
func NewJobMaterialsImporter(
	store materialInputStore,
	allocator *ids.Allocator,
	partID int64,
	materialItems map[string]*db.MaterialItem,
	operations map[int]int64,
	actingUser string,
) *JobMaterialsImporter {
	return &JobMaterialsImporter{
		store:         store,
		allocator:     allocator,
		partID:        partID,
		materialItems: materialItems,
		operations:    operations,
		actingUser:    actingUser,
	}
}

// Config implements EntityImporter.
func (JobMaterialsImporter) Config() Config {
	return Config{
		EntityName: "MaterialInput",
		IDOName:    "SLJobMaterials",
		FieldMappings: []FieldMapping{
			{SourceField: "Item", TargetField: "material_item_code", Required: true},
			{SourceField: "OperNum", TargetField: "operation_seq", Transform: toInt},
			{SourceField: "MatlQtyConv", TargetField: "matl_qty", Transform: toFloat},
			{SourceField: "UM", TargetField: "unit"},
		},
		DuplicateCheckField: "material_item_code",
	}
}

// MapRowCustom resolves the Item code against the catalog cache and
// reinterprets MatlQtyConv per its unit of measure: mm overrides the
// catalog standard length, ks/pcs/ea set the consumed quantity, any
// other unit is stored as-is with no dimensional override.
func (p *JobMaterialsImporter) MapRowCustom(ctx context.Context, raw erpclient.Row, basic MappedRow) (MappedRow, error) {
	custom := MappedRow{}

	code := stringOf(basic["material_item_code"])
	item, found := p.materialItems[code]
	if !found {
		// Leaving material_item_code unset fails the required-field
		// check, so the row is reported invalid rather than imported.
		return custom, nil
	}

	custom["material_item_code"] = code
	p.seqCounter += 10
	custom["seq"] = p.seqCounter
	custom["material_item_id"] = item.ID
	custom["price_category_id"] = item.PriceCategoryID
	custom["stock_shape"] = item.Shape
	custom["stock_diameter"] = item.Diameter
	custom["stock_width"] = item.Width
	custom["stock_height"] = item.Thickness
	custom["stock_wall_thickness"] = item.WallThickness
	custom["stock_length"] = item.StandardLength
	custom["quantity"] = 1.0

	unit := strings.ToLower(strings.TrimSpace(stringOf(basic["unit"])))
	matlQty := floatOf(basic["matl_qty"])

	switch unit {
	case "mm":
		if matlQty > 0 {
			custom["stock_length"] = sql.NullFloat64{Float64: matlQty, Valid: true}
		}
	case "ks", "pcs", "ea":
		custom["quantity"] = math.Max(1, math.Round(matlQty))
	default:
		if matlQty > 0 {
			custom["quantity"] = matlQty
		}
	}

	if seq, ok := basic["operation_seq"].(int); ok {
		if opID, ok := p.operations[seq]; ok {
			custom["operation_id"] = opID
		}
	}

	return custom, nil
}

// CheckDuplicate implements EntityImporter: duplicate key is
// (part_id, material_item_id).
func (p *JobMaterialsImporter) CheckDuplicate(ctx context.Context, mapped MappedRow) (*db.MaterialInput, bool, error) {
	materialItemID, ok := mapped["material_item_id"].(int64)
	if !ok {
		return nil, false, nil
	}
	existing, err := p.store.GetMaterialInputByPartAndItem(ctx, p.partID, materialItemID)
	if err != nil {
		return nil, false, fmt.Errorf("check duplicate material input: %w", err)
	}
	if existing == nil {
		return nil, false, nil
	}
	return existing, true, nil
}

// CreateEntity implements EntityImporter, allocating a fresh
// material_number and linking the consumed Operation if one resolved.
func (p *JobMaterialsImporter) CreateEntity(ctx context.Context, mapped MappedRow) (*db.MaterialInput, error) {
	num, err := p.allocator.Generate(ctx, ids.Material)
	if err != nil {
		return nil, fmt.Errorf("allocate material number: %w", err)
	}
	number := fmt.Sprintf("%d", num)

	m := materialInputFromMapped(p.partID, mapped)
	id, err := p.store.CreateMaterialInput(ctx, number, m, p.actingUser)
	if err != nil {
		return nil, fmt.Errorf("create material input: %w", err)
	}
	m.ID = id
	m.MaterialNumber = number

	if opID, ok := mapped["operation_id"].(int64); ok {
		if err := p.store.LinkMaterialToOperation(ctx, opID, id, sql.NullFloat64{}); err != nil {
			return nil, fmt.Errorf("link material to operation: %w", err)
		}
	}
	return m, nil
}

// UpdateEntity implements EntityImporter: overwrites the mutable stock
// and quantity fields.
func (p *JobMaterialsImporter) UpdateEntity(ctx context.Context, existing *db.MaterialInput, mapped MappedRow) error {
	m := materialInputFromMapped(p.partID, mapped)
	m.ID = existing.ID
	m.MaterialNumber = existing.MaterialNumber
	return p.store.UpdateMaterialInput(ctx, existing.ID, m, p.actingUser)
}

func materialInputFromMapped(partID int64, mapped MappedRow) *db.MaterialInput {
	dims := map[string]interface{}{}
	if d, ok := mapped["stock_diameter"].(sql.NullFloat64); ok && d.Valid {
		dims["diameter"] = d.Float64
	}
	if w, ok := mapped["stock_width"].(sql.NullFloat64); ok && w.Valid {
		dims["width"] = w.Float64
	}
	if h, ok := mapped["stock_height"].(sql.NullFloat64); ok && h.Valid {
		dims["height"] = h.Float64
	}
	if wt, ok := mapped["stock_wall_thickness"].(sql.NullFloat64); ok && wt.Valid {
		dims["wall_thickness"] = wt.Float64
	}
	if l, ok := mapped["stock_length"].(sql.NullFloat64); ok && l.Valid {
		dims["length"] = l.Float64
	}
	dimsJSON, _ := json.Marshal(dims)

	var priceCategoryID sql.NullInt64
	if v, ok := mapped["price_category_id"].(sql.NullInt64); ok {
		priceCategoryID = v
	}
	var stockShape sql.NullString
	if v, ok := mapped["stock_shape"].(sql.NullString); ok {
		stockShape = v
	}

	return &db.MaterialInput{
		PartID:          partID,
		Seq:             intOf(mapped["seq"]),
		PriceCategoryID: priceCategoryID,
		MaterialItemID:  nullInt64(mapped["material_item_id"]),
		StockShape:      stockShape,
		StockDimensions: dimsJSON,
		Quantity:        floatOf(mapped["quantity"]),
	}
}
