package importer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
	"github.com/pinggolf/gestima/internal/workcenter"
)

// productionStore is the persistence dependency ProductionImporter
// needs.
type productionStore interface {
	GetProductionRecord(ctx context.Context, partID int64, orderNumber string, seq int) (*db.ProductionRecord, error)
	CreateProductionRecord(ctx context.Context, r *db.ProductionRecord, actor string) (int64, error)
	UpdateProductionRecord(ctx context.Context, id int64, r *db.ProductionRecord, actor string) error
}

// ProductionImporter imports actual-time telemetry from Infor
// SLJobRoutes (Type='J' completed job routes), merged against the Part
// reported by each row rather than scoped to a single Part — unlike
// JobRoutingImporter, one instance serves an entire sync batch.
type ProductionImporter struct {
	BaseImporter[*db.ProductionRecord]
	store      productionStore
	resolver   *workcenter.Resolver
	partsByID  map[string]int64 // infor article number -> part_id, set per dispatch group
	actingUser string
}

// NewProductionImporter builds a ProductionImporter.
func NewProductionImporter(store productionStore, resolver *workcenter.Resolver, actingUser string) *ProductionImporter {
	return &ProductionImporter{store: store, resolver: resolver, actingUser: actingUser}
}

// SetPartForGroup tells the importer which part_id the next batch of
// rows (grouped by Infor JobItem) belongs to — the sync dispatcher
// calls this once per group before mapping its rows.
func (p *ProductionImporter) SetPartForGroup(articleNumber string, partID int64) {
	if p.partsByID == nil {
		p.partsByID = map[string]int64{}
	}
	p.partsByID[articleNumber] = partID
}

// Config implements EntityImporter.
func (ProductionImporter) Config() Config {
	return Config{
		EntityName: "ProductionRecord",
		IDOName:    "SLJobRoutes",
		FieldMappings: []FieldMapping{
			{SourceField: "Job", TargetField: "infor_order_number", Required: true},
			{SourceField: "JobItem", TargetField: "article_number"},
			{SourceField: "Wc", TargetField: "infor_wc_code"},
			{SourceField: "OperNum", TargetField: "operation_seq", Required: true, Transform: toInt},
			{SourceField: "JobQtyReleased", TargetField: "batch_quantity", Transform: toFloat},
			{SourceField: "DerRunMchHrs", TargetField: "pcs_per_hour_machine", Transform: toFloat},
			{SourceField: "DerRunLbrHrs", TargetField: "pcs_per_hour_labor", Transform: toFloat},
			{SourceField: "JshSetupHrs", TargetField: "planned_setup_hours", Transform: toFloat},
			{SourceField: "DerRunMchHrsT", TargetField: "actual_run_machine_hours", Transform: toFloat},
			{SourceField: "DerRunLbrHrsT", TargetField: "actual_run_labor_hours", Transform: toFloat},
			{SourceField: "SetupHrsT", TargetField: "actual_setup_hours", Transform: toFloat},
		},
		DuplicateCheckField: "operation_seq",
	}
}

// MapRowCustom applies the same CLO/CADCAM skip and KOO cooperation
// rules as JobRoutingImporter, then collapses Infor's richer
// per-piece/batch time breakdown into Gestima's narrower
// production_records schema.
func (p *ProductionImporter) MapRowCustom(ctx context.Context, raw erpclient.Row, basic MappedRow) (MappedRow, error) {
	custom := MappedRow{
		"infor_order_number": basic["infor_order_number"],
		"operation_seq":      basic["operation_seq"],
	}

	articleNumber := stringOf(basic["article_number"])
	inforWcCode := strings.TrimSpace(stringOf(basic["infor_wc_code"]))

	if strings.HasPrefix(inforWcCode, "CLO") || inforWcCode == "CADCAM" {
		custom.Skip()
		return custom, nil
	}
	if v, ok := raw["ObsDate"]; ok && v != nil && v != "" {
		custom.Skip()
		return custom, nil
	}

	partID, ok := p.partsByID[articleNumber]
	if !ok {
		custom.Skip()
		return custom, nil
	}
	custom["part_id"] = partID

	isCoop := strings.HasPrefix(inforWcCode, "KOO")

	if inforWcCode != "" && !isCoop {
		if wcID, found, err := p.resolver.Resolve(ctx, inforWcCode); err == nil && found {
			custom["work_center_id"] = wcID
		} else if err != nil {
			return nil, fmt.Errorf("resolve work center %q: %w", inforWcCode, err)
		} else {
			slog.Warn("production sync: work center not resolved", "infor_wc_code", inforWcCode)
		}
	}

	batchQty := floatOf(basic["batch_quantity"])
	pcsPerHourMch := floatOf(basic["pcs_per_hour_machine"])
	pcsPerHourLbr := floatOf(basic["pcs_per_hour_labor"])

	if isCoop {
		custom["planned_operation_minutes"] = 0.0
		custom["manning_coefficient"] = 100.0
	} else {
		if pcsPerHourMch > 0 {
			custom["planned_operation_minutes"] = round(60.0/pcsPerHourMch, 4)
		}
		if pcsPerHourLbr > 0 && pcsPerHourMch > 0 {
			custom["manning_coefficient"] = round((pcsPerHourMch/pcsPerHourLbr)*100, 1)
		} else {
			custom["manning_coefficient"] = 100.0
		}
	}

	setupHours := floatOf(basic["planned_setup_hours"])
	if setupHours > 0 {
		custom["planned_setup_minutes"] = round(setupHours*60, 2)
	}

	actualSetupHours := floatOf(basic["actual_setup_hours"])
	if actualSetupHours > 0 {
		custom["actual_setup_minutes"] = round(actualSetupHours*60, 2)
	}

	actualRunMchHours := floatOf(basic["actual_run_machine_hours"])
	if actualRunMchHours > 0 && batchQty > 0 {
		custom["actual_operation_minutes"] = round((actualRunMchHours*60)/batchQty, 4)
	}

	actualRunLbrHours := floatOf(basic["actual_run_labor_hours"])
	if !isCoop && actualRunMchHours > 0 && actualRunLbrHours > 0 {
		custom["actual_manning_coefficient"] = round((actualRunLbrHours/actualRunMchHours)*100, 1)
	}

	custom["record_date"] = time.Now().UTC()

	return custom, nil
}

// CheckDuplicate implements EntityImporter: duplicate key is
// (part_id, infor_order_number, operation_seq).
func (p *ProductionImporter) CheckDuplicate(ctx context.Context, mapped MappedRow) (*db.ProductionRecord, bool, error) {
	partID, ok := mapped["part_id"].(int64)
	orderNumber := stringOf(mapped["infor_order_number"])
	seq := intOf(mapped["operation_seq"])
	if !ok || orderNumber == "" {
		return nil, false, nil
	}
	existing, err := p.store.GetProductionRecord(ctx, partID, orderNumber, seq)
	if err != nil {
		return nil, false, fmt.Errorf("check duplicate production record: %w", err)
	}
	if existing == nil {
		return nil, false, nil
	}
	return existing, true, nil
}

// CreateEntity implements EntityImporter.
func (p *ProductionImporter) CreateEntity(ctx context.Context, mapped MappedRow) (*db.ProductionRecord, error) {
	r := recordFromMapped(mapped)
	id, err := p.store.CreateProductionRecord(ctx, r, p.actingUser)
	if err != nil {
		return nil, fmt.Errorf("create production record: %w", err)
	}
	r.ID = id
	return r, nil
}

// UpdateEntity implements EntityImporter: merges latest telemetry into
// an existing record.
func (p *ProductionImporter) UpdateEntity(ctx context.Context, existing *db.ProductionRecord, mapped MappedRow) error {
	r := recordFromMapped(mapped)
	r.ID = existing.ID
	return p.store.UpdateProductionRecord(ctx, existing.ID, r, p.actingUser)
}

func recordFromMapped(mapped MappedRow) *db.ProductionRecord {
	partID, _ := mapped["part_id"].(int64)
	recordDate, _ := mapped["record_date"].(time.Time)
	return &db.ProductionRecord{
		PartID:                  partID,
		InforOrderNumber:        stringOf(mapped["infor_order_number"]),
		OperationSeq:            intOf(mapped["operation_seq"]),
		WorkCenterID:            nullInt64(mapped["work_center_id"]),
		PlannedSetupMinutes:     nullFloat64(mapped["planned_setup_minutes"]),
		PlannedOperationMinutes: nullFloat64(mapped["planned_operation_minutes"]),
		ActualSetupMinutes:      nullFloat64(mapped["actual_setup_minutes"]),
		ActualOperationMinutes:  nullFloat64(mapped["actual_operation_minutes"]),
		ManningCoefficient:      nullFloat64(mapped["manning_coefficient"]),
		ActualManningCoefficient: nullFloat64(mapped["actual_manning_coefficient"]),
		RecordDate:              sqlNullTime(recordDate),
	}
}
