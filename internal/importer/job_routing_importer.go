package importer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
	"github.com/pinggolf/gestima/internal/workcenter"
)

// operationStore is the persistence dependency JobRoutingImporter needs.
type operationStore interface {
	GetOperationByPartSeq(ctx context.Context, partID int64, seq int) (*db.Operation, error)
	CreateOperation(ctx context.Context, o *db.Operation, actor string) (int64, error)
	UpdateOperation(ctx context.Context, id int64, o *db.Operation, actor string) error
}

// JobRoutingImporter imports Operations from Infor SLJobRoutes (planned
// routing) for a single Part. One instance is scoped to one part_id —
// the sync dispatcher builds a fresh importer per Infor JobItem group.
type JobRoutingImporter struct {
	BaseImporter[*db.Operation]
	store      operationStore
	resolver   *workcenter.Resolver
	partID     int64
	actingUser string
}

// NewJobRoutingImporter builds a JobRoutingImporter scoped to partID.
func NewJobRoutingImporter(store operationStore, resolver *workcenter.Resolver, partID int64, actingUser string) *JobRoutingImporter {
	return &JobRoutingImporter{store: store, resolver: resolver, partID: partID, actingUser: actingUser}
}

func toInt(v interface{}) (interface{}, error) {
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("not a number: %v", v)
	}
	return int(f), nil
}

func toFloat(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%f", &f); err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("not a number: %v", v)
	}
}

// Config implements EntityImporter.
func (JobRoutingImporter) Config() Config {
	return Config{
		EntityName: "Operation",
		IDOName:    "SLJobRoutes",
		FieldMappings: []FieldMapping{
			{SourceField: "OperNum", TargetField: "seq", Required: true, Transform: toInt},
			{SourceField: "Wc", TargetField: "infor_wc_code"},
			{SourceField: "DerRunMchHrs", TargetField: "pcs_per_hour_machine", Transform: toFloat},
			{SourceField: "DerRunLbrHrs", TargetField: "pcs_per_hour_labor", Transform: toFloat},
			{SourceField: "JshSetupHrs", TargetField: "setup_time_hours", Transform: toFloat},
			{SourceField: "JshSchedHrs", TargetField: "sched_time_hours", Transform: toFloat},
		},
		DuplicateCheckField: "seq",
	}
}

func round(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

// MapRowCustom resolves the work center, converts ks/hod rates to
// minutes-per-piece, and applies the CLO/CADCAM skip and KOO
// cooperation rules.
func (p *JobRoutingImporter) MapRowCustom(ctx context.Context, raw erpclient.Row, basic MappedRow) (MappedRow, error) {
	custom := MappedRow{"seq": basic["seq"]}

	inforWcCode := strings.TrimSpace(fmt.Sprintf("%v", basic["infor_wc_code"]))
	if inforWcCode == "<nil>" {
		inforWcCode = ""
	}

	if strings.HasPrefix(inforWcCode, "CLO") || inforWcCode == "CADCAM" {
		custom.Skip()
		return custom, nil
	}
	if v, ok := raw["ObsDate"]; ok && v != nil && v != "" {
		custom.Skip()
		return custom, nil
	}

	isCoop := strings.HasPrefix(inforWcCode, "KOO")
	custom["is_coop"] = isCoop
	custom["infor_wc_code"] = inforWcCode

	if inforWcCode != "" {
		wcID, found, err := p.resolver.Resolve(ctx, inforWcCode)
		if err != nil {
			return nil, fmt.Errorf("resolve work center %q: %w", inforWcCode, err)
		}
		if found {
			custom["work_center_id"] = wcID
		} else {
			custom["work_center_id"] = nil
			slog.Warn("job routing: work center not resolved", "infor_wc_code", inforWcCode, "seq", basic["seq"])
		}
	} else {
		custom["work_center_id"] = nil
	}

	pcsPerHourMch, _ := basic["pcs_per_hour_machine"].(float64)
	pcsPerHourLbr, _ := basic["pcs_per_hour_labor"].(float64)

	if isCoop {
		custom["operation_time_min"] = 0.0
		custom["manning_coefficient"] = 100.0
	} else {
		if pcsPerHourMch > 0 {
			custom["operation_time_min"] = round(60.0/pcsPerHourMch, 4)
		} else {
			custom["operation_time_min"] = 0.0
		}
		if pcsPerHourLbr > 0 && pcsPerHourMch > 0 {
			custom["manning_coefficient"] = round((pcsPerHourMch/pcsPerHourLbr)*100, 1)
		} else {
			custom["manning_coefficient"] = 100.0
		}
	}

	setupHours, _ := basic["setup_time_hours"].(float64)
	schedHours, _ := basic["sched_time_hours"].(float64)
	switch {
	case setupHours > 0:
		custom["setup_time_min"] = round(setupHours*60, 2)
	case schedHours > 0:
		custom["setup_time_min"] = round(schedHours*60, 2)
	default:
		custom["setup_time_min"] = 0.0
	}

	return custom, nil
}

// CheckDuplicate implements EntityImporter: duplicate key is
// (part_id, seq).
func (p *JobRoutingImporter) CheckDuplicate(ctx context.Context, mapped MappedRow) (*db.Operation, bool, error) {
	seq, ok := mapped["seq"].(int)
	if !ok || seq == 0 {
		return nil, false, nil
	}
	existing, err := p.store.GetOperationByPartSeq(ctx, p.partID, seq)
	if err != nil {
		return nil, false, fmt.Errorf("check duplicate operation: %w", err)
	}
	if existing == nil {
		return nil, false, nil
	}
	return existing, true, nil
}

// CreateEntity implements EntityImporter.
func (p *JobRoutingImporter) CreateEntity(ctx context.Context, mapped MappedRow) (*db.Operation, error) {
	seq, _ := mapped["seq"].(int)
	op := &db.Operation{
		PartID:                 p.partID,
		Seq:                    seq,
		WorkCenterID:           nullInt64(mapped["work_center_id"]),
		SetupMinutes:           floatOf(mapped["setup_time_min"]),
		OperationMinutes:       floatOf(mapped["operation_time_min"]),
		ManningCoefficient:     floatOrDefault(mapped["manning_coefficient"], 100.0),
		UtilizationCoefficient: 100.0,
		IsCooperation:          boolOf(mapped["is_coop"]),
	}
	id, err := p.store.CreateOperation(ctx, op, p.actingUser)
	if err != nil {
		return nil, fmt.Errorf("create operation: %w", err)
	}
	op.ID = id
	return op, nil
}

// UpdateEntity implements EntityImporter: overwrites only the
// Infor-sourced routing fields, leaving locked fields untouched.
func (p *JobRoutingImporter) UpdateEntity(ctx context.Context, existing *db.Operation, mapped MappedRow) error {
	existing.WorkCenterID = nullInt64(mapped["work_center_id"])
	existing.SetupMinutes = floatOf(mapped["setup_time_min"])
	existing.OperationMinutes = floatOf(mapped["operation_time_min"])
	existing.ManningCoefficient = floatOrDefault(mapped["manning_coefficient"], 100.0)
	return p.store.UpdateOperation(ctx, existing.ID, existing, p.actingUser)
}
