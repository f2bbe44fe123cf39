package importer

import (
	"context"
	"testing"

	"github.com/pinggolf/gestima/internal/erpclient"
	"github.com/pinggolf/gestima/internal/workcenter"
)

func newTestProductionImporter() *ProductionImporter {
	resolver := workcenter.New(nil, nil)
	imp := NewProductionImporter(nil, resolver, "tester")
	imp.SetPartForGroup("ABC", 42)
	return imp
}

func TestMapRowCustom_PlannedOnlySetsManningCoefficientNotActual(t *testing.T) {
	imp := newTestProductionImporter()

	basic := MappedRow{
		"infor_order_number":   "J-1",
		"article_number":       "ABC",
		"infor_wc_code":        "",
		"operation_seq":        1,
		"batch_quantity":       100.0,
		"pcs_per_hour_machine": 50.0,
		"pcs_per_hour_labor":   40.0,
	}
	custom, err := imp.MapRowCustom(context.Background(), erpclient.Row{}, basic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if custom.ShouldSkip() {
		t.Fatal("expected row not skipped")
	}
	want := round((50.0/40.0)*100, 1)
	if got := custom["manning_coefficient"]; got != want {
		t.Fatalf("expected planned manning_coefficient %v, got %v", want, got)
	}
	if _, ok := custom["actual_manning_coefficient"]; ok {
		t.Fatalf("expected no actual_manning_coefficient without actual hours, got %v", custom["actual_manning_coefficient"])
	}
}

func TestMapRowCustom_ActualHoursAddActualWithoutClobberingPlanned(t *testing.T) {
	imp := newTestProductionImporter()

	basic := MappedRow{
		"infor_order_number":       "J-2",
		"article_number":           "ABC",
		"infor_wc_code":            "",
		"operation_seq":            1,
		"batch_quantity":           100.0,
		"pcs_per_hour_machine":     50.0,
		"pcs_per_hour_labor":       40.0,
		"actual_run_machine_hours": 2.0,
		"actual_run_labor_hours":   2.5,
	}
	custom, err := imp.MapRowCustom(context.Background(), erpclient.Row{}, basic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantPlanned := round((50.0/40.0)*100, 1)
	if got := custom["manning_coefficient"]; got != wantPlanned {
		t.Fatalf("expected planned manning_coefficient %v to survive, got %v", wantPlanned, got)
	}
	wantActual := round((2.5/2.0)*100, 1)
	if got := custom["actual_manning_coefficient"]; got != wantActual {
		t.Fatalf("expected actual_manning_coefficient %v, got %v", wantActual, got)
	}

	r := recordFromMapped(custom)
	if !r.ManningCoefficient.Valid || r.ManningCoefficient.Float64 != wantPlanned {
		t.Fatalf("expected record ManningCoefficient %v, got %+v", wantPlanned, r.ManningCoefficient)
	}
	if !r.ActualManningCoefficient.Valid || r.ActualManningCoefficient.Float64 != wantActual {
		t.Fatalf("expected record ActualManningCoefficient %v, got %+v", wantActual, r.ActualManningCoefficient)
	}
}

func TestMapRowCustom_CooperationOperationFixedPlannedCoefficientAndNoActual(t *testing.T) {
	imp := newTestProductionImporter()

	basic := MappedRow{
		"infor_order_number":       "J-3",
		"article_number":           "ABC",
		"infor_wc_code":            "KOO1",
		"operation_seq":            1,
		"batch_quantity":           100.0,
		"actual_run_machine_hours": 2.0,
		"actual_run_labor_hours":   2.5,
	}
	custom, err := imp.MapRowCustom(context.Background(), erpclient.Row{}, basic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := custom["manning_coefficient"]; got != 100.0 {
		t.Fatalf("expected fixed 100.0 planned coefficient for cooperation op, got %v", got)
	}
	if _, ok := custom["actual_manning_coefficient"]; ok {
		t.Fatalf("expected cooperation ops to never carry an actual manning coefficient, got %v", custom["actual_manning_coefficient"])
	}
}
