package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/pinggolf/gestima/internal/erpclient"
)

// fakeEntity is a minimal domain record for exercising the kernel in
// isolation from any concrete importer's storage.
type fakeEntity struct {
	ID    int64
	Code  string
	Name  string
	nextID int64
}

type fakeImporter struct {
	BaseImporter[*fakeEntity]
	cfg      Config
	store    map[string]*fakeEntity
	nextID   int64
	createErr error
}

func newFakeImporter() *fakeImporter {
	return &fakeImporter{
		store: map[string]*fakeEntity{},
		cfg: Config{
			EntityName: "fake",
			IDOName:    "SLFake",
			FieldMappings: []FieldMapping{
				{SourceField: "Code", TargetField: "code", Required: true},
				{SourceField: "Name", TargetField: "name", Required: false, FallbackFields: []string{"Descr"}},
				{SourceField: "Qty", TargetField: "qty", Transform: func(v interface{}) (interface{}, error) {
					s, _ := v.(string)
					if s == "bad" {
						return nil, errors.New("boom")
					}
					return s, nil
				}},
			},
			DuplicateCheckField: "code",
		},
	}
}

func (f *fakeImporter) Config() Config { return f.cfg }

func (f *fakeImporter) MapRowCustom(ctx context.Context, raw erpclient.Row, basic MappedRow) (MappedRow, error) {
	if basic["code"] == "SKIP-ME" {
		basic.Skip()
	}
	return basic, nil
}

func (f *fakeImporter) CreateEntity(ctx context.Context, mapped MappedRow) (*fakeEntity, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	e := &fakeEntity{ID: f.nextID, Code: mapped["code"].(string)}
	if name, ok := mapped["name"].(string); ok {
		e.Name = name
	}
	f.store[e.Code] = e
	return e, nil
}

func (f *fakeImporter) CheckDuplicate(ctx context.Context, mapped MappedRow) (*fakeEntity, bool, error) {
	code, _ := mapped["code"].(string)
	e, found := f.store[code]
	return e, found, nil
}

func (f *fakeImporter) UpdateEntity(ctx context.Context, existing *fakeEntity, mapped MappedRow) error {
	if name, ok := mapped["name"].(string); ok {
		existing.Name = name
	}
	return nil
}

func TestApplyBasicMapping_FallbackAndTransform(t *testing.T) {
	imp := newFakeImporter()
	k := NewKernel[*fakeEntity](imp)

	mapped := k.ApplyBasicMapping(erpclient.Row{"Code": "ABC", "Descr": "fallback name", "Qty": "5"})
	if mapped["code"] != "ABC" {
		t.Fatalf("expected code ABC, got %v", mapped["code"])
	}
	if mapped["name"] != "fallback name" {
		t.Fatalf("expected fallback to Descr, got %v", mapped["name"])
	}
	if mapped["qty"] != "5" {
		t.Fatalf("expected qty 5, got %v", mapped["qty"])
	}
}

func TestApplyBasicMapping_TransformFailureYieldsNilNotAbort(t *testing.T) {
	imp := newFakeImporter()
	k := NewKernel[*fakeEntity](imp)

	mapped := k.ApplyBasicMapping(erpclient.Row{"Code": "ABC", "Qty": "bad"})
	if mapped["qty"] != nil {
		t.Fatalf("expected qty to be nil after failed transform, got %v", mapped["qty"])
	}
	if mapped["code"] != "ABC" {
		t.Fatalf("other fields must still map: got %v", mapped["code"])
	}
}

func TestMapRow_SkipSentinelDropsRowFromPreview(t *testing.T) {
	imp := newFakeImporter()
	k := NewKernel[*fakeEntity](imp)

	rows := []erpclient.Row{
		{"Code": "SKIP-ME", "Name": "x"},
		{"Code": "KEEP-ME", "Name": "y"},
	}
	preview, err := k.PreviewImport(context.Background(), rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(preview.Rows) != 1 {
		t.Fatalf("expected 1 row after skip, got %d", len(preview.Rows))
	}
	if preview.Rows[0].Mapped["code"] != "KEEP-ME" {
		t.Fatalf("expected surviving row to be KEEP-ME, got %v", preview.Rows[0].Mapped["code"])
	}
}

func TestValidateMappedRow_RequiredFieldMissing(t *testing.T) {
	imp := newFakeImporter()
	k := NewKernel[*fakeEntity](imp)

	mapped := k.ApplyBasicMapping(erpclient.Row{"Name": "no code"})
	result, err := k.ValidateMappedRow(context.Background(), mapped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsValid {
		t.Fatal("expected invalid result for missing required field")
	}
	if !result.NeedsManualInput["code"] {
		t.Fatal("expected NeedsManualInput[code] = true")
	}
}

func TestPreviewImport_CountersAndDuplicateDetection(t *testing.T) {
	imp := newFakeImporter()
	k := NewKernel[*fakeEntity](imp)
	imp.store["DUP"] = &fakeEntity{ID: 1, Code: "DUP"}

	rows := []erpclient.Row{
		{"Code": "NEW1"},
		{"Code": "DUP"},
		{"Name": "missing code"},
	}
	preview, err := k.PreviewImport(context.Background(), rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if preview.ValidCount != 2 {
		t.Fatalf("expected 2 valid rows (new + duplicate), got %d", preview.ValidCount)
	}
	if preview.DuplicateCount != 1 {
		t.Fatalf("expected 1 duplicate, got %d", preview.DuplicateCount)
	}
	if preview.ErrorCount != 1 {
		t.Fatalf("expected 1 error row, got %d", preview.ErrorCount)
	}
}

func TestExecuteImport_CreateUpdateAndIdempotence(t *testing.T) {
	imp := newFakeImporter()
	k := NewKernel[*fakeEntity](imp)
	imp.store["DUP"] = &fakeEntity{ID: 1, Code: "DUP", Name: "old"}

	rows := []erpclient.Row{
		{"Code": "NEW1", "Name": "brand new"},
		{"Code": "DUP", "Name": "updated name"},
	}
	preview, err := k.PreviewImport(context.Background(), rows)
	if err != nil {
		t.Fatalf("preview error: %v", err)
	}
	for i := range preview.Rows {
		preview.Rows[i].DuplicateAction = "update"
	}

	result := k.ExecuteImport(context.Background(), preview.Rows)
	if result.Created != 1 || result.Updated != 1 {
		t.Fatalf("expected 1 created, 1 updated, got created=%d updated=%d", result.Created, result.Updated)
	}
	if imp.store["DUP"].Name != "updated name" {
		t.Fatalf("expected update to apply, got name=%s", imp.store["DUP"].Name)
	}

	// Re-running execute on the same source data (re-preview) must be
	// idempotent: the second pass creates nothing new and the "created"
	// row from pass one is now itself a duplicate-update no-op in effect.
	preview2, err := k.PreviewImport(context.Background(), rows)
	if err != nil {
		t.Fatalf("preview2 error: %v", err)
	}
	for i := range preview2.Rows {
		preview2.Rows[i].DuplicateAction = "update"
	}
	result2 := k.ExecuteImport(context.Background(), preview2.Rows)
	if result2.Created != 0 {
		t.Fatalf("expected idempotent re-run to create 0, got %d", result2.Created)
	}
	if result2.Updated != 2 {
		t.Fatalf("expected both rows to resolve as duplicate-update on re-run, got %d", result2.Updated)
	}
}

func TestExecuteImport_SkipActionLeavesDuplicateUntouched(t *testing.T) {
	imp := newFakeImporter()
	k := NewKernel[*fakeEntity](imp)
	imp.store["DUP"] = &fakeEntity{ID: 1, Code: "DUP", Name: "untouched"}

	rows := []erpclient.Row{{"Code": "DUP", "Name": "should not apply"}}
	preview, err := k.PreviewImport(context.Background(), rows)
	if err != nil {
		t.Fatalf("preview error: %v", err)
	}
	for i := range preview.Rows {
		preview.Rows[i].DuplicateAction = "skip"
	}
	result := k.ExecuteImport(context.Background(), preview.Rows)
	if result.Skipped != 1 {
		t.Fatalf("expected 1 skipped, got %d", result.Skipped)
	}
	if imp.store["DUP"].Name != "untouched" {
		t.Fatalf("skip must not mutate existing entity, got name=%s", imp.store["DUP"].Name)
	}
}

func TestExecuteImport_RowErrorsDoNotAbortBatch(t *testing.T) {
	imp := newFakeImporter()
	imp.createErr = errors.New("db write failed")
	k := NewKernel[*fakeEntity](imp)

	rows := []erpclient.Row{{"Code": "A"}, {"Code": "B"}}
	preview, err := k.PreviewImport(context.Background(), rows)
	if err != nil {
		t.Fatalf("preview error: %v", err)
	}
	result := k.ExecuteImport(context.Background(), preview.Rows)
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 collected errors, got %d: %v", len(result.Errors), result.Errors)
	}
	if result.Created != 0 {
		t.Fatalf("expected 0 created when CreateEntity always fails, got %d", result.Created)
	}
}
