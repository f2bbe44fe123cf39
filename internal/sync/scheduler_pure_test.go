package sync

import (
	"database/sql"
	"testing"
	"time"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
)

func TestBuildFilter_WatermarkClauseAndFormat(t *testing.T) {
	wm := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

	got := buildFilter("FamilyCode LIKE 'Výrobek'", "RecordDate", wm)
	want := "FamilyCode LIKE 'Výrobek' AND RecordDate >= '2026-07-30 12:00:00'"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildFilter_EmptyBaseOmitsLeadingAnd(t *testing.T) {
	wm := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := buildFilter("", "RecordDate", wm)
	if got != "RecordDate >= '2026-01-01 00:00:00'" {
		t.Fatalf("unexpected filter: %q", got)
	}
}

func TestBuildFilter_NonUTCWatermarkIsConverted(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	wm := time.Date(2026, 7, 30, 14, 0, 0, 0, loc)
	got := buildFilter("", "RecordDate", wm)
	if got != "RecordDate >= '2026-07-30 13:00:00'" {
		t.Fatalf("expected conversion to UTC, got %q", got)
	}
}

func TestTruncate_ShortAndLongError(t *testing.T) {
	if got := truncate("short", 500); got != "short" {
		t.Fatalf("unexpected truncation of short string: %q", got)
	}
	long := ""
	for i := 0; i < 600; i++ {
		long += "x"
	}
	got := truncate(long, 500)
	if len(got) != 500 {
		t.Fatalf("expected truncated length 500, got %d", len(got))
	}
}

func TestPropertiesFor_SplitsAndTrimsCSV(t *testing.T) {
	state := db.SyncState{Properties: sql.NullString{String: "Foo, Bar ,Baz", Valid: true}}
	got := propertiesFor(state)
	want := []string{"Foo", "Bar", "Baz"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestPropertiesFor_NullOrEmptyReturnsNil(t *testing.T) {
	if got := propertiesFor(db.SyncState{}); got != nil {
		t.Fatalf("expected nil for unset properties, got %v", got)
	}
	if got := propertiesFor(db.SyncState{Properties: sql.NullString{Valid: true, String: ""}}); got != nil {
		t.Fatalf("expected nil for empty string properties, got %v", got)
	}
}

func TestArticleNumberOf_ReadsJobItem(t *testing.T) {
	row := erpclient.Row{"JobItem": "ABC-123"}
	if got := articleNumberOf(row); got != "ABC-123" {
		t.Fatalf("expected ABC-123, got %q", got)
	}
}

func TestArticleNumberOf_MissingOrWrongTypeIsEmpty(t *testing.T) {
	if got := articleNumberOf(erpclient.Row{}); got != "" {
		t.Fatalf("expected empty string for missing field, got %q", got)
	}
	if got := articleNumberOf(erpclient.Row{"JobItem": 123}); got != "" {
		t.Fatalf("expected empty string for non-string field, got %q", got)
	}
}

func TestGroupByArticle_GroupsAndDropsBlank(t *testing.T) {
	rows := []erpclient.Row{
		{"JobItem": "A", "Seq": 1},
		{"JobItem": "A", "Seq": 2},
		{"JobItem": "B", "Seq": 1},
		{"JobItem": ""},
		{},
	}
	groups := groupByArticle(rows)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if len(groups["A"]) != 2 {
		t.Fatalf("expected 2 rows in group A, got %d", len(groups["A"]))
	}
	if len(groups["B"]) != 1 {
		t.Fatalf("expected 1 row in group B, got %d", len(groups["B"]))
	}
}
