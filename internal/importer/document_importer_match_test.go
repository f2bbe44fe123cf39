package importer

import (
	"testing"

	"github.com/pinggolf/gestima/internal/db"
)

func partWithArticle(id int64, article string) db.Part {
	return db.Part{ID: id, PartNumber: "1000000" + string(rune('0'+id)), ArticleNumber: article}
}

func TestMatchDocumentsToParts_LongestTokenWins(t *testing.T) {
	parts := []db.Part{
		partWithArticle(1, "ABC-123"),
		partWithArticle(2, "ABC"),
		partWithArticle(3, "99.001.77854"),
	}
	docs := []DocumentMeta{
		{DocumentName: "99.001.77854_rev_A.pdf", RowPointer: "rp1"},
	}

	staged := MatchDocumentsToParts(docs, parts)
	if len(staged) != 1 {
		t.Fatalf("expected 1 staged row, got %d", len(staged))
	}
	if staged[0].MatchedPartID != 3 {
		t.Fatalf("expected match on longest identifier 99.001.77854 (part 3), got part %d", staged[0].MatchedPartID)
	}
	if !staged[0].IsValid {
		t.Fatalf("expected valid row, errors=%v", staged[0].Errors)
	}
}

func TestMatchDocumentsToParts_ExactTokenPreferredOverShorterPrefix(t *testing.T) {
	parts := []db.Part{
		partWithArticle(1, "ABC-123"),
		partWithArticle(2, "ABC"),
	}
	docs := []DocumentMeta{
		{DocumentName: "ABC-123-drawing.pdf", RowPointer: "rp1"},
	}

	staged := MatchDocumentsToParts(docs, parts)
	if staged[0].MatchedPartID != 1 {
		t.Fatalf("expected match on ABC-123 (part 1), got part %d", staged[0].MatchedPartID)
	}
}

func TestMatchDocumentsToParts_EmbeddedSubstringMustNotMatch(t *testing.T) {
	parts := []db.Part{
		partWithArticle(1, "35126"),
	}
	docs := []DocumentMeta{
		{DocumentName: "52083512611.pdf", RowPointer: "rp1"},
	}

	staged := MatchDocumentsToParts(docs, parts)
	if staged[0].MatchedPartID != 0 {
		t.Fatalf("expected no match for a substring embedded in a longer digit run, got part %d", staged[0].MatchedPartID)
	}
	if staged[0].IsValid {
		t.Fatal("expected row to be invalid when no part matches")
	}
}

func TestMatchDocumentsToParts_ExactNameMatch(t *testing.T) {
	parts := []db.Part{
		partWithArticle(1, "99.001.77854"),
	}
	docs := []DocumentMeta{
		{DocumentName: "99.001.77854.pdf", RowPointer: "rp1"},
	}

	staged := MatchDocumentsToParts(docs, parts)
	if staged[0].MatchedPartID != 1 {
		t.Fatalf("expected exact match on part 1, got %d", staged[0].MatchedPartID)
	}
	if len(staged[0].Warnings) != 0 {
		t.Fatalf("single exact match should not warn, got %v", staged[0].Warnings)
	}
}

func TestMatchDocumentsToParts_MissingRowPointerIsInvalid(t *testing.T) {
	parts := []db.Part{partWithArticle(1, "ABC")}
	docs := []DocumentMeta{{DocumentName: "ABC.pdf", RowPointer: ""}}

	staged := MatchDocumentsToParts(docs, parts)
	if staged[0].IsValid {
		t.Fatal("expected row without RowPointer to be invalid")
	}
}
