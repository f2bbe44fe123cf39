package sharerecovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pinggolf/gestima/internal/db"
)

type fakeStore struct {
	parts  []db.Part
	linked map[int64]bool
}

func (f *fakeStore) ActiveParts(ctx context.Context) ([]db.Part, error) {
	return f.parts, nil
}

func (f *fakeStore) PartIDsWithDrawingLink(ctx context.Context, partIDs []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	for _, id := range partIDs {
		if f.linked[id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeStore) SetPartFileID(ctx context.Context, partID, fileID int64, actor string) error {
	return nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScan_MatchesFolderNameExactlyAgainstArticleNumber(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "99.001.77854", "99.001.77854_Koppelplatte_F4-nabidka.pdf"), "%PDF-1.4 fake")

	fs := &fakeStore{
		parts: []db.Part{{ID: 7, PartNumber: "10000007", ArticleNumber: "99.001.77854"}},
	}
	imp := New(fs, nil, root)

	candidates, err := imp.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(candidates))
	}
	c := candidates[0]
	if c.MatchedPartID != 7 {
		t.Fatalf("expected match on part 7, got %d", c.MatchedPartID)
	}
	if c.Status != StatusReady {
		t.Fatalf("expected ready status, got %q", c.Status)
	}
	if len(c.PDFFiles) != 1 {
		t.Fatalf("expected 1 pdf, got %d", len(c.PDFFiles))
	}
}

func TestScan_SkipsSkipPrefixFolders(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "46.001.00001", "drawing.pdf"), "%PDF-1.4 fake")
	writeFile(t, filepath.Join(root, "47.002.00002", "drawing.pdf"), "%PDF-1.4 fake")

	fs := &fakeStore{parts: []db.Part{
		{ID: 1, PartNumber: "10000001", ArticleNumber: "46.001.00001"},
		{ID: 2, PartNumber: "10000002", ArticleNumber: "47.002.00002"},
	}}
	imp := New(fs, nil, root)

	candidates, err := imp.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected skip-prefix folders excluded entirely, got %d", len(candidates))
	}
}

func TestScan_NoMatchAndAlreadyImportedAndNoPDFStatuses(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "NOMATCH", "drawing.pdf"), "%PDF-1.4 fake")
	writeFile(t, filepath.Join(root, "ALREADY", "drawing.pdf"), "%PDF-1.4 fake")
	writeFile(t, filepath.Join(root, "STEPONLY", "model.step"), "step data")

	fs := &fakeStore{
		parts: []db.Part{
			{ID: 2, PartNumber: "10000002", ArticleNumber: "ALREADY"},
			{ID: 3, PartNumber: "10000003", ArticleNumber: "STEPONLY"},
		},
		linked: map[int64]bool{2: true},
	}
	imp := New(fs, nil, root)

	candidates, err := imp.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	byName := map[string]FolderCandidate{}
	for _, c := range candidates {
		byName[c.FolderName] = c
	}
	if byName["NOMATCH"].Status != StatusNoMatch {
		t.Fatalf("expected no_match, got %q", byName["NOMATCH"].Status)
	}
	if byName["ALREADY"].Status != StatusAlreadyImported {
		t.Fatalf("expected already_imported, got %q", byName["ALREADY"].Status)
	}
	if byName["STEPONLY"].Status != StatusNoPDF {
		t.Fatalf("expected no_pdf, got %q", byName["STEPONLY"].Status)
	}
}

func TestScan_PrimaryPDFIsAlphabeticallyFirst(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "ABC", "z-last.pdf"), "%PDF-1.4 fake")
	writeFile(t, filepath.Join(root, "ABC", "a-first.pdf"), "%PDF-1.4 fake")
	writeFile(t, filepath.Join(root, "ABC", "model.stp"), "step data")

	fs := &fakeStore{parts: []db.Part{{ID: 1, PartNumber: "10000001", ArticleNumber: "ABC"}}}
	imp := New(fs, nil, root)

	candidates, err := imp.Scan(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(candidates))
	}
	c := candidates[0]
	if len(c.PDFFiles) != 2 || filepath.Base(c.PDFFiles[0]) != "a-first.pdf" {
		t.Fatalf("expected alphabetically-first pdf as primary, got %v", c.PDFFiles)
	}
	if len(c.StepFiles) != 1 || filepath.Base(c.StepFiles[0]) != "model.stp" {
		t.Fatalf("expected 1 step file, got %v", c.StepFiles)
	}
}
