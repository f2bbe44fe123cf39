// Package sharerecovery recovers drawings that predate the Infor
// document sync: it walks a configured filesystem root of per-part
// drawing folders, matches each folder's name exactly against a Part's
// article number, and attaches the folder's files to that Part the same
// way DocumentImporter attaches drawings fetched from Infor.
package sharerecovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/filestore"
)

// skipPrefixes excludes folders whose names begin with these prefixes
// from matching entirely - these article-number ranges are owned by a
// different process upstream and never carry recoverable drawings.
var skipPrefixes = []string{"46", "47"}

// pdfExtensions and stepExtensions partition a folder's files: exactly
// one PDF becomes the Part's primary drawing, any others become
// non-primary drawings, and STEP/STP files become non-primary
// "step_model" links.
var pdfExtensions = map[string]bool{".pdf": true}
var stepExtensions = map[string]bool{".step": true, ".stp": true}

// store is the persistence dependency the importer needs, matching the
// same Part lookup and drawing-link bookkeeping DocumentImporter uses.
type store interface {
	ActiveParts(ctx context.Context) ([]db.Part, error)
	PartIDsWithDrawingLink(ctx context.Context, partIDs []int64) (map[int64]bool, error)
	SetPartFileID(ctx context.Context, partID, fileID int64, actor string) error
}

// FolderStatus classifies a scanned folder ahead of execution.
type FolderStatus string

const (
	StatusReady           FolderStatus = "ready"
	StatusNoMatch         FolderStatus = "no_match"
	StatusAlreadyImported FolderStatus = "already_imported"
	StatusNoPDF           FolderStatus = "no_pdf"
)

// FolderCandidate is one top-level folder under the scanned root, with
// its file inventory and Part match.
type FolderCandidate struct {
	FolderName        string
	Path              string
	MatchedPartID     int64
	MatchedPartNumber string
	PDFFiles          []string // absolute paths, sorted alphabetically; [0] is the would-be primary
	StepFiles         []string // absolute paths, sorted alphabetically
	Status            FolderStatus
}

// Result summarizes one recovery execution.
type Result struct {
	FoldersProcessed int
	PrimaryAttached  int
	ExtraAttached    int // non-primary PDFs
	StepAttached     int // STEP/STP models
	Skipped          int
	Errors           []string
}

// Importer walks Root, one level deep, for per-part drawing folders.
type Importer struct {
	store store
	files *filestore.Store
	root  string
}

// New builds an Importer rooted at root, a directory of per-part
// drawing folders on a mounted network share.
func New(store store, files *filestore.Store, root string) *Importer {
	return &Importer{store: store, files: files, root: root}
}

func hasSkipPrefix(folderName string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(folderName, p) {
			return true
		}
	}
	return false
}

// Scan lists the immediate subdirectories of root (never recursing past
// one level - that's the share's documented layout) and matches each
// folder's name exactly against a Part's article number. It performs no
// writes; Run calls Scan then attaches every "ready" folder.
func (imp *Importer) Scan(ctx context.Context) ([]FolderCandidate, error) {
	parts, err := imp.store.ActiveParts(ctx)
	if err != nil {
		return nil, fmt.Errorf("sharerecovery: load parts: %w", err)
	}
	lookup := map[string]db.Part{}
	for _, p := range parts {
		article := strings.TrimSpace(p.ArticleNumber)
		if article == "" {
			continue
		}
		if _, exists := lookup[article]; !exists {
			lookup[article] = p
		}
	}

	entries, err := os.ReadDir(imp.root)
	if err != nil {
		return nil, fmt.Errorf("sharerecovery: read %s: %w", imp.root, err)
	}

	var candidates []FolderCandidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if hasSkipPrefix(name) {
			continue
		}

		folderPath := filepath.Join(imp.root, name)
		pdfs, steps, err := scanFolderFiles(folderPath)
		if err != nil {
			return nil, fmt.Errorf("sharerecovery: read folder %s: %w", folderPath, err)
		}

		candidate := FolderCandidate{
			FolderName: name,
			Path:       folderPath,
			PDFFiles:   pdfs,
			StepFiles:  steps,
		}
		if part, ok := lookup[name]; ok {
			candidate.MatchedPartID = part.ID
			candidate.MatchedPartNumber = part.PartNumber
		}
		candidates = append(candidates, candidate)
	}

	partIDs := make([]int64, 0, len(candidates))
	seen := map[int64]bool{}
	for _, c := range candidates {
		if c.MatchedPartID != 0 && !seen[c.MatchedPartID] {
			partIDs = append(partIDs, c.MatchedPartID)
			seen[c.MatchedPartID] = true
		}
	}
	linked, err := imp.store.PartIDsWithDrawingLink(ctx, partIDs)
	if err != nil {
		return nil, fmt.Errorf("sharerecovery: check existing drawing links: %w", err)
	}

	for i := range candidates {
		c := &candidates[i]
		switch {
		case c.MatchedPartID == 0:
			c.Status = StatusNoMatch
		case linked[c.MatchedPartID]:
			c.Status = StatusAlreadyImported
		case len(c.PDFFiles) == 0:
			c.Status = StatusNoPDF
		default:
			c.Status = StatusReady
		}
	}
	return candidates, nil
}

// scanFolderFiles lists one folder's immediate files (not recursing
// into any subfolders it may contain) and sorts each extension group
// alphabetically so the first PDF is deterministic.
func scanFolderFiles(folderPath string) (pdfs, steps []string, err error) {
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		full := filepath.Join(folderPath, e.Name())
		switch {
		case pdfExtensions[ext]:
			pdfs = append(pdfs, full)
		case stepExtensions[ext]:
			steps = append(steps, full)
		}
	}
	sort.Strings(pdfs)
	sort.Strings(steps)
	return pdfs, steps, nil
}

// recoveryCommitBatch is the number of folders Run takes per batch, the
// original recovery tool's batch size. Each folder is still attached on
// its own; no transaction spans a batch.
const recoveryCommitBatch = 50

// Run scans the share and, for every "ready" folder, attaches the
// alphabetically-first PDF as the Part's primary drawing, any remaining
// PDFs as non-primary drawings, and any STEP/STP files as non-primary
// step_model links. Folders are processed in batches of
// recoveryCommitBatch; a folder's failure is recorded and processing
// continues with the next folder - a bad folder never blocks the rest
// of the share.
func (imp *Importer) Run(ctx context.Context, actingUser string) (Result, error) {
	candidates, err := imp.Scan(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	var ready []FolderCandidate
	for _, c := range candidates {
		switch c.Status {
		case StatusReady:
			ready = append(ready, c)
		default:
			result.Skipped++
		}
	}

	for start := 0; start < len(ready); start += recoveryCommitBatch {
		end := start + recoveryCommitBatch
		if end > len(ready) {
			end = len(ready)
		}
		for _, c := range ready[start:end] {
			result.FoldersProcessed++
			if err := imp.attachFolder(ctx, c, actingUser, &result); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.FolderName, err))
				continue
			}
		}
	}
	return result, nil
}

// attachFolder stores and links every file in one matched folder:
// primary PDF first (so Part.file_id always points at it), then
// remaining PDFs, then STEP/STP models.
func (imp *Importer) attachFolder(ctx context.Context, c FolderCandidate, actingUser string, result *Result) error {
	dirName := c.FolderName

	primary := c.PDFFiles[0]
	record, err := imp.storeAndLink(ctx, primary, dirName, c.MatchedPartID, true, "drawing", actingUser)
	if err != nil {
		return fmt.Errorf("primary drawing %s: %w", primary, err)
	}
	if err := imp.store.SetPartFileID(ctx, c.MatchedPartID, record.ID, actingUser); err != nil {
		return fmt.Errorf("set part file id: %w", err)
	}
	result.PrimaryAttached++
	slog.Info("sharerecovery: attached primary drawing", "folder", c.FolderName, "part_id", c.MatchedPartID, "file_id", record.ID)

	for _, path := range c.PDFFiles[1:] {
		if _, err := imp.storeAndLink(ctx, path, dirName, c.MatchedPartID, false, "drawing", actingUser); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		result.ExtraAttached++
	}

	for _, path := range c.StepFiles {
		if _, err := imp.storeAndLink(ctx, path, dirName, c.MatchedPartID, false, "step_model", actingUser); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", path, err))
			continue
		}
		result.StepAttached++
	}
	return nil
}

func (imp *Importer) storeAndLink(ctx context.Context, path, dirName string, partID int64, isPrimary bool, linkType, actingUser string) (*db.FileRecord, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer fh.Close()

	record, err := imp.files.Store(ctx, filestore.StoreInput{
		Filename:   filepath.Base(path),
		Content:    fh,
		Directory:  fmt.Sprintf("parts/%s", dirName),
		ActingUser: actingUser,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if _, err := imp.files.Link(ctx, record.ID, "part", partID, isPrimary, "", linkType, actingUser); err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	return record, nil
}
