package importer

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/erpclient"
	"github.com/pinggolf/gestima/internal/filestore"
)

// documentIDOName is the Infor IDO document metadata and binary content
// are read from.
const documentIDOName = "SLDocumentObjects_Exts"

// documentMetadataProperties are the columns list_documents fetches;
// DocumentObject (the base64 binary) is deliberately excluded until a
// specific row is selected for download.
var documentMetadataProperties = []string{
	"DocumentName", "DocumentExtension", "DocumentType", "RowPointer", "Sequence", "Description", "StorageMethod",
}

// defaultDocumentFilter restricts the metadata listing to drawing-type
// documents.
const defaultDocumentFilter = `DocumentType IN ('Výkres-platný', 'PDF', 'Výkres')`

const maxDocumentPages = 500
const documentPageSize = 200

// documentCommitBatch groups rows into batches that download in
// parallel and commit together; a batch's commit failure rolls back
// only that batch and stops further processing, rather than poisoning
// or silently dropping rows outside it.
const documentCommitBatch = 100

// documentStore is the persistence dependency DocumentImporter needs.
type documentStore interface {
	ActiveParts(ctx context.Context) ([]db.Part, error)
	PartIDsWithDrawingLink(ctx context.Context, partIDs []int64) (map[int64]bool, error)
	SetPartFileID(ctx context.Context, partID, fileID int64, actor string) error
	FindLinkedPartsByHash(ctx context.Context, hash string, excludeFileID, excludePartID int64) ([]int64, error)
}

// txCapableDocumentStore is implemented by *db.Queries. When d.store
// satisfies it, ExecuteImport runs each commit batch inside a real
// transaction so a failed commit rolls back the whole batch instead of
// leaving it half-applied; a documentStore fake used in tests that
// doesn't implement WithTx falls back to the non-transactional path.
type txCapableDocumentStore interface {
	documentStore
	WithTx(ctx context.Context, fn func(*db.Queries) error) error
}

// DocumentMeta is one document's metadata row from Infor, without
// binary content.
type DocumentMeta struct {
	DocumentName      string
	DocumentExtension string
	RowPointer        string
	Sequence          string
	Description       string
}

// StagedDocument pairs a fetched document's metadata with the result of
// matching it against a Part, ready for preview display or execution.
type StagedDocument struct {
	RowIndex              int
	Doc                   DocumentMeta
	MatchedArticleNumber  string
	MatchedPartID         int64
	MatchedPartNumber     string
	IsValid               bool
	IsDuplicate           bool
	Errors                []string
	Warnings              []string
	DuplicateAction       string // "skip" or "update"
}

// DocumentImporter imports PDF drawings from Infor Document Management.
// Unlike the kernel-driven importers, it does not implement
// EntityImporter: it needs custom pagination and a parallel binary
// download phase the generic pipeline doesn't model.
type DocumentImporter struct {
	store      documentStore
	files      *filestore.Store
	downloadConcurrency int
}

// NewDocumentImporter builds a DocumentImporter.
func NewDocumentImporter(store documentStore, files *filestore.Store) *DocumentImporter {
	return &DocumentImporter{store: store, files: files, downloadConcurrency: 10}
}

// ListDocuments fetches document metadata from Infor via bookmark
// pagination, never requesting the binary content.
func (d *DocumentImporter) ListDocuments(ctx context.Context, client *erpclient.Client, filter string, recordCap int) ([]DocumentMeta, error) {
	if filter == "" {
		filter = defaultDocumentFilter
	}

	var all []DocumentMeta
	seenBookmarks := map[string]bool{}
	bookmark := ""
	loadType := ""

	for page := 0; page < maxDocumentPages; page++ {
		pageSize := documentPageSize
		if recordCap > 0 {
			remaining := recordCap - len(all)
			if remaining <= 0 {
				break
			}
			if remaining < pageSize {
				pageSize = remaining
			}
		}

		result, err := client.LoadCollection(ctx, documentIDOName, documentMetadataProperties, erpclient.LoadOptions{
			Filter:    filter,
			RecordCap: pageSize,
			LoadType:  loadType,
			Bookmark:  bookmark,
		})
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}

		for _, row := range result.Data {
			all = append(all, DocumentMeta{
				DocumentName:      fmt.Sprintf("%v", row["DocumentName"]),
				DocumentExtension: fmt.Sprintf("%v", row["DocumentExtension"]),
				RowPointer:        fmt.Sprintf("%v", row["RowPointer"]),
				Sequence:          fmt.Sprintf("%v", row["Sequence"]),
				Description:       fmt.Sprintf("%v", row["Description"]),
			})
		}

		if result.Bookmark != "" {
			if seenBookmarks[result.Bookmark] {
				slog.Warn("document sync: bookmark loop detected, stopping", "page", page)
				break
			}
			seenBookmarks[result.Bookmark] = true
		}
		bookmark = result.Bookmark
		loadType = "NEXT"

		if !result.HasMore || bookmark == "" || len(result.Data) == 0 {
			break
		}
		if recordCap > 0 && len(all) >= recordCap {
			break
		}
	}

	return all, nil
}

// DownloadDocument fetches a single PDF's binary content.
func (d *DocumentImporter) DownloadDocument(ctx context.Context, client *erpclient.Client, rowPointer string) ([]byte, string, string, error) {
	result, err := client.LoadCollection(ctx, documentIDOName,
		[]string{"DocumentObject", "DocumentName", "DocumentExtension"},
		erpclient.LoadOptions{Filter: fmt.Sprintf("RowPointer = '%s'", rowPointer), RecordCap: 1},
	)
	if err != nil {
		return nil, "", "", fmt.Errorf("download document: %w", err)
	}
	if len(result.Data) == 0 {
		return nil, "", "", fmt.Errorf("document not found: row_pointer=%q", rowPointer)
	}

	row := result.Data[0]
	b64, _ := row["DocumentObject"].(string)
	if b64 == "" {
		return nil, "", "", fmt.Errorf("document has no binary content: row_pointer=%q", rowPointer)
	}

	content, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, "", "", fmt.Errorf("decode document content: %w", err)
	}

	name, _ := row["DocumentName"].(string)
	if name == "" {
		name = "unknown"
	}
	ext, _ := row["DocumentExtension"].(string)
	if ext == "" {
		ext = "pdf"
	}
	return content, name, ext, nil
}

// MatchDocumentsToParts is a pure function matching documents to Parts
// by article number appearing in DocumentName, no DB access. Matching
// prefers an exact name match over a word-boundary token match; a bare
// substring is never enough — "35126" must not match "52083512611".
func MatchDocumentsToParts(documents []DocumentMeta, parts []db.Part) []StagedDocument {
	lookup := map[string]db.Part{}
	for _, part := range parts {
		if part.ArticleNumber == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part.ArticleNumber))
		if key == "" {
			continue
		}
		if _, exists := lookup[key]; !exists {
			lookup[key] = part
		}
	}

	staged := make([]StagedDocument, 0, len(documents))
	for idx, doc := range documents {
		normalised := strings.ToLower(strings.TrimSpace(doc.DocumentName))
		normalised = strings.TrimSuffix(normalised, ".pdf")

		type match struct {
			identifier string
			part       db.Part
		}
		var exactMatches, tokenMatches []match

		for identifier, part := range lookup {
			if identifier == normalised {
				exactMatches = append(exactMatches, match{identifier, part})
			} else if strings.Contains(normalised, identifier) {
				pattern := regexp.MustCompile(`(?:^|[^a-zA-Z0-9])` + regexp.QuoteMeta(identifier) + `(?:$|[^a-zA-Z0-9])`)
				if pattern.MatchString(normalised) {
					tokenMatches = append(tokenMatches, match{identifier, part})
				}
			}
		}

		var warnings, errs []string
		var matchedPart *db.Part
		var matchedIdentifier string

		switch {
		case len(exactMatches) > 0:
			if len(exactMatches) > 1 {
				warnings = append(warnings, fmt.Sprintf("ambiguous exact match for %q, using first match", doc.DocumentName))
			}
			matchedIdentifier = exactMatches[0].identifier
			p := exactMatches[0].part
			matchedPart = &p
		case len(tokenMatches) > 0:
			longest := tokenMatches[0]
			for _, m := range tokenMatches[1:] {
				if len(m.identifier) > len(longest.identifier) {
					longest = m
				}
			}
			if len(tokenMatches) > 1 {
				warnings = append(warnings, fmt.Sprintf("multiple token matches for %q, using longest", doc.DocumentName))
			}
			matchedIdentifier = longest.identifier
			p := longest.part
			matchedPart = &p
		}

		if doc.RowPointer == "" {
			errs = append(errs, "missing RowPointer, cannot download document")
		}
		if matchedPart == nil {
			errs = append(errs, fmt.Sprintf("no matching part found for document name %q", doc.DocumentName))
		}

		row := StagedDocument{
			RowIndex:        idx,
			Doc:             doc,
			IsValid:         len(errs) == 0,
			Errors:          errs,
			Warnings:        warnings,
			DuplicateAction: "skip",
		}
		if matchedPart != nil {
			row.MatchedPartID = matchedPart.ID
			row.MatchedPartNumber = matchedPart.PartNumber
			if strings.ToLower(strings.TrimSpace(matchedPart.ArticleNumber)) == matchedIdentifier {
				row.MatchedArticleNumber = matchedPart.ArticleNumber
			}
		}
		staged = append(staged, row)
	}

	return staged
}

// PreviewImport matches documents to Parts and flags rows whose
// matched Part already has a primary drawing.
func (d *DocumentImporter) PreviewImport(ctx context.Context, documents []DocumentMeta) ([]StagedDocument, error) {
	parts, err := d.store.ActiveParts(ctx)
	if err != nil {
		return nil, fmt.Errorf("preview import: load parts: %w", err)
	}

	staged := MatchDocumentsToParts(documents, parts)

	partIDs := make([]int64, 0, len(staged))
	seen := map[int64]bool{}
	for _, row := range staged {
		if row.MatchedPartID != 0 && !seen[row.MatchedPartID] {
			partIDs = append(partIDs, row.MatchedPartID)
			seen[row.MatchedPartID] = true
		}
	}

	linked, err := d.store.PartIDsWithDrawingLink(ctx, partIDs)
	if err != nil {
		return nil, fmt.Errorf("preview import: check duplicate links: %w", err)
	}

	for i := range staged {
		if staged[i].MatchedPartID != 0 && linked[staged[i].MatchedPartID] {
			staged[i].IsDuplicate = true
		}
	}
	return staged, nil
}

// ExecuteDocumentsResult aggregates the outcome of executing a document import
// batch.
type ExecuteDocumentsResult struct {
	Created  int
	Updated  int
	Skipped  int
	Errors   []string
	Warnings []string
}

// ExecuteImport downloads and stores every valid, non-skipped staged
// row, processing documentCommitBatch rows at a time. Within a batch,
// downloads run with bounded concurrency while storage and linking run
// sequentially, and - when the store supports it - the whole batch's
// writes share one transaction: a per-row download/store/link failure
// is recorded and the row is skipped without aborting the batch, but a
// batch-level commit failure rolls back that batch's writes and stops
// further batches, propagating the error to the caller.
func (d *DocumentImporter) ExecuteImport(ctx context.Context, staged []StagedDocument, client *erpclient.Client, actingUser string) (ExecuteDocumentsResult, error) {
	var result ExecuteDocumentsResult

	var valid []StagedDocument
	for _, row := range staged {
		if !row.IsValid {
			result.Skipped++
			continue
		}
		if row.IsDuplicate && row.DuplicateAction == "skip" {
			result.Skipped++
			continue
		}
		valid = append(valid, row)
	}

	type downloaded struct {
		content []byte
		name    string
		ext     string
		err     error
	}

	for start := 0; start < len(valid); start += documentCommitBatch {
		end := start + documentCommitBatch
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]

		downloads := make([]downloaded, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.downloadConcurrency)
		for i, row := range batch {
			i, row := i, row
			g.Go(func() error {
				content, name, ext, err := d.DownloadDocument(gctx, client, row.Doc.RowPointer)
				downloads[i] = downloaded{content: content, name: name, ext: ext, err: err}
				return nil
			})
		}
		_ = g.Wait()

		processBatch := func(store documentStore, files *filestore.Store) {
			for i, row := range batch {
				dl := downloads[i]
				if dl.err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("download failed for %q: %v", row.Doc.DocumentName, dl.err))
					result.Skipped++
					continue
				}

				safeExt := strings.ToLower(strings.TrimPrefix(dl.ext, "."))
				if safeExt == "" {
					safeExt = "pdf"
				}
				filename := dl.name
				if !strings.Contains(filename, ".") {
					filename = fmt.Sprintf("%s.%s", dl.name, safeExt)
				}

				dirName := row.MatchedArticleNumber
				if dirName == "" {
					dirName = row.MatchedPartNumber
				}
				directory := fmt.Sprintf("parts/%s", dirName)

				record, err := files.Store(ctx, filestore.StoreInput{
					Filename:     filename,
					Content:      strings.NewReader(string(dl.content)),
					Directory:    directory,
					AllowedTypes: []string{"pdf"},
					ActingUser:   actingUser,
				})
				if err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("store failed for %q: %v", row.Doc.DocumentName, err))
					result.Skipped++
					continue
				}

				otherParts, err := store.FindLinkedPartsByHash(ctx, record.FileHash, record.ID, row.MatchedPartID)
				if err != nil {
					result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate hash check failed for %q: %v", row.Doc.DocumentName, err))
				} else if len(otherParts) > 0 {
					result.Warnings = append(result.Warnings, fmt.Sprintf("document %q duplicates content already linked to part(s) %v", row.Doc.DocumentName, otherParts))
				}

				if _, err := files.Link(ctx, record.ID, "part", row.MatchedPartID, true, "", "drawing", actingUser); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("link failed for %q -> part %d: %v", row.Doc.DocumentName, row.MatchedPartID, err))
					result.Skipped++
					continue
				}

				isUpdate := row.IsDuplicate
				if err := store.SetPartFileID(ctx, row.MatchedPartID, record.ID, actingUser); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("set part file id failed for part %d: %v", row.MatchedPartID, err))
					result.Skipped++
					continue
				}

				if isUpdate {
					result.Updated++
				} else {
					result.Created++
				}
			}
		}

		if txStore, ok := d.store.(txCapableDocumentStore); ok {
			err := txStore.WithTx(ctx, func(tq *db.Queries) error {
				txFiles, ferr := filestore.New(d.files.Root(), tq)
				if ferr != nil {
					return ferr
				}
				processBatch(tq, txFiles)
				return nil
			})
			if err != nil {
				return result, fmt.Errorf("execute import: commit batch at offset %d: %w", start, err)
			}
		} else {
			processBatch(d.store, d.files)
		}
	}

	return result, nil
}
