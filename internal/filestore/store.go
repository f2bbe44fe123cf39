// Package filestore is the centralized file storage manager: physical
// file operations only (save, hash, validate, serve). Business logic
// like "which drawing is primary" belongs to the callers, not here.
package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pinggolf/gestima/internal/db"
)

// magicBytes maps a file type to the byte signature its content must
// start with. Types absent from this map skip the check.
var magicBytes = map[string][]byte{
	"pdf":  []byte("%PDF"),
	"step": []byte("ISO-10303"),
}

var mimeTypes = map[string]string{
	"pdf":   "application/pdf",
	"step":  "application/step",
	"stp":   "application/step",
	"nc":    "text/plain",
	"gcode": "text/plain",
	"xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

var extToType = map[string]string{
	"pdf":   "pdf",
	"step":  "step",
	"stp":   "step",
	"nc":    "nc",
	"gcode": "nc",
	"xlsx":  "xlsx",
}

var maxFileSizes = map[string]int64{
	"pdf":  10 * 1024 * 1024,
	"step": 100 * 1024 * 1024,
	"stp":  100 * 1024 * 1024,
}

const defaultMaxSize = 50 * 1024 * 1024

var safeFilenamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-. ]+$`)

// ErrUnsupportedType is returned when a filename's extension isn't in
// the known type map.
var ErrUnsupportedType = fmt.Errorf("filestore: unsupported file type")

// ErrInvalidFilename is returned for names containing path separators,
// ".." traversal sequences, or characters outside the safe set.
var ErrInvalidFilename = fmt.Errorf("filestore: invalid filename")

// ErrMagicBytesMismatch is returned when content doesn't start with the
// expected signature for its declared type.
var ErrMagicBytesMismatch = fmt.Errorf("filestore: magic bytes check failed")

// ErrEmptyFile is returned for zero-byte uploads.
var ErrEmptyFile = fmt.Errorf("filestore: empty file not allowed")

// ErrFileTooLarge is returned when content exceeds the type's size cap.
var ErrFileTooLarge = fmt.Errorf("filestore: file too large")

// ErrDiskMissing is returned by Serve when the DB record exists but the
// backing file is absent — an orphaned record.
var ErrDiskMissing = fmt.Errorf("filestore: file missing on disk")

// Store manages files under root on disk and their metadata in db.
type Store struct {
	root    string
	queries *db.Queries
}

// New builds a Store rooted at root, creating the directory if needed.
func New(root string, queries *db.Queries) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create root %s: %w", root, err)
	}
	return &Store{root: root, queries: queries}, nil
}

// StoreInput describes an incoming upload.
type StoreInput struct {
	Filename     string
	Content      io.Reader
	Directory    string // subdirectory under root, e.g. "parts/10900635"
	AllowedTypes []string
	Status       string // defaults to "active"
	ActingUser   string
}

// Store validates, saves to disk, and records a new FileRecord.
// On DB failure the file is removed from disk before returning.
func (s *Store) Store(ctx context.Context, in StoreInput) (*db.FileRecord, error) {
	fileType, err := detectFileType(in.Filename)
	if err != nil {
		return nil, err
	}
	if len(in.AllowedTypes) > 0 && !contains(in.AllowedTypes, fileType) {
		return nil, fmt.Errorf("%w: %q not in %v", ErrUnsupportedType, fileType, in.AllowedTypes)
	}

	content, err := io.ReadAll(in.Content)
	if err != nil {
		return nil, fmt.Errorf("filestore: read upload: %w", err)
	}
	if len(content) == 0 {
		return nil, ErrEmptyFile
	}
	if err := validateMagicBytes(content, fileType); err != nil {
		return nil, err
	}
	if err := validateFileSize(int64(len(content)), fileType); err != nil {
		return nil, err
	}

	safeName, err := sanitizeFilename(in.Filename)
	if err != nil {
		return nil, err
	}

	targetDir := filepath.Join(s.root, in.Directory)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create directory %s: %w", targetDir, err)
	}

	safeName = deduplicateName(targetDir, safeName)
	absPath := filepath.Join(targetDir, safeName)

	if err := os.WriteFile(absPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("filestore: write file: %w", err)
	}

	status := in.Status
	if status == "" {
		status = "active"
	}

	record := &db.FileRecord{
		FileHash:         hashContent(content),
		FilePath:         filepath.ToSlash(filepath.Join(in.Directory, safeName)),
		OriginalFilename: in.Filename,
		FileSize:         int64(len(content)),
		FileType:         fileType,
		MimeType:         mimeTypeFor(fileType),
		Status:           status,
	}

	id, err := s.queries.CreateFileRecord(ctx, record, in.ActingUser)
	if err != nil {
		// Compensating transaction: the DB insert failed, so the disk
		// write must be undone to avoid an orphaned file.
		os.Remove(absPath)
		return nil, fmt.Errorf("filestore: create record: %w", err)
	}
	record.ID = id
	return record, nil
}

// Get returns a non-deleted FileRecord.
func (s *Store) Get(ctx context.Context, fileID int64) (*db.FileRecord, error) {
	return s.queries.GetFileRecord(ctx, fileID)
}

// Root returns the directory this Store is rooted at, so a caller that
// needs a transaction-bound Store (see DocumentImporter's commit-batch
// handling) can rebuild one pointed at the same tree.
func (s *Store) Root() string {
	return s.root
}

// Link attaches fileID to an entity, UPSERT semantics, demoting other
// primary links of the same entity + link type when isPrimary is set.
func (s *Store) Link(ctx context.Context, fileID int64, entityType string, entityID int64, isPrimary bool, revision, linkType, actingUser string) (int64, error) {
	if linkType == "" {
		linkType = "drawing"
	}
	link := &db.FileLink{
		FileID:     fileID,
		EntityType: entityType,
		EntityID:   entityID,
		IsPrimary:  isPrimary,
		LinkType:   linkType,
	}
	if revision != "" {
		link.Revision.String = revision
		link.Revision.Valid = true
	}
	return s.queries.UpsertFileLink(ctx, link, actingUser)
}

// Unlink soft-deletes the link between fileID and the entity.
func (s *Store) Unlink(ctx context.Context, fileID int64, entityType string, entityID int64) error {
	return s.queries.UnlinkFile(ctx, fileID, entityType, entityID)
}

// SetPrimary promotes the link for fileID to primary, demoting peers.
func (s *Store) SetPrimary(ctx context.Context, fileID int64, entityType string, entityID int64) error {
	return s.queries.SetPrimaryFile(ctx, fileID, entityType, entityID)
}

// Delete soft-deletes the FileRecord. The physical file is left on disk
// deliberately — deletion from disk only happens via CleanupTemp.
func (s *Store) Delete(ctx context.Context, fileID int64, actingUser string) error {
	return s.queries.DeleteFileRecord(ctx, fileID, actingUser)
}

// FilesForEntity returns files linked to an entity, optionally filtered
// by link type ("" means all types).
func (s *Store) FilesForEntity(ctx context.Context, entityType string, entityID int64, linkType string) ([]db.FileRecord, error) {
	return s.queries.FilesForEntity(ctx, entityType, entityID, linkType)
}

// PrimaryFile returns the primary file for an entity + link type, or
// nil if none is set.
func (s *Store) PrimaryFile(ctx context.Context, entityType string, entityID int64, linkType string) (*db.FileRecord, error) {
	return s.queries.PrimaryFile(ctx, entityType, entityID, linkType)
}

// ServedFile is what Serve returns: enough to stream an HTTP response.
type ServedFile struct {
	AbsolutePath string
	MimeType     string
	Filename     string
}

// Serve resolves the DB record and checks the backing file exists.
func (s *Store) Serve(ctx context.Context, fileID int64) (*ServedFile, error) {
	record, err := s.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	abs := filepath.Join(s.root, filepath.FromSlash(record.FilePath))
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDiskMissing, abs)
	}
	return &ServedFile{AbsolutePath: abs, MimeType: record.MimeType, Filename: record.OriginalFilename}, nil
}

// CleanupTemp soft-deletes and removes from disk every temp-status file
// older than maxAge. Returns the count removed; disk-removal failures
// are tolerated (best effort) and do not block the DB soft-delete.
func (s *Store) CleanupTemp(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	expired, err := s.queries.ExpiredTempFiles(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("filestore: find expired temp files: %w", err)
	}

	deleted := 0
	for _, record := range expired {
		abs := filepath.Join(s.root, filepath.FromSlash(record.FilePath))
		os.Remove(abs)

		if err := s.queries.DeleteFileRecord(ctx, record.ID, "system:cleanup"); err != nil {
			continue
		}
		deleted++
	}
	return deleted, nil
}

// FindOrphans returns non-temp files without any active link.
func (s *Store) FindOrphans(ctx context.Context) ([]db.FileRecord, error) {
	return s.queries.FindOrphanFiles(ctx)
}

func detectFileType(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	fileType, ok := extToType[ext]
	if !ok {
		return "", fmt.Errorf("%w: .%s", ErrUnsupportedType, ext)
	}
	return fileType, nil
}

func mimeTypeFor(fileType string) string {
	if m, ok := mimeTypes[fileType]; ok {
		return m
	}
	return "application/octet-stream"
}

func validateMagicBytes(content []byte, fileType string) error {
	magic, ok := magicBytes[fileType]
	if !ok {
		return nil
	}
	if !bytes.HasPrefix(content, magic) {
		return fmt.Errorf("%w: expected %s content to start with %q", ErrMagicBytesMismatch, strings.ToUpper(fileType), magic)
	}
	return nil
}

func validateFileSize(size int64, fileType string) error {
	max, ok := maxFileSizes[fileType]
	if !ok {
		max = defaultMaxSize
	}
	if size > max {
		return fmt.Errorf("%w: max %dMB for %s", ErrFileTooLarge, max/1024/1024, fileType)
	}
	return nil
}

// sanitizeFilename blocks path traversal and restricts to a safe
// character set: letters, digits, hyphen, underscore, dot, space.
func sanitizeFilename(filename string) (string, error) {
	if filename == "" {
		return "", ErrInvalidFilename
	}
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		return "", fmt.Errorf("%w: path traversal blocked", ErrInvalidFilename)
	}
	if !safeFilenamePattern.MatchString(filename) {
		return "", fmt.Errorf("%w: unsafe characters", ErrInvalidFilename)
	}
	return filename, nil
}

// deduplicateName appends an 8-character random suffix if name already
// exists in dir, matching the source service's collision handling.
func deduplicateName(dir, name string) string {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err != nil {
		return name
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s%s", stem, suffix, ext)
}

func hashContent(content []byte) string {
	h := sha256.New()
	// Hash in 4KiB chunks to mirror the streaming-from-disk original,
	// even though the whole upload is already in memory here.
	const chunkSize = 4096
	for i := 0; i < len(content); i += chunkSize {
		end := i + chunkSize
		if end > len(content) {
			end = len(content)
		}
		h.Write(content[i:end])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
