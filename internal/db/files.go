package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FileRecord is one physical file on disk. Business metadata (primary,
// revision) lives on FileLink, not here.
type FileRecord struct {
	ID               int64  `json:"id"`
	FileHash         string `json:"file_hash"`
	FilePath         string `json:"file_path"`
	OriginalFilename string `json:"original_filename"`
	FileSize         int64  `json:"file_size"`
	FileType         string `json:"file_type"`
	MimeType         string `json:"mime_type"`
	Status           string `json:"status"` // temp, active, archived
	Audit
}

// FileLink is a polymorphic relationship between a FileRecord and a
// business entity. One file can be linked to several entities; one
// entity+file pair can only be linked once (enforced by a unique
// constraint on file_id, entity_type, entity_id).
type FileLink struct {
	ID             int64          `json:"id"`
	FileID         int64          `json:"file_id"`
	EntityType     string         `json:"entity_type"`
	EntityID       int64          `json:"entity_id"`
	IsPrimary      bool           `json:"is_primary"`
	Revision       sql.NullString `json:"revision,omitempty"`
	LinkType       string         `json:"link_type"`
	DrawingNumber  sql.NullString `json:"drawing_number,omitempty"`
	Audit
}

// CreateFileRecord inserts a new FileRecord row.
func (q *Queries) CreateFileRecord(ctx context.Context, r *FileRecord, actor string) (int64, error) {
	const query = `
		INSERT INTO file_records
			(file_hash, file_path, original_filename, file_size, file_type, mime_type, status,
			 created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 1)
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, query,
		r.FileHash, r.FilePath, r.OriginalFilename, r.FileSize, r.FileType, r.MimeType, r.Status, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert file record: %w", err)
	}
	return id, nil
}

// DeleteFileRecord soft-deletes a FileRecord by setting deleted_at and
// deleted_by. The row is kept and the file on disk is not touched.
func (q *Queries) DeleteFileRecord(ctx context.Context, fileID int64, actor string) error {
	const query = `
		UPDATE file_records
		SET deleted_at = now(), deleted_by = $2, updated_by = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`
	res, err := q.exec().ExecContext(ctx, query, fileID, actor)
	if err != nil {
		return fmt.Errorf("soft delete file record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file record %d: %w", fileID, sql.ErrNoRows)
	}
	return nil
}

// GetFileRecord fetches a non-deleted FileRecord by id.
func (q *Queries) GetFileRecord(ctx context.Context, fileID int64) (*FileRecord, error) {
	const query = `
		SELECT id, file_hash, file_path, original_filename, file_size, file_type, mime_type, status,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM file_records
		WHERE id = $1 AND deleted_at IS NULL
	`
	r := &FileRecord{}
	err := q.exec().QueryRowContext(ctx, query, fileID).Scan(
		&r.ID, &r.FileHash, &r.FilePath, &r.OriginalFilename, &r.FileSize, &r.FileType, &r.MimeType, &r.Status,
		&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy, &r.DeletedAt, &r.DeletedBy, &r.Version,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file record %d: %w", fileID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("get file record: %w", err)
	}
	return r, nil
}

// UpsertFileLink creates a link or updates the existing one for the same
// (file, entity) pair, then, when isPrimary is set, unsets every other
// link of the same entity + link_type in a second statement.
func (q *Queries) UpsertFileLink(ctx context.Context, l *FileLink, actor string) (int64, error) {
	if _, err := q.GetFileRecord(ctx, l.FileID); err != nil {
		return 0, err
	}

	const upsert = `
		INSERT INTO file_links
			(file_id, entity_type, entity_id, is_primary, revision, link_type, drawing_number,
			 created_by, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, 1)
		ON CONFLICT (file_id, entity_type, entity_id)
		WHERE deleted_at IS NULL
		DO UPDATE SET
			is_primary = EXCLUDED.is_primary,
			revision = EXCLUDED.revision,
			link_type = EXCLUDED.link_type,
			drawing_number = EXCLUDED.drawing_number,
			updated_by = EXCLUDED.updated_by,
			updated_at = now(),
			version = file_links.version + 1
		RETURNING id
	`
	var id int64
	err := q.exec().QueryRowContext(ctx, upsert,
		l.FileID, l.EntityType, l.EntityID, l.IsPrimary, l.Revision, l.LinkType, l.DrawingNumber, actor,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert file link: %w", err)
	}

	if l.IsPrimary {
		const demote = `
			UPDATE file_links
			SET is_primary = false, updated_at = now()
			WHERE entity_type = $1 AND entity_id = $2 AND link_type = $3
			  AND id != $4 AND deleted_at IS NULL
		`
		if _, err := q.exec().ExecContext(ctx, demote, l.EntityType, l.EntityID, l.LinkType, id); err != nil {
			return 0, fmt.Errorf("demote other primary links: %w", err)
		}
	}

	return id, nil
}

// UnlinkFile soft-deletes the active link between a file and an entity.
func (q *Queries) UnlinkFile(ctx context.Context, fileID int64, entityType string, entityID int64) error {
	const query = `
		UPDATE file_links
		SET deleted_at = now(), updated_at = now()
		WHERE file_id = $1 AND entity_type = $2 AND entity_id = $3 AND deleted_at IS NULL
	`
	res, err := q.exec().ExecContext(ctx, query, fileID, entityType, entityID)
	if err != nil {
		return fmt.Errorf("unlink file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("link file=%d entity=%s:%d: %w", fileID, entityType, entityID, sql.ErrNoRows)
	}
	return nil
}

// SetPrimaryFile marks the link for fileID as the primary link for its
// entity + link_type, demoting any other active link of the same kind.
func (q *Queries) SetPrimaryFile(ctx context.Context, fileID int64, entityType string, entityID int64) error {
	const find = `
		SELECT id, link_type, is_primary
		FROM file_links
		WHERE file_id = $1 AND entity_type = $2 AND entity_id = $3 AND deleted_at IS NULL
	`
	var linkID int64
	var linkType string
	var alreadyPrimary bool
	err := q.exec().QueryRowContext(ctx, find, fileID, entityType, entityID).Scan(&linkID, &linkType, &alreadyPrimary)
	if err == sql.ErrNoRows {
		return fmt.Errorf("link file=%d entity=%s:%d: %w", fileID, entityType, entityID, sql.ErrNoRows)
	}
	if err != nil {
		return fmt.Errorf("find link: %w", err)
	}
	if alreadyPrimary {
		return nil
	}

	const demote = `
		UPDATE file_links
		SET is_primary = false, updated_at = now()
		WHERE entity_type = $1 AND entity_id = $2 AND link_type = $3 AND id != $4 AND deleted_at IS NULL
	`
	if _, err := q.exec().ExecContext(ctx, demote, entityType, entityID, linkType, linkID); err != nil {
		return fmt.Errorf("demote other primary links: %w", err)
	}

	const promote = `UPDATE file_links SET is_primary = true, updated_at = now() WHERE id = $1`
	if _, err := q.exec().ExecContext(ctx, promote, linkID); err != nil {
		return fmt.Errorf("promote link: %w", err)
	}
	return nil
}

// FilesForEntity returns every non-deleted file linked to the given
// entity, optionally filtered to a single link_type.
func (q *Queries) FilesForEntity(ctx context.Context, entityType string, entityID int64, linkType string) ([]FileRecord, error) {
	query := `
		SELECT fr.id, fr.file_hash, fr.file_path, fr.original_filename, fr.file_size, fr.file_type, fr.mime_type, fr.status,
		       fr.created_at, fr.updated_at, fr.created_by, fr.updated_by, fr.deleted_at, fr.deleted_by, fr.version
		FROM file_records fr
		JOIN file_links fl ON fl.file_id = fr.id
		WHERE fl.entity_type = $1 AND fl.entity_id = $2
		  AND fl.deleted_at IS NULL AND fr.deleted_at IS NULL
	`
	args := []interface{}{entityType, entityID}
	if linkType != "" {
		query += " AND fl.link_type = $3"
		args = append(args, linkType)
	}

	rows, err := q.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("files for entity: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		if err := rows.Scan(
			&r.ID, &r.FileHash, &r.FilePath, &r.OriginalFilename, &r.FileSize, &r.FileType, &r.MimeType, &r.Status,
			&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy, &r.DeletedAt, &r.DeletedBy, &r.Version,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PrimaryFile returns the primary file for an entity + link_type, or
// nil if none is set.
func (q *Queries) PrimaryFile(ctx context.Context, entityType string, entityID int64, linkType string) (*FileRecord, error) {
	const query = `
		SELECT fr.id, fr.file_hash, fr.file_path, fr.original_filename, fr.file_size, fr.file_type, fr.mime_type, fr.status,
		       fr.created_at, fr.updated_at, fr.created_by, fr.updated_by, fr.deleted_at, fr.deleted_by, fr.version
		FROM file_records fr
		JOIN file_links fl ON fl.file_id = fr.id
		WHERE fl.entity_type = $1 AND fl.entity_id = $2 AND fl.link_type = $3
		  AND fl.is_primary = true AND fl.deleted_at IS NULL AND fr.deleted_at IS NULL
		LIMIT 1
	`
	r := &FileRecord{}
	err := q.exec().QueryRowContext(ctx, query, entityType, entityID, linkType).Scan(
		&r.ID, &r.FileHash, &r.FilePath, &r.OriginalFilename, &r.FileSize, &r.FileType, &r.MimeType, &r.Status,
		&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy, &r.DeletedAt, &r.DeletedBy, &r.Version,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("primary file: %w", err)
	}
	return r, nil
}

// PartIDsWithDrawingLink returns the subset of partIDs that already
// have an active primary drawing FileLink, used by the document
// importer's preview pass to flag duplicates in one round trip.
func (q *Queries) PartIDsWithDrawingLink(ctx context.Context, partIDs []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	if len(partIDs) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(partIDs))
	query := `
		SELECT DISTINCT entity_id FROM file_links
		WHERE entity_type = 'part' AND link_type = 'drawing' AND deleted_at IS NULL
		  AND entity_id IN (
	`
	for i, id := range partIDs {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query += ")"

	rows, err := q.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("part ids with drawing link: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// FindLinkedPartsByHash returns the distinct "part" entity ids that hold
// an active FileLink to a different, non-deleted FileRecord sharing
// hash, excluding excludePartID itself. Used by the document importer to
// warn (not error) when a freshly-stored drawing duplicates content
// already attached to a different Part — content can legitimately repeat
// across paths, so this is opportunistic detection, not a constraint.
func (q *Queries) FindLinkedPartsByHash(ctx context.Context, hash string, excludeFileID, excludePartID int64) ([]int64, error) {
	const query = `
		SELECT DISTINCT fl.entity_id
		FROM file_links fl
		JOIN file_records fr ON fr.id = fl.file_id
		WHERE fr.file_hash = $1 AND fr.id != $2 AND fr.deleted_at IS NULL
		  AND fl.entity_type = 'part' AND fl.entity_id != $3 AND fl.deleted_at IS NULL
	`
	rows, err := q.exec().QueryContext(ctx, query, hash, excludeFileID, excludePartID)
	if err != nil {
		return nil, fmt.Errorf("find linked parts by hash: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ExpiredTempFiles returns temp-status FileRecords older than cutoff,
// for CleanupTemp to soft-delete and remove from disk.
func (q *Queries) ExpiredTempFiles(ctx context.Context, cutoff time.Time) ([]FileRecord, error) {
	const query = `
		SELECT id, file_hash, file_path, original_filename, file_size, file_type, mime_type, status,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM file_records
		WHERE status = 'temp' AND created_at < $1 AND deleted_at IS NULL
	`
	rows, err := q.exec().QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expired temp files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		if err := rows.Scan(
			&r.ID, &r.FileHash, &r.FilePath, &r.OriginalFilename, &r.FileSize, &r.FileType, &r.MimeType, &r.Status,
			&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy, &r.DeletedAt, &r.DeletedBy, &r.Version,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindOrphanFiles returns non-temp files without any active link.
func (q *Queries) FindOrphanFiles(ctx context.Context) ([]FileRecord, error) {
	const query = `
		SELECT id, file_hash, file_path, original_filename, file_size, file_type, mime_type, status,
		       created_at, updated_at, created_by, updated_by, deleted_at, deleted_by, version
		FROM file_records fr
		WHERE fr.status != 'temp'
		  AND fr.deleted_at IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM file_links fl WHERE fl.file_id = fr.id AND fl.deleted_at IS NULL
		  )
	`
	rows, err := q.exec().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find orphan files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var r FileRecord
		if err := rows.Scan(
			&r.ID, &r.FileHash, &r.FilePath, &r.OriginalFilename, &r.FileSize, &r.FileType, &r.MimeType, &r.Status,
			&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy, &r.DeletedAt, &r.DeletedBy, &r.Version,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
