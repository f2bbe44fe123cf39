package db

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Audit is the envelope every mutable GESTIMA entity carries: who created
// and last touched the row, when, and — for soft-deleted rows — who
// tombstoned it and when. Version powers optimistic concurrency: a write
// that targets an existing row must present the Version it last read;
// a mismatch is a conflict, never a silent overwrite.
type Audit struct {
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	CreatedBy string         `json:"created_by"`
	UpdatedBy string         `json:"updated_by"`
	DeletedAt sql.NullTime   `json:"deleted_at,omitempty"`
	DeletedBy sql.NullString `json:"deleted_by,omitempty"`
	Version   int64          `json:"version"`
}

// IsDeleted reports whether the row is soft-deleted.
func (a Audit) IsDeleted() bool { return a.DeletedAt.Valid }

// AuditLog is an append-only record of a mutation against an entity.
type AuditLog struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  string          `json:"operation"`
	ActingUser string          `json:"acting_user"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// CreateAuditLogParams contains parameters for creating an audit log entry.
type CreateAuditLogParams struct {
	EntityType string
	EntityID   string
	Operation  string
	ActingUser string
	Metadata   json.RawMessage
}

// GetAuditLogsParams contains parameters for querying audit logs.
type GetAuditLogsParams struct {
	EntityType sql.NullString
	EntityID   sql.NullString
	Operation  sql.NullString
	StartTime  sql.NullTime
	EndTime    sql.NullTime
	Limit      int32
}

// ErrVersionConflict is returned when a write's expected version does not
// match the row's stored version.
type ErrVersionConflict struct {
	Entity string
	ID     int64
}

func (e *ErrVersionConflict) Error() string {
	return "db: version conflict on " + e.Entity
}
