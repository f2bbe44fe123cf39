// Package services holds small cross-cutting helpers shared by
// importers, the sync scheduler, and the quote engine.
package services

import (
	"context"
	"encoding/json"
	"time"

	"database/sql"

	"github.com/pinggolf/gestima/internal/db"
)

// AuditService records business-entity mutations to the audit_log
// table, independent of each entity's own created_by/updated_by
// columns — this is the cross-entity trail a user or support engineer
// can query by entity or actor.
type AuditService struct {
	queries *db.Queries
}

// NewAuditService creates a new audit service.
func NewAuditService(queries *db.Queries) *AuditService {
	return &AuditService{queries: queries}
}

// AuditParams describes one audit log entry.
type AuditParams struct {
	EntityType string
	EntityID   string
	Operation  string
	ActingUser string
	Metadata   map[string]interface{}
}

// Log creates an audit log entry.
func (s *AuditService) Log(ctx context.Context, params AuditParams) error {
	var metadataJSON []byte
	if params.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(params.Metadata)
		if err != nil {
			return err
		}
	}

	return s.queries.CreateAuditLog(ctx, db.CreateAuditLogParams{
		EntityType: params.EntityType,
		EntityID:   params.EntityID,
		Operation:  params.Operation,
		ActingUser: params.ActingUser,
		Metadata:   metadataJSON,
	})
}

// QueryAuditLog retrieves audit logs with flexible filtering.
func (s *AuditService) QueryAuditLog(ctx context.Context, entityType, entityID, operation string, startTime, endTime time.Time, limit int) ([]db.AuditLog, error) {
	return s.queries.GetAuditLogs(ctx, db.GetAuditLogsParams{
		EntityType: sql.NullString{String: entityType, Valid: entityType != ""},
		EntityID:   sql.NullString{String: entityID, Valid: entityID != ""},
		Operation:  sql.NullString{String: operation, Valid: operation != ""},
		StartTime:  sql.NullTime{Time: startTime, Valid: !startTime.IsZero()},
		EndTime:    sql.NullTime{Time: endTime, Valid: !endTime.IsZero()},
		Limit:      int32(limit),
	})
}
