package db

import (
	"context"
	"fmt"
)

// CreateAuditLog inserts a new audit log entry.
func (q *Queries) CreateAuditLog(ctx context.Context, params CreateAuditLogParams) error {
	query := `
		INSERT INTO audit_log (entity_type, entity_id, operation, acting_user, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.exec().ExecContext(ctx, query,
		params.EntityType,
		params.EntityID,
		params.Operation,
		params.ActingUser,
		params.Metadata,
	)
	return err
}

// GetAuditLogs queries audit logs with filters.
func (q *Queries) GetAuditLogs(ctx context.Context, params GetAuditLogsParams) ([]AuditLog, error) {
	query := `
		SELECT id, timestamp, entity_type, entity_id, operation, acting_user, metadata
		FROM audit_log
		WHERE 1=1
	`

	var args []interface{}
	argNum := 1

	if params.EntityType.Valid {
		query += fmt.Sprintf(" AND entity_type = $%d", argNum)
		args = append(args, params.EntityType.String)
		argNum++
	}
	if params.EntityID.Valid {
		query += fmt.Sprintf(" AND entity_id = $%d", argNum)
		args = append(args, params.EntityID.String)
		argNum++
	}
	if params.Operation.Valid {
		query += fmt.Sprintf(" AND operation = $%d", argNum)
		args = append(args, params.Operation.String)
		argNum++
	}
	if params.StartTime.Valid {
		query += fmt.Sprintf(" AND timestamp >= $%d", argNum)
		args = append(args, params.StartTime.Time)
		argNum++
	}
	if params.EndTime.Valid {
		query += fmt.Sprintf(" AND timestamp <= $%d", argNum)
		args = append(args, params.EndTime.Time)
		argNum++
	}

	query += " ORDER BY timestamp DESC"
	if params.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, params.Limit)
	}

	rows, err := q.exec().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		if err := rows.Scan(&log.ID, &log.Timestamp, &log.EntityType, &log.EntityID, &log.Operation, &log.ActingUser, &log.Metadata); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
