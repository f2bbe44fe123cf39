package api

import (
	"net/http"
	"strconv"
	"time"
)

// handleListAuditLogs exposes the cross-entity audit trail for an
// operator investigating who changed what, filtered by any combination
// of entity type, entity id, and operation.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var startTime, endTime time.Time
	if raw := q.Get("start"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			startTime = parsed
		}
	}
	if raw := q.Get("end"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			endTime = parsed
		}
	}

	logs, err := s.audit.QueryAuditLog(r.Context(), q.Get("entity_type"), q.Get("entity_id"), q.Get("operation"), startTime, endTime, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
