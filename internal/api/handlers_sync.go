package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleListSyncSteps reports every configured sync step's cursor and
// recent result, for an operator dashboard.
func (s *Server) handleListSyncSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := s.db.AllSyncSteps(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

// handleTriggerSyncStep runs one sync step immediately, bypassing its
// enabled flag and interval but still serializing against the
// scheduler's own ticking loop.
func (s *Server) handleTriggerSyncStep(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	logs, err := s.db.RecentSyncLogs(r.Context(), name, 1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.scheduler.RunStep(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	updated, err := s.db.RecentSyncLogs(r.Context(), name, 1)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := map[string]interface{}{"step": name, "triggered": true, "previous_run_count": len(logs)}
	if len(updated) > 0 {
		resp["latest"] = updated[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRunShareRecovery scans the configured filesystem root for
// drawings the Infor document sync never picked up and attaches any it
// can match by article number.
func (s *Server) handleRunShareRecovery(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	result, err := s.recovery.Run(r.Context(), actor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
