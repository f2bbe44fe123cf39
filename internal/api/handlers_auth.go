package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// handleLogin redirects the browser to the Infor OAuth authorize
// endpoint, stashing a CSRF state value in the session first.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	session, err := s.auth.Get(r)
	if err != nil {
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}

	authURL, err := s.auth.AuthorizationURL(session)
	if err != nil {
		http.Error(w, "failed to build authorization URL", http.StatusInternalServerError)
		return
	}
	if err := session.Save(r, w); err != nil {
		http.Error(w, "failed to save session", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleAuthCallback completes the authorization_code exchange and
// redirects back to the frontend.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	session, err := s.auth.Get(r)
	if err != nil {
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	state := query.Get("state")
	code := query.Get("code")
	userName := query.Get("userName")
	if userName == "" {
		userName = query.Get("user")
	}
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	if err := s.auth.Exchange(r.Context(), session, state, code, userName); err != nil {
		slog.Warn("api: oauth exchange failed", "error", err)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	if err := session.Save(r, w); err != nil {
		http.Error(w, "failed to save session", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, s.config.FrontendURL, http.StatusFound)
}

// handleLogout clears the session's stored tokens.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, err := s.auth.Get(r)
	if err != nil {
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}
	s.auth.Clear(session)
	if err := session.Save(r, w); err != nil {
		http.Error(w, "failed to save session", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthStatus reports whether the caller is currently
// authenticated and, if so, as whom.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	session, err := s.auth.Get(r)
	if err != nil {
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}

	authenticated := s.auth.IsAuthenticated(session)
	resp := map[string]interface{}{"authenticated": authenticated}
	if authenticated {
		if user, err := s.auth.ActingUser(session); err == nil {
			resp["user"] = user
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
