// Package api exposes GESTIMA's HTTP surface: login, quote management,
// manual sync triggers, and a progress stream, behind session
// authentication and CORS.
package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/rs/cors"

	"github.com/pinggolf/gestima/internal/authsession"
	"github.com/pinggolf/gestima/internal/config"
	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/filestore"
	"github.com/pinggolf/gestima/internal/quote"
	"github.com/pinggolf/gestima/internal/ratelimit"
	"github.com/pinggolf/gestima/internal/queue"
	"github.com/pinggolf/gestima/internal/services"
	"github.com/pinggolf/gestima/internal/sharerecovery"
	"github.com/pinggolf/gestima/internal/sync"
)

// Server wires every HTTP handler to its collaborators.
type Server struct {
	config       *config.Config
	db           *db.Queries
	router       *mux.Router
	sessionStore sessions.Store
	auth         *authsession.Manager
	natsManager  *queue.Manager
	quoteEngine  *quote.Engine
	files        *filestore.Store
	scheduler    *sync.Scheduler
	recovery     *sharerecovery.Importer
	limiter      *ratelimit.PerClientLimiter
	audit        *services.AuditService
}

// Deps collects Server's constructor dependencies.
type Deps struct {
	Config      *config.Config
	DB          *db.Queries
	RawDB       *sql.DB
	NATS        *queue.Manager
	QuoteEngine *quote.Engine
	Files       *filestore.Store
	Scheduler   *sync.Scheduler
	Recovery    *sharerecovery.Importer
}

// NewServer builds the Server and registers every route.
func NewServer(deps Deps) *Server {
	sessionStore := authsession.NewStore(deps.Config)

	s := &Server{
		config:       deps.Config,
		db:           deps.DB,
		router:       mux.NewRouter(),
		sessionStore: sessionStore,
		auth:         authsession.NewManager(deps.Config, sessionStore),
		natsManager:  deps.NATS,
		quoteEngine:  deps.QuoteEngine,
		files:        deps.Files,
		scheduler:    deps.Scheduler,
		recovery:     deps.Recovery,
		limiter:      ratelimit.NewPerClientLimiter(2, 5),
		audit:        services.NewAuditService(deps.DB),
	}

	s.setupRoutes()
	return s
}

// Handler returns the server's HTTP handler with CORS applied, ready
// to pass to http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{s.config.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: s.config.CORSAllowCredentials,
	})
	return c.Handler(s.router)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	authRouter := api.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/login", s.handleLogin).Methods("GET")
	authRouter.HandleFunc("/callback", s.handleAuthCallback).Methods("GET")
	authRouter.HandleFunc("/logout", s.handleLogout).Methods("POST")
	authRouter.HandleFunc("/status", s.handleAuthStatus).Methods("GET")

	protected := api.PathPrefix("").Subrouter()
	protected.Use(s.authMiddleware)

	quotes := protected.PathPrefix("/quotes").Subrouter()
	quotes.HandleFunc("", s.handleCreateQuote).Methods("POST")
	quotes.HandleFunc("/{id}", s.handleGetQuote).Methods("GET")
	quotes.HandleFunc("/{id}", s.handleUpdateQuoteHeader).Methods("PUT")
	quotes.HandleFunc("/{id}", s.handleDeleteQuote).Methods("DELETE")
	quotes.HandleFunc("/{id}/items", s.handleAddQuoteItem).Methods("POST")
	quotes.HandleFunc("/{id}/items/{itemId}", s.handleUpdateQuoteItem).Methods("PUT")
	quotes.HandleFunc("/{id}/items/{itemId}", s.handleDeleteQuoteItem).Methods("DELETE")
	quotes.HandleFunc("/{id}/send", s.handleSendQuote).Methods("POST")
	quotes.HandleFunc("/{id}/approve", s.handleApproveQuote).Methods("POST")
	quotes.HandleFunc("/{id}/reject", s.handleRejectQuote).Methods("POST")
	quotes.HandleFunc("/{id}/clone", s.handleCloneQuote).Methods("POST")

	protected.HandleFunc("/audit-log", s.handleListAuditLogs).Methods("GET")

	syncRouter := protected.PathPrefix("/sync").Subrouter()
	syncRouter.Use(s.limiter.Middleware)
	syncRouter.HandleFunc("/steps", s.handleListSyncSteps).Methods("GET")
	syncRouter.HandleFunc("/steps/{name}/trigger", s.handleTriggerSyncStep).Methods("POST")
	syncRouter.HandleFunc("/steps/{name}/progress", s.handleSyncProgressSSE).Methods("GET")

	filesRouter := protected.PathPrefix("/files").Subrouter()
	filesRouter.HandleFunc("/upload", s.handleUploadFile).Methods("POST")
	filesRouter.HandleFunc("/{id}", s.handleServeFile).Methods("GET")

	recoveryRouter := protected.PathPrefix("/share-recovery").Subrouter()
	recoveryRouter.Use(s.limiter.Middleware)
	recoveryRouter.HandleFunc("/run", s.handleRunShareRecovery).Methods("POST")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// authMiddleware rejects unauthenticated requests and refreshes the
// session's access token when it's about to expire.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := s.auth.Get(r)
		if err != nil || !s.auth.IsAuthenticated(session) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		refreshed, err := s.auth.RefreshIfNeeded(r.Context(), session)
		if err != nil {
			http.Error(w, "authentication expired", http.StatusUnauthorized)
			return
		}
		if refreshed {
			if err := session.Save(r, w); err != nil {
				slog.Warn("api: failed to persist refreshed session", "error", err)
			}
		}

		next.ServeHTTP(w, r)
	})
}

// actingUser extracts the authenticated user's identity for the audit
// columns any handler's write path needs.
func (s *Server) actingUser(r *http.Request) (string, error) {
	session, err := s.auth.Get(r)
	if err != nil {
		return "", err
	}
	return s.auth.ActingUser(session)
}
