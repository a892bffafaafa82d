// Package server implements the task backend's HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"taskdeck/internal/auth"
	"taskdeck/internal/config"
	"taskdeck/internal/events"
	"taskdeck/internal/ratelimit"
	"taskdeck/internal/secrets"
	"taskdeck/internal/store"
	"taskdeck/internal/websocket"
)

// Server is the task CRUD backend.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	auth     *auth.Service
	cipher   *secrets.Cipher
	events   *events.Producer
	hub      *websocket.Hub
	keyTests *ratelimit.Limiter
	log      *logrus.Logger

	router *mux.Router
	server *http.Server
}

// New wires the backend server from its dependencies.
func New(cfg *config.Config, st *store.Store, authSvc *auth.Service, cipher *secrets.Cipher, producer *events.Producer, hub *websocket.Hub, log *logrus.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		auth:     authSvc,
		cipher:   cipher,
		events:   producer,
		hub:      hub,
		keyTests: ratelimit.NewLimiter(cfg.APIKeyTestLimit, cfg.APIKeyTestWindow),
		log:      log,
	}

	s.router = mux.NewRouter()
	s.routes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.APIPort),
		Handler:           s.router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	httpLimiter := ratelimit.NewLimiter(s.cfg.HTTPRateLimit, s.cfg.HTTPRateWindow)
	s.router.Use(corsMiddleware)
	s.router.Use(securityHeadersMiddleware)
	s.router.Use(rateLimitMiddleware(httpLimiter))

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// The websocket feed authenticates by session token passed as a query
	// parameter; browsers cannot set headers on websocket upgrades.
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Task CRUD accepts both end-user sessions and trusted services (the
	// MCP server calls these routes on the user's behalf).
	tasks := api.PathPrefix("/tasks").Subrouter()
	tasks.Use(s.auth.SessionOrServiceMiddleware)
	tasks.HandleFunc("", s.handleListTasks).Methods("GET")
	tasks.HandleFunc("", s.handleCreateTask).Methods("POST")
	tasks.HandleFunc("/bulk-delete", s.handleBulkDelete).Methods("POST")
	tasks.HandleFunc("/{id:[0-9]+}", s.handleGetTask).Methods("GET")
	tasks.HandleFunc("/{id:[0-9]+}", s.handleUpdateTask).Methods("PUT")
	tasks.HandleFunc("/{id:[0-9]+}", s.handleCompleteTask).Methods("PATCH")
	tasks.HandleFunc("/{id:[0-9]+}", s.handleDeleteTask).Methods("DELETE")

	// API key management is user-only.
	keys := api.PathPrefix("/api-keys").Subrouter()
	keys.Use(s.auth.SessionMiddleware)
	keys.HandleFunc("/gemini", s.handlePutAPIKey).Methods("PUT")
	keys.HandleFunc("/gemini", s.handleDeleteAPIKey).Methods("DELETE")
	keys.HandleFunc("/gemini/status", s.handleAPIKeyStatus).Methods("GET")
	keys.HandleFunc("/gemini/test", s.handleTestAPIKey).Methods("POST")

	api.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

// Start runs the server until the listener fails.
func (s *Server) Start() error {
	s.log.WithField("port", s.cfg.APIPort).Info("starting backend server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, err := s.auth.ValidateSessionToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	s.hub.HandleConnection(w, r, user.ID)
}
