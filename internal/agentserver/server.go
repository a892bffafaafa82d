// Package agentserver is the HTTP surface of the agent service: chat
// turns, conversation listing, and message history.
package agentserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"taskdeck/agent"
	"taskdeck/internal/auth"
	"taskdeck/internal/config"
	"taskdeck/internal/events"
	"taskdeck/internal/store"
)

// Server serves the agent API.
type Server struct {
	cfg    *config.Config
	store  *store.Store
	auth   *auth.Service
	agent  *agent.Service
	events *events.Producer
	log    *logrus.Logger

	router *mux.Router
	server *http.Server
}

// New wires the agent HTTP server.
func New(cfg *config.Config, st *store.Store, authSvc *auth.Service, svc *agent.Service, producer *events.Producer, log *logrus.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		auth:   authSvc,
		agent:  svc,
		events: producer,
		log:    log,
		router: mux.NewRouter(),
	}
	s.routes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.AgentPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.auth.SessionMiddleware)
	api.HandleFunc("/chat", s.handleChat).Methods("POST", "OPTIONS")
	api.HandleFunc("/conversations", s.handleListConversations).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", s.handleListMessages).Methods("GET", "OPTIONS")
}

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("agent server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("agent server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "taskdeck-agent",
		"model":   s.cfg.Agent.Model,
	})
}
