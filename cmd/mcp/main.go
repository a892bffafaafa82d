package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taskdeck/internal/auth"
	"taskdeck/internal/config"
	"taskdeck/internal/logging"
	"taskdeck/internal/mcpserver"
	"taskdeck/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	if err := cfg.ValidateMCP(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	// The MCP server only accepts service-token auth, but the auth
	// service still needs the session store for its constructor.
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer st.Close()

	authSvc := auth.NewService(st.Sessions(), cfg.ServiceAuthToken, cfg.JWTSecret, log)
	backend := mcpserver.NewBackendClient(cfg.BackendBaseURL, cfg.ServiceAuthToken, log)

	srv := mcpserver.New(cfg, authSvc, backend, log)

	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown failed")
	}
}
