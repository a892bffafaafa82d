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
	"taskdeck/internal/events"
	"taskdeck/internal/logging"
	"taskdeck/internal/secrets"
	"taskdeck/internal/server"
	"taskdeck/internal/store"
	"taskdeck/internal/websocket"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	if err := cfg.ValidateAPI(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer st.Close()

	cipher, err := secrets.NewCipher(cfg.EncryptionKey)
	if err != nil {
		log.WithError(err).Fatal("invalid encryption key")
	}

	authSvc := auth.NewService(st.Sessions(), cfg.ServiceAuthToken, cfg.JWTSecret, log)
	producer := events.NewProducer(cfg.Events, "api", log)
	defer producer.Close()
	hub := websocket.NewHub(log)

	srv := server.New(cfg, st, authSvc, cipher, producer, hub, log)

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
