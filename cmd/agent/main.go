package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"taskdeck/agent"
	"taskdeck/internal/agentserver"
	"taskdeck/internal/auth"
	"taskdeck/internal/config"
	"taskdeck/internal/events"
	"taskdeck/internal/logging"
	"taskdeck/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel)

	if err := cfg.ValidateAgent(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer st.Close()

	counter, err := agent.NewTokenCounter(cfg.Agent.EncodingName)
	if err != nil {
		log.WithError(err).Fatal("failed to load token encoding")
	}

	authSvc := auth.NewService(st.Sessions(), cfg.ServiceAuthToken, cfg.JWTSecret, log)
	producer := events.NewProducer(cfg.Events, "agent", log)
	defer producer.Close()

	llm := agent.NewGeminiClient(cfg.Agent, log)
	mcp := agent.NewMCPClient(cfg.Agent, cfg.ServiceAuthToken, log)
	ctxmgr := agent.NewContextManager(counter, st.Conversations(), log)
	svc := agent.NewService(cfg.Agent, llm, mcp, ctxmgr, counter, log)

	srv := agentserver.New(cfg, st, authSvc, svc, producer, log)

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
