package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventrelay/internal/api"
	"eventrelay/internal/application/factories/infrastructure"
	"eventrelay/internal/config"
	"eventrelay/internal/infrastructure/kafka"
	"eventrelay/internal/infrastructure/postgres"
	redisInfra "eventrelay/internal/infrastructure/redis"
	"eventrelay/internal/usecase"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	// Event log producer
	eventLog := kafka.NewProducer(kafka.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
	})
	defer eventLog.Close()

	// Repositories
	agentRepo := postgres.NewAgentRepository(pgPool)
	subscriptionRepo := postgres.NewSubscriptionRepository(pgPool)
	feedRepo := postgres.NewFeedRepository(pgPool)

	// Inbox (per-agent ordered mailbox)
	inbox := redisInfra.NewInbox(redisClient, cfg.Inbox.DedupWindow)

	// UseCases
	registerUC := usecase.NewRegisterAgent(agentRepo, inbox)
	subscribeUC := usecase.NewSubscribe(subscriptionRepo)
	ingestUC := usecase.NewIngestEvent(eventLog)
	historyUC := usecase.NewGetHistory(feedRepo)

	handlers := api.NewHandlers(registerUC, subscribeUC, ingestUC, historyUC, inbox)
	apiHandler := api.NewRouter(handlers, redisClient)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTP.Port,
		Handler: apiHandler,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exiting")
}
