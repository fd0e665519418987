package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eventrelay/internal/application/factories/infrastructure"
	"eventrelay/internal/config"
	"eventrelay/internal/infrastructure/postgres"
	redisInfra "eventrelay/internal/infrastructure/redis"
	"eventrelay/internal/publisher"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("Failed to load config, using defaults", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("Publisher metrics listening on :9092")
		http.ListenAndServe(":9092", mux)
	}()

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

	agentRepo := postgres.NewAgentRepository(pgPool)
	feedRepo := postgres.NewFeedRepository(pgPool)
	inbox := redisInfra.NewInbox(redisClient, cfg.Inbox.DedupWindow)

	pub := publisher.New(feedRepo, agentRepo, inbox, publisher.Config{
		PollInterval: cfg.Publisher.PollInterval,
		BatchSize:    cfg.Publisher.BatchSize,
	})

	if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("publisher stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("Publisher exiting")
}
