package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eventrelay/internal/aggregator"
	"eventrelay/internal/application/factories/infrastructure"
	"eventrelay/internal/config"
	"eventrelay/internal/infrastructure/kafka"
	"eventrelay/internal/infrastructure/postgres"

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
		logger.Info("Aggregator metrics listening on :9091")
		http.ListenAndServe(":9091", mux)
	}()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	subscriptionRepo := postgres.NewSubscriptionRepository(pgPool)
	feedRepo := postgres.NewFeedRepository(pgPool)

	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "aggregator-group-1"
	}
	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, groupID)
	defer consumer.Close()

	dlq := kafka.NewProducer(kafka.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.DLQTopic(),
	})
	defer dlq.Close()

	agg := aggregator.New(consumer, subscriptionRepo, feedRepo, dlq, aggregator.Config{
		BatchSize:  cfg.Aggregator.BatchSize,
		BatchWait:  cfg.Aggregator.BatchWait,
		MaxRetries: cfg.Aggregator.MaxRetries,
	})

	logger.Info("Aggregator starting", "topic", cfg.Kafka.Topic, "group_id", groupID)

	if err := agg.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("aggregator stopped", "error", err)
		os.Exit(1)
	}

	logger.Info("Aggregator exiting")
}
