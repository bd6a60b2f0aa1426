package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/queue"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

const (
	batchSize     = 100
	flushInterval = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if !cfg.Kafka.Enabled() {
		logging.Fatal().Msg("KAFKA_BROKERS is required for the reading archiver")
	}

	logging.Info().Msg("starting reading archiver")
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		logging.Fatal().Err(err).Msg("failed to run migrations")
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.ArchiverGroup)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batchWriter := queue.NewBatchWriter(consumer, db, batchSize, flushInterval)
	batchWriter.Start(ctx)
	logging.Info().
		Str("topic", cfg.Kafka.TopicReadings).
		Str("group", cfg.Kafka.ArchiverGroup).
		Int("batch_size", batchSize).
		Dur("flush_interval", flushInterval).
		Msg("archiver consuming")

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := consumer.Stats()
				logging.Info().
					Int64("messages", stats.Messages).
					Int64("bytes", stats.Bytes).
					Int64("errors", stats.Errors).
					Int64("lag", stats.Lag).
					Msg("consumer stats")
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info().Msg("shutting down gracefully")
	batchWriter.Stop()
	logging.Info().Msg("reading archiver stopped")
}
