package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jandrishti/aqi-backend/internal/api"
	"github.com/jandrishti/aqi-backend/internal/app"
	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/queue"
	"github.com/jandrishti/aqi-backend/internal/scheduler"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	logging.Info().Msg("starting JanDrishti API server")
	ctx := context.Background()

	rdb, err := app.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()
	logging.Info().Msg("connected to redis")

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	logging.Info().Msg("connected to database")

	if err := db.RunMigrations("migrations"); err != nil {
		logging.Fatal().Err(err).Msg("failed to run migrations")
	}

	var publisher app.Publisher
	if cfg.Kafka.Enabled() {
		for _, topic := range []string{cfg.Kafka.TopicReadings, cfg.Kafka.TopicAggregates} {
			if err := queue.CreateTopic(cfg.Kafka.Brokers, topic, cfg.Kafka.NumPartitions, 1); err != nil {
				logging.Info().Err(err).Str("topic", topic).Msg("topic creation skipped (may already exist)")
			}
		}
		publisher = queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.TopicAggregates)
		logging.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("kafka producer initialized")
	} else {
		logging.Info().Msg("KAFKA_BROKERS not set, event publishing disabled")
	}

	container := app.NewContainer(cfg, rdb, db, publisher)
	defer func() {
		if err := container.Close(); err != nil {
			logging.Error().Err(err).Msg("failed to close service handles")
		}
	}()

	sched, err := scheduler.New(container, cfg.Collection)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create scheduler")
	}
	if err := sched.Start(ctx); err != nil {
		logging.Error().Err(err).Msg("failed to start scheduler, collection disabled")
	}

	router := api.NewRouter(api.Options{
		Container:  container,
		Scheduler:  sched,
		ChatStore:  db,
		DailyStore: db,
		AdminToken: cfg.HTTP.AdminToken,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       2 * cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info().Int("port", cfg.HTTP.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			for _, j := range sched.Jobs() {
				logging.Info().
					Str("job", j.ID).
					Time("next_run", j.NextRun).
					Int("runs", j.Runs).
					Str("last_error", j.LastError).
					Msg("scheduler stats")
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-serveErr:
		logging.Error().Err(err).Msg("http server failed")
	}

	sched.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("http server shutdown incomplete")
	}
	logging.Info().Msg("JanDrishti API server stopped")
}
