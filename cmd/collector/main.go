// Command collector runs a single collection or aggregation pass outside the
// API server, for backfills and cron-driven deployments.
//
//	collector -hourly
//	collector -daily -date 2025-01-10
//	collector -seed-wards
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jandrishti/aqi-backend/internal/app"
	"github.com/jandrishti/aqi-backend/internal/collector"
	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/queue"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

var (
	hourly    = flag.Bool("hourly", false, "Fetch and store one reading per ward")
	daily     = flag.Bool("daily", false, "Aggregate one day of readings into the database")
	date      = flag.String("date", "", "Day to aggregate as YYYY-MM-DD (default: yesterday)")
	seedWards = flag.Bool("seed-wards", false, "Upsert the static ward list into the database")
)

func main() {
	flag.Parse()
	if !*hourly && !*daily && !*seedWards {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		logging.Fatal().Err(err).Msg("failed to run migrations")
	}

	if *seedWards {
		if err := seed(ctx, db, cfg.Collection.WardsFile); err != nil {
			logging.Fatal().Err(err).Msg("failed to seed wards")
		}
	}
	if !*hourly && !*daily {
		return
	}

	rdb, err := app.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	var publisher app.Publisher
	if cfg.Kafka.Enabled() {
		publisher = queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReadings, cfg.Kafka.TopicAggregates)
	}
	container := app.NewContainer(cfg, rdb, db, publisher)
	defer container.Close()

	c, err := container.Collector()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to build collector")
	}

	if *hourly {
		report := c.RunHourlyCollection(ctx)
		logging.Info().
			Int("wards", report.Wards).
			Int("stored", report.Stored).
			Ints("skipped", report.Skipped).
			Dur("duration", report.Duration).
			Msg("hourly collection finished")
	}

	if *daily {
		var day time.Time
		if *date != "" {
			day, err = time.ParseInLocation("2006-01-02", *date, c.Location())
			if err != nil {
				logging.Fatal().Err(err).Str("date", *date).Msg("invalid -date, expected YYYY-MM-DD")
			}
		}
		report := c.RunDailyAggregation(ctx, day)
		logging.Info().
			Str("date", report.Date).
			Int("wards", report.Wards).
			Int("persisted", report.Persisted).
			Ints("skipped", report.Skipped).
			Dur("duration", report.Duration).
			Msg("daily aggregation finished")
	}
}

func seed(ctx context.Context, db *database.DB, path string) error {
	wards, err := collector.StaticWards(path)
	if err != nil {
		return err
	}
	for _, w := range wards {
		if err := db.UpsertWard(ctx, &database.Ward{
			WardNo:    w.WardNo,
			WardName:  w.Name,
			Quadrant:  w.Quadrant,
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
			IsActive:  true,
		}); err != nil {
			return err
		}
	}
	logging.Info().Int("count", len(wards)).Msg("seeded wards")
	return nil
}
