package collector

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/metrics"
)

// CollectionReport summarises one hourly collection run
type CollectionReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Wards     int           `json:"wards"`
	Stored    int           `json:"stored"`
	Skipped   []int         `json:"skipped"`
}

// AggregationReport summarises one daily aggregation run
type AggregationReport struct {
	Date      string        `json:"date"`
	Duration  time.Duration `json:"duration"`
	Wards     int           `json:"wards"`
	Persisted int           `json:"persisted"`
	Skipped   []int         `json:"skipped"`
}

// RunHourlyCollection fetches and stores a reading for every ward, one at a
// time with WardDelay between provider calls. A failing ward is logged and
// skipped.
func (c *Collector) RunHourlyCollection(ctx context.Context) CollectionReport {
	start := c.now()
	report := CollectionReport{StartedAt: start, Skipped: []int{}}

	wards := c.Wards(ctx)
	report.Wards = len(wards)
	logging.Info().Int("wards", len(wards)).Msg("hourly AQI collection started")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if c.cfg.WardDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(c.cfg.WardDelay), 1)
	}

	for _, ward := range wards {
		if err := limiter.Wait(ctx); err != nil {
			logging.Warn().Err(err).Msg("hourly collection interrupted")
			break
		}

		reading, err := c.FetchReading(ctx, ward.Latitude, ward.Longitude)
		if err != nil {
			c.skip(&report.Skipped, "hourly", "invalid", ward, err)
			continue
		}
		if reading == nil {
			c.skip(&report.Skipped, "hourly", "no_data", ward, nil)
			continue
		}
		if err := c.StoreHourlyReading(ctx, ward, reading); err != nil {
			c.skip(&report.Skipped, "hourly", "store_error", ward, err)
			continue
		}
		report.Stored++
	}

	report.Duration = c.now().Sub(start)
	logging.Info().Int("stored", report.Stored).Int("skipped", len(report.Skipped)).
		Dur("duration", report.Duration).Msg("hourly AQI collection completed")
	return report
}

// Yesterday is the previous calendar day in the collector's time zone
func (c *Collector) Yesterday() time.Time {
	now := c.now().In(c.loc)
	return time.Date(now.Year(), now.Month(), now.Day()-1, 0, 0, 0, 0, c.loc)
}

// RunDailyAggregation aggregates date for every ward. A zero date means
// yesterday. Wards with no readings are skipped.
func (c *Collector) RunDailyAggregation(ctx context.Context, date time.Time) AggregationReport {
	if date.IsZero() {
		date = c.Yesterday()
	}
	start := c.now()
	report := AggregationReport{Date: date.Format(dateLayout), Skipped: []int{}}

	wards := c.Wards(ctx)
	report.Wards = len(wards)
	logging.Info().Str("date", report.Date).Int("wards", len(wards)).Msg("daily AQI aggregation started")

	for _, ward := range wards {
		if ctx.Err() != nil {
			break
		}

		readings, err := c.DailyReadings(ctx, ward.WardNo, date)
		if err != nil {
			c.skip(&report.Skipped, "daily", "read_error", ward, err)
			continue
		}

		agg := ComputeDailyAggregate(readings)
		if agg == nil {
			c.skip(&report.Skipped, "daily", "no_data", ward, nil)
			continue
		}

		if err := c.PersistDailyAggregate(ctx, ward, date, agg); err != nil {
			c.skip(&report.Skipped, "daily", "persist_error", ward, err)
			continue
		}
		report.Persisted++
	}

	report.Duration = c.now().Sub(start)
	logging.Info().Str("date", report.Date).Int("persisted", report.Persisted).
		Int("skipped", len(report.Skipped)).Msg("daily AQI aggregation completed")
	return report
}

func (c *Collector) skip(skipped *[]int, run, reason string, ward Ward, err error) {
	*skipped = append(*skipped, ward.WardNo)
	metrics.WardsSkipped.WithLabelValues(run, reason).Inc()

	ev := logging.Warn()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("run", run).Str("reason", reason).Int("ward_no", ward.WardNo).Str("ward_name", ward.Name).
		Msg("ward skipped")
}
