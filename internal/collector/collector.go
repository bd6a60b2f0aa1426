// Package collector fetches hourly AQI readings per ward into Redis and
// rolls them up into durable daily aggregates.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/metrics"
	"github.com/jandrishti/aqi-backend/internal/protocol"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

const dateLayout = "2006-01-02"

// ErrInvalidCoordinates is returned for a latitude or longitude out of range
var ErrInvalidCoordinates = errors.New("coordinates out of range")

// Ward is a monitored ward descriptor
type Ward struct {
	Name      string  `json:"ward_name"`
	WardNo    int     `json:"ward_no"`
	Quadrant  string  `json:"quadrant"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Reading is one hourly snapshot for a ward. AQI is always present.
type Reading struct {
	AQI       float64  `json:"aqi"`
	PM25      *float64 `json:"pm25"`
	PM10      *float64 `json:"pm10"`
	NO2       *float64 `json:"no2"`
	O3        *float64 `json:"o3"`
	Timestamp string   `json:"timestamp"`
	FetchedAt string   `json:"fetched_at"`
}

// FeedClient fetches the provider payload for a location
type FeedClient interface {
	Feed(ctx context.Context, lat, lon float64) (*protocol.FeedData, error)
}

// AggregateStore is the durable side of the collector
type AggregateStore interface {
	ActiveWards(ctx context.Context) ([]database.Ward, error)
	UpsertWardDailyAQI(ctx context.Context, row *database.WardDailyAQI) error
}

// EventPublisher receives readings and aggregates after they are stored
type EventPublisher interface {
	PublishReading(ctx context.Context, ev *protocol.ReadingEvent) error
	PublishAggregate(ctx context.Context, ev *protocol.AggregateEvent) error
}

// Collector is the sole writer of hourly readings and daily aggregates
type Collector struct {
	rdb       redis.Cmdable
	store     AggregateStore
	feed      FeedClient
	publisher EventPublisher
	cfg       config.CollectionConfig
	loc       *time.Location
	now       func() time.Time

	wardsMu sync.Mutex
	wards   atomic.Pointer[[]Ward]
}

// New creates a collector. The configured time zone decides which date and
// hour bucket a reading lands in.
func New(rdb redis.Cmdable, store AggregateStore, feed FeedClient, publisher EventPublisher, cfg config.CollectionConfig) (*Collector, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.TimeZone, err)
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Collector{
		rdb:       rdb,
		store:     store,
		feed:      feed,
		publisher: publisher,
		cfg:       cfg,
		loc:       loc,
		now:       time.Now,
	}, nil
}

// Location is the time zone readings are bucketed in
func (c *Collector) Location() *time.Location {
	return c.loc
}

func hourKey(wardNo int, date string, hour int) string {
	return fmt.Sprintf("aqi:hourly:%d:%s:%d", wardNo, date, hour)
}

func dayKey(wardNo int, date string) string {
	return fmt.Sprintf("aqi:hourly:%d:%s", wardNo, date)
}

// FetchReading asks the provider for the reading nearest to (lat, lon).
// Provider errors and payloads without an AQI yield (nil, nil): the caller
// should skip the ward.
func (c *Collector) FetchReading(ctx context.Context, lat, lon float64) (*Reading, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: (%g, %g)", ErrInvalidCoordinates, lat, lon)
	}

	fetchedAt := c.now().In(c.loc)

	data, err := c.feed.Feed(ctx, lat, lon)
	if err != nil {
		metrics.ProviderFetches.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Float64("lat", lat).Float64("lon", lon).Msg("AQI provider fetch failed")
		return nil, nil
	}

	aqi := data.PrimaryAQI()
	if aqi == nil {
		metrics.ProviderFetches.WithLabelValues("no_data").Inc()
		logging.Warn().Float64("lat", lat).Float64("lon", lon).Msg("AQI provider returned no AQI value")
		return nil, nil
	}
	metrics.ProviderFetches.WithLabelValues("ok").Inc()

	ts := data.Time.S
	if ts == "" {
		ts = fetchedAt.Format(time.RFC3339)
	}

	return &Reading{
		AQI:       *aqi,
		PM25:      data.Pollutant("pm25"),
		PM10:      data.Pollutant("pm10"),
		NO2:       data.Pollutant("no2"),
		O3:        data.Pollutant("o3"),
		Timestamp: ts,
		FetchedAt: fetchedAt.Format(time.RFC3339Nano),
	}, nil
}

// StoreHourlyReading writes the reading to its hour key and appends it to
// the day's index. Both expire after the reading TTL. A nil reading is a no-op.
func (c *Collector) StoreHourlyReading(ctx context.Context, ward Ward, reading *Reading) error {
	if reading == nil {
		return nil
	}

	now := c.now().In(c.loc)
	date := now.Format(dateLayout)

	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	day := dayKey(ward.WardNo, date)

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, hourKey(ward.WardNo, date, now.Hour()), data, c.cfg.ReadingTTL)
	pipe.ZAdd(ctx, day, redis.Z{Score: float64(now.Unix()), Member: data})
	pipe.Expire(ctx, day, c.cfg.ReadingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store hourly reading for ward %d: %w", ward.WardNo, err)
	}

	metrics.ReadingsStored.WithLabelValues(strconv.Itoa(ward.WardNo)).Inc()
	logging.Info().Int("ward_no", ward.WardNo).Str("ward_name", ward.Name).
		Str("date", date).Int("hour", now.Hour()).Float64("aqi", reading.AQI).
		Msg("stored hourly reading")

	c.publishReading(ctx, ward, reading, date, now.Hour())
	return nil
}

// CurrentReading returns the reading stored for the current hour, or nil.
func (c *Collector) CurrentReading(ctx context.Context, wardNo int) (*Reading, error) {
	now := c.now().In(c.loc)

	data, err := c.rdb.Get(ctx, hourKey(wardNo, now.Format(dateLayout), now.Hour())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current reading for ward %d: %w", wardNo, err)
	}

	r, err := decodeReading(data)
	if err != nil {
		return nil, fmt.Errorf("decode current reading for ward %d: %w", wardNo, err)
	}
	return r, nil
}

// DailyReadings returns the ward's readings for date in fetch order.
// Entries that fail to decode are skipped.
func (c *Collector) DailyReadings(ctx context.Context, wardNo int, date time.Time) ([]Reading, error) {
	members, err := c.rdb.ZRange(ctx, dayKey(wardNo, date.Format(dateLayout)), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read daily readings for ward %d: %w", wardNo, err)
	}

	readings := make([]Reading, 0, len(members))
	for _, m := range members {
		r, err := decodeReading([]byte(m))
		if err != nil {
			logging.Debug().Err(err).Int("ward_no", wardNo).Msg("skipping malformed reading")
			continue
		}
		readings = append(readings, *r)
	}
	return readings, nil
}

var errMissingAQI = errors.New("reading has no aqi")

func decodeReading(data []byte) (*Reading, error) {
	type wire Reading
	var w struct {
		wire
		AQI *float64 `json:"aqi"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.AQI == nil {
		return nil, errMissingAQI
	}
	r := Reading(w.wire)
	r.AQI = *w.AQI
	return &r, nil
}

func (c *Collector) publishReading(ctx context.Context, ward Ward, r *Reading, date string, hour int) {
	fetchedAt, _ := time.Parse(time.RFC3339Nano, r.FetchedAt)
	ev := &protocol.ReadingEvent{
		WardNo:    strconv.Itoa(ward.WardNo),
		WardName:  ward.Name,
		Quadrant:  ward.Quadrant,
		Date:      date,
		Hour:      hour,
		AQI:       r.AQI,
		PM25:      r.PM25,
		PM10:      r.PM10,
		NO2:       r.NO2,
		O3:        r.O3,
		SourceAt:  r.Timestamp,
		FetchedAt: fetchedAt,
	}
	if err := c.publisher.PublishReading(ctx, ev); err != nil {
		logging.Warn().Err(err).Int("ward_no", ward.WardNo).Msg("failed to publish reading event")
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishReading(context.Context, *protocol.ReadingEvent) error     { return nil }
func (nopPublisher) PublishAggregate(context.Context, *protocol.AggregateEvent) error { return nil }
