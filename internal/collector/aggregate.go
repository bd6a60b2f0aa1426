package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/metrics"
	"github.com/jandrishti/aqi-backend/internal/protocol"
)

// DailyAggregate summarises one ward's readings for a day. A nil pollutant
// mean means no reading carried that pollutant.
type DailyAggregate struct {
	AvgAQI        float64  `json:"avg_aqi"`
	MinAQI        float64  `json:"min_aqi"`
	MaxAQI        float64  `json:"max_aqi"`
	AvgPM25       *float64 `json:"avg_pm25"`
	AvgPM10       *float64 `json:"avg_pm10"`
	AvgNO2        *float64 `json:"avg_no2"`
	AvgO3         *float64 `json:"avg_o3"`
	ReadingsCount int      `json:"hourly_readings_count"`
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v != nil {
		m.sum += *v
		m.n++
	}
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

// ComputeDailyAggregate returns nil when readings is empty.
func ComputeDailyAggregate(readings []Reading) *DailyAggregate {
	if len(readings) == 0 {
		return nil
	}

	agg := &DailyAggregate{MinAQI: readings[0].AQI, MaxAQI: readings[0].AQI}
	var aqi, pm25, pm10, no2, o3 mean

	for i := range readings {
		r := &readings[i]
		aqi.add(&r.AQI)
		if r.AQI < agg.MinAQI {
			agg.MinAQI = r.AQI
		}
		if r.AQI > agg.MaxAQI {
			agg.MaxAQI = r.AQI
		}
		pm25.add(r.PM25)
		pm10.add(r.PM10)
		no2.add(r.NO2)
		o3.add(r.O3)
	}

	agg.AvgAQI = *aqi.value()
	agg.AvgPM25 = pm25.value()
	agg.AvgPM10 = pm10.value()
	agg.AvgNO2 = no2.value()
	agg.AvgO3 = o3.value()
	agg.ReadingsCount = aqi.n
	return agg
}

// PersistDailyAggregate upserts the aggregate keyed on (ward, date).
func (c *Collector) PersistDailyAggregate(ctx context.Context, ward Ward, date time.Time, agg *DailyAggregate) error {
	if agg == nil {
		return nil
	}
	if c.store == nil {
		return errors.New("no durable store configured")
	}

	row := &database.WardDailyAQI{
		WardNo:              ward.WardNo,
		WardName:            ward.Name,
		Quadrant:            ward.Quadrant,
		Latitude:            ward.Latitude,
		Longitude:           ward.Longitude,
		Date:                date,
		AvgAQI:              agg.AvgAQI,
		MinAQI:              agg.MinAQI,
		MaxAQI:              agg.MaxAQI,
		AvgPM25:             agg.AvgPM25,
		AvgPM10:             agg.AvgPM10,
		AvgNO2:              agg.AvgNO2,
		AvgO3:               agg.AvgO3,
		HourlyReadingsCount: agg.ReadingsCount,
		UpdatedAt:           c.now().UTC(),
	}
	if err := c.store.UpsertWardDailyAQI(ctx, row); err != nil {
		return fmt.Errorf("upsert daily aggregate for ward %d on %s: %w", ward.WardNo, date.Format(dateLayout), err)
	}

	metrics.AggregatesPersisted.Inc()
	logging.Info().Int("ward_no", ward.WardNo).Str("date", date.Format(dateLayout)).
		Float64("avg_aqi", agg.AvgAQI).Int("readings", agg.ReadingsCount).
		Msg("stored daily aggregate")

	ev := &protocol.AggregateEvent{
		WardNo:        strconv.Itoa(ward.WardNo),
		Date:          date.Format(dateLayout),
		AvgAQI:        agg.AvgAQI,
		MinAQI:        agg.MinAQI,
		MaxAQI:        agg.MaxAQI,
		AvgPM25:       agg.AvgPM25,
		AvgPM10:       agg.AvgPM10,
		AvgNO2:        agg.AvgNO2,
		AvgO3:         agg.AvgO3,
		ReadingsCount: agg.ReadingsCount,
		ComputedAt:    row.UpdatedAt,
	}
	if err := c.publisher.PublishAggregate(ctx, ev); err != nil {
		logging.Warn().Err(err).Int("ward_no", ward.WardNo).Msg("failed to publish aggregate event")
	}
	return nil
}
