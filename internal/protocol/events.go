package protocol

import (
	"time"

	"github.com/goccy/go-json"
)

// ReadingEvent is published for every hourly reading stored by the collector
type ReadingEvent struct {
	WardNo    string    `json:"ward_no"`
	WardName  string    `json:"ward_name"`
	Quadrant  string    `json:"quadrant"`
	Date      string    `json:"date"`
	Hour      int       `json:"hour"`
	AQI       float64   `json:"aqi"`
	PM25      *float64  `json:"pm25"`
	PM10      *float64  `json:"pm10"`
	NO2       *float64  `json:"no2"`
	O3        *float64  `json:"o3"`
	SourceAt  string    `json:"timestamp"`
	FetchedAt time.Time `json:"fetched_at"`
}

// AggregateEvent is published after a daily aggregate is persisted
type AggregateEvent struct {
	WardNo        string    `json:"ward_no"`
	Date          string    `json:"date"`
	AvgAQI        float64   `json:"avg_aqi"`
	MinAQI        float64   `json:"min_aqi"`
	MaxAQI        float64   `json:"max_aqi"`
	AvgPM25       *float64  `json:"avg_pm25"`
	AvgPM10       *float64  `json:"avg_pm10"`
	AvgNO2        *float64  `json:"avg_no2"`
	AvgO3         *float64  `json:"avg_o3"`
	ReadingsCount int       `json:"hourly_readings_count"`
	ComputedAt    time.Time `json:"computed_at"`
}

// EncodeReadingEvent encodes a ReadingEvent to JSON
func EncodeReadingEvent(ev *ReadingEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeReadingEvent decodes JSON to ReadingEvent
func DecodeReadingEvent(data []byte) (*ReadingEvent, error) {
	var ev ReadingEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// EncodeAggregateEvent encodes an AggregateEvent to JSON
func EncodeAggregateEvent(ev *AggregateEvent) ([]byte, error) {
	return json.Marshal(ev)
}
