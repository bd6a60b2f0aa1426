package database

import "time"

// Ward is a monitored administrative ward
type Ward struct {
	WardNo    int     `json:"ward_no"`
	WardName  string  `json:"ward_name"`
	Quadrant  string  `json:"quadrant"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	IsActive  bool    `json:"is_active"`
}

// WardDailyAQI is the durable daily aggregate for one ward, unique on (ward_no, date)
type WardDailyAQI struct {
	ID                  int64     `json:"id"`
	WardNo              int       `json:"ward_no"`
	WardName            string    `json:"ward_name"`
	Quadrant            string    `json:"quadrant"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	Date                time.Time `json:"date"`
	AvgAQI              float64   `json:"avg_aqi"`
	MinAQI              float64   `json:"min_aqi"`
	MaxAQI              float64   `json:"max_aqi"`
	AvgPM25             *float64  `json:"avg_pm25"`
	AvgPM10             *float64  `json:"avg_pm10"`
	AvgNO2              *float64  `json:"avg_no2"`
	AvgO3               *float64  `json:"avg_o3"`
	HourlyReadingsCount int       `json:"hourly_readings_count"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// RawReading is one archived hourly reading
type RawReading struct {
	ID              int64
	WardNo          int
	Date            time.Time
	Hour            int
	AQI             float64
	PM25            *float64
	PM10            *float64
	NO2             *float64
	O3              *float64
	SourceTimestamp string
	FetchedAt       time.Time
}

// ChatMessage is the durable copy of a chat exchange
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Response  *string   `json:"response,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
