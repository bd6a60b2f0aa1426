package protocol

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// FeedStatusOK is the status value of a successful WAQI feed response
const FeedStatusOK = "ok"

// FeedResponse is the envelope of a WAQI /feed response. Data is an object
// when Status is "ok" and an error string otherwise.
type FeedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// FeedData is the station payload of a successful feed response
type FeedData struct {
	AQI  OptionalFloat        `json:"aqi"`
	IAQI map[string]IAQIValue `json:"iaqi"`
	Time FeedTime             `json:"time"`
	City struct {
		Name string `json:"name"`
	} `json:"city"`
}

// IAQIValue is one pollutant sub-index, shaped as {"v": number}
type IAQIValue struct {
	V OptionalFloat `json:"v"`
}

// FeedTime carries the provider's reported measurement time
type FeedTime struct {
	S  string `json:"s"`
	TZ string `json:"tz"`
}

// Pollutant returns the sub-index for name, or nil when absent.
func (d *FeedData) Pollutant(name string) *float64 {
	if v, ok := d.IAQI[name]; ok {
		return v.V.Ptr()
	}
	return nil
}

// PrimaryAQI returns the top-level AQI, falling back to iaqi.aqi.v.
func (d *FeedData) PrimaryAQI() *float64 {
	if v := d.AQI.Ptr(); v != nil {
		return v
	}
	return d.Pollutant("aqi")
}

// OptionalFloat decodes a JSON number, a numeric string, null or a
// placeholder such as "-" (which WAQI uses for stations without data).
type OptionalFloat struct {
	Value float64
	Valid bool
}

func (f *OptionalFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*f = OptionalFloat{}

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			f.Value, f.Valid = v, true
		}
		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid numeric value %s: %w", data, err)
	}
	f.Value, f.Valid = v, true
	return nil
}

// Ptr returns a pointer to a copy of the value, or nil when not valid.
func (f OptionalFloat) Ptr() *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

// DecodeFeedResponse decodes the envelope only
func DecodeFeedResponse(data []byte) (*FeedResponse, error) {
	var resp FeedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invalid feed response: %w", err)
	}
	return &resp, nil
}

// Feed decodes the station payload. Callers check Status first.
func (r *FeedResponse) Feed() (*FeedData, error) {
	var data FeedData
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, fmt.Errorf("invalid feed data: %w", err)
	}
	return &data, nil
}

// ErrorMessage returns the provider's error text for a non-ok response
func (r *FeedResponse) ErrorMessage() string {
	var msg string
	if err := json.Unmarshal(r.Data, &msg); err == nil && msg != "" {
		return msg
	}
	if len(r.Data) > 0 {
		return string(r.Data)
	}
	return "unknown error"
}
