package protocol

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestFeed_OKWithPollutants(t *testing.T) {
	raw := []byte(`{"status":"ok","data":{"aqi":150,"iaqi":{"pm25":{"v":80}},"time":{"s":"2025-01-10 14:00:00"}}}`)

	resp, err := DecodeFeedResponse(raw)
	require.NoError(t, err)
	require.Equal(t, FeedStatusOK, resp.Status)

	feed, err := resp.Feed()
	require.NoError(t, err)

	aqi := feed.PrimaryAQI()
	require.NotNil(t, aqi)
	require.Equal(t, 150.0, *aqi)

	pm25 := feed.Pollutant("pm25")
	require.NotNil(t, pm25)
	require.Equal(t, 80.0, *pm25)

	require.Nil(t, feed.Pollutant("pm10"))
	require.Equal(t, "2025-01-10 14:00:00", feed.Time.S)
}

func TestFeed_AQIFallsBackToSubIndex(t *testing.T) {
	raw := []byte(`{"status":"ok","data":{"aqi":"-","iaqi":{"aqi":{"v":97}}}}`)

	resp, err := DecodeFeedResponse(raw)
	require.NoError(t, err)
	feed, err := resp.Feed()
	require.NoError(t, err)

	aqi := feed.PrimaryAQI()
	require.NotNil(t, aqi)
	require.Equal(t, 97.0, *aqi)
}

func TestFeed_NoAQI(t *testing.T) {
	raw := []byte(`{"status":"ok","data":{"aqi":"-","iaqi":{"pm10":{"v":40}}}}`)

	resp, err := DecodeFeedResponse(raw)
	require.NoError(t, err)
	feed, err := resp.Feed()
	require.NoError(t, err)

	require.Nil(t, feed.PrimaryAQI())
}

func TestFeedResponse_ErrorMessage(t *testing.T) {
	resp, err := DecodeFeedResponse([]byte(`{"status":"error","data":"Invalid key"}`))
	require.NoError(t, err)
	require.Equal(t, "Invalid key", resp.ErrorMessage())

	resp, err = DecodeFeedResponse([]byte(`{"status":"error"}`))
	require.NoError(t, err)
	require.Equal(t, "unknown error", resp.ErrorMessage())
}

func TestOptionalFloat_Decode(t *testing.T) {
	cases := []struct {
		in    string
		valid bool
		want  float64
	}{
		{`12.5`, true, 12.5},
		{`"42"`, true, 42},
		{`"-"`, false, 0},
		{`null`, false, 0},
	}
	for _, tc := range cases {
		var f OptionalFloat
		require.NoError(t, json.Unmarshal([]byte(tc.in), &f), tc.in)
		require.Equal(t, tc.valid, f.Valid, tc.in)
		require.Equal(t, tc.want, f.Value, tc.in)
	}

	var f OptionalFloat
	require.Error(t, json.Unmarshal([]byte(`{}`), &f))
}
