package waqi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"

	"github.com/jandrishti/aqi-backend/pkg/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.WAQIConfig{BaseURL: url, Token: "tkn", Timeout: 200 * time.Millisecond})
}

func TestFeed_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/feed/geo:28.61;77.2/", r.URL.Path)
		require.Equal(t, "tkn", r.URL.Query().Get("token"))
		w.Write([]byte(`{"status":"ok","data":{"aqi":150,"iaqi":{"pm25":{"v":80}},"time":{"s":"2025-01-10 14:00:00"}}}`))
	}))
	defer srv.Close()

	feed, err := newTestClient(srv.URL).Feed(context.Background(), 28.61, 77.2)
	require.NoError(t, err)
	require.Equal(t, 150.0, *feed.PrimaryAQI())
	require.Equal(t, 80.0, *feed.Pollutant("pm25"))
}

func TestFeed_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","data":"Unknown station"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Feed(context.Background(), 28.61, 77.2)
	require.ErrorIs(t, err, ErrProviderStatus)
	require.Contains(t, err.Error(), "Unknown station")
}

func TestFeed_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Feed(context.Background(), 28.61, 77.2)
	require.Error(t, err)
}

func TestFeed_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	for i := 0; i < 5; i++ {
		_, err := client.Feed(context.Background(), 28.61, 77.2)
		require.Error(t, err)
	}

	_, err := client.Feed(context.Background(), 28.61, 77.2)
	require.True(t, errors.Is(err, gobreaker.ErrOpenState))
	require.Equal(t, int32(5), hits.Load())
}

func TestFeed_ErrorStatusDoesNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error","data":"Unknown station"}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	for i := 0; i < 7; i++ {
		_, err := client.Feed(context.Background(), 28.61, 77.2)
		require.ErrorIs(t, err, ErrProviderStatus)
	}
}
