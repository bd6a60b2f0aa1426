// Package waqi is a client for the World Air Quality Index feed API.
package waqi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/metrics"
	"github.com/jandrishti/aqi-backend/internal/protocol"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

// ErrProviderStatus is returned when the feed responds with a non-ok status
var ErrProviderStatus = errors.New("waqi: provider returned error status")

const breakerName = "waqi-feed"

// maxBodyBytes bounds how much of a feed response is read
const maxBodyBytes = 1 << 20

// Client fetches point-location readings from the WAQI feed
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker[*protocol.FeedData]
}

// NewClient creates a feed client. Every request is bounded by cfg.Timeout
// and routed through a circuit breaker that opens after 5 consecutive
// failures and probes again after a minute.
func NewClient(cfg config.WAQIConfig) *Client {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[*protocol.FeedData](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// the provider answered; a "no station" status is not an outage
			return err == nil || errors.Is(err, ErrProviderStatus)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb:         cb,
	}
}

// Feed returns the station payload nearest to (lat, lon).
func (c *Client) Feed(ctx context.Context, lat, lon float64) (*protocol.FeedData, error) {
	start := time.Now()
	defer func() {
		metrics.ProviderFetchDuration.Observe(time.Since(start).Seconds())
	}()

	data, err := c.cb.Execute(func() (*protocol.FeedData, error) {
		return c.fetch(ctx, lat, lon)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.ProviderFetches.WithLabelValues("rejected").Inc()
	}
	return data, err
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) (*protocol.FeedData, error) {
	url := fmt.Sprintf("%s/feed/geo:%g;%g/?token=%s", c.baseURL, lat, lon, c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("waqi: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("waqi: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("waqi: unexpected HTTP status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("waqi: read body: %w", err)
	}

	feed, err := protocol.DecodeFeedResponse(body)
	if err != nil {
		return nil, err
	}
	if feed.Status != protocol.FeedStatusOK {
		return nil, fmt.Errorf("%w: %s", ErrProviderStatus, feed.ErrorMessage())
	}

	return feed.Feed()
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
