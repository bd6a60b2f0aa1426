package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider metrics
	ProviderFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqi_provider_fetches_total",
			Help: "AQI provider fetches by outcome (ok, no_data, error, rejected)",
		},
		[]string{"outcome"},
	)

	ProviderFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aqi_provider_fetch_duration_seconds",
			Help:    "Latency of AQI provider feed requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Collector metrics
	ReadingsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqi_readings_stored_total",
			Help: "Hourly readings written to the KV store",
		},
		[]string{"ward_no"},
	)

	WardsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqi_wards_skipped_total",
			Help: "Wards skipped during a batch run",
		},
		[]string{"run", "reason"},
	)

	AggregatesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aqi_daily_aggregates_persisted_total",
			Help: "Daily aggregates upserted into durable storage",
		},
	)

	// Scheduler metrics
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Scheduler job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Duration of scheduler job runs",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"job"},
	)

	// Cache and limiter metrics
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Fixed-window limiter decisions by limiter and decision",
		},
		[]string{"limiter", "decision"},
	)

	ResponseCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_lookups_total",
			Help: "HTTP response cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	ChatCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_cache_errors_total",
			Help: "Chat cache operations that failed against the KV store",
		},
		[]string{"op"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aqi_events_published_total",
			Help: "Events published to the message broker by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)
)
