// Package ratelimit implements a fixed-window request counter on Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/metrics"
)

// Decision is the outcome of a limiter check
type Decision int

const (
	Allowed Decision = iota
	Denied
	// Indeterminate means the counter store could not be consulted
	Indeterminate
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "indeterminate"
	}
}

// Result describes one limiter check
type Result struct {
	Decision  Decision
	Remaining int
	Limit     int
	Window    time.Duration
	// ResetAt is when the current window closes
	ResetAt time.Time
}

// Permit reports whether the caller may proceed. Indeterminate results are
// let through so a store outage does not take the API down.
func (r Result) Permit() bool {
	return r.Decision != Denied
}

// RetryAfter is the time left until the window resets, rounded up to a second
func (r Result) RetryAfter(now time.Time) time.Duration {
	d := r.ResetAt.Sub(now)
	if d <= 0 {
		return time.Second
	}
	return d.Truncate(time.Second) + time.Second
}

// fixedWindow increments the counter and arms its expiry on the first hit.
// Returns {count, pttl}.
var fixedWindow = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Limiter counts hits per key in fixed windows
type Limiter struct {
	rdb  redis.Scripter
	name string
	now  func() time.Time
}

// New creates a limiter. name labels its metrics.
func New(rdb redis.Scripter, name string) *Limiter {
	return &Limiter{rdb: rdb, name: name, now: time.Now}
}

// Allow records a hit against key and reports whether it fits in the window.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Result {
	res := Result{Limit: limit, Window: window}

	vals, err := fixedWindow.Run(ctx, l.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		logging.Warn().Err(err).Str("key", key).Msg("rate limit store unavailable")
		res.Decision = Indeterminate
		res.Remaining = limit
		res.ResetAt = l.now().Add(window)
		metrics.RateLimitDecisions.WithLabelValues(l.name, res.Decision.String()).Inc()
		return res
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	res.ResetAt = l.now().Add(ttl)

	if count > limit {
		res.Decision = Denied
		res.Remaining = 0
	} else {
		res.Decision = Allowed
		res.Remaining = limit - count
	}

	metrics.RateLimitDecisions.WithLabelValues(l.name, res.Decision.String()).Inc()
	return res
}
