package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/ratelimit"
)

// LimitRule limits requests whose path starts with Prefix
type LimitRule struct {
	Prefix string
	Limit  int
	Window time.Duration
}

// DefaultLimitRules are the per-endpoint request limits. The first
// matching prefix wins.
func DefaultLimitRules() []LimitRule {
	return []LimitRule{
		{Prefix: "/api/auth/login", Limit: 5, Window: time.Minute},
		{Prefix: "/api/auth/signup", Limit: 3, Window: time.Minute},
		{Prefix: "/api/aqi/feed/", Limit: 30, Window: time.Minute},
		{Prefix: "/api/aqi/hourly/", Limit: 60, Window: time.Minute},
		{Prefix: "/api/aqi/daily", Limit: 30, Window: time.Minute},
	}
}

// DefaultLimit applies to paths no rule matches
var DefaultLimit = LimitRule{Limit: 100, Window: time.Minute}

var rateLimitExempt = map[string]bool{
	"/":           true,
	"/api/health": true,
	"/metrics":    true,
}

func matchLimit(rules []LimitRule, path string) LimitRule {
	for _, rule := range rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule
		}
	}
	return DefaultLimit
}

// clientID identifies the caller by IP. Authenticated callers are further
// split per path.
func clientID(r *http.Request) string {
	id, err := httprate.KeyByRealIP(r)
	if err != nil || id == "" {
		id = "unknown"
	}
	if host, _, err := net.SplitHostPort(id); err == nil {
		id = host
	}
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		id = id + ":" + r.URL.Path
	}
	return id
}

// RateLimit enforces the fixed-window limits on every non-exempt path.
// When the counter store is unreachable requests pass.
func RateLimit(limiter *ratelimit.Limiter, rules []LimitRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if rateLimitExempt[path] {
				next.ServeHTTP(w, r)
				return
			}

			rule := matchLimit(rules, path)
			id := clientID(r)
			res := limiter.Allow(r.Context(), "ratelimit:"+path+":"+id, rule.Limit, rule.Window)

			if res.Decision == ratelimit.Indeterminate {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Permit() {
				retry := int(res.RetryAfter(time.Now()).Seconds())
				logging.Warn().Str("client_id", id).Str("path", path).Msg("rate limit exceeded")
				h.Set("Retry-After", strconv.Itoa(retry))
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Error:      "Rate Limit Exceeded",
					Message:    "Too many requests. Limit: " + strconv.Itoa(rule.Limit) + " per " + strconv.Itoa(int(rule.Window.Seconds())) + " seconds",
					RetryAfter: retry,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminOnly requires X-Admin-Token to match token. An empty token leaves
// the routes open.
func AdminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Token")), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request with its status and latency.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		ev := logging.Debug()
		if status >= http.StatusInternalServerError {
			ev = logging.Error()
		}
		ev.Str("request_id", chimiddleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}
