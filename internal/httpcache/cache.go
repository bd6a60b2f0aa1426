// Package httpcache caches successful JSON GET responses in Redis.
package httpcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/metrics"
)

const keyPrefix = "cache:api:"

// Rule caches paths starting with Prefix for TTL
type Rule struct {
	Prefix string
	TTL    time.Duration
}

// DefaultRules are the cacheable AQI read endpoints
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/api/aqi/feed/", TTL: 300 * time.Second},
		{Prefix: "/api/aqi/hourly/", TTL: 60 * time.Second},
		{Prefix: "/api/aqi/daily", TTL: time.Hour},
		{Prefix: "/api/aqi/wards", TTL: time.Hour},
	}
}

type entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Cache is a response cache backed by Redis
type Cache struct {
	rdb   redis.Cmdable
	rules []Rule
}

// New creates a response cache. Paths matching no rule are passed through.
func New(rdb redis.Cmdable, rules []Rule) *Cache {
	return &Cache{rdb: rdb, rules: rules}
}

// Key derives the cache key from the path and sorted query parameters.
func Key(r *http.Request) string {
	return fmt.Sprintf("%s%016x", keyPrefix, xxhash.Sum64String(r.URL.Path+"|"+r.URL.Query().Encode()))
}

func (c *Cache) ttl(path string) (time.Duration, bool) {
	for _, rule := range c.rules {
		if strings.HasPrefix(path, rule.Prefix) {
			return rule.TTL, true
		}
	}
	return 0, false
}

// Middleware serves cached responses and stores fresh 200 JSON responses.
// Store errors fall through to the handler.
func (c *Cache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}
		ttl, ok := c.ttl(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := Key(r)
		if e, ok := c.lookup(r.Context(), key); ok {
			metrics.ResponseCacheLookups.WithLabelValues("hit").Inc()
			w.Header().Set("Content-Type", e.ContentType)
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(e.Status)
			w.Write(e.Body)
			return
		}
		metrics.ResponseCacheLookups.WithLabelValues("miss").Inc()

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Cache", "MISS")
		next.ServeHTTP(rec, r)

		if rec.status == http.StatusOK && json.Valid(rec.body.Bytes()) {
			c.store(r.Context(), key, entry{
				Status:      rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}, ttl)
		}
	})
}

func (c *Cache) lookup(ctx context.Context, key string) (*entry, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn().Err(err).Str("key", key).Msg("response cache read failed")
		}
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false
	}
	return &e, true
}

func (c *Cache) store(ctx context.Context, key string, e entry, ttl time.Duration) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("response cache write failed")
	}
}

// Clear deletes every cached response and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	var deleted int
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, fmt.Errorf("clear response cache: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan response cache: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, fmt.Errorf("clear response cache: %w", err)
	}
	return deleted, nil
}

// recorder tees the response body so it can be cached after the handler returns
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
