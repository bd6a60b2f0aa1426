// Package app wires the long-lived service handles shared by the HTTP
// server, the scheduler and the one-shot commands.
package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/jandrishti/aqi-backend/internal/chatcache"
	"github.com/jandrishti/aqi-backend/internal/collector"
	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/httpcache"
	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/queue"
	"github.com/jandrishti/aqi-backend/internal/scheduler"
	"github.com/jandrishti/aqi-backend/internal/waqi"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

// Publisher is an event sink that owns a connection
type Publisher interface {
	collector.EventPublisher
	Close() error
}

// Container holds the process-wide handles. The collector and chat cache
// are built on first use.
type Container struct {
	cfg       *config.Config
	rdb       *redis.Client
	db        *database.DB
	publisher Publisher
	responses *httpcache.Cache

	mu        sync.Mutex
	collector atomic.Pointer[collector.Collector]
	chat      atomic.Pointer[chatcache.Cache]
}

// NewContainer creates a container. db may be nil, in which case the
// collector runs on the static ward list and cannot persist aggregates.
func NewContainer(cfg *config.Config, rdb *redis.Client, db *database.DB, publisher Publisher) *Container {
	if publisher == nil {
		publisher = queue.NopPublisher{}
	}
	return &Container{
		cfg:       cfg,
		rdb:       rdb,
		db:        db,
		publisher: publisher,
		responses: httpcache.New(rdb, httpcache.DefaultRules()),
	}
}

// Config returns the configuration the container was built from
func (c *Container) Config() *config.Config { return c.cfg }

// Redis returns the shared Redis client
func (c *Container) Redis() *redis.Client { return c.rdb }

// DB returns the durable store, which may be nil
func (c *Container) DB() *database.DB { return c.db }

// ResponseCache returns the HTTP response cache
func (c *Container) ResponseCache() *httpcache.Cache { return c.responses }

// Collector returns the shared collector, building it on first use.
func (c *Container) Collector() (*collector.Collector, error) {
	if col := c.collector.Load(); col != nil {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if col := c.collector.Load(); col != nil {
		return col, nil
	}

	var store collector.AggregateStore
	if c.db != nil {
		store = c.db
	}

	col, err := collector.New(c.rdb, store, waqi.NewClient(c.cfg.WAQI), c.publisher, c.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("create collector: %w", err)
	}
	c.collector.Store(col)
	logging.Info().Msg("AQI collector initialized")
	return col, nil
}

// AQICollector hands the collector to the scheduler.
func (c *Container) AQICollector() (scheduler.Collector, error) {
	col, err := c.Collector()
	if err != nil {
		return nil, err
	}
	return col, nil
}

// ResetCollector drops the collector so the next call rebuilds it.
func (c *Container) ResetCollector() {
	c.mu.Lock()
	c.collector.Store(nil)
	c.mu.Unlock()
}

// ChatCache returns the shared chat cache, building it on first use.
func (c *Container) ChatCache() *chatcache.Cache {
	if cc := c.chat.Load(); cc != nil {
		return cc
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cc := c.chat.Load(); cc != nil {
		return cc
	}
	cc := chatcache.New(c.rdb, c.cfg.Chat)
	c.chat.Store(cc)
	return cc
}

// Close releases the event publisher. The Redis and database handles
// belong to the caller.
func (c *Container) Close() error {
	return c.publisher.Close()
}

// NewRedisClient connects to Redis from either REDIS_URL or discrete
// settings and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.TLS && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}
