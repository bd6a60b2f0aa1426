// Package chatcache keeps recent chat history, sessions and summaries in
// Redis and enforces the per-user chat rate limit.
package chatcache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jandrishti/aqi-backend/internal/logging"
	"github.com/jandrishti/aqi-backend/internal/metrics"
	"github.com/jandrishti/aqi-backend/internal/ratelimit"
	"github.com/jandrishti/aqi-backend/pkg/config"
)

// Message is a chat exchange as it is cached and returned to clients
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Response  *string   `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Session tracks the user's last activity
type Session struct {
	LastActive time.Time      `json:"last_active"`
	Metadata   map[string]any `json:"metadata"`
}

type summary struct {
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}

func historyKey(userID string) string   { return "chat:history:" + userID }
func completeKey(userID string) string  { return "chat:history_complete:" + userID }
func sessionKey(userID string) string   { return "chat:session:" + userID }
func rateLimitKey(userID string) string { return "chat:ratelimit:" + userID }
func messageKey(id string) string       { return "chat:message:" + id }
func summaryKey(userID string) string   { return "chat:summary:" + userID }

// Cache is the chat cache. Store failures are logged and reported through
// boolean or empty results; they never surface as errors to callers.
type Cache struct {
	rdb     redis.Cmdable
	limiter *ratelimit.Limiter
	cfg     config.ChatConfig
	now     func() time.Time
}

// New creates a chat cache on rdb.
func New(rdb redis.Cmdable, cfg config.ChatConfig) *Cache {
	return &Cache{
		rdb:     rdb,
		limiter: ratelimit.New(rdb, "chat"),
		cfg:     cfg,
		now:     time.Now,
	}
}

// CacheMessage stores msg under its own key and in the user's bounded
// history. A missing ID or CreatedAt is filled in.
func (c *Cache) CacheMessage(ctx context.Context, userID string, msg Message) bool {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = c.now()
	}
	if msg.UserID == "" {
		msg.UserID = userID
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.fail("cache_message", userID, err)
		return false
	}

	key := historyKey(userID)
	score := float64(msg.CreatedAt.UnixMicro()) / 1e6

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, messageKey(msg.ID), data, c.cfg.MessageTTL)
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: data})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-(c.cfg.HistorySize + 1)))
	pipe.Expire(ctx, key, c.cfg.MessageTTL)
	// the marker lives and dies with the history
	pipe.Expire(ctx, completeKey(userID), c.cfg.MessageTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.fail("cache_message", userID, err)
		return false
	}
	return true
}

// CacheMessages caches each message in turn and returns how many succeeded.
func (c *Cache) CacheMessages(ctx context.Context, userID string, msgs []Message) int {
	stored := 0
	for _, msg := range msgs {
		if c.CacheMessage(ctx, userID, msg) {
			stored++
		}
	}
	return stored
}

// ReplaceHistory swaps the user's cached history for msgs, as read from the
// durable store. complete records that msgs hold every message the user
// has, so later reads may be answered from the cache alone.
func (c *Cache) ReplaceHistory(ctx context.Context, userID string, msgs []Message, complete bool) bool {
	if err := c.rdb.Del(ctx, historyKey(userID), completeKey(userID)).Err(); err != nil {
		c.fail("replace_history", userID, err)
		return false
	}
	if c.CacheMessages(ctx, userID, msgs) != len(msgs) {
		return false
	}
	if !complete {
		return true
	}
	if err := c.rdb.Set(ctx, completeKey(userID), "1", c.cfg.MessageTTL).Err(); err != nil {
		c.fail("replace_history", userID, err)
		return false
	}
	return true
}

// Covers reports whether n cached messages answer a request for the newest
// limit messages. A short history only counts when it is known complete and
// has not been trimmed.
func (c *Cache) Covers(ctx context.Context, userID string, n, limit int) bool {
	if n >= limit {
		return true
	}
	if n >= c.cfg.HistorySize {
		return false
	}
	exists, err := c.rdb.Exists(ctx, completeKey(userID)).Result()
	if err != nil {
		c.fail("covers", userID, err)
		return false
	}
	return exists == 1
}

// CachedMessages returns up to limit cached messages, newest first.
func (c *Cache) CachedMessages(ctx context.Context, userID string, limit int) []Message {
	if limit <= 0 {
		limit = c.cfg.HistorySize
	}

	raw, err := c.rdb.ZRevRange(ctx, historyKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		c.fail("cached_messages", userID, err)
		return []Message{}
	}

	msgs := make([]Message, 0, len(raw))
	for _, member := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(member), &msg); err != nil {
			logging.Debug().Err(err).Str("user_id", userID).Msg("skipping undecodable cached message")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// ConversationContext returns the last max messages, oldest first.
func (c *Cache) ConversationContext(ctx context.Context, userID string, max int) []Message {
	msgs := c.CachedMessages(ctx, userID, max)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// CheckRateLimit counts a chat message against the user's window.
func (c *Cache) CheckRateLimit(ctx context.Context, userID string) ratelimit.Result {
	return c.limiter.Allow(ctx, rateLimitKey(userID), c.cfg.RateLimitMax, c.cfg.RateLimitWindow)
}

// UpdateSession overwrites the user's session with the current time.
func (c *Cache) UpdateSession(ctx context.Context, userID string, metadata map[string]any) bool {
	if metadata == nil {
		metadata = map[string]any{}
	}

	data, err := json.Marshal(Session{LastActive: c.now(), Metadata: metadata})
	if err != nil {
		c.fail("update_session", userID, err)
		return false
	}

	if err := c.rdb.Set(ctx, sessionKey(userID), data, c.cfg.SessionTTL).Err(); err != nil {
		c.fail("update_session", userID, err)
		return false
	}
	return true
}

// Session returns the user's session, or nil if none is live or the store
// cannot be read.
func (c *Cache) Session(ctx context.Context, userID string) *Session {
	data, err := c.rdb.Get(ctx, sessionKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.fail("session", userID, err)
		}
		return nil
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		logging.Debug().Err(err).Str("user_id", userID).Msg("discarding undecodable session")
		return nil
	}
	return &s
}

// CacheSummary stores a conversation summary for the user.
func (c *Cache) CacheSummary(ctx context.Context, userID, text string) bool {
	data, err := json.Marshal(summary{Summary: text, UpdatedAt: c.now()})
	if err != nil {
		c.fail("cache_summary", userID, err)
		return false
	}

	if err := c.rdb.Set(ctx, summaryKey(userID), data, c.cfg.MessageTTL).Err(); err != nil {
		c.fail("cache_summary", userID, err)
		return false
	}
	return true
}

// Summary returns the cached summary text, or "" when there is none.
func (c *Cache) Summary(ctx context.Context, userID string) string {
	data, err := c.rdb.Get(ctx, summaryKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.fail("summary", userID, err)
		}
		return ""
	}

	var s summary
	if err := json.Unmarshal(data, &s); err != nil {
		return ""
	}
	return s.Summary
}

// InvalidateUser drops the user's history, session and summary.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) bool {
	err := c.rdb.Del(ctx, historyKey(userID), completeKey(userID), sessionKey(userID), summaryKey(userID)).Err()
	if err != nil {
		c.fail("invalidate_user", userID, err)
		return false
	}
	return true
}

func (c *Cache) fail(op, userID string, err error) {
	metrics.ChatCacheErrors.WithLabelValues(op).Inc()
	logging.Error().Err(err).Str("op", op).Str("user_id", userID).Msg("chat cache operation failed")
}
