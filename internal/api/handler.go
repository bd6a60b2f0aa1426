package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/jandrishti/aqi-backend/internal/app"
	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/scheduler"
)

// ChatStore is the durable chat history
type ChatStore interface {
	InsertChatMessage(ctx context.Context, msg *database.ChatMessage) error
	ListChatMessages(ctx context.Context, userID string, limit, offset int) ([]database.ChatMessage, error)
}

// DailyStore serves persisted daily aggregates
type DailyStore interface {
	WardDailyAQIRange(ctx context.Context, wardNo int, from, to time.Time) ([]database.WardDailyAQI, error)
}

// Options configures the HTTP handlers. ChatStore, DailyStore and
// Scheduler may be nil; the routes that need them answer 503.
type Options struct {
	Container  *app.Container
	Scheduler  *scheduler.Scheduler
	ChatStore  ChatStore
	DailyStore DailyStore
	LimitRules []LimitRule
	AdminToken string
}

// Handler serves the AQI, chat and operator endpoints
type Handler struct {
	container  *app.Container
	scheduler  *scheduler.Scheduler
	chatStore  ChatStore
	dailyStore DailyStore
	now        func() time.Time
}

func newHandler(opts Options) *Handler {
	return &Handler{
		container:  opts.Container,
		scheduler:  opts.Scheduler,
		chatStore:  opts.ChatStore,
		dailyStore: opts.DailyStore,
		now:        time.Now,
	}
}

func queryInt(r *http.Request, name string, def, min, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, false
	}
	return v, true
}
