package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/jandrishti/aqi-backend/internal/chatcache"
	"github.com/jandrishti/aqi-backend/internal/database"
	"github.com/jandrishti/aqi-backend/internal/logging"
)

const maxChatMessageLength = 2000

type chatRequest struct {
	Message string `json:"message"`
}

// userID is set by the upstream auth layer
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "missing user identity")
		return "", false
	}
	return id, true
}

func placeholderResponse(message string) string {
	return fmt.Sprintf("I understand you're asking about: %s. This is a placeholder response. AI integration will be added later.", message)
}

func toCached(m database.ChatMessage) chatcache.Message {
	return chatcache.Message{
		ID:        m.ID,
		UserID:    m.UserID,
		Message:   m.Message,
		Response:  m.Response,
		CreatedAt: m.CreatedAt,
	}
}

func (h *Handler) listChatMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(r, "limit", 50, 1, 100)
	if !ok {
		writeValidationError(w, "limit must be between 1 and 100", nil)
		return
	}
	offset, ok := queryInt(r, "offset", 0, 0, 1<<20)
	if !ok {
		writeValidationError(w, "offset must be a non-negative integer", nil)
		return
	}

	cache := h.container.ChatCache()

	if h.chatStore == nil {
		if offset > 0 {
			writeJSON(w, http.StatusOK, []chatcache.Message{})
			return
		}
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, cache.CachedMessages(r.Context(), user, limit))
		return
	}

	if offset == 0 {
		cached := cache.CachedMessages(r.Context(), user, limit)
		if cache.Covers(r.Context(), user, len(cached), limit) {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	rows, err := h.chatStore.ListChatMessages(r.Context(), user, limit, offset)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}

	msgs := make([]chatcache.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, toCached(row))
	}
	if offset == 0 {
		cache.ReplaceHistory(r.Context(), user, msgs, len(msgs) < limit)
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) createChatMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeValidationError(w, "request body must be JSON with a message field", nil)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" || len(req.Message) > maxChatMessageLength {
		writeValidationError(w, "message must be between 1 and 2000 characters", map[string]int{"length": len(req.Message)})
		return
	}

	cache := h.container.ChatCache()

	limit := cache.CheckRateLimit(r.Context(), user)
	if !limit.Permit() {
		retry := int(limit.RetryAfter(time.Now()).Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "Rate Limit Exceeded",
			Message:    "Too many chat messages. Please wait before sending another.",
			RetryAfter: retry,
		})
		return
	}

	cache.UpdateSession(r.Context(), user, map[string]any{"last_message_length": len(req.Message)})

	response := placeholderResponse(req.Message)
	msg := &database.ChatMessage{
		UserID:    user,
		Message:   req.Message,
		Response:  &response,
		CreatedAt: h.now().UTC(),
	}

	if h.chatStore != nil {
		if err := h.chatStore.InsertChatMessage(r.Context(), msg); err != nil {
			writeInternalError(w, r, err)
			return
		}
	} else {
		logging.Debug().Str("user_id", user).Msg("no durable chat store, message kept in cache only")
	}

	cached := toCached(*msg)
	if !cache.CacheMessage(r.Context(), user, cached) {
		logging.Warn().Str("user_id", user).Msg("chat message not cached")
	}

	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit.Remaining))
	writeJSON(w, http.StatusCreated, cached)
}

func (h *Handler) clearChatCache(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	if !h.container.ChatCache().InvalidateUser(r.Context(), user) {
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable", "chat cache could not be cleared")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}
