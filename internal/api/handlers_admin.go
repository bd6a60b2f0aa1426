package api

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

func (h *Handler) schedulerOr503(w http.ResponseWriter) bool {
	if h.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable", "scheduler is not running in this process")
		return false
	}
	return true
}

func (h *Handler) triggerHourly(w http.ResponseWriter, r *http.Request) {
	if !h.schedulerOr503(w) {
		return
	}
	report, err := h.scheduler.TriggerHourly(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) triggerDaily(w http.ResponseWriter, r *http.Request) {
	if !h.schedulerOr503(w) {
		return
	}
	col := h.aqiCollector(w, r)
	if col == nil {
		return
	}

	var date time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation(dateLayout, raw, col.Location())
		if err != nil {
			writeValidationError(w, "date must be formatted YYYY-MM-DD", map[string]string{"date": raw})
			return
		}
		date = parsed
	}

	report, err := h.scheduler.TriggerDaily(r.Context(), date)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	if !h.schedulerOr503(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	col := h.aqiCollector(w, r)
	if col == nil {
		return
	}
	col.InvalidateWards()

	deleted, err := h.container.ResponseCache().Clear(r.Context())
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wards_invalidated": true, "responses_deleted": deleted})
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "JanDrishti API", "version": "1.0.0"})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	redisState := "up"
	if err := pingRedis(r, h.container.Redis()); err != nil {
		status = "degraded"
		redisState = "down"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"redis":     redisState,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func pingRedis(r *http.Request, rdb *redis.Client) error {
	if rdb == nil {
		return redis.ErrClosed
	}
	return rdb.Ping(r.Context()).Err()
}
