package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jandrishti/aqi-backend/internal/collector"
)

const dateLayout = "2006-01-02"

// maxDailyRange bounds /api/aqi/daily queries
const maxDailyRange = 366 * 24 * time.Hour

func (h *Handler) aqiCollector(w http.ResponseWriter, r *http.Request) *collector.Collector {
	col, err := h.container.Collector()
	if err != nil {
		writeInternalError(w, r, err)
		return nil
	}
	return col
}

// ward resolves the {wardNo} URL parameter against the monitored wards
func (h *Handler) ward(w http.ResponseWriter, r *http.Request, col *collector.Collector) (collector.Ward, bool) {
	wardNo, err := strconv.Atoi(chi.URLParam(r, "wardNo"))
	if err != nil || wardNo <= 0 {
		writeValidationError(w, "ward number must be a positive integer", map[string]string{"ward_no": chi.URLParam(r, "wardNo")})
		return collector.Ward{}, false
	}
	for _, ward := range col.Wards(r.Context()) {
		if ward.WardNo == wardNo {
			return ward, true
		}
	}
	writeError(w, http.StatusNotFound, "Not Found", "ward "+strconv.Itoa(wardNo)+" is not monitored")
	return collector.Ward{}, false
}

func (h *Handler) listWards(w http.ResponseWriter, r *http.Request) {
	col := h.aqiCollector(w, r)
	if col == nil {
		return
	}

	wards := col.Wards(r.Context())
	if wards == nil {
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable", "ward list could not be loaded")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wards": wards, "count": len(wards)})
}

func (h *Handler) currentReading(w http.ResponseWriter, r *http.Request) {
	col := h.aqiCollector(w, r)
	if col == nil {
		return
	}
	ward, ok := h.ward(w, r, col)
	if !ok {
		return
	}

	reading, err := col.CurrentReading(r.Context(), ward.WardNo)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	if reading == nil {
		writeError(w, http.StatusNotFound, "Not Found", "no reading stored for the current hour")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ward": ward, "reading": reading})
}

func (h *Handler) dayReadings(w http.ResponseWriter, r *http.Request) {
	col := h.aqiCollector(w, r)
	if col == nil {
		return
	}
	ward, ok := h.ward(w, r, col)
	if !ok {
		return
	}

	date := h.now().In(col.Location())
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.ParseInLocation(dateLayout, raw, col.Location())
		if err != nil {
			writeValidationError(w, "date must be formatted YYYY-MM-DD", map[string]string{"date": raw})
			return
		}
		date = parsed
	}

	readings, err := col.DailyReadings(r.Context(), ward.WardNo, date)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ward":      ward,
		"date":      date.Format(dateLayout),
		"readings":  readings,
		"aggregate": collector.ComputeDailyAggregate(readings),
	})
}

func (h *Handler) dailyAggregates(w http.ResponseWriter, r *http.Request) {
	if h.dailyStore == nil {
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable", "durable store is not configured")
		return
	}
	col := h.aqiCollector(w, r)
	if col == nil {
		return
	}
	loc := col.Location()

	wardNo, ok := queryInt(r, "ward_no", 0, 0, 1<<30)
	if !ok {
		writeValidationError(w, "ward_no must be a non-negative integer", nil)
		return
	}

	to := col.Yesterday()
	from := to.AddDate(0, 0, -6)
	q := r.URL.Query()
	if raw := q.Get("to"); raw != "" {
		parsed, err := time.ParseInLocation(dateLayout, raw, loc)
		if err != nil {
			writeValidationError(w, "to must be formatted YYYY-MM-DD", map[string]string{"to": raw})
			return
		}
		to = parsed
		from = to.AddDate(0, 0, -6)
	}
	if raw := q.Get("from"); raw != "" {
		parsed, err := time.ParseInLocation(dateLayout, raw, loc)
		if err != nil {
			writeValidationError(w, "from must be formatted YYYY-MM-DD", map[string]string{"from": raw})
			return
		}
		from = parsed
	}
	if from.After(to) {
		writeValidationError(w, "from must not be after to", nil)
		return
	}
	if to.Sub(from) > maxDailyRange {
		writeValidationError(w, "date range must not exceed 366 days", nil)
		return
	}

	rows, err := h.dailyStore.WardDailyAQIRange(r.Context(), wardNo, from, to)
	if err != nil {
		writeInternalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from": from.Format(dateLayout),
		"to":   to.Format(dateLayout),
		"data": rows,
	})
}

func (h *Handler) liveFeed(w http.ResponseWriter, r *http.Request) {
	col := h.aqiCollector(w, r)
	if col == nil {
		return
	}
	ward, ok := h.ward(w, r, col)
	if !ok {
		return
	}

	reading, err := col.FetchReading(r.Context(), ward.Latitude, ward.Longitude)
	if err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	if reading == nil {
		writeError(w, http.StatusBadGateway, "Bad Gateway", "AQI provider returned no data for this ward")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ward": ward, "reading": reading})
}
