// Package api exposes the AQI, chat and operator HTTP endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jandrishti/aqi-backend/internal/ratelimit"
)

// NewRouter builds the HTTP handler tree.
func NewRouter(opts Options) http.Handler {
	h := newHandler(opts)

	rules := opts.LimitRules
	if rules == nil {
		rules = DefaultLimitRules()
	}
	limiter := ratelimit.New(opts.Container.Redis(), "http")

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(RateLimit(limiter, rules))

	r.Get("/", h.root)
	r.Get("/api/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/aqi", func(r chi.Router) {
		r.Use(opts.Container.ResponseCache().Middleware)
		r.Get("/wards", h.listWards)
		r.Get("/hourly/{wardNo}", h.currentReading)
		r.Get("/hourly/{wardNo}/readings", h.dayReadings)
		r.Get("/daily", h.dailyAggregates)
		r.Get("/feed/{wardNo}", h.liveFeed)
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/messages", h.listChatMessages)
		r.Post("/messages", h.createChatMessage)
		r.Delete("/cache", h.clearChatCache)
	})

	r.Route("/api/admin/aqi", func(r chi.Router) {
		r.Use(AdminOnly(opts.AdminToken))
		r.Post("/trigger-hourly", h.triggerHourly)
		r.Post("/trigger-daily", h.triggerDaily)
		r.Get("/scheduler", h.schedulerStatus)
		r.Post("/clear-cache", h.clearCache)
	})

	return r
}
