package api

import (
	"net/http"

	"eventrelay/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func NewRouter(h *Handlers, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)
	r.Use(ChiMiddleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Idempotency(redisClient)).Post("/agents", h.RegisterAgent)
		r.Post("/subscriptions", h.Subscribe)
		r.With(middleware.Idempotency(redisClient)).Post("/events", h.IngestEvent)

		r.Get("/agents/{id}/history", h.GetHistory)
		r.Get("/agents/{id}/inbox", h.ReceiveInbox)
		r.Delete("/agents/{id}/inbox", h.AckInbox)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
