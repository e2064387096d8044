package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/bunk-reservations/internal/idempotency"
	"github.com/robertarktes/bunk-reservations/internal/observability"
)

type RouterConfig struct {
	Limiter            Limiter
	RateLimitPerMinute int
	Idempotency        *idempotency.Idempotency
}

func SetupRouter(h *Handlers, logger observability.Logger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		if cfg.Limiter != nil {
			r.Use(RateLimitMiddleware(cfg.Limiter, cfg.RateLimitPerMinute))
		}

		claim := r.With()
		if cfg.Idempotency != nil {
			claim = r.With(IdempotencyMiddleware(cfg.Idempotency, logger))
		}
		claim.Post("/v1/holds", h.CreateHold)

		r.Post("/v1/payments/callback", h.PaymentCallback)
		r.Post("/v1/holds/{id}/cancel", h.CancelHold)
		r.Get("/v1/holds/{id}", h.GetHold)
		r.Get("/v1/holds", h.ListHolds)
		r.Get("/v1/rooms", h.ListRooms)
		r.Get("/v1/rooms/{id}/occupancy", h.RoomOccupancy)
	})

	return r
}
