package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/khatteland/gatehouse/internal/observability"
	"github.com/khatteland/gatehouse/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware)

	r.Post("/v1/resources/{id}/admissions", h.Admit)
	r.Get("/v1/resources/{id}/admissions", h.ListAdmissions)
	r.Delete("/v1/admissions/{id}", h.Cancel)
	r.Post("/v1/admissions/{id}/revoke", h.Revoke)
	r.Post("/v1/payments/callback", h.PaymentCallback)
	r.Post("/v1/checkin", h.Checkin)
	r.Post("/v1/sweep", h.Sweep)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
