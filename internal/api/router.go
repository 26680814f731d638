package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the HTTP surface: citizen booking routes, the staff
// vaccination route, the public slot listing, health probes and /metrics.
func NewRouter(handlers *Handlers, health *HealthHandler, metrics *Metrics, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Get("/slots", handlers.ListSlots)

	r.Group(func(r chi.Router) {
		r.Use(CitizenMiddleware)
		r.Post("/appointments", handlers.BookSlot)
		r.Get("/appointments", handlers.ListAppointments)
		r.Post("/appointments/{id}/cancel", handlers.CancelAppointment)
	})

	r.Group(func(r chi.Router) {
		r.Use(AdminMiddleware)
		r.Post("/vaccinations", handlers.MarkVaccinated)
	})

	return r
}
