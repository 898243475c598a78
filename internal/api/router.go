package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/api/handler"
	apimw "github.com/notifyhub/birthday-scheduler/internal/api/middleware"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route.
func NewRouter(
	sched handler.Scheduler,
	checks []handler.ReadinessCheck,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)
	r.Use(apimw.Tracing)
	r.Use(apimw.RequestLogger(logger))

	sh := handler.NewSchedulerHandler(sched, logger)
	qh := handler.NewQueueHandler(sched, logger)
	hh := handler.NewHealthHandler(checks...)

	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scheduler/trigger", sh.Trigger)

		// /stats is registered before /{name} routes so chi never
		// treats it as a queue name.
		r.Get("/queues/stats", qh.Stats)
		r.Post("/queues/{name}/pause", qh.Pause)
		r.Post("/queues/{name}/resume", qh.Resume)
	})

	return r
}
