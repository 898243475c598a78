package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/birthday-scheduler/internal/api/middleware"
)

// QueueHandler serves a JSON snapshot of every queue and lets operators
// pause and resume consumption. Prometheus gauges for the same numbers are
// served at /metrics.
type QueueHandler struct {
	svc    Scheduler
	logger *zap.Logger
}

func NewQueueHandler(svc Scheduler, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

// Stats handles GET /api/v1/queues/stats
//
// @Summary  Job counts per queue and state
// @Tags     queues
// @Produce  json
// @Success  200  {object}  map[string]queue.Stats
// @Router   /api/v1/queues/stats [get]
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.QueueStats(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Pause handles POST /api/v1/queues/{name}/pause
func (h *QueueHandler) Pause(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.PauseQueue(r.Context(), name); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("queue paused", zap.String("queue", name))
	w.WriteHeader(http.StatusNoContent)
}

// Resume handles POST /api/v1/queues/{name}/resume
func (h *QueueHandler) Resume(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.ResumeQueue(r.Context(), name); err != nil {
		mapError(w, err)
		return
	}
	h.logger.Info("queue resumed", zap.String("queue", name))
	w.WriteHeader(http.StatusNoContent)
}
