package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/birthday-scheduler/internal/api/middleware"
	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/queue"
	"github.com/notifyhub/birthday-scheduler/internal/service"
)

// Scheduler is the slice of service.SchedulerService the HTTP layer uses.
type Scheduler interface {
	Trigger(ctx context.Context, t domain.NotificationType, hour *int) (*service.RunSummary, error)
	QueueStats(ctx context.Context) (map[string]queue.Stats, error)
	PauseQueue(ctx context.Context, name string) error
	ResumeQueue(ctx context.Context, name string) error
}

// SchedulerHandler exposes manual scheduler runs.
type SchedulerHandler struct {
	svc    Scheduler
	logger *zap.Logger
}

func NewSchedulerHandler(svc Scheduler, logger *zap.Logger) *SchedulerHandler {
	return &SchedulerHandler{svc: svc, logger: logger}
}

// TriggerRequest is the body of POST /api/v1/scheduler/trigger.
type TriggerRequest struct {
	Type domain.NotificationType `json:"type"`
	// Hour overrides the configured local delivery hour when set.
	Hour *int `json:"hour,omitempty"`
}

type TriggerResponse struct {
	Message   string              `json:"message"`
	Timestamp time.Time           `json:"timestamp"`
	Summary   *service.RunSummary `json:"summary"`
}

// Trigger handles POST /api/v1/scheduler/trigger
//
// @Summary  Run the scheduler once for a notification type
// @Tags     scheduler
// @Accept   json
// @Produce  json
// @Param    body  body      TriggerRequest  true  "Type and optional hour override"
// @Success  200   {object}  TriggerResponse
// @Failure  400   {object}  map[string]string
// @Failure  409   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /api/v1/scheduler/trigger [post]
func (h *SchedulerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	summary, err := h.svc.Trigger(r.Context(), req.Type, req.Hour)
	if err != nil {
		h.logger.Warn("manual trigger failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("type", string(req.Type)),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, TriggerResponse{
		Message:   "Scheduler triggered",
		Timestamp: time.Now().UTC(),
		Summary:   summary,
	})
}
