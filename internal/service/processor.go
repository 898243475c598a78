package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/provider"
	"github.com/notifyhub/birthday-scheduler/internal/queue"
	"github.com/notifyhub/birthday-scheduler/internal/repository"
	"github.com/notifyhub/birthday-scheduler/internal/strategy"
	"github.com/notifyhub/birthday-scheduler/internal/tracing"
)

const unknownType domain.NotificationType = "unknown"

// DeliveryProcessor handles one queued job: it renders the message, hands
// it to the provider and records the outcome in the ledger.
// Retrying is left to the queue.
type DeliveryProcessor struct {
	ledger   repository.LedgerRepository
	registry *strategy.Registry
	prov     provider.Provider
	logger   *zap.Logger
	hooks    Hooks
	now      func() time.Time
}

func NewDeliveryProcessor(
	ledger repository.LedgerRepository,
	registry *strategy.Registry,
	prov provider.Provider,
	logger *zap.Logger,
	hooks Hooks,
) *DeliveryProcessor {
	return &DeliveryProcessor{
		ledger:   ledger,
		registry: registry,
		prov:     prov,
		logger:   logger,
		hooks:    hooks,
		now:      time.Now,
	}
}

// Process returns nil when the message was delivered and recorded. Errors
// wrapping domain.ErrUnrecoverable tell the queue not to retry.
func (p *DeliveryProcessor) Process(ctx context.Context, job *queue.Job) error {
	ctx, span := tracing.StartSpan(ctx, "delivery.process",
		attribute.String("job.id", job.ID),
		attribute.String("job.name", job.Name),
		attribute.Int("job.attempt", job.AttemptsMade),
	)
	defer span.End()

	err := p.process(ctx, job)
	if err != nil {
		tracing.SetSpanError(ctx, err)
	}
	return err
}

func (p *DeliveryProcessor) process(ctx context.Context, job *queue.Job) error {
	start := p.now()
	log := p.logger.With(zap.String("job_id", job.ID), zap.Int("attempt", job.AttemptsMade))

	payload, err := decodePayload(job)
	if err != nil {
		log.Error("malformed job payload", zap.Error(err))
		return err
	}
	strat, err := p.registry.ByJobName(job.Name)
	if err != nil {
		log.Error("no strategy for job", zap.String("job_name", job.Name))
		return fmt.Errorf("%w: %v", domain.ErrUnrecoverable, err)
	}
	t := strat.NotificationType()
	log = log.With(
		zap.String("type", string(t)),
		zap.String("ledger_entry_id", payload.LedgerEntryID.String()),
	)

	err = p.prov.Send(ctx, provider.SendRequest{
		Email:   payload.Email,
		Message: strat.RenderMessage(payload),
	})
	if err != nil {
		reason := "retryable"
		if errors.Is(err, domain.ErrUnrecoverable) {
			reason = "unrecoverable"
		}
		p.hooks.attemptFailed(t, reason)
		log.Warn("delivery attempt failed", zap.String("reason", reason), zap.Error(err))
		return err
	}

	if err := p.ledger.MarkSuccess(ctx, payload.LedgerEntryID, p.now()); err != nil {
		log.Error("delivered but failed to mark ledger entry", zap.Error(err))
		return fmt.Errorf("mark ledger entry success: %w", err)
	}

	elapsed := p.now().Sub(start)
	p.hooks.delivered(t, elapsed)
	log.Info("notification delivered", zap.Duration("latency", elapsed))
	return nil
}

// OnFailed runs once, when the queue gives up on a job.
func (p *DeliveryProcessor) OnFailed(ctx context.Context, job *queue.Job, cause error) {
	if job == nil {
		return
	}
	log := p.logger.With(zap.String("job_id", job.ID), zap.Int("attempts", job.AttemptsMade))

	payload, err := decodePayload(job)
	if err != nil {
		log.Error("cannot record failure of malformed job", zap.Error(err))
		return
	}

	t := unknownType
	if strat, err := p.registry.ByJobName(job.Name); err == nil {
		t = strat.NotificationType()
	}
	p.hooks.deliveryFailed(t)

	msg := failureMessage(cause)
	if err := p.ledger.MarkFailed(ctx, payload.LedgerEntryID, msg); err != nil {
		log.Error("failed to mark ledger entry as failed", zap.Error(err))
		return
	}
	log.Warn("notification permanently failed",
		zap.String("type", string(t)),
		zap.String("ledger_entry_id", payload.LedgerEntryID.String()),
		zap.String("error", msg),
	)
}

// failureMessage is what the ledger keeps for a failed entry. A rejected
// request keeps the email service's own message untouched; anything else
// keeps the full error, which carries the upstream message when there is one.
func failureMessage(cause error) string {
	if cause == nil {
		return "delivery failed"
	}
	var de *provider.DeliveryError
	if errors.As(cause, &de) && errors.Is(de, domain.ErrUnrecoverable) {
		return de.Message
	}
	return cause.Error()
}

func decodePayload(job *queue.Job) (domain.JobPayload, error) {
	var payload domain.JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, fmt.Errorf("%w: decode payload: %v", domain.ErrUnrecoverable, err)
	}
	if payload.LedgerEntryID == uuid.Nil {
		return payload, fmt.Errorf("%w: payload has no ledger entry id", domain.ErrUnrecoverable)
	}
	return payload, nil
}

// SetClock replaces the processor's clock. Used by tests.
func (p *DeliveryProcessor) SetClock(now func() time.Time) {
	p.now = now
}
