package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/queue"
	"github.com/notifyhub/birthday-scheduler/internal/repository"
	"github.com/notifyhub/birthday-scheduler/internal/strategy"
	"github.com/notifyhub/birthday-scheduler/internal/tracing"
)

// userNotFoundMessage is stored on entries whose user disappeared.
const userNotFoundMessage = "User not found"

// yearGrace keeps last year's entries in the sweep for a day after the
// last timezone has left it.
const yearGrace = 24 * time.Hour

type RecoveryOptions struct {
	StaleAfter   time.Duration
	PageSize     int
	MaxAttempts  int
	BackoffDelay time.Duration
	Now          func() time.Time
}

func (o RecoveryOptions) withDefaults() RecoveryOptions {
	if o.StaleAfter <= 0 {
		o.StaleAfter = time.Hour
	}
	if o.PageSize <= 0 {
		o.PageSize = 500
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = queue.DefaultMaxAttempts
	}
	if o.BackoffDelay <= 0 {
		o.BackoffDelay = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type RecoverySummary struct {
	Scanned     int `json:"scanned"`
	Requeued    int `json:"requeued"`
	InFlight    int `json:"in_flight"`
	UserMissing int `json:"user_missing"`
	Errors      int `json:"errors"`
}

// RecoveryService re-enqueues ledger entries left pending after their job
// was lost, e.g. when the process died between the ledger insert and the
// enqueue.
type RecoveryService struct {
	users    repository.UserRepository
	ledger   repository.LedgerRepository
	queues   map[string]queue.Queue
	registry *strategy.Registry
	opts     RecoveryOptions
	logger   *zap.Logger
	hooks    Hooks
}

func NewRecoveryService(
	users repository.UserRepository,
	ledger repository.LedgerRepository,
	queues map[string]queue.Queue,
	registry *strategy.Registry,
	opts RecoveryOptions,
	logger *zap.Logger,
	hooks Hooks,
) *RecoveryService {
	return &RecoveryService{
		users:    users,
		ledger:   ledger,
		queues:   queues,
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logger,
		hooks:    hooks,
	}
}

// Sweep inspects one page of stale pending entries from every event year
// that is still current in some timezone. A failure on one entry is logged
// and the sweep moves on; only a failed ledger query is returned.
func (s *RecoveryService) Sweep(ctx context.Context) (*RecoverySummary, error) {
	ctx, span := tracing.StartSpan(ctx, "recovery.sweep")
	defer span.End()

	now := s.opts.Now().UTC()
	years := domain.EventYearsAt(now, s.opts.StaleAfter+yearGrace)
	entries, err := s.ledger.FindStalePending(ctx, years, now.Add(-s.opts.StaleAfter), s.opts.PageSize)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("find stale pending entries: %w", err)
	}

	summary := &RecoverySummary{Scanned: len(entries)}
	for _, e := range entries {
		outcome := s.recoverEntry(ctx, e)
		s.hooks.recovered(outcome)
		switch outcome {
		case OutcomeRequeued:
			summary.Requeued++
		case OutcomeInFlight:
			summary.InFlight++
		case OutcomeUserMissing:
			summary.UserMissing++
		default:
			summary.Errors++
		}
	}

	if summary.Scanned > 0 {
		s.logger.Info("recovery sweep finished",
			zap.Int("scanned", summary.Scanned),
			zap.Int("requeued", summary.Requeued),
			zap.Int("in_flight", summary.InFlight),
			zap.Int("user_missing", summary.UserMissing),
			zap.Int("errors", summary.Errors),
		)
	}
	return summary, nil
}

func (s *RecoveryService) recoverEntry(ctx context.Context, e *domain.LedgerEntry) string {
	log := s.logger.With(
		zap.String("ledger_entry_id", e.ID.String()),
		zap.String("user_id", e.UserID.String()),
		zap.String("type", string(e.Type)),
	)

	strat, err := s.registry.Get(e.Type)
	if err != nil {
		log.Error("no strategy for pending entry", zap.Error(err))
		return OutcomeError
	}
	q, ok := s.queues[strat.QueueName()]
	if !ok {
		log.Warn("no queue registered for strategy", zap.String("queue", strat.QueueName()))
		return OutcomeError
	}

	user, err := s.users.FindByID(ctx, e.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		if err := s.ledger.MarkFailed(ctx, e.ID, userNotFoundMessage); err != nil {
			log.Error("failed to mark entry of missing user", zap.Error(err))
			return OutcomeError
		}
		log.Warn("user no longer exists, entry marked failed")
		return OutcomeUserMissing
	}
	if err != nil {
		log.Error("failed to load user", zap.Error(err))
		return OutcomeError
	}

	canonical := strat.JobID(user, e.Year)
	state, err := q.Inspect(ctx, canonical)
	if err != nil {
		log.Error("failed to inspect job", zap.String("job_id", canonical), zap.Error(err))
		return OutcomeError
	}
	if state.InFlight() {
		log.Debug("job still in flight", zap.String("job_id", canonical), zap.String("state", string(state)))
		return OutcomeInFlight
	}

	jobID := strategy.RecoveryJobID(canonical)
	_, added, err := q.Enqueue(ctx, strat.JobName(), strat.JobPayload(user, e.ID), queue.EnqueueOptions{
		JobID:       jobID,
		MaxAttempts: s.opts.MaxAttempts,
		Backoff:     queue.Backoff{Type: queue.BackoffExponential, Delay: s.opts.BackoffDelay},
		Headers:     tracing.InjectHeaders(ctx),
	})
	if err != nil {
		log.Error("failed to re-enqueue job", zap.String("job_id", jobID), zap.Error(err))
		return OutcomeError
	}
	if !added {
		log.Debug("recovery job already exists", zap.String("job_id", jobID))
		return OutcomeInFlight
	}
	log.Info("re-enqueued stale pending entry", zap.String("job_id", jobID), zap.String("previous_state", string(state)))
	return OutcomeRequeued
}
