package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/queue"
	"github.com/notifyhub/birthday-scheduler/internal/repository"
	"github.com/notifyhub/birthday-scheduler/internal/runlock"
	"github.com/notifyhub/birthday-scheduler/internal/strategy"
	"github.com/notifyhub/birthday-scheduler/internal/tracing"
)

// SchedulerOptions tune a scheduling run. Zero values take defaults.
type SchedulerOptions struct {
	BatchSize    int
	Concurrency  int
	MaxAttempts  int
	BackoffDelay time.Duration
	LockTTL      time.Duration
	Now          func() time.Time
}

func (o SchedulerOptions) withDefaults() SchedulerOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 8
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = queue.DefaultMaxAttempts
	}
	if o.BackoffDelay <= 0 {
		o.BackoffDelay = time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// RunSummary reports what one scheduling run did.
type RunSummary struct {
	Type       domain.NotificationType `json:"type"`
	TargetHour int                     `json:"target_hour"`
	Batches    int                     `json:"batches"`
	Queued     int                     `json:"queued"`
	Duplicates int                     `json:"duplicates"`
	Errors     int                     `json:"errors"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
}

// SchedulerService finds users whose notification is due in their local
// time, records a ledger entry for each and enqueues a delivery job.
//
// The ledger's unique (user, type, year) index is what prevents double
// scheduling; the run lock only keeps runs of one type from overlapping.
type SchedulerService struct {
	users    repository.UserRepository
	ledger   repository.LedgerRepository
	queues   map[string]queue.Queue
	registry *strategy.Registry
	times    map[domain.NotificationType]string
	locker   runlock.Locker
	opts     SchedulerOptions
	logger   *zap.Logger
	hooks    Hooks
}

func NewSchedulerService(
	users repository.UserRepository,
	ledger repository.LedgerRepository,
	queues map[string]queue.Queue,
	registry *strategy.Registry,
	times map[domain.NotificationType]string,
	locker runlock.Locker,
	opts SchedulerOptions,
	logger *zap.Logger,
	hooks Hooks,
) *SchedulerService {
	return &SchedulerService{
		users:    users,
		ledger:   ledger,
		queues:   queues,
		registry: registry,
		times:    times,
		locker:   locker,
		opts:     opts.withDefaults(),
		logger:   logger,
		hooks:    hooks,
	}
}

// RunScheduled is the timer entry point. A type without a configured time
// is skipped, as is a run that would overlap one still in progress.
func (s *SchedulerService) RunScheduled(ctx context.Context, t domain.NotificationType) error {
	strat, err := s.registry.Get(t)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("type", string(t)))

	hour, err := domain.ParseNotificationHour(s.times[t])
	if errors.Is(err, domain.ErrNotificationTimeNotConfigured) {
		log.Info("notification time not configured, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	summary, err := s.run(ctx, strat, hour)
	if errors.Is(err, domain.ErrRunInProgress) {
		log.Warn("previous run still in progress, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("scheduled run finished",
		zap.Int("target_hour", summary.TargetHour),
		zap.Int("queued", summary.Queued),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("errors", summary.Errors),
	)
	return nil
}

// Trigger runs one pass synchronously. A non-nil hour overrides the
// configured notification time.
func (s *SchedulerService) Trigger(ctx context.Context, t domain.NotificationType, hour *int) (*RunSummary, error) {
	strat, err := s.registry.Get(t)
	if err != nil {
		return nil, err
	}

	var target int
	if hour != nil {
		if err := domain.ValidateHour(*hour); err != nil {
			return nil, err
		}
		target = *hour
	} else {
		target, err = domain.ParseNotificationHour(s.times[t])
		if err != nil {
			return nil, err
		}
	}

	s.logger.Info("manual trigger",
		zap.String("type", string(t)),
		zap.Int("target_hour", target),
		zap.Bool("hour_override", hour != nil),
	)
	return s.run(ctx, strat, target)
}

// Types lists every notification type the scheduler can run.
func (s *SchedulerService) Types() []domain.NotificationType {
	all := s.registry.All()
	types := make([]domain.NotificationType, 0, len(all))
	for _, st := range all {
		types = append(types, st.NotificationType())
	}
	return types
}

func (s *SchedulerService) run(ctx context.Context, strat strategy.Strategy, hour int) (*RunSummary, error) {
	t := strat.NotificationType()
	release, err := s.locker.TryAcquire(ctx, "scheduler:"+string(t), s.opts.LockTTL)
	if errors.Is(err, runlock.ErrHeld) {
		return nil, domain.ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release run lock", zap.String("type", string(t)), zap.Error(err))
		}
	}()

	ctx, span := tracing.StartSpan(ctx, "scheduler.run",
		attribute.String("notification.type", string(t)),
		attribute.Int("notification.target_hour", hour),
	)
	defer span.End()

	summary := &RunSummary{Type: t, TargetHour: hour, StartedAt: s.opts.Now().UTC()}
	defer func() {
		summary.FinishedAt = s.opts.Now().UTC()
		s.hooks.runFinished(t, summary.FinishedAt.Sub(summary.StartedAt))
	}()

	q := s.queues[strat.QueueName()]
	var cursor *uuid.UUID
	for {
		users, err := s.users.FindEligible(ctx, strat.DateField(), hour, s.opts.BatchSize, cursor)
		if err != nil {
			s.hooks.scheduleError(t, StageFetch)
			tracing.SetSpanError(ctx, err)
			s.logger.Error("failed to fetch eligible users",
				zap.String("type", string(t)), zap.Int("batch", summary.Batches+1), zap.Error(err))
			return nil, fmt.Errorf("fetch eligible users: %w", err)
		}
		if len(users) == 0 {
			break
		}
		summary.Batches++
		s.processBatch(ctx, strat, q, users, summary)

		if len(users) < s.opts.BatchSize {
			break
		}
		last := users[len(users)-1].ID
		cursor = &last
	}
	return summary, nil
}

type outcome int

const (
	outcomeQueued outcome = iota
	outcomeDuplicate
	outcomeError
	outcomeSkipped
)

// processBatch handles users concurrently. Failures are counted and logged
// per user and never stop the batch.
func (s *SchedulerService) processBatch(
	ctx context.Context,
	strat strategy.Strategy,
	q queue.Queue,
	users []*domain.User,
	summary *RunSummary,
) {
	var queued, duplicates, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	for _, u := range users {
		g.Go(func() error {
			switch s.processUser(ctx, strat, q, u) {
			case outcomeQueued:
				queued.Add(1)
			case outcomeDuplicate:
				duplicates.Add(1)
			case outcomeError:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Queued += int(queued.Load())
	summary.Duplicates += int(duplicates.Load())
	summary.Errors += int(failed.Load())
}

func (s *SchedulerService) processUser(
	ctx context.Context,
	strat strategy.Strategy,
	q queue.Queue,
	u *domain.User,
) outcome {
	t := strat.NotificationType()
	log := s.logger.With(zap.String("type", string(t)), zap.String("user_id", u.ID.String()))

	if q == nil {
		s.hooks.scheduleError(t, StageQueue)
		log.Warn("no queue registered for strategy, skipping user", zap.String("queue", strat.QueueName()))
		return outcomeSkipped
	}

	now := s.opts.Now()
	year := u.EventYear(now)
	entry := domain.NewLedgerEntry(u.ID, t, year, now)

	err := s.ledger.Create(ctx, entry)
	if errors.Is(err, domain.ErrConflict) {
		s.hooks.duplicate(t)
		log.Debug("ledger entry already exists", zap.Int("year", year))
		return outcomeDuplicate
	}
	if err != nil {
		s.hooks.scheduleError(t, StageLedger)
		log.Error("failed to create ledger entry", zap.Int("year", year), zap.Error(err))
		return outcomeError
	}

	jobID := strat.JobID(u, year)
	_, added, err := q.Enqueue(ctx, strat.JobName(), strat.JobPayload(u, entry.ID), queue.EnqueueOptions{
		JobID:       jobID,
		MaxAttempts: s.opts.MaxAttempts,
		Backoff:     queue.Backoff{Type: queue.BackoffExponential, Delay: s.opts.BackoffDelay},
		Headers:     tracing.InjectHeaders(ctx),
	})
	if err != nil {
		s.hooks.scheduleError(t, StageEnqueue)
		log.Error("failed to enqueue job", zap.String("job_id", jobID), zap.Error(err))
		return outcomeError
	}
	if !added {
		log.Debug("job already queued", zap.String("job_id", jobID))
	}

	s.hooks.scheduled(t)
	log.Debug("notification queued", zap.String("job_id", jobID), zap.String("ledger_entry_id", entry.ID.String()))
	return outcomeQueued
}

// QueueStats returns the job counts of every known queue.
func (s *SchedulerService) QueueStats(ctx context.Context) (map[string]queue.Stats, error) {
	out := make(map[string]queue.Stats, len(s.queues))
	for _, name := range s.queueNames() {
		st, err := s.queues[name].Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("stats for queue %s: %w", name, err)
		}
		out[name] = st
	}
	return out, nil
}

func (s *SchedulerService) PauseQueue(ctx context.Context, name string) error {
	q, ok := s.queues[name]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownQueue, name)
	}
	return q.Pause(ctx)
}

func (s *SchedulerService) ResumeQueue(ctx context.Context, name string) error {
	q, ok := s.queues[name]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownQueue, name)
	}
	return q.Resume(ctx)
}

func (s *SchedulerService) queueNames() []string {
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
