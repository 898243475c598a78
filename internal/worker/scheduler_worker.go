package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// ScheduledRunner is the part of service.SchedulerService the timer needs.
type ScheduledRunner interface {
	Types() []domain.NotificationType
	RunScheduled(ctx context.Context, t domain.NotificationType) error
}

// SchedulerWorker fires on interval boundaries (the top of every hour by
// default) and runs the scheduler once for each notification type.
type SchedulerWorker struct {
	runner   ScheduledRunner
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewSchedulerWorker(runner ScheduledRunner, interval time.Duration, logger *zap.Logger) *SchedulerWorker {
	return &SchedulerWorker{runner: runner, interval: interval, logger: logger, now: time.Now}
}

// Run blocks until ctx is cancelled. The timer is re-armed from the clock
// after every tick so a slow run does not shift later ticks.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	wait := untilNextBoundary(sw.now(), sw.interval)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	sw.logger.Info("scheduler worker started",
		zap.Duration("interval", sw.interval),
		zap.Duration("first_run_in", wait),
	)

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("scheduler worker stopping")
			return
		case <-timer.C:
			sw.tick(ctx)
			timer.Reset(untilNextBoundary(sw.now(), sw.interval))
		}
	}
}

func (sw *SchedulerWorker) tick(ctx context.Context) {
	for _, t := range sw.runner.Types() {
		if err := sw.runner.RunScheduled(ctx, t); err != nil {
			sw.logger.Error("scheduled run failed", zap.String("type", string(t)), zap.Error(err))
		}
	}
}

// untilNextBoundary returns the wait until the next multiple of interval
// since the zero time, which for whole hours is the top of the next UTC hour.
func untilNextBoundary(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = time.Hour
	}
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now)
}
