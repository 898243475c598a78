package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/queue"
	"github.com/notifyhub/birthday-scheduler/internal/ratelimiter"
	"github.com/notifyhub/birthday-scheduler/internal/strategy"
	"github.com/notifyhub/birthday-scheduler/internal/tracing"
)

// Worker is a single goroutine that reserves jobs from one queue, waits for
// the rate limiter of the job's notification type, runs the handler and
// settles the job with the queue.
type Worker struct {
	id       int
	q        queue.Queue
	handler  Handler
	registry *strategy.Registry
	limiter  *ratelimiter.Limiters
	poll     time.Duration
	logger   *zap.Logger
}

func NewWorker(
	id int,
	q queue.Queue,
	handler Handler,
	registry *strategy.Registry,
	limiter *ratelimiter.Limiters,
	poll time.Duration,
	logger *zap.Logger,
) *Worker {
	return &Worker{
		id: id, q: q, handler: handler, registry: registry,
		limiter: limiter, poll: poll, logger: logger,
	}
}

// Run blocks until ctx is cancelled, handling one job per iteration and
// sleeping for the poll interval whenever the queue has nothing ready.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started")
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopping")
			return
		}

		job, err := w.q.Reserve(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("failed to reserve job", zap.Error(err))
			}
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job *queue.Job) {
	log := w.logger.With(zap.String("job_id", job.ID), zap.Int("attempt", job.AttemptsMade))

	// Block here until the per-type rate limiter grants a token. On shutdown
	// the job is left active and its lease returns it to the queue.
	if err := w.limiter.Wait(ctx, w.typeOf(job)); err != nil {
		return
	}

	// A job already started is finished and settled even during shutdown.
	jobCtx := tracing.ExtractHeaders(context.WithoutCancel(ctx), job.Headers)

	procErr := w.handler.Process(jobCtx, job)
	if procErr == nil {
		err := w.q.Complete(jobCtx, job)
		switch {
		case errors.Is(err, queue.ErrLeaseLost):
			log.Warn("lease expired before completion, job was handed out again")
		case err != nil:
			log.Error("failed to complete job", zap.Error(err))
		}
		return
	}

	terminal, err := w.q.Fail(jobCtx, job, procErr)
	if errors.Is(err, queue.ErrLeaseLost) {
		log.Warn("lease expired before failure was recorded, job was handed out again", zap.Error(procErr))
		return
	}
	if err != nil {
		log.Error("failed to record job failure", zap.Error(err))
		return
	}
	if terminal {
		w.handler.OnFailed(jobCtx, job, procErr)
		return
	}
	log.Info("job will be retried", zap.Error(procErr))
}

func (w *Worker) typeOf(job *queue.Job) domain.NotificationType {
	s, err := w.registry.ByJobName(job.Name)
	if err != nil {
		return "unknown"
	}
	return s.NotificationType()
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
