package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/queue"
	"github.com/notifyhub/birthday-scheduler/internal/ratelimiter"
	"github.com/notifyhub/birthday-scheduler/internal/strategy"
)

// Handler processes jobs reserved by the pool. OnFailed is called once per
// job, when the queue reports that it will not be retried.
type Handler interface {
	Process(ctx context.Context, job *queue.Job) error
	OnFailed(ctx context.Context, job *queue.Job, err error)
}

type PoolOptions struct {
	// WorkersPerQueue is the number of consumers started for each queue.
	WorkersPerQueue int
	PollInterval    time.Duration
}

// Pool manages the lifecycle of all consumer workers.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates opts.WorkersPerQueue workers for every queue, all sharing
// one handler and one set of rate limiters.
func NewPool(
	queues []queue.Queue,
	handler Handler,
	registry *strategy.Registry,
	limiter *ratelimiter.Limiters,
	opts PoolOptions,
	logger *zap.Logger,
) *Pool {
	if opts.WorkersPerQueue <= 0 {
		opts.WorkersPerQueue = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	var workers []*Worker
	for _, q := range queues {
		for i := 0; i < opts.WorkersPerQueue; i++ {
			id := len(workers)
			workers = append(workers, NewWorker(
				id, q, handler, registry, limiter, opts.PollInterval,
				logger.With(zap.Int("worker_id", id), zap.String("queue", q.Name())),
			))
		}
	}
	return &Pool{workers: workers}
}

// Start launches all workers as goroutines.
// Cancelling ctx triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Jobs already handed to the handler are finished and settled first.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size is the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}
