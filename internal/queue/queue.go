// Package queue is a small durable job queue with deduplication by job id,
// delayed retries with backoff, and leases that return stalled jobs to the
// waiting list.
//
// Producers call Enqueue. Consumers loop Reserve, then Complete or Fail.
// The queue owns attempt counting; callers never retry on their own.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// ErrLeaseLost is returned by Complete and Fail when the caller's lease
// expired and the job was requeued or reserved again. Nothing is changed.
var ErrLeaseLost = errors.New("job lease lost")

// Queue is implemented by RedisQueue and MemoryQueue.
type Queue interface {
	Name() string

	// Enqueue adds a job. The bool is false when opts.JobID already existed,
	// in which case the existing job is returned and nothing changes.
	Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) (*Job, bool, error)
	Inspect(ctx context.Context, jobID string) (JobState, error)
	Stats(ctx context.Context) (Stats, error)

	// Reserve leases the next ready job. It returns nil, nil when nothing is
	// ready or the queue is paused.
	Reserve(ctx context.Context) (*Job, error)
	// Complete and Fail settle a reserved job. Both return ErrLeaseLost when
	// the lease no longer belongs to the caller.
	Complete(ctx context.Context, job *Job) error
	// Fail records a failed attempt. It reports terminal=true when the job
	// moved to the failed state and will not run again.
	Fail(ctx context.Context, job *Job, cause error) (terminal bool, err error)

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

// Options tune lease and retention behaviour. Zero values take defaults.
type Options struct {
	LeaseTimeout       time.Duration
	CompletedRetention time.Duration
	CompletedMax       int
	FailedRetention    time.Duration
	Now                func() time.Time
}

func (o Options) withDefaults() Options {
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = time.Minute
	}
	if o.CompletedRetention <= 0 {
		o.CompletedRetention = time.Hour
	}
	if o.CompletedMax <= 0 {
		o.CompletedMax = 1000
	}
	if o.FailedRetention <= 0 {
		o.FailedRetention = 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func effectiveMaxAttempts(n int) int {
	if n <= 0 {
		return DefaultMaxAttempts
	}
	return n
}

// isTerminal decides whether a failed attempt ends the job.
func isTerminal(attemptsMade, maxAttempts int, cause error) bool {
	if errors.Is(cause, domain.ErrUnrecoverable) {
		return true
	}
	return attemptsMade >= effectiveMaxAttempts(maxAttempts)
}

func errorText(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

func encodePayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
