package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue keeps jobs in process memory. It is used in tests and when no
// Redis URL is configured; jobs do not survive a restart.
type MemoryQueue struct {
	name string
	opts Options

	mu        sync.Mutex
	jobs      map[string]*Job
	wait      []string
	leases    map[string]time.Time
	completed []string
	failed    []string
	paused    bool
}

func NewMemoryQueue(name string, opts Options) *MemoryQueue {
	return &MemoryQueue{
		name:   name,
		opts:   opts.withDefaults(),
		jobs:   make(map[string]*Job),
		leases: make(map[string]time.Time),
	}
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Enqueue(_ context.Context, name string, payload any, opts EnqueueOptions) (*Job, bool, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode payload: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}
	if existing, ok := q.jobs[id]; ok {
		return existing.clone(), false, nil
	}

	now := q.opts.Now().UTC()
	j := &Job{
		ID:          id,
		Name:        name,
		Queue:       q.name,
		Payload:     raw,
		Headers:     opts.Headers,
		MaxAttempts: effectiveMaxAttempts(opts.MaxAttempts),
		Backoff:     opts.Backoff,
		State:       StateWaiting,
		CreatedAt:   now,
		ProcessAt:   now,
	}
	q.jobs[id] = j
	q.wait = append(q.wait, id)
	return j.clone(), true, nil
}

func (q *MemoryQueue) Inspect(_ context.Context, jobID string) (JobState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return StateAbsent, nil
	}
	return j.State, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Paused: q.paused}
	for _, j := range q.jobs {
		switch j.State {
		case StateWaiting:
			s.Waiting++
		case StateActive:
			s.Active++
		case StateDelayed:
			s.Delayed++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s, nil
}

func (q *MemoryQueue) Reserve(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now().UTC()
	q.promoteLocked(now)
	q.pruneLocked(now)

	if q.paused || len(q.wait) == 0 {
		return nil, nil
	}
	id := q.wait[0]
	q.wait = q.wait[1:]

	j := q.jobs[id]
	j.State = StateActive
	j.AttemptsMade++
	q.leases[id] = now.Add(q.opts.LeaseTimeout)
	return j.clone(), nil
}

func (q *MemoryQueue) Complete(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.leasedLocked(job)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	now := q.opts.Now().UTC()
	delete(q.leases, j.ID)
	j.State = StateCompleted
	j.FinishedAt = &now
	q.completed = append(q.completed, j.ID)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job *Job, cause error) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, err := q.leasedLocked(job)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	now := q.opts.Now().UTC()
	delete(q.leases, j.ID)
	j.LastError = errorText(cause)

	if isTerminal(j.AttemptsMade, j.MaxAttempts, cause) {
		j.State = StateFailed
		j.FinishedAt = &now
		q.failed = append(q.failed, j.ID)
		return true, nil
	}
	j.State = StateDelayed
	j.ProcessAt = now.Add(j.Backoff.Next(j.AttemptsMade))
	return false, nil
}

// leasedLocked returns the stored job if the caller still holds its lease.
func (q *MemoryQueue) leasedLocked(job *Job) (*Job, error) {
	j, ok := q.jobs[job.ID]
	if !ok {
		return nil, errors.New("not found")
	}
	if _, leased := q.leases[j.ID]; !leased || j.State != StateActive || j.AttemptsMade != job.AttemptsMade {
		return nil, ErrLeaseLost
	}
	return j, nil
}

func (q *MemoryQueue) Pause(context.Context) error {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Resume(context.Context) error {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	return nil
}

// promoteLocked moves due delayed jobs and expired leases back to waiting.
func (q *MemoryQueue) promoteLocked(now time.Time) {
	for id, j := range q.jobs {
		if j.State == StateDelayed && !j.ProcessAt.After(now) {
			j.State = StateWaiting
			q.wait = append(q.wait, id)
		}
	}
	for id, until := range q.leases {
		if until.After(now) {
			continue
		}
		delete(q.leases, id)
		if j := q.jobs[id]; j.State == StateActive {
			j.State = StateWaiting
			q.wait = append(q.wait, id)
		}
	}
}

func (q *MemoryQueue) pruneLocked(now time.Time) {
	q.completed = q.prune(q.completed, now.Add(-q.opts.CompletedRetention), q.opts.CompletedMax)
	q.failed = q.prune(q.failed, now.Add(-q.opts.FailedRetention), 0)
}

// prune drops ids finished before cutoff, then the oldest beyond max (0 = no cap).
func (q *MemoryQueue) prune(ids []string, cutoff time.Time, max int) []string {
	kept := ids[:0]
	for _, id := range ids {
		if j := q.jobs[id]; j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(q.jobs, id)
			continue
		}
		kept = append(kept, id)
	}
	if max > 0 && len(kept) > max {
		for _, id := range kept[:len(kept)-max] {
			delete(q.jobs, id)
		}
		kept = kept[len(kept)-max:]
	}
	return kept
}

var _ Queue = (*MemoryQueue)(nil)
