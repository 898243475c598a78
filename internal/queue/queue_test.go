package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/queue"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type factory func(t *testing.T, opts queue.Options) queue.Queue

func implementations() map[string]factory {
	return map[string]factory{
		"memory": func(_ *testing.T, opts queue.Options) queue.Queue {
			return queue.NewMemoryQueue("birthday-notifications", opts)
		},
		"redis": func(t *testing.T, opts queue.Options) queue.Queue {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return queue.NewRedisQueue(rdb, "birthday-notifications", opts)
		},
	}
}

func forEach(t *testing.T, fn func(t *testing.T, newQueue factory)) {
	for name, f := range implementations() {
		t.Run(name, func(t *testing.T) { fn(t, f) })
	}
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

type payload struct {
	Email string `json:"email"`
}

func TestQueue_DuplicateJobIDEnqueuesOnce(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		q := newQueue(t, queue.Options{})
		ctx := context.Background()
		opts := queue.EnqueueOptions{JobID: "birthday-u1-2026"}

		first, added, err := q.Enqueue(ctx, "send-birthday-notification", payload{Email: "a@example.com"}, opts)
		require.NoError(t, err)
		assert.True(t, added)
		assert.Equal(t, "birthday-u1-2026", first.ID)

		second, added, err := q.Enqueue(ctx, "send-birthday-notification", payload{Email: "b@example.com"}, opts)
		require.NoError(t, err)
		assert.False(t, added)
		assert.Equal(t, first.ID, second.ID)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.Waiting)
	})
}

func TestQueue_ReserveCompleteLifecycle(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		q := newQueue(t, queue.Options{})
		ctx := context.Background()

		state, err := q.Inspect(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, queue.StateAbsent, state)

		_, _, err = q.Enqueue(ctx, "send", payload{Email: "a@example.com"}, queue.EnqueueOptions{
			JobID:   "j1",
			Headers: map[string]string{"traceparent": "00-abc"},
		})
		require.NoError(t, err)

		job, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, 1, job.AttemptsMade)
		assert.Equal(t, queue.DefaultMaxAttempts, job.MaxAttempts)
		assert.Equal(t, "00-abc", job.Headers["traceparent"])
		assert.JSONEq(t, `{"email":"a@example.com"}`, string(job.Payload))

		state, err = q.Inspect(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, queue.StateActive, state)

		empty, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.Nil(t, empty)

		require.NoError(t, q.Complete(ctx, job))
		state, err = q.Inspect(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, queue.StateCompleted, state)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{Completed: 1}, stats)
	})
}

func TestQueue_RetriesWithBackoffUntilMaxAttempts(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		clk := newClock()
		q := newQueue(t, queue.Options{Now: clk.Now})
		ctx := context.Background()

		_, _, err := q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{
			JobID:       "j1",
			MaxAttempts: 3,
			Backoff:     queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second},
		})
		require.NoError(t, err)

		cause := errors.New("upstream 500")
		for attempt, wait := range []time.Duration{time.Second, 2 * time.Second} {
			job, err := q.Reserve(ctx)
			require.NoError(t, err)
			require.NotNil(t, job, "attempt %d", attempt+1)

			terminal, err := q.Fail(ctx, job, cause)
			require.NoError(t, err)
			assert.False(t, terminal)

			state, err := q.Inspect(ctx, "j1")
			require.NoError(t, err)
			assert.Equal(t, queue.StateDelayed, state)

			clk.Advance(wait - time.Millisecond)
			notYet, err := q.Reserve(ctx)
			require.NoError(t, err)
			assert.Nil(t, notYet, "job must wait out its backoff")
			clk.Advance(time.Millisecond)
		}

		job, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, 3, job.AttemptsMade)

		terminal, err := q.Fail(ctx, job, cause)
		require.NoError(t, err)
		assert.True(t, terminal)

		state, err := q.Inspect(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, queue.StateFailed, state)
	})
}

func TestQueue_UnrecoverableFailsImmediately(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		q := newQueue(t, queue.Options{})
		ctx := context.Background()

		_, _, err := q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{JobID: "j1", MaxAttempts: 3})
		require.NoError(t, err)

		job, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)

		terminal, err := q.Fail(ctx, job, fmt.Errorf("bad request: %w", domain.ErrUnrecoverable))
		require.NoError(t, err)
		assert.True(t, terminal)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.Failed)
		assert.EqualValues(t, 0, stats.Delayed)
	})
}

func TestQueue_ExpiredLeaseIsRequeued(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		clk := newClock()
		q := newQueue(t, queue.Options{Now: clk.Now, LeaseTimeout: 30 * time.Second})
		ctx := context.Background()

		_, _, err := q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{JobID: "j1"})
		require.NoError(t, err)

		first, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, first)

		clk.Advance(31 * time.Second)
		second, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, second, "stalled job should be handed out again")
		assert.Equal(t, "j1", second.ID)
		assert.Equal(t, 2, second.AttemptsMade)
	})
}

func TestQueue_PauseStopsReservation(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		q := newQueue(t, queue.Options{})
		ctx := context.Background()

		_, _, err := q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{})
		require.NoError(t, err)
		require.NoError(t, q.Pause(ctx))

		job, err := q.Reserve(ctx)
		require.NoError(t, err)
		assert.Nil(t, job)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.True(t, stats.Paused)
		assert.EqualValues(t, 1, stats.Waiting)

		require.NoError(t, q.Resume(ctx))
		job, err = q.Reserve(ctx)
		require.NoError(t, err)
		assert.NotNil(t, job)
	})
}

func TestQueue_CompletedRetention(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		clk := newClock()
		q := newQueue(t, queue.Options{Now: clk.Now, CompletedRetention: time.Hour, CompletedMax: 2})
		ctx := context.Background()

		for i := range 3 {
			_, _, err := q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{JobID: fmt.Sprintf("j%d", i)})
			require.NoError(t, err)
			job, err := q.Reserve(ctx)
			require.NoError(t, err)
			require.NoError(t, q.Complete(ctx, job))
			clk.Advance(time.Second)
		}

		// Trigger pruning on the next Reserve (memory) or already done on Complete (redis).
		_, err := q.Reserve(ctx)
		require.NoError(t, err)

		state, err := q.Inspect(ctx, "j0")
		require.NoError(t, err)
		assert.Equal(t, queue.StateAbsent, state, "oldest completed job beyond the cap is dropped")

		clk.Advance(2 * time.Hour)
		_, _, err = q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{JobID: "j9"})
		require.NoError(t, err)
		job, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, job))
		_, err = q.Reserve(ctx)
		require.NoError(t, err)

		for _, id := range []string{"j1", "j2"} {
			state, err := q.Inspect(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, queue.StateAbsent, state, id)
		}
	})
}

func TestBackoff_Next(t *testing.T) {
	exp := queue.Backoff{Type: queue.BackoffExponential, Delay: time.Second}
	assert.Equal(t, time.Second, exp.Next(1))
	assert.Equal(t, 2*time.Second, exp.Next(2))
	assert.Equal(t, 4*time.Second, exp.Next(3))
	assert.Equal(t, time.Hour, exp.Next(40))

	fixed := queue.Backoff{Type: queue.BackoffFixed, Delay: 5 * time.Second}
	assert.Equal(t, 5*time.Second, fixed.Next(4))
	assert.Zero(t, queue.Backoff{}.Next(2))
}

func TestQueue_ExpiredLeaseCannotSettle(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		clk := newClock()
		q := newQueue(t, queue.Options{Now: clk.Now, LeaseTimeout: 30 * time.Second})
		ctx := context.Background()

		_, _, err := q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{JobID: "j1"})
		require.NoError(t, err)

		slow, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, slow)

		clk.Advance(31 * time.Second)
		again, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, again)

		// The first consumer finishes after losing its lease.
		assert.ErrorIs(t, q.Complete(ctx, slow), queue.ErrLeaseLost)
		terminal, err := q.Fail(ctx, slow, errors.New("late"))
		assert.ErrorIs(t, err, queue.ErrLeaseLost)
		assert.False(t, terminal)

		state, err := q.Inspect(ctx, "j1")
		require.NoError(t, err)
		assert.Equal(t, queue.StateActive, state, "the current lease holder still owns the job")

		require.NoError(t, q.Complete(ctx, again))
		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, queue.Stats{Completed: 1}, stats)
	})
}

func TestQueue_ExpiredLeaseRequeuedThenStaleCompleteIsIgnored(t *testing.T) {
	forEach(t, func(t *testing.T, newQueue factory) {
		clk := newClock()
		q := newQueue(t, queue.Options{Now: clk.Now, LeaseTimeout: 30 * time.Second})
		ctx := context.Background()

		_, _, err := q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{JobID: "j1"})
		require.NoError(t, err)
		slow, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.NotNil(t, slow)

		// Pausing lets the expired lease be requeued without anyone taking it.
		require.NoError(t, q.Pause(ctx))
		clk.Advance(31 * time.Second)
		none, err := q.Reserve(ctx)
		require.NoError(t, err)
		require.Nil(t, none)

		assert.ErrorIs(t, q.Complete(ctx, slow), queue.ErrLeaseLost)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, stats.Waiting)
		assert.EqualValues(t, 0, stats.Completed, "a requeued job is not also completed")
	})
}

func TestRedisQueue_ReserveMovesJobIntoActiveInOneStep(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := newClock()
	q := queue.NewRedisQueue(rdb, "birthday-notifications", queue.Options{Now: clk.Now, LeaseTimeout: time.Minute})
	ctx := context.Background()
	const prefix = "bq:{birthday-notifications}:"

	_, _, err := q.Enqueue(ctx, "send", payload{}, queue.EnqueueOptions{JobID: "birthday-u-2026"})
	require.NoError(t, err)

	job, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, queue.StateActive, job.State)

	waiting, err := rdb.LLen(ctx, prefix+"wait").Result()
	require.NoError(t, err)
	assert.Zero(t, waiting)

	deadline, err := rdb.ZScore(ctx, prefix+"active", "birthday-u-2026").Result()
	require.NoError(t, err)
	assert.Equal(t, float64(clk.Now().Add(time.Minute).UnixMilli()), deadline)

	// A consumer that dies holding the job gets it back through the lease.
	clk.Advance(time.Minute + time.Millisecond)
	again, err := q.Reserve(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "birthday-u-2026", again.ID)
	assert.Equal(t, 2, again.AttemptsMade)
}
