package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/queue"
	"github.com/notifyhub/birthday-scheduler/internal/ratelimiter"
	"github.com/notifyhub/birthday-scheduler/internal/service"
	"github.com/notifyhub/birthday-scheduler/internal/strategy"
	"github.com/notifyhub/birthday-scheduler/internal/worker"
)

type recordingHandler struct {
	mu        sync.Mutex
	processed map[string]int
	failed    map[string]int
	result    func(job *queue.Job) error
}

func newRecordingHandler(result func(job *queue.Job) error) *recordingHandler {
	return &recordingHandler{
		processed: make(map[string]int),
		failed:    make(map[string]int),
		result:    result,
	}
}

func (h *recordingHandler) Process(_ context.Context, job *queue.Job) error {
	h.mu.Lock()
	h.processed[job.ID]++
	h.mu.Unlock()
	return h.result(job)
}

func (h *recordingHandler) OnFailed(_ context.Context, job *queue.Job, _ error) {
	h.mu.Lock()
	h.failed[job.ID]++
	h.mu.Unlock()
}

func (h *recordingHandler) counts(id string) (processed, failed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processed[id], h.failed[id]
}

func runPool(t *testing.T, q queue.Queue, h worker.Handler, until func() bool) {
	t.Helper()
	pool := worker.NewPool(
		[]queue.Queue{q}, h, strategy.DefaultRegistry(), ratelimiter.New(0),
		worker.PoolOptions{WorkersPerQueue: 3, PollInterval: 5 * time.Millisecond},
		zap.NewNop(),
	)
	assert.Equal(t, 3, pool.Size())

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	require.Eventually(t, until, 2*time.Second, 5*time.Millisecond)
	cancel()
	pool.Wait()
}

func TestPool_CompletesSuccessfulJobs(t *testing.T) {
	q := queue.NewMemoryQueue(strategy.BirthdayQueue, queue.Options{})
	ctx := context.Background()
	for i := range 10 {
		_, _, err := q.Enqueue(ctx, strategy.BirthdayJobName, map[string]int{"n": i}, queue.EnqueueOptions{JobID: fmt.Sprintf("j%d", i)})
		require.NoError(t, err)
	}
	h := newRecordingHandler(func(*queue.Job) error { return nil })

	runPool(t, q, h, func() bool {
		s, err := q.Stats(ctx)
		return err == nil && s.Completed == 10
	})

	for i := range 10 {
		processed, failed := h.counts(fmt.Sprintf("j%d", i))
		assert.Equal(t, 1, processed)
		assert.Equal(t, 0, failed)
	}
}

func TestPool_UnrecoverableCallsOnFailedOnce(t *testing.T) {
	q := queue.NewMemoryQueue(strategy.BirthdayQueue, queue.Options{})
	ctx := context.Background()
	_, _, err := q.Enqueue(ctx, strategy.BirthdayJobName, map[string]string{}, queue.EnqueueOptions{JobID: "bad", MaxAttempts: 3})
	require.NoError(t, err)

	h := newRecordingHandler(func(*queue.Job) error {
		return fmt.Errorf("%w: rejected", domain.ErrUnrecoverable)
	})
	runPool(t, q, h, func() bool {
		_, failed := h.counts("bad")
		return failed == 1
	})

	processed, failed := h.counts("bad")
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, failed)
}

func TestPool_RetryableErrorIsRetriedUntilSuccess(t *testing.T) {
	q := queue.NewMemoryQueue(strategy.BirthdayQueue, queue.Options{})
	ctx := context.Background()
	_, _, err := q.Enqueue(ctx, strategy.BirthdayJobName, map[string]string{}, queue.EnqueueOptions{
		JobID:       "flaky",
		MaxAttempts: 3,
		Backoff:     queue.Backoff{Type: queue.BackoffFixed, Delay: time.Millisecond},
	})
	require.NoError(t, err)

	var calls atomic.Int32
	h := newRecordingHandler(func(*queue.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("upstream 500")
		}
		return nil
	})
	runPool(t, q, h, func() bool {
		state, err := q.Inspect(ctx, "flaky")
		return err == nil && state == queue.StateCompleted
	})

	processed, failed := h.counts("flaky")
	assert.Equal(t, 3, processed)
	assert.Equal(t, 0, failed)
}

type fakeRunner struct {
	mu   sync.Mutex
	runs []domain.NotificationType
}

func (f *fakeRunner) Types() []domain.NotificationType {
	return []domain.NotificationType{domain.NotificationBirthday}
}

func (f *fakeRunner) RunScheduled(_ context.Context, t domain.NotificationType) error {
	f.mu.Lock()
	f.runs = append(f.runs, t)
	f.mu.Unlock()
	return nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func TestSchedulerWorker_RunsEveryType(t *testing.T) {
	r := &fakeRunner{}
	sw := worker.NewSchedulerWorker(r, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type fakeSweeper struct {
	calls atomic.Int32
}

func (f *fakeSweeper) Sweep(context.Context) (*service.RecoverySummary, error) {
	f.calls.Add(1)
	return &service.RecoverySummary{}, nil
}

func TestRecoveryWorker_SweepsOnStart(t *testing.T) {
	s := &fakeSweeper{}
	rw := worker.NewRecoveryWorker(s, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rw.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.EqualValues(t, 1, s.calls.Load())
}
