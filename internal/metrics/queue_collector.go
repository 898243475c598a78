package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/queue"
)

var queueJobsDesc = prometheus.NewDesc(
	"queue_jobs",
	"Current number of jobs per queue and state.",
	[]string{"queue", "state"}, nil,
)

var queuePausedDesc = prometheus.NewDesc(
	"queue_paused",
	"1 when the queue is paused.",
	[]string{"queue"}, nil,
)

// QueueCollector reads queue stats at scrape time, so the gauges reflect
// every process sharing the queue rather than one replica's view.
type QueueCollector struct {
	queues  []queue.Queue
	timeout time.Duration
	logger  *zap.Logger
}

func NewQueueCollector(queues []queue.Queue, logger *zap.Logger) *QueueCollector {
	return &QueueCollector{queues: queues, timeout: 2 * time.Second, logger: logger}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueJobsDesc
	ch <- queuePausedDesc
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for _, q := range c.queues {
		s, err := q.Stats(ctx)
		if err != nil {
			c.logger.Warn("queue stats unavailable for scrape", zap.String("queue", q.Name()), zap.Error(err))
			continue
		}
		for state, n := range map[queue.JobState]int64{
			queue.StateWaiting:   s.Waiting,
			queue.StateActive:    s.Active,
			queue.StateDelayed:   s.Delayed,
			queue.StateCompleted: s.Completed,
			queue.StateFailed:    s.Failed,
		} {
			ch <- prometheus.MustNewConstMetric(queueJobsDesc, prometheus.GaugeValue, float64(n), q.Name(), string(state))
		}
		paused := 0.0
		if s.Paused {
			paused = 1
		}
		ch <- prometheus.MustNewConstMetric(queuePausedDesc, prometheus.GaugeValue, paused, q.Name())
	}
}
