package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
	"github.com/notifyhub/birthday-scheduler/internal/service"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	Scheduled      *prometheus.CounterVec
	Duplicates     *prometheus.CounterVec
	ScheduleErrors *prometheus.CounterVec
	RunDuration    *prometheus.HistogramVec

	Delivered       *prometheus.CounterVec
	AttemptFailures *prometheus.CounterVec
	DeliveryFailed  *prometheus.CounterVec
	DeliveryLatency *prometheus.HistogramVec

	Recovered *prometheus.CounterVec
}

// New registers all instruments with the given registerer. A custom
// registry keeps tests isolated from prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_scheduled_total",
			Help: "Ledger entries created and jobs enqueued by scheduler runs.",
		}, []string{"type"}),

		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_duplicate_total",
			Help: "Users skipped because a ledger entry for the event year already existed.",
		}, []string{"type"}),

		ScheduleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_errors_total",
			Help: "Errors swallowed during scheduler runs, by stage.",
		}, []string{"type", "stage"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scheduler_run_duration_seconds",
			Help:    "Wall time of one scheduler run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"type"}),

		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Notifications accepted by the delivery channel and marked successful.",
		}, []string{"type"}),

		AttemptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_attempt_failures_total",
			Help: "Failed delivery attempts, by whether the queue may retry them.",
		}, []string{"type", "reason"}),

		DeliveryFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Notifications permanently failed (unrecoverable or attempts exhausted).",
		}, []string{"type"}),

		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delivery_processing_seconds",
			Help:    "Processing latency from job start to ledger update.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),

		Recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recovery_entries_total",
			Help: "Stale pending ledger entries handled by the recovery sweep, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.Scheduled,
		m.Duplicates,
		m.ScheduleErrors,
		m.RunDuration,
		m.Delivered,
		m.AttemptFailures,
		m.DeliveryFailed,
		m.DeliveryLatency,
		m.Recovered,
	)

	return m
}

// Hooks returns the callbacks expected by the service package.
// Centralises the prometheus observation calls so services stay import-free.
func (m *Metrics) Hooks() service.Hooks {
	return service.Hooks{
		OnScheduled: func(t domain.NotificationType) {
			m.Scheduled.WithLabelValues(string(t)).Inc()
		},
		OnDuplicate: func(t domain.NotificationType) {
			m.Duplicates.WithLabelValues(string(t)).Inc()
		},
		OnScheduleError: func(t domain.NotificationType, stage string) {
			m.ScheduleErrors.WithLabelValues(string(t), stage).Inc()
		},
		OnRunFinished: func(t domain.NotificationType, d time.Duration) {
			m.RunDuration.WithLabelValues(string(t)).Observe(d.Seconds())
		},
		OnDelivered: func(t domain.NotificationType, latency time.Duration) {
			m.Delivered.WithLabelValues(string(t)).Inc()
			m.DeliveryLatency.WithLabelValues(string(t)).Observe(latency.Seconds())
		},
		OnAttemptFailed: func(t domain.NotificationType, reason string) {
			m.AttemptFailures.WithLabelValues(string(t), reason).Inc()
		},
		OnDeliveryFailed: func(t domain.NotificationType) {
			m.DeliveryFailed.WithLabelValues(string(t)).Inc()
		},
		OnRecovered: func(outcome string) {
			m.Recovered.WithLabelValues(outcome).Inc()
		},
	}
}
