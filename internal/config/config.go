package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/notifyhub/birthday-scheduler/internal/domain"
)

// Config holds all runtime configuration loaded from environment variables.
// DATABASE_URL and BIRTHDAY_SERVICE_URL are required; everything else has a default.
type Config struct {
	// Server
	HTTPPort        string        `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"birthday-scheduler"`

	// Database
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns     int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns     int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://migrations"`

	// Redis backs the durable queue and the run-lock. Empty means in-process.
	RedisURL string `env:"REDIS_URL"`

	// Delivery channel
	BirthdayServiceURL string        `env:"BIRTHDAY_SERVICE_URL,required,notEmpty"`
	DeliveryTimeout    time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"5s"`
	DeliveryRateLimit  int           `env:"DELIVERY_RATE_LIMIT" envDefault:"50"`

	// Local delivery time per notification type, HH:mm.
	BirthdayNotificationTime string `env:"BIRTHDAY_NOTIFICATION_TIME" envDefault:"09:00"`

	// Queue
	QueueWorkers       int           `env:"QUEUE_WORKERS" envDefault:"5"`
	QueuePollInterval  time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"500ms"`
	JobMaxAttempts     int           `env:"JOB_MAX_ATTEMPTS" envDefault:"3"`
	JobBackoffDelay    time.Duration `env:"JOB_BACKOFF_DELAY" envDefault:"1s"`
	JobLeaseTimeout    time.Duration `env:"JOB_LEASE_TIMEOUT" envDefault:"1m"`
	CompletedRetention time.Duration `env:"QUEUE_COMPLETED_RETENTION" envDefault:"1h"`
	FailedRetention    time.Duration `env:"QUEUE_FAILED_RETENTION" envDefault:"24h"`

	// Scheduler
	SchedulerInterval    time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"1h"`
	SchedulerBatchSize   int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"500"`
	SchedulerConcurrency int           `env:"SCHEDULER_CONCURRENCY" envDefault:"8"`
	SchedulerLockTTL     time.Duration `env:"SCHEDULER_LOCK_TTL" envDefault:"30m"`

	// Recovery
	RecoveryInterval   time.Duration `env:"RECOVERY_INTERVAL" envDefault:"5m"`
	RecoveryStaleAfter time.Duration `env:"RECOVERY_STALE_AFTER" envDefault:"1h"`
	RecoveryPageSize   int           `env:"RECOVERY_PAGE_SIZE" envDefault:"500"`

	// Tracing is enabled when an OTLP endpoint is set.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file, parses the environment into a Config
// and validates the fields that have a format.
func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field and format constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.BirthdayNotificationTime != "" {
		if _, err := domain.ParseNotificationHour(c.BirthdayNotificationTime); err != nil {
			errs = append(errs, fmt.Errorf("BIRTHDAY_NOTIFICATION_TIME: %w", err))
		}
	}
	if u, err := url.ParseRequestURI(c.BirthdayServiceURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("BIRTHDAY_SERVICE_URL must be a valid URL, got %q", c.BirthdayServiceURL))
	}
	if c.SchedulerBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("SCHEDULER_BATCH_SIZE: %w", domain.ErrInvalidBatchSize))
	}
	if c.QueueWorkers <= 0 {
		errs = append(errs, errors.New("QUEUE_WORKERS must be positive"))
	}
	if c.JobLeaseTimeout <= c.DeliveryTimeout {
		errs = append(errs, errors.New("JOB_LEASE_TIMEOUT must be longer than DELIVERY_TIMEOUT"))
	}

	return errors.Join(errs...)
}

// NotificationTimes maps each notification type to its configured local delivery time.
func (c *Config) NotificationTimes() map[domain.NotificationType]string {
	return map[domain.NotificationType]string{
		domain.NotificationBirthday: c.BirthdayNotificationTime,
	}
}
