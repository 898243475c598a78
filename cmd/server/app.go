package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/config"
	"github.com/notifyhub/birthday-scheduler/internal/db"
	"github.com/notifyhub/birthday-scheduler/internal/logger"
	"github.com/notifyhub/birthday-scheduler/internal/queue"
	"github.com/notifyhub/birthday-scheduler/internal/repository"
	"github.com/notifyhub/birthday-scheduler/internal/runlock"
	"github.com/notifyhub/birthday-scheduler/internal/service"
	"github.com/notifyhub/birthday-scheduler/internal/strategy"
)

// app holds the dependencies shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	rdb      *redis.Client // nil when REDIS_URL is empty
	registry *strategy.Registry
	queues   map[string]queue.Queue
	locker   runlock.Locker
	users    *repository.PgUserRepository
	ledger   repository.LedgerRepository
}

// newBase loads configuration and builds the logger. Commands that only
// need the database stop here.
func newBase() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &app{cfg: cfg, logger: log}, nil
}

// connect opens Postgres (and Redis when configured), applies migrations
// and builds the queues, repositories and run lock.
func (a *app) connect(ctx context.Context) error {
	pool, err := db.Connect(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.pool = pool

	if err := db.Migrate(a.cfg.DatabaseURL, a.cfg.MigrationsPath, a.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	a.registry = strategy.DefaultRegistry()
	qopts := queue.Options{
		LeaseTimeout:       a.cfg.JobLeaseTimeout,
		CompletedRetention: a.cfg.CompletedRetention,
		FailedRetention:    a.cfg.FailedRetention,
	}
	a.queues = make(map[string]queue.Queue)

	if a.cfg.RedisURL != "" {
		rdb, err := db.ConnectRedis(ctx, a.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.rdb = rdb
		a.locker = runlock.NewRedisLocker(rdb)
		for _, name := range a.registry.QueueNames() {
			a.queues[name] = queue.NewRedisQueue(rdb, name, qopts)
		}
	} else {
		a.logger.Warn("REDIS_URL not set, using in-process queue and lock; jobs do not survive restarts")
		a.locker = runlock.NewLocalLocker()
		for _, name := range a.registry.QueueNames() {
			a.queues[name] = queue.NewMemoryQueue(name, qopts)
		}
	}

	a.users = repository.NewPgUserRepository(pool)
	a.ledger = repository.NewPgLedgerRepository(pool)
	return nil
}

func (a *app) schedulerService(hooks service.Hooks) *service.SchedulerService {
	return service.NewSchedulerService(
		a.users, a.ledger, a.queues, a.registry, a.cfg.NotificationTimes(), a.locker,
		service.SchedulerOptions{
			BatchSize:    a.cfg.SchedulerBatchSize,
			Concurrency:  a.cfg.SchedulerConcurrency,
			MaxAttempts:  a.cfg.JobMaxAttempts,
			BackoffDelay: a.cfg.JobBackoffDelay,
			LockTTL:      a.cfg.SchedulerLockTTL,
		},
		a.logger, hooks,
	)
}

func (a *app) queueList() []queue.Queue {
	out := make([]queue.Queue, 0, len(a.queues))
	for _, name := range a.registry.QueueNames() {
		out = append(out, a.queues[name])
	}
	return out
}

func (a *app) close() {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Warn("closing redis client", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.logger.Sync()
}
