package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/api"
	"github.com/notifyhub/birthday-scheduler/internal/api/handler"
	"github.com/notifyhub/birthday-scheduler/internal/db"
	"github.com/notifyhub/birthday-scheduler/internal/metrics"
	"github.com/notifyhub/birthday-scheduler/internal/provider"
	"github.com/notifyhub/birthday-scheduler/internal/ratelimiter"
	"github.com/notifyhub/birthday-scheduler/internal/service"
	"github.com/notifyhub/birthday-scheduler/internal/tracing"
	"github.com/notifyhub/birthday-scheduler/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the hourly scheduler, the recovery sweeper and the delivery workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	a, err := newBase()
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, a.cfg.ServiceName, a.cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	if err := a.connect(ctx); err != nil {
		return err
	}

	// ---- metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	reg.MustRegister(metrics.NewQueueCollector(a.queueList(), logger))
	hooks := m.Hooks()

	// ---- services ----
	sched := a.schedulerService(hooks)
	recovery := service.NewRecoveryService(a.users, a.ledger, a.queues, a.registry, service.RecoveryOptions{
		StaleAfter:   a.cfg.RecoveryStaleAfter,
		PageSize:     a.cfg.RecoveryPageSize,
		MaxAttempts:  a.cfg.JobMaxAttempts,
		BackoffDelay: a.cfg.JobBackoffDelay,
	}, logger, hooks)
	prov := provider.NewEmailProvider(a.cfg.BirthdayServiceURL, a.cfg.DeliveryTimeout)
	processor := service.NewDeliveryProcessor(a.ledger, a.registry, prov, logger, hooks)

	// ---- background workers ----
	// Cancelled on shutdown signal; in-flight jobs still run to completion.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	pool := worker.NewPool(a.queueList(), processor, a.registry, ratelimiter.New(a.cfg.DeliveryRateLimit),
		worker.PoolOptions{WorkersPerQueue: a.cfg.QueueWorkers, PollInterval: a.cfg.QueuePollInterval},
		logger,
	)
	pool.Start(workerCtx)

	go worker.NewSchedulerWorker(sched, a.cfg.SchedulerInterval, logger).Run(workerCtx)
	go worker.NewRecoveryWorker(recovery, a.cfg.RecoveryInterval, logger).Run(workerCtx)

	// ---- HTTP server ----
	checks := []handler.ReadinessCheck{{Name: "postgres", Check: db.PostgresHealthcheck(a.pool)}}
	if a.rdb != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: db.RedisHealthcheck(a.rdb)})
	}
	srv := &http.Server{
		Addr:         ":" + a.cfg.HTTPPort,
		Handler:      api.NewRouter(sched, checks, reg, logger),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.Int("workers", pool.Size()),
			zap.Bool("redis", a.rdb != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	// ---- graceful shutdown ----
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErr:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	// 1. Stop accepting new HTTP requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the timers and stop reserving new jobs.
	cancelWorkers()

	// 3. Wait for in-flight jobs to finish.
	pool.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
	return nil
}
