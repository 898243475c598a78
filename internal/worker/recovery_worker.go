package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/birthday-scheduler/internal/service"
)

type Sweeper interface {
	Sweep(ctx context.Context) (*service.RecoverySummary, error)
}

// RecoveryWorker sweeps for stale pending ledger entries once on start and
// then every interval.
type RecoveryWorker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.Logger
}

func NewRecoveryWorker(sweeper Sweeper, interval time.Duration, logger *zap.Logger) *RecoveryWorker {
	return &RecoveryWorker{sweeper: sweeper, interval: interval, logger: logger}
}

// Run stops cleanly when ctx is cancelled.
func (rw *RecoveryWorker) Run(ctx context.Context) {
	rw.logger.Info("recovery worker started", zap.Duration("interval", rw.interval))
	rw.sweep(ctx)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("recovery worker stopping")
			return
		case <-ticker.C:
			rw.sweep(ctx)
		}
	}
}

func (rw *RecoveryWorker) sweep(ctx context.Context) {
	if _, err := rw.sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
		rw.logger.Error("recovery sweep failed", zap.Error(err))
	}
}
