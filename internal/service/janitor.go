package service

import (
	"context"
	"fmt"
	"time"

	"github.com/florana/mailroom/internal/observability"
	"github.com/florana/mailroom/internal/queue"
	"go.uber.org/zap"
)

const defaultJanitorInterval = time.Minute

// Janitor periodically prunes the completed-job set down to its retention
// bounds and reports the failed-list depth so operators can spot jobs
// that exhausted their retries (including static configuration errors the
// retry policy can never fix).
type Janitor struct {
	maintainer queue.Maintainer
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
}

func NewJanitor(maintainer queue.Maintainer, interval time.Duration, logger *zap.Logger) (*Janitor, error) {
	if maintainer == nil {
		return nil, fmt.Errorf("queue maintainer is required")
	}
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Janitor{
		maintainer: maintainer,
		logger:     logger,
		interval:   interval,
	}, nil
}

func (j *Janitor) SetMetrics(metrics *observability.Metrics) {
	if j == nil {
		return
	}
	j.metrics = metrics
}

func (j *Janitor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := j.sweep(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("janitor initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := j.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				j.logger.Error("janitor sweep failed", zap.Error(err))
			}
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) error {
	pruned, err := j.maintainer.PruneCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to prune completed jobs: %w", err)
	}
	if pruned > 0 {
		j.logger.Info("pruned completed jobs", zap.Int64("count", pruned))
	}

	failed, err := j.maintainer.FailedCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to read failed-job depth: %w", err)
	}
	if j.metrics != nil {
		j.metrics.SetFailedJobs(failed)
	}
	if failed > 0 {
		j.logger.Warn("jobs parked in failed list await inspection", zap.Int64("count", failed))
	}

	return nil
}
