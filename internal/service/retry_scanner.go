package service

import (
	"context"
	"fmt"
	"time"

	"github.com/florana/mailroom/internal/observability"
	"github.com/florana/mailroom/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically promotes jobs whose backoff expired from the
// retry set back onto the ready list.
type RetryScanner struct {
	maintainer queue.Maintainer
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	limit      int
}

func NewRetryScanner(
	maintainer queue.Maintainer,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if maintainer == nil {
		return nil, fmt.Errorf("queue maintainer is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		maintainer: maintainer,
		logger:     logger,
		interval:   interval,
		limit:      limit,
	}, nil
}

func (s *RetryScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	promoted, err := s.maintainer.PromoteDueRetries(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to promote due retries: %w", err)
	}

	if promoted > 0 {
		if s.metrics != nil {
			s.metrics.AddRetriesPromoted(promoted)
		}
		s.logger.Info("promoted due retries", zap.Int("count", promoted))
	}

	return nil
}
