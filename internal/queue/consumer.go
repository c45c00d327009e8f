package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dequeueBlockTimeout = 5 * time.Second

var _ Consumer = (*RedisConsumer)(nil)

// RedisConsumer pulls jobs off the ready list with a blocking move into
// its own processing list. consumerID must be stable across restarts of
// the same worker instance: startup recovery requeues whatever that
// instance left in flight when it last died.
type RedisConsumer struct {
	queue      *RedisQueue
	consumerID string
	logger     *zap.Logger
}

func NewRedisConsumer(queue *RedisQueue, consumerID string, logger *zap.Logger) (*RedisConsumer, error) {
	if queue == nil {
		return nil, fmt.Errorf("redis queue is required")
	}
	if strings.TrimSpace(consumerID) == "" {
		return nil, fmt.Errorf("consumer id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisConsumer{
		queue:      queue,
		consumerID: consumerID,
		logger:     logger,
	}, nil
}

// Consume blocks on the queue and drives each job through handler until
// the context is canceled. Redis connectivity failures back off
// exponentially; handler failures are absorbed into the retry mechanics
// and never stop the loop.
func (c *RedisConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if c == nil || c.queue == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	ready := readyKey(c.queue.name)
	processing := processingKey(c.queue.name, c.consumerID)

	for {
		if ctx.Err() != nil {
			return nil
		}

		raw, err := c.queue.client.BLMove(ctx, ready, processing, "RIGHT", "LEFT", dequeueBlockTimeout).Result()
		if errors.Is(err, goredis.Nil) {
			bo.Reset()
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			wait := bo.NextBackOff()
			c.logger.Warn("dequeue failed, backing off",
				zap.Duration("wait", wait),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		if err := c.handleDelivery(ctx, raw, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to settle delivery", zap.Error(err))
		}
	}
}

// Recover requeues jobs abandoned on this instance's processing list by
// a previous crash. They are redelivered, possibly duplicating an email
// that was sent but never acked; at-least-once accepts that. Call once
// at startup, before any Consume loop runs.
func (c *RedisConsumer) Recover(ctx context.Context) error {
	if c == nil || c.queue == nil {
		return fmt.Errorf("consumer is not initialized")
	}

	processing := processingKey(c.queue.name, c.consumerID)
	ready := readyKey(c.queue.name)

	recovered := 0
	for {
		_, err := c.queue.client.LMove(ctx, processing, ready, "RIGHT", "LEFT").Result()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to recover in-flight jobs: %w", err)
		}
		recovered++
	}

	if recovered > 0 {
		c.logger.Warn("requeued in-flight jobs from previous run",
			zap.Int("count", recovered),
			zap.String("consumerId", c.consumerID),
		)
	}
	return nil
}

func (c *RedisConsumer) handleDelivery(ctx context.Context, raw string, handler MessageHandler) error {
	var msg EmailMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.logger.Warn("parking message: invalid JSON", zap.Error(err))
		return c.queue.parkFailed(ctx, c.consumerID, raw, []byte(raw))
	}

	if err := msg.Validate(); err != nil {
		c.logger.Warn("parking message: validation failed",
			zap.String("jobId", msg.JobID),
			zap.Error(err),
		)
		return c.queue.parkFailed(ctx, c.consumerID, raw, []byte(raw))
	}

	msg.Attempt++
	maxAttempts := msg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = c.queue.policy.MaxAttempts
	}

	handlerErr := handler(ctx, msg)
	if handlerErr == nil {
		return c.queue.markCompleted(ctx, c.consumerID, raw, msg.JobID)
	}

	if msg.Attempt >= maxAttempts {
		payload, err := json.Marshal(msg)
		if err != nil {
			payload = []byte(raw)
		}
		c.logger.Error("job exhausted retry budget, parking in failed list",
			zap.String("jobId", msg.JobID),
			zap.String("tenantId", msg.TenantID),
			zap.Int("attempts", msg.Attempt),
			zap.Error(handlerErr),
		)
		return c.queue.parkFailed(ctx, c.consumerID, raw, payload)
	}

	delay, err := c.queue.scheduleRetry(ctx, c.consumerID, raw, msg)
	if err != nil {
		return err
	}

	c.logger.Warn("job failed, retry scheduled",
		zap.String("jobId", msg.JobID),
		zap.String("tenantId", msg.TenantID),
		zap.Int("attempt", msg.Attempt),
		zap.Duration("delay", delay),
		zap.Error(handlerErr),
	)
	return nil
}

func (c *RedisConsumer) Close() error {
	if c == nil || c.queue == nil {
		return nil
	}
	return c.queue.Close()
}
