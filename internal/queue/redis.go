package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var _ Publisher = (*RedisQueue)(nil)
var _ Maintainer = (*RedisQueue)(nil)

// RedisQueue is the durable work queue backed by Redis lists and sorted
// sets. It serves both as the producer-side Publisher and as the shared
// state the consumer and maintenance loops operate on.
type RedisQueue struct {
	client    *goredis.Client
	name      string
	policy    RetryPolicy
	retention Retention
	now       func() time.Time
}

func NewRedisQueue(client *goredis.Client, name string, policy RetryPolicy, retention Retention) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultQueueName
	}
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy()
	}
	if retention.MaxAge <= 0 && retention.MaxCount <= 0 {
		retention = DefaultRetention()
	}

	return &RedisQueue{
		client:    client,
		name:      name,
		policy:    policy,
		retention: retention,
		now:       time.Now,
	}, nil
}

// Publish validates the job, stamps the retry budget, and pushes it onto
// the ready list. The push is the durability point: once it returns nil
// the email will be attempted.
func (q *RedisQueue) Publish(ctx context.Context, msg EmailMessage) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("queue is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid email message: %w", err)
	}

	if msg.MaxAttempts < 1 {
		msg.MaxAttempts = q.policy.MaxAttempts
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = q.now().UTC()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email message: %w", err)
	}

	if err := q.client.LPush(ctx, readyKey(q.name), payload).Err(); err != nil {
		return fmt.Errorf("failed to push job %q onto queue %q: %w", msg.JobID, q.name, err)
	}

	return nil
}

// PromoteDueRetries moves jobs whose backoff expired from the retry set
// back onto the ready list. ZRem arbitrates between concurrent scanners:
// only the caller that removes the member requeues it.
func (q *RedisQueue) PromoteDueRetries(ctx context.Context, limit int) (int, error) {
	if q == nil || q.client == nil {
		return 0, fmt.Errorf("queue is not initialized")
	}
	if limit < 1 {
		limit = 100
	}

	nowScore := strconv.FormatInt(q.now().UTC().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, retryKey(q.name), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   nowScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch due retries: %w", err)
	}

	promoted := 0
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, retryKey(q.name), member).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to remove due retry: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey(q.name), member).Err(); err != nil {
			return promoted, fmt.Errorf("failed to requeue due retry: %w", err)
		}
		promoted++
	}

	return promoted, nil
}

// PruneCompleted enforces the completed-set retention bounds.
func (q *RedisQueue) PruneCompleted(ctx context.Context) (int64, error) {
	if q == nil || q.client == nil {
		return 0, fmt.Errorf("queue is not initialized")
	}

	var pruned int64
	key := completedKey(q.name)

	if q.retention.MaxAge > 0 {
		cutoff := strconv.FormatInt(q.now().UTC().Add(-q.retention.MaxAge).UnixMilli(), 10)
		removed, err := q.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to prune completed jobs by age: %w", err)
		}
		pruned += removed
	}

	if q.retention.MaxCount > 0 {
		card, err := q.client.ZCard(ctx, key).Result()
		if err != nil {
			return pruned, fmt.Errorf("failed to count completed jobs: %w", err)
		}
		if card > q.retention.MaxCount {
			removed, err := q.client.ZRemRangeByRank(ctx, key, 0, card-q.retention.MaxCount-1).Result()
			if err != nil {
				return pruned, fmt.Errorf("failed to prune completed jobs by count: %w", err)
			}
			pruned += removed
		}
	}

	return pruned, nil
}

// FailedCount reports the depth of the failed-after-retries list.
func (q *RedisQueue) FailedCount(ctx context.Context) (int64, error) {
	if q == nil || q.client == nil {
		return 0, fmt.Errorf("queue is not initialized")
	}
	count, err := q.client.LLen(ctx, failedKey(q.name)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count failed jobs: %w", err)
	}
	return count, nil
}

func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

// markCompleted records a terminal success and drops the in-flight entry.
func (q *RedisQueue) markCompleted(ctx context.Context, consumerID string, raw string, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey(q.name, consumerID), 1, raw)
	pipe.ZAdd(ctx, completedKey(q.name), goredis.Z{
		Score:  float64(q.now().UTC().UnixMilli()),
		Member: jobID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark job %q completed: %w", jobID, err)
	}
	return nil
}

// scheduleRetry re-registers a failed job for a later attempt.
func (q *RedisQueue) scheduleRetry(ctx context.Context, consumerID string, raw string, msg EmailMessage) (time.Duration, error) {
	delay := q.policy.Delay(msg.Attempt)

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal retry payload: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey(q.name, consumerID), 1, raw)
	pipe.ZAdd(ctx, retryKey(q.name), goredis.Z{
		Score:  float64(q.now().UTC().Add(delay).UnixMilli()),
		Member: payload,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to schedule retry for job %q: %w", msg.JobID, err)
	}
	return delay, nil
}

// parkFailed moves a job that exhausted its attempts (or carried an
// unusable payload) to the failed list for manual inspection.
func (q *RedisQueue) parkFailed(ctx context.Context, consumerID string, raw string, payload []byte) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, processingKey(q.name, consumerID), 1, raw)
	pipe.LPush(ctx, failedKey(q.name), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to park job in failed list: %w", err)
	}
	return nil
}
