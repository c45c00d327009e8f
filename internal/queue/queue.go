// Package queue provides the durable Redis-backed email job queue.
//
// Jobs wait on a ready list, move to a per-consumer processing list while
// in flight, and end up in one of three places: the completed set (pruned
// by time and count), the retry set (scored by the next attempt time), or
// the failed list (retained indefinitely for manual inspection). Delivery
// is at-least-once: a consumer restarted after a crash requeues whatever
// was left on its processing list, so duplicate sends are possible and
// accepted downstream.
package queue

import (
	"context"
	"fmt"
	"time"
)

// DefaultQueueName is the work queue shared by all email producers.
const DefaultQueueName = "emails"

// Publisher pushes email jobs onto a durable queue.
type Publisher interface {
	Publish(ctx context.Context, msg EmailMessage) error
	Close() error
}

// MessageHandler handles a consumed email job. A returned error schedules
// a retry (or parks the job in the failed list once attempts are spent).
type MessageHandler func(ctx context.Context, msg EmailMessage) error

// Consumer consumes email jobs from a queue.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

// Maintainer exposes the queue's periodic maintenance operations.
type Maintainer interface {
	PromoteDueRetries(ctx context.Context, limit int) (int, error)
	PruneCompleted(ctx context.Context) (int64, error)
	FailedCount(ctx context.Context) (int64, error)
}

// RetryPolicy is the fixed per-job retry configuration.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries each job up to 3 attempts with exponential
// backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the backoff before the attempt following failedAttempt.
// Delays double per attempt: 1s, 2s, 4s, ... up to MaxDelay.
func (p RetryPolicy) Delay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}

	delay := p.BaseDelay
	for i := 1; i < failedAttempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Retention bounds how long completed jobs are kept. Failed-after-retries
// jobs are excluded: they stay until manually inspected.
type Retention struct {
	MaxAge   time.Duration
	MaxCount int64
}

// DefaultRetention prunes completed jobs after 7 days or beyond the most
// recent 1000 entries, whichever binds first.
func DefaultRetention() Retention {
	return Retention{
		MaxAge:   7 * 24 * time.Hour,
		MaxCount: 1000,
	}
}

func readyKey(name string) string     { return fmt.Sprintf("mailroom:%s:ready", name) }
func retryKey(name string) string     { return fmt.Sprintf("mailroom:%s:retry", name) }
func failedKey(name string) string    { return fmt.Sprintf("mailroom:%s:failed", name) }
func completedKey(name string) string { return fmt.Sprintf("mailroom:%s:completed", name) }

func processingKey(name string, consumerID string) string {
	return fmt.Sprintf("mailroom:%s:processing:%s", name, consumerID)
}
