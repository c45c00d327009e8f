package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetryScannerPromotesDueJobs(t *testing.T) {
	t.Parallel()

	var promoteCalls atomic.Int32
	maintainer := &fakeMaintainer{
		promoteFn: func(ctx context.Context, limit int) (int, error) {
			if limit != defaultRetryScanLimit {
				t.Fatalf("limit = %d, want %d", limit, defaultRetryScanLimit)
			}
			promoteCalls.Add(1)
			return 2, nil
		},
	}

	scanner, err := NewRetryScanner(maintainer, 10*time.Millisecond, 0, nil)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if err := scanner.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// The initial scan plus at least one ticker edge.
	if promoteCalls.Load() < 2 {
		t.Fatalf("promote calls = %d, want >= 2", promoteCalls.Load())
	}
}

func TestRetryScannerSurvivesPromoteErrors(t *testing.T) {
	t.Parallel()

	var promoteCalls atomic.Int32
	maintainer := &fakeMaintainer{
		promoteFn: func(ctx context.Context, limit int) (int, error) {
			promoteCalls.Add(1)
			return 0, errors.New("redis unavailable")
		},
	}

	scanner, err := NewRetryScanner(maintainer, 10*time.Millisecond, 0, nil)
	if err != nil {
		t.Fatalf("NewRetryScanner() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	if err := scanner.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v, scan errors must not stop the loop", err)
	}
	if promoteCalls.Load() < 2 {
		t.Fatalf("promote calls = %d, want >= 2", promoteCalls.Load())
	}
}

func TestRetryScannerRequiresMaintainer(t *testing.T) {
	t.Parallel()

	if _, err := NewRetryScanner(nil, time.Second, 10, nil); err == nil {
		t.Fatal("expected error for nil maintainer")
	}
}

type fakeMaintainer struct {
	promoteFn     func(ctx context.Context, limit int) (int, error)
	pruneFn       func(ctx context.Context) (int64, error)
	failedCountFn func(ctx context.Context) (int64, error)
}

func (m *fakeMaintainer) PromoteDueRetries(ctx context.Context, limit int) (int, error) {
	if m.promoteFn != nil {
		return m.promoteFn(ctx, limit)
	}
	return 0, nil
}

func (m *fakeMaintainer) PruneCompleted(ctx context.Context) (int64, error) {
	if m.pruneFn != nil {
		return m.pruneFn(ctx)
	}
	return 0, nil
}

func (m *fakeMaintainer) FailedCount(ctx context.Context) (int64, error) {
	if m.failedCountFn != nil {
		return m.failedCountFn(ctx)
	}
	return 0, nil
}
