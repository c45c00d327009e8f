package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/florana/mailroom/internal/domain"
	"github.com/florana/mailroom/internal/observability"
	"github.com/florana/mailroom/internal/queue"
	"github.com/florana/mailroom/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnqueueService is the producer side of the pipeline. Callers fire and
// forget: a nil return only means the job is durably queued, never that
// the email was delivered.
type EnqueueService struct {
	publisher queue.Publisher
	logs      repository.DeliveryLogRepository
	policy    queue.RetryPolicy
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

func NewEnqueueService(
	publisher queue.Publisher,
	logs repository.DeliveryLogRepository,
	policy queue.RetryPolicy,
	logger *zap.Logger,
) (*EnqueueService, error) {
	if publisher == nil {
		return nil, fmt.Errorf("queue publisher is required")
	}
	if logs == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if policy.MaxAttempts < 1 {
		policy = queue.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EnqueueService{
		publisher: publisher,
		logs:      logs,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *EnqueueService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Send pushes a rendered email onto the durable queue and writes a
// best-effort QUEUED delivery-log row. The queue push is the source of
// truth: a failed log write is diagnosed and otherwise ignored. An empty
// tenant id is replaced with the system sentinel so the job stays
// routable.
func (s *EnqueueService) Send(ctx context.Context, email domain.Email) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(email.TenantID) == "" {
		s.logger.Warn("email submitted without tenant id, routing to system tenant",
			zap.String("templateName", email.TemplateName),
			zap.String("recipient", email.RecipientString()),
		)
		email.TenantID = domain.SystemTenantID
	}

	if err := email.Validate(); err != nil {
		return "", err
	}

	msg := queue.EmailMessage{
		JobID:       s.newID(),
		Email:       email,
		MaxAttempts: s.policy.MaxAttempts,
		EnqueuedAt:  s.now().UTC(),
	}

	if err := s.publisher.Publish(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to enqueue email job: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncEmailEnqueued(email.TemplateName)
	}

	s.writeQueuedLog(ctx, msg)

	return msg.JobID, nil
}

func (s *EnqueueService) writeQueuedLog(ctx context.Context, msg queue.EmailMessage) {
	entry := &domain.DeliveryLog{
		ID:           s.newID(),
		TenantID:     msg.TenantID,
		Recipient:    msg.RecipientString(),
		Subject:      msg.Subject,
		TemplateName: msg.TemplateName,
		Status:       domain.StatusQueued,
		Metadata:     msg.Metadata,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error("failed to write queued delivery log, job remains enqueued",
			zap.String("jobId", msg.JobID),
			zap.String("tenantId", msg.TenantID),
			zap.Error(err),
		)
	}
}
