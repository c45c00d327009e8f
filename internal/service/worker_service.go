package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/florana/mailroom/internal/domain"
	"github.com/florana/mailroom/internal/mailer"
	"github.com/florana/mailroom/internal/observability"
	"github.com/florana/mailroom/internal/queue"
	"github.com/florana/mailroom/internal/ratelimit"
	"github.com/florana/mailroom/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// CredentialResolver supplies the transport for a tenant's mail.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID string, fromOverride string) (*domain.ResolvedTransport, error)
}

type inFlightRecoverer interface {
	Recover(ctx context.Context) error
}

// WorkerService is the consumer side of the pipeline: it drives each
// dequeued job through credential resolution, SMTP delivery, and a
// terminal delivery-log row. Per-job failures are returned to the queue
// layer so retry/backoff engages; they never stop the worker loop.
type WorkerService struct {
	logs        repository.DeliveryLogRepository
	resolver    CredentialResolver
	consumer    queue.Consumer
	mailer      mailer.Mailer
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
	newID       func() string
}

func NewWorkerService(
	logs repository.DeliveryLogRepository,
	resolver CredentialResolver,
	consumer queue.Consumer,
	mailer mailer.Mailer,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if logs == nil {
		return nil, fmt.Errorf("delivery log repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("credential resolver is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if mailer == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		logs:        logs,
		resolver:    resolver,
		consumer:    consumer,
		mailer:      mailer,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start recovers jobs left in flight by a previous run, then consumes the
// queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if recoverer, ok := s.consumer.(inFlightRecoverer); ok {
		if err := recoverer.Recover(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to recover in-flight jobs: %w", err)
		}
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("delivery worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, s.processMessage)
			if err != nil {
				s.logger.Error("delivery worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("delivery worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.EmailMessage) error {
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight()
		defer s.metrics.DecWorkerInFlight()
	}

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, msg.TenantID); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	transport, err := s.resolver.Resolve(ctx, msg.TenantID, msg.From)
	if err != nil {
		s.recordFailure(ctx, msg, err)
		if s.metrics != nil {
			s.metrics.IncEmailFailed(failureReason(err))
		}
		return err
	}

	sendStart := s.now()
	resp, sendErr := s.mailer.Send(ctx, *transport, msg.Email)
	if s.metrics != nil {
		s.metrics.ObserveEmailSendDuration(transport.Source.String(), s.now().Sub(sendStart))
	}

	if sendErr != nil {
		s.recordFailure(ctx, msg, sendErr)
		if s.metrics != nil {
			s.metrics.IncEmailFailed(failureReason(sendErr))
		}
		return sendErr
	}

	s.recordSent(ctx, msg, transport.Source, resp)
	if s.metrics != nil {
		s.metrics.IncEmailSent(transport.Source.String())
	}

	s.logger.Info("email sent",
		zap.String("jobId", msg.JobID),
		zap.String("tenantId", msg.TenantID),
		zap.String("source", transport.Source.String()),
		zap.String("recipient", msg.RecipientString()),
	)
	return nil
}

// recordSent appends the terminal SENT row for this attempt. Log-write
// failures are diagnosed and swallowed: failing the job here would
// re-deliver an email that already went out.
func (s *WorkerService) recordSent(ctx context.Context, msg queue.EmailMessage, source domain.CredentialSource, resp *mailer.Response) {
	sentAt := s.now().UTC()

	metadata := map[string]string{
		domain.MetadataProviderKey: source.String(),
		domain.MetadataAttemptKey:  strconv.Itoa(msg.Attempt),
	}
	if resp != nil && resp.MessageID != "" {
		metadata[domain.MetadataMessageIDKey] = resp.MessageID
	}

	entry := &domain.DeliveryLog{
		ID:           s.newID(),
		TenantID:     msg.TenantID,
		Recipient:    msg.RecipientString(),
		Subject:      msg.Subject,
		TemplateName: msg.TemplateName,
		Status:       domain.StatusSent,
		Metadata:     metadata,
		SentAt:       &sentAt,
		CreatedAt:    sentAt,
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error("failed to write sent delivery log",
			zap.String("jobId", msg.JobID),
			zap.String("tenantId", msg.TenantID),
			zap.Error(err),
		)
	}
}

// recordFailure appends a FAILED row for this attempt. Every retry that
// fails writes its own row; the full audit trail is intentional.
func (s *WorkerService) recordFailure(ctx context.Context, msg queue.EmailMessage, cause error) {
	errText := cause.Error()
	metadata := map[string]string{
		domain.MetadataAttemptKey: strconv.Itoa(msg.Attempt),
		domain.MetadataErrorKey:   errText,
	}

	entry := &domain.DeliveryLog{
		ID:           s.newID(),
		TenantID:     msg.TenantID,
		Recipient:    msg.RecipientString(),
		Subject:      msg.Subject,
		TemplateName: msg.TemplateName,
		Status:       domain.StatusFailed,
		Metadata:     metadata,
		Error:        &errText,
		CreatedAt:    s.now().UTC(),
	}

	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Error("failed to write failed delivery log",
			zap.String("jobId", msg.JobID),
			zap.String("tenantId", msg.TenantID),
			zap.Error(err),
		)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoMailConfig):
		return "config_error"
	case mailer.IsTransient(err):
		return "transient_error"
	default:
		return "permanent_error"
	}
}
