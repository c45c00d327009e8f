package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/florana/mailroom/internal/domain"
	"github.com/florana/mailroom/internal/mailer"
	"github.com/florana/mailroom/internal/queue"
)

func validMessage() queue.EmailMessage {
	return queue.EmailMessage{
		JobID:       "job-1",
		Email:       validEmail(),
		Attempt:     1,
		MaxAttempts: 3,
	}
}

func tenantTransport() *domain.ResolvedTransport {
	return &domain.ResolvedTransport{
		SMTP: &domain.SMTPConfig{
			Host:     "mail.acme.test",
			Port:     587,
			Username: "acme-user",
			Password: "acme-pass",
		},
		From:   "Acme <noreply@acme.test>",
		Source: domain.SourceTenantSMTP,
	}
}

func newTestWorkerService(
	t *testing.T,
	logs *fakeDeliveryLogRepo,
	resolver *fakeResolver,
	m *fakeMailer,
) *WorkerService {
	t.Helper()

	svc, err := NewWorkerService(logs, resolver, &fakeConsumer{}, m, nil, 1, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	return svc
}

func TestWorkerServiceProcessMessageSent(t *testing.T) {
	t.Parallel()

	var logged *domain.DeliveryLog
	logs := &fakeDeliveryLogRepo{
		createFn: func(ctx context.Context, l *domain.DeliveryLog) error {
			logged = l
			return nil
		},
	}

	resolver := &fakeResolver{
		resolveFn: func(ctx context.Context, tenantID string, fromOverride string) (*domain.ResolvedTransport, error) {
			if tenantID != "acme" {
				t.Fatalf("tenant = %s, want acme", tenantID)
			}
			return tenantTransport(), nil
		},
	}

	m := &fakeMailer{
		sendFn: func(ctx context.Context, transport domain.ResolvedTransport, email domain.Email) (*mailer.Response, error) {
			return &mailer.Response{MessageID: "<msg-1@mail.acme.test>"}, nil
		},
	}

	svc := newTestWorkerService(t, logs, resolver, m)

	if err := svc.processMessage(context.Background(), validMessage()); err != nil {
		t.Fatalf("processMessage() error = %v", err)
	}

	if logged == nil {
		t.Fatal("expected a SENT delivery log row")
	}
	if logged.Status != domain.StatusSent {
		t.Fatalf("log status = %s, want SENT", logged.Status)
	}
	if logged.Metadata[domain.MetadataProviderKey] != domain.SourceTenantSMTP.String() {
		t.Fatalf("provider = %s, want %s", logged.Metadata[domain.MetadataProviderKey], domain.SourceTenantSMTP)
	}
	if logged.Metadata[domain.MetadataMessageIDKey] != "<msg-1@mail.acme.test>" {
		t.Fatalf("messageId = %s, want <msg-1@mail.acme.test>", logged.Metadata[domain.MetadataMessageIDKey])
	}
	if logged.Metadata[domain.MetadataAttemptKey] != "1" {
		t.Fatalf("attempt = %s, want 1", logged.Metadata[domain.MetadataAttemptKey])
	}
	if logged.SentAt == nil {
		t.Fatal("sentAt should be set")
	}
}

func TestWorkerServiceProcessMessageNoConfig(t *testing.T) {
	t.Parallel()

	var logged *domain.DeliveryLog
	logs := &fakeDeliveryLogRepo{
		createFn: func(ctx context.Context, l *domain.DeliveryLog) error {
			logged = l
			return nil
		},
	}

	resolver := &fakeResolver{
		resolveFn: func(ctx context.Context, tenantID string, fromOverride string) (*domain.ResolvedTransport, error) {
			return nil, fmt.Errorf("%w: No system email configuration found", domain.ErrNoMailConfig)
		},
	}

	m := &fakeMailer{
		sendFn: func(ctx context.Context, transport domain.ResolvedTransport, email domain.Email) (*mailer.Response, error) {
			t.Fatal("send should not be called without credentials")
			return nil, nil
		},
	}

	svc := newTestWorkerService(t, logs, resolver, m)

	err := svc.processMessage(context.Background(), validMessage())
	if !errors.Is(err, domain.ErrNoMailConfig) {
		t.Fatalf("processMessage() error = %v, want no-mail-config error", err)
	}

	if logged == nil {
		t.Fatal("expected a FAILED delivery log row")
	}
	if logged.Status != domain.StatusFailed {
		t.Fatalf("log status = %s, want FAILED", logged.Status)
	}
	if logged.Error == nil || !strings.Contains(*logged.Error, "No system email configuration found") {
		t.Fatalf("log error = %v, want no-config message", logged.Error)
	}
}

func TestWorkerServiceProcessMessageSendFailure(t *testing.T) {
	t.Parallel()

	var logged *domain.DeliveryLog
	logs := &fakeDeliveryLogRepo{
		createFn: func(ctx context.Context, l *domain.DeliveryLog) error {
			logged = l
			return nil
		},
	}

	resolver := &fakeResolver{
		resolveFn: func(ctx context.Context, tenantID string, fromOverride string) (*domain.ResolvedTransport, error) {
			return tenantTransport(), nil
		},
	}

	sendErr := &mailer.SendError{Code: 451, Message: "try again later", Transient: true}
	m := &fakeMailer{
		sendFn: func(ctx context.Context, transport domain.ResolvedTransport, email domain.Email) (*mailer.Response, error) {
			return nil, sendErr
		},
	}

	svc := newTestWorkerService(t, logs, resolver, m)

	err := svc.processMessage(context.Background(), validMessage())
	if err == nil {
		t.Fatal("expected error so the queue schedules a retry")
	}

	if logged == nil {
		t.Fatal("expected a FAILED delivery log row")
	}
	if logged.Status != domain.StatusFailed {
		t.Fatalf("log status = %s, want FAILED", logged.Status)
	}
	if logged.Metadata[domain.MetadataErrorKey] == "" {
		t.Fatal("error metadata should be recorded")
	}
}

func TestWorkerServiceProcessMessageLogWriteFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	logs := &fakeDeliveryLogRepo{
		createFn: func(ctx context.Context, l *domain.DeliveryLog) error {
			return errors.New("postgres down")
		},
	}

	resolver := &fakeResolver{
		resolveFn: func(ctx context.Context, tenantID string, fromOverride string) (*domain.ResolvedTransport, error) {
			return tenantTransport(), nil
		},
	}

	m := &fakeMailer{
		sendFn: func(ctx context.Context, transport domain.ResolvedTransport, email domain.Email) (*mailer.Response, error) {
			return &mailer.Response{MessageID: "<msg-2@mail.acme.test>"}, nil
		},
	}

	svc := newTestWorkerService(t, logs, resolver, m)

	if err := svc.processMessage(context.Background(), validMessage()); err != nil {
		t.Fatalf("processMessage() error = %v, delivered mail must not be retried", err)
	}
}

func TestWorkerServiceStartRecoversInFlightJobs(t *testing.T) {
	t.Parallel()

	recovered := false
	consumer := &fakeConsumer{
		recoverFn: func(ctx context.Context) error {
			recovered = true
			return nil
		},
		consumeFn: func(ctx context.Context, handler queue.MessageHandler) error {
			<-ctx.Done()
			return nil
		},
	}

	svc, err := NewWorkerService(&fakeDeliveryLogRepo{}, &fakeResolver{}, consumer, &fakeMailer{}, nil, 2, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !recovered {
		t.Fatal("expected in-flight recovery before consuming")
	}
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "missing configuration",
			err:  fmt.Errorf("%w: No system email configuration found", domain.ErrNoMailConfig),
			want: "config_error",
		},
		{
			name: "transient smtp failure",
			err:  &mailer.SendError{Code: 421, Message: "service not available", Transient: true},
			want: "transient_error",
		},
		{
			name: "permanent smtp failure",
			err:  &mailer.SendError{Code: 550, Message: "mailbox unavailable"},
			want: "permanent_error",
		},
		{
			name: "unclassified error",
			err:  errors.New("boom"),
			want: "permanent_error",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := failureReason(tc.err); got != tc.want {
				t.Fatalf("failureReason() = %s, want %s", got, tc.want)
			}
		})
	}
}

type fakeResolver struct {
	resolveFn func(ctx context.Context, tenantID string, fromOverride string) (*domain.ResolvedTransport, error)
}

func (r *fakeResolver) Resolve(ctx context.Context, tenantID string, fromOverride string) (*domain.ResolvedTransport, error) {
	if r.resolveFn != nil {
		return r.resolveFn(ctx, tenantID, fromOverride)
	}
	return tenantTransport(), nil
}

type fakeMailer struct {
	sendFn func(ctx context.Context, transport domain.ResolvedTransport, email domain.Email) (*mailer.Response, error)
}

func (m *fakeMailer) Send(ctx context.Context, transport domain.ResolvedTransport, email domain.Email) (*mailer.Response, error) {
	if m.sendFn != nil {
		return m.sendFn(ctx, transport, email)
	}
	return &mailer.Response{}, nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.MessageHandler) error
	recoverFn func(ctx context.Context) error
}

func (c *fakeConsumer) Consume(ctx context.Context, handler queue.MessageHandler) error {
	if c.consumeFn != nil {
		return c.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (c *fakeConsumer) Recover(ctx context.Context) error {
	if c.recoverFn != nil {
		return c.recoverFn(ctx)
	}
	return nil
}

func (c *fakeConsumer) Close() error { return nil }
