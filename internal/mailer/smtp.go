package mailer

import (
	"context"
	"fmt"

	"github.com/florana/mailroom/internal/domain"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

var _ Mailer = (*SMTPMailer)(nil)

// SMTPMailer delivers rendered emails over SMTP using credentials
// supplied per call by the credential resolver.
type SMTPMailer struct {
	newMessageID func(host string) string
}

func NewSMTPMailer() *SMTPMailer {
	return &SMTPMailer{
		newMessageID: func(host string) string {
			return fmt.Sprintf("<%s@%s>", uuid.NewString(), host)
		},
	}
}

// Send transmits the message and returns the assigned message id. The
// SMTP dial itself has no explicit timeout; gomail's defaults apply.
func (m *SMTPMailer) Send(ctx context.Context, transport domain.ResolvedTransport, email domain.Email) (*Response, error) {
	if m == nil {
		return nil, fmt.Errorf("mailer is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := transport.SMTP
	if cfg == nil {
		parsed, err := ParseConnectionString(transport.ConnectionString)
		if err != nil {
			return nil, &SendError{Message: "unusable system transport", Transient: false, Cause: err}
		}
		cfg = parsed
	}

	from := transport.From
	if from == "" {
		from = cfg.Username
	}
	if from == "" {
		return nil, &SendError{Message: "no from address resolved", Transient: false}
	}

	messageID := m.newMessageID(cfg.Host)

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", email.To...)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/html", email.HTMLBody)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.Secure

	if err := d.DialAndSend(msg); err != nil {
		return nil, &SendError{
			Code:      smtpCode(err),
			Message:   fmt.Sprintf("delivery to %s failed", email.RecipientString()),
			Transient: IsTransient(err),
			Cause:     err,
		}
	}

	return &Response{MessageID: messageID}, nil
}
