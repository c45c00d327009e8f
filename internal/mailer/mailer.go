package mailer

import (
	"context"

	"github.com/florana/mailroom/internal/domain"
)

// Mailer is the outbound email delivery port.
type Mailer interface {
	Send(ctx context.Context, transport domain.ResolvedTransport, email domain.Email) (*Response, error)
}

// Response stores delivery metadata for audit and persistence.
type Response struct {
	MessageID string
}
