package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/florana/mailroom/internal/domain"
)

// EmailMessage is the broker payload: the rendered email plus the job
// envelope the queue needs for retry accounting.
type EmailMessage struct {
	JobID string `json:"jobId"`
	domain.Email

	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

func (m EmailMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if err := m.Email.Validate(); err != nil {
		return err
	}
	return nil
}
