package domain

import "time"

// DeliveryLog records a single email delivery state observation. Rows are
// insert-only: the producer writes one QUEUED row at submission and the
// worker appends a separate SENT or FAILED row per attempt. One logical
// email may therefore yield two or more rows; consumers aggregate by time
// window rather than assuming a 1:1 mapping.
type DeliveryLog struct {
	ID           string
	TenantID     string
	Recipient    string
	Subject      string
	TemplateName string
	Status       Status
	Metadata     map[string]string
	Error        *string
	SentAt       *time.Time
	CreatedAt    time.Time
}
