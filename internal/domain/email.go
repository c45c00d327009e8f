package domain

import (
	"fmt"
	"strings"
)

// SystemTenantID is the sentinel tenant substituted when a caller submits
// an email without a tenant identifier. Jobs must never be unroutable.
const SystemTenantID = "system"

// Status represents the lifecycle state of a delivery attempt.
type Status string

const (
	StatusQueued Status = "QUEUED"
	StatusSent   Status = "SENT"
	StatusFailed Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusFailed:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// CredentialSource tags which credential path delivered a message.
type CredentialSource string

const (
	SourceTenantSMTP CredentialSource = "TENANT_SMTP"
	SourceSystem     CredentialSource = "SYSTEM"
)

func (c CredentialSource) String() string { return string(c) }

// Metadata keys written by the pipeline itself.
const (
	MetadataProviderKey  = "provider"
	MetadataMessageIDKey = "messageId"
	MetadataAttemptKey   = "attempt"
	MetadataErrorKey     = "error"
)

// Email is a fully-rendered message handed to the pipeline. Rendering and
// template resolution happen upstream; the pipeline only routes and sends.
type Email struct {
	TenantID     string            `json:"tenantId"`
	To           []string          `json:"to"`
	Subject      string            `json:"subject"`
	HTMLBody     string            `json:"html"`
	TemplateName string            `json:"templateName"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	From         string            `json:"from,omitempty"`
}

func (e *Email) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	if strings.TrimSpace(e.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if len(e.To) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	for _, addr := range e.To {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("%w: recipient address must not be empty", ErrValidation)
		}
	}
	if strings.TrimSpace(e.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(e.HTMLBody) == "" {
		return fmt.Errorf("%w: html body is required", ErrValidation)
	}
	if strings.TrimSpace(e.TemplateName) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	return nil
}

// RecipientString flattens the recipient list for delivery-log rows.
func (e *Email) RecipientString() string {
	return strings.Join(e.To, ", ")
}
