package mailer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// SendError classifies SMTP delivery failures as transient/permanent.
type SendError struct {
	Code      int
	Message   string
	Transient bool
	Cause     error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "smtp send error")

	if e.Code > 0 {
		parts = append(parts, fmt.Sprintf("code=%d", e.Code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a delivery error looks environmental. The
// queue retries every failure up to the attempt cap regardless; this
// classification only feeds metrics and log labels so operators can tell
// flakiness apart from static configuration problems.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	if code := smtpCode(err); code > 0 {
		return code >= 400 && code < 500
	}

	return false
}

// smtpCode extracts a leading 3-digit SMTP reply code from an error
// message, or 0 when none is present.
func smtpCode(err error) int {
	msg := strings.TrimSpace(err.Error())
	if len(msg) < 3 {
		return 0
	}

	code, convErr := strconv.Atoi(msg[:3])
	if convErr != nil || code < 200 || code > 599 {
		return 0
	}
	if len(msg) > 3 && msg[3] != ' ' && msg[3] != '-' {
		return 0
	}
	return code
}
