package mailconfig

import (
	"fmt"
	"strings"

	"github.com/florana/mailroom/internal/domain"
)

// ResolveFromAddress picks the sender address for a tenant transport.
// Precedence: explicit per-message override, then "FromName <FromEmail>",
// then FromEmail alone, then the SMTP username.
func ResolveFromAddress(cfg *domain.TenantMailConfig, override string) string {
	if addr := strings.TrimSpace(override); addr != "" {
		return addr
	}
	if cfg == nil {
		return ""
	}

	fromEmail := strings.TrimSpace(cfg.FromEmail)
	fromName := strings.TrimSpace(cfg.FromName)

	if fromEmail != "" && fromName != "" {
		return fmt.Sprintf("%s <%s>", fromName, fromEmail)
	}
	if fromEmail != "" {
		return fromEmail
	}
	return strings.TrimSpace(cfg.Username)
}
