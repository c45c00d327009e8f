// Package mailconfig resolves the SMTP transport for a tenant: tenant-own
// credentials first, then the platform-wide default, then raw process
// environment as a bootstrap fallback.
package mailconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/florana/mailroom/internal/domain"
	"github.com/florana/mailroom/internal/repository"
	"github.com/florana/mailroom/internal/secrets"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how stale the cached platform configuration may
// get before it is re-fetched from durable storage.
const DefaultCacheTTL = 60 * time.Second

const platformCacheKey = "platform"

// EnvFallback carries the process-environment mail settings used when no
// durable platform row exists (e.g. during initial bootstrap).
type EnvFallback struct {
	EmailServer string
	EmailFrom   string
}

// Resolver decides which credentials deliver a tenant's mail. Each
// Resolver owns its platform-config cache; nothing here is process-global.
type Resolver struct {
	tenants  repository.MailConfigRepository
	platform repository.PlatformSettingsRepository
	box      *secrets.Box
	cache    *gocache.Cache
	env      EnvFallback
	logger   *zap.Logger
}

func NewResolver(
	tenants repository.MailConfigRepository,
	platform repository.PlatformSettingsRepository,
	box *secrets.Box,
	cacheTTL time.Duration,
	env EnvFallback,
	logger *zap.Logger,
) (*Resolver, error) {
	if tenants == nil {
		return nil, fmt.Errorf("mail config repository is required")
	}
	if platform == nil {
		return nil, fmt.Errorf("platform settings repository is required")
	}
	if box == nil {
		return nil, fmt.Errorf("secret box is required")
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		tenants:  tenants,
		platform: platform,
		box:      box,
		cache:    gocache.New(cacheTTL, 2*cacheTTL),
		env:      env,
		logger:   logger,
	}, nil
}

// Resolve returns the transport for tenantID. Tenant credentials always
// win over system defaults. A tenant row whose password cannot be
// decrypted counts as having no usable secret and falls through to the
// system transport.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, fromOverride string) (*domain.ResolvedTransport, error) {
	cfg, err := r.tenants.GetByTenantID(ctx, tenantID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up tenant mail config: %w", err)
	}

	if cfg != nil {
		password, decErr := r.box.Decrypt(cfg.Password)
		if decErr != nil {
			r.logger.Warn("failed to decrypt tenant smtp password, falling back to system transport",
				zap.String("tenantId", tenantID),
				zap.Error(decErr),
			)
		} else {
			return &domain.ResolvedTransport{
				SMTP: &domain.SMTPConfig{
					Host:     cfg.Host,
					Port:     cfg.Port,
					Secure:   cfg.Secure,
					Username: cfg.Username,
					Password: password,
				},
				From:   ResolveFromAddress(cfg, fromOverride),
				Source: domain.SourceTenantSMTP,
			}, nil
		}
	}

	platform := r.platformConfig(ctx)
	if platform.EmailServer == "" {
		return nil, fmt.Errorf("%w: No system email configuration found (tenant %q has no usable SMTP settings)",
			domain.ErrNoMailConfig, tenantID)
	}

	from := fromOverride
	if from == "" {
		from = platform.EmailFrom
	}

	return &domain.ResolvedTransport{
		ConnectionString: platform.EmailServer,
		From:             from,
		Source:           domain.SourceSystem,
	}, nil
}

// platformConfig returns the system mail settings, re-fetched from
// durable storage at most once per cache TTL. Concurrent refreshes may
// race; the loser's fetch is redundant but each Set fully replaces the
// cached value so readers never see a partial config.
func (r *Resolver) platformConfig(ctx context.Context) domain.PlatformMailConfig {
	if cached, ok := r.cache.Get(platformCacheKey); ok {
		if cfg, ok := cached.(domain.PlatformMailConfig); ok {
			return cfg
		}
	}

	cfg := r.fetchPlatformConfig(ctx)
	r.cache.Set(platformCacheKey, cfg, gocache.DefaultExpiration)
	return cfg
}

func (r *Resolver) fetchPlatformConfig(ctx context.Context) domain.PlatformMailConfig {
	row, err := r.platform.Get(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn("failed to read platform settings, using environment defaults", zap.Error(err))
		}
		return domain.PlatformMailConfig{
			EmailServer: r.env.EmailServer,
			EmailFrom:   r.env.EmailFrom,
		}
	}

	server := ""
	if row.EmailServer != "" {
		decrypted, decErr := r.box.Decrypt(row.EmailServer)
		if decErr != nil {
			r.logger.Warn("failed to decrypt platform email server, treating as unset", zap.Error(decErr))
		} else {
			server = decrypted
		}
	}
	if server == "" {
		server = r.env.EmailServer
	}

	from := row.EmailFrom
	if from == "" {
		from = r.env.EmailFrom
	}

	return domain.PlatformMailConfig{EmailServer: server, EmailFrom: from}
}
