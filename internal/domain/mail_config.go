package domain

// TenantMailConfig holds a tenant's own SMTP credentials. The password is
// encrypted at rest and decrypted at read time by the credential resolver.
// Absence of a row means the tenant uses the system default transport.
type TenantMailConfig struct {
	TenantID  string
	Host      string
	Port      int
	Secure    bool
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

// PlatformMailConfig is the singleton system-wide mail configuration.
// EmailServer is an encrypted SMTP connection string.
type PlatformMailConfig struct {
	EmailServer string
	EmailFrom   string
}

// SMTPConfig is the resolved transport shape for an SMTP dialer.
type SMTPConfig struct {
	Host     string
	Port     int
	Secure   bool
	Username string
	Password string
}

// ResolvedTransport is the credential resolver's output: either explicit
// SMTP settings (tenant path) or a raw connection string (system path),
// plus the default from address and the credential source tag.
type ResolvedTransport struct {
	SMTP             *SMTPConfig
	ConnectionString string
	From             string
	Source           CredentialSource
}
