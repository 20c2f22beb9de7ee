package oauth

import (
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-lifecycle/server"
	"github.com/giantswarm/oauth-lifecycle/storage"
)

// Defaults for Config.
const (
	DefaultSweepInterval      = storage.DefaultSweepInterval
	DefaultTokenRate          = 10 // requests per second per IP
	DefaultTokenBurst         = 20
	DefaultMaxRequestBodySize = 1 << 20 // 1 MiB
	DefaultTrustedProxyCount  = 1
)

// Config holds the OAuth server configuration
type Config struct {
	// Issuer is the server's base URL. It is embedded in every credential
	// as the iss claim by the codec and enables HSTS when it is https.
	Issuer string

	// Lifecycle configures credential lifetimes and the offline access scope.
	Lifecycle server.Config

	// SweepInterval is how often expired codes and access tokens are evicted.
	// Default: 1 hour
	SweepInterval time.Duration

	// Rate limiting configuration for the token endpoint
	RateLimit RateLimitConfig

	// Security settings
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds token endpoint rate limiting configuration
type RateLimitConfig struct {
	// Disabled turns rate limiting off.
	Disabled bool

	// Rate is requests per second allowed per client IP.
	// Default: 10
	Rate float64

	// Burst is the maximum burst size allowed per client IP.
	// Default: 20
	Burst int

	// MaxEntries bounds the number of tracked client IPs.
	// Default: 10000
	MaxEntries int
}

// SecurityConfig holds transport security settings
type SecurityConfig struct {
	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server.
	// Default: 1
	TrustedProxyCount int

	// MaxRequestBodySize caps form bodies on the token and revocation endpoints.
	// Default: 1 MiB
	MaxRequestBodySize int64

	// EnableAuditLogging writes security events (issuance, refresh,
	// revocation, authentication failures) to the logger.
	EnableAuditLogging bool
}

// applyDefaults fills zero values with defaults
func applyDefaults(config *Config) *Config {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.RateLimit.Rate <= 0 {
		config.RateLimit.Rate = DefaultTokenRate
	}
	if config.RateLimit.Burst <= 0 {
		config.RateLimit.Burst = DefaultTokenBurst
	}
	if config.Security.TrustedProxyCount <= 0 {
		config.Security.TrustedProxyCount = DefaultTrustedProxyCount
	}
	if config.Security.MaxRequestBodySize <= 0 {
		config.Security.MaxRequestBodySize = DefaultMaxRequestBodySize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}
