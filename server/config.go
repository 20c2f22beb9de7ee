package server

import (
	"time"
)

// Default lifetimes, in seconds.
const (
	DefaultAuthorizationCodeTTL = 300      // 5 minutes
	DefaultAccessTokenTTL       = 3600     // 1 hour
	DefaultRefreshTokenTTL      = 52560000 // about 608 days: refresh tokens live until revoked

	// DefaultOfflineAccessScope is the scope value that requests a refresh token.
	DefaultOfflineAccessScope = "offline_access"
)

// Config holds lifecycle engine configuration
type Config struct {
	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 300 (5 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is the absolute horizon embedded in refresh tokens.
	// The stored record has no expiry; only revocation ends it.
	RefreshTokenTTL int64 // seconds, default: 52560000 (about 608 days)

	// OfflineAccessScope is the scope value that makes a code exchange also
	// issue a refresh token.
	// Default: "offline_access"
	OfflineAccessScope string

	// Clock supplies the current time for expiry checks and remaining lifetime.
	// It should be the same clock the codec uses.
	// Default: time.Now
	Clock func() time.Time
}

// applyDefaults fills zero values with defaults
func applyDefaults(config *Config) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.OfflineAccessScope == "" {
		config.OfflineAccessScope = DefaultOfflineAccessScope
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return config
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
