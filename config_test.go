package oauth

import (
	"log/slog"
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	config := applyDefaults(&Config{})

	if config.SweepInterval != DefaultSweepInterval {
		t.Errorf("SweepInterval = %v, want %v", config.SweepInterval, DefaultSweepInterval)
	}
	if config.RateLimit.Rate != DefaultTokenRate {
		t.Errorf("RateLimit.Rate = %v, want %v", config.RateLimit.Rate, DefaultTokenRate)
	}
	if config.RateLimit.Burst != DefaultTokenBurst {
		t.Errorf("RateLimit.Burst = %d, want %d", config.RateLimit.Burst, DefaultTokenBurst)
	}
	if config.Security.TrustedProxyCount != DefaultTrustedProxyCount {
		t.Errorf("TrustedProxyCount = %d, want %d", config.Security.TrustedProxyCount, DefaultTrustedProxyCount)
	}
	if config.Security.MaxRequestBodySize != DefaultMaxRequestBodySize {
		t.Errorf("MaxRequestBodySize = %d, want %d", config.Security.MaxRequestBodySize, DefaultMaxRequestBodySize)
	}
	if config.Logger == nil {
		t.Error("Logger should default to slog.Default()")
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	config := applyDefaults(&Config{
		SweepInterval: 5 * time.Minute,
		RateLimit: RateLimitConfig{
			Rate:  2.5,
			Burst: 3,
		},
		Security: SecurityConfig{
			TrustProxy:         true,
			TrustedProxyCount:  2,
			MaxRequestBodySize: 4096,
		},
		Logger: logger,
	})

	if config.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want %v", config.SweepInterval, 5*time.Minute)
	}
	if config.RateLimit.Rate != 2.5 {
		t.Errorf("RateLimit.Rate = %v, want 2.5", config.RateLimit.Rate)
	}
	if config.RateLimit.Burst != 3 {
		t.Errorf("RateLimit.Burst = %d, want 3", config.RateLimit.Burst)
	}
	if !config.Security.TrustProxy {
		t.Error("TrustProxy should be kept")
	}
	if config.Security.TrustedProxyCount != 2 {
		t.Errorf("TrustedProxyCount = %d, want 2", config.Security.TrustedProxyCount)
	}
	if config.Security.MaxRequestBodySize != 4096 {
		t.Errorf("MaxRequestBodySize = %d, want 4096", config.Security.MaxRequestBodySize)
	}
	if config.Logger != logger {
		t.Error("Logger should be kept")
	}
}
