package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends selectable with STORAGE_BACKEND.
const (
	backendMemory = "memory"
	backendValkey = "valkey"
	backendSQL    = "sql"
)

type config struct {
	ListenAddr string
	Issuer     string

	LogFormat string
	LogLevel  slog.Level

	SigningKeyFile      string
	VerificationKeyFile string // PEM public key or certificate, when it differs from the signing key's

	StorageBackend string
	ValkeyAddress  string
	ValkeyPassword string
	ValkeyDB       int
	ValkeyPrefix   string
	EncryptionKey  string // base64, seals Valkey records at rest
	DatabaseDriver string
	DatabaseDSN    string

	AuthorizationCodeTTL int64
	AccessTokenTTL       int64
	SweepInterval        time.Duration

	TrustProxy   bool
	AuditLogging bool
	Metrics      bool

	SeedClientID          string
	SeedClientSecret      string
	SeedClientName        string
	SeedClientRedirectURI string
	SeedUsername          string
	SeedUserPassword      string
	SeedUserName          string
}

// loadConfig reads the configuration from the environment, after loading a
// .env file when one exists.
func loadConfig() (*config, error) {
	_ = godotenv.Load()

	level, err := parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	cfg := &config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		Issuer:     getEnv("OAUTH_ISSUER", "http://localhost:8080"),

		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogLevel:  level,

		SigningKeyFile:      getEnv("SIGNING_KEY_FILE", ""),
		VerificationKeyFile: getEnv("VERIFICATION_KEY_FILE", ""),

		StorageBackend: getEnv("STORAGE_BACKEND", backendMemory),
		ValkeyAddress:  getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword: getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:       getEnvInt("VALKEY_DB", 0),
		ValkeyPrefix:   getEnv("VALKEY_KEY_PREFIX", ""),
		EncryptionKey:  getEnv("STORAGE_ENCRYPTION_KEY", ""),
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "oauth.db"),

		AuthorizationCodeTTL: int64(getEnvInt("AUTHORIZATION_CODE_TTL", 0)),
		AccessTokenTTL:       int64(getEnvInt("ACCESS_TOKEN_TTL", 0)),
		SweepInterval:        getEnvDuration("SWEEP_INTERVAL", 0),

		TrustProxy:   getEnvBool("TRUST_PROXY", false),
		AuditLogging: getEnvBool("AUDIT_LOGGING", true),
		Metrics:      getEnvBool("ENABLE_METRICS", true),

		SeedClientID:          getEnv("SEED_CLIENT_ID", ""),
		SeedClientSecret:      getEnv("SEED_CLIENT_SECRET", ""),
		SeedClientName:        getEnv("SEED_CLIENT_NAME", "Default Application"),
		SeedClientRedirectURI: getEnv("SEED_CLIENT_REDIRECT_URI", ""),
		SeedUsername:          getEnv("SEED_USERNAME", ""),
		SeedUserPassword:      getEnv("SEED_USER_PASSWORD", ""),
		SeedUserName:          getEnv("SEED_USER_NAME", ""),
	}

	switch cfg.StorageBackend {
	case backendMemory, backendValkey, backendSQL:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND %q", cfg.StorageBackend)
	}
	if cfg.SeedClientID != "" && (cfg.SeedClientSecret == "" || cfg.SeedClientRedirectURI == "") {
		return nil, fmt.Errorf("SEED_CLIENT_SECRET and SEED_CLIENT_REDIRECT_URI are required with SEED_CLIENT_ID")
	}
	if cfg.SeedUsername != "" && cfg.SeedUserPassword == "" {
		return nil, fmt.Errorf("SEED_USER_PASSWORD is required with SEED_USERNAME")
	}

	return cfg, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func newLogger(cfg *config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
