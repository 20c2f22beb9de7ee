package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/internal/util"
	"github.com/giantswarm/oauth-lifecycle/security"
	"github.com/giantswarm/oauth-lifecycle/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth:"

	// idLogLength is the number of characters to include when logging record IDs
	idLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxIDLength is the maximum allowed length for record identifiers
	MaxIDLength = 256

	// MaxRecordSize is the maximum size of a serialized record (64KB)
	MaxRecordSize = 64 * 1024

	// minTTL is used for records saved at or after their expiry, so that they
	// still occupy their identifier until Valkey evicts them.
	minTTL = time.Millisecond
)

var errInputTooLarge = errors.New("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger

	// Encryptor seals records at rest. Optional.
	Encryptor *security.Encryptor
}

// Store is a Valkey-backed implementation of storage.Backend.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	mu              sync.RWMutex
	encryptor       *security.Encryptor
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.Backend = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix,
		"encrypted", cfg.Encryptor.IsEnabled())

	return &Store{
		client:    client,
		prefix:    prefix,
		logger:    logger,
		encryptor: cfg.Encryptor,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetEncryptor sets the encryptor used to seal records at rest. Records
// written before the change are not re-encrypted.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encryptor = enc
	if enc.IsEnabled() {
		s.logger.Info("Record encryption at rest enabled for Valkey storage")
	}
}

// SetInstrumentation enables spans and metrics for store operations.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Keys
// ============================================================

func (s *Store) codeKey(id string) string { return s.prefix + "code:" + id }
func (s *Store) accessKey(id string) string { return s.prefix + "access:" + id }
func (s *Store) refreshKey(id string) string { return s.prefix + "refresh:" + id }
func (s *Store) clientKey(id string) string { return s.prefix + "client:" + id }
func (s *Store) clientIDKey(clientID string) string { return s.prefix + "clientid:" + clientID }
func (s *Store) userKey(id string) string { return s.prefix + "user:" + id }
func (s *Store) usernameKey(name string) string { return s.prefix + "username:" + name }

// ============================================================
// Record encoding
// ============================================================

// encode marshals v and seals it when encryption is enabled.
func (s *Store) encode(ctx context.Context, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return "", errInputTooLarge
	}

	s.mu.RLock()
	enc, inst := s.encryptor, s.instrumentation
	s.mu.RUnlock()

	if !enc.IsEnabled() {
		return string(data), nil
	}
	sealed, err := enc.Seal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt record: %w", err)
	}
	if inst != nil {
		inst.Metrics().RecordEncryptionOperation(ctx, "encrypt")
	}
	return string(sealed), nil
}

// decode opens raw when encryption is enabled and unmarshals it into v.
func (s *Store) decode(ctx context.Context, raw string, v any) error {
	s.mu.RLock()
	enc, inst := s.encryptor, s.instrumentation
	s.mu.RUnlock()

	data := []byte(raw)
	if enc.IsEnabled() {
		var err error
		data, err = enc.Open(data)
		if err != nil {
			return fmt.Errorf("failed to decrypt record: %w", err)
		}
		if inst != nil {
			inst.Metrics().RecordEncryptionOperation(ctx, "decrypt")
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// ============================================================
// Helper methods
// ============================================================

// getRecord fetches key and decodes it into a new T.
func getRecord[T any](ctx context.Context, s *Store, key, what, id string) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s %s", storage.ErrNotFound, what, id)
		}
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	var record T
	if err := s.decode(ctx, data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// takeRecord removes key with GETDEL and decodes the value it held.
func takeRecord[T any](ctx context.Context, s *Store, key, what, id string) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Getdel().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s %s", storage.ErrNotFound, what, id)
		}
		return nil, fmt.Errorf("failed to delete %s: %w", what, err)
	}
	var record T
	if err := s.decode(ctx, data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// putRecord stores v under key unless key exists. ttl <= 0 means no expiry.
func (s *Store) putRecord(ctx context.Context, key string, v any, ttl time.Duration, what, id string) error {
	data, err := s.encode(ctx, v)
	if err != nil {
		return err
	}

	var cmd valkeygo.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(data).Nx().Px(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(data).Nx().Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isNilError(err) {
			return fmt.Errorf("%w: %s %s", storage.ErrAlreadyExists, what, id)
		}
		return fmt.Errorf("failed to save %s: %w", what, err)
	}
	return nil
}

func validateID(value, fieldName string) error {
	if value == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if len(value) > MaxIDLength {
		return fmt.Errorf("%s exceeds maximum length of %d", fieldName, MaxIDLength)
	}
	return nil
}

// ttlUntil returns the time left until expiresAt, never less than minTTL.
func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < minTTL {
		return minTTL
	}
	return ttl
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

func logID(id string) string {
	return util.SafeTruncate(id, idLogLength)
}

// instrument starts a span for operation and returns a func that ends it and
// records the outcome.
func (s *Store) instrument(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	tracer, inst := s.tracer, s.instrumentation
	s.mu.RUnlock()

	if tracer == nil || inst == nil {
		return ctx, func(error) {}
	}

	ctx, span := tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "valkey")
	start := time.Now()

	return ctx, func(err error) {
		defer span.End()
		result := "success"
		switch {
		case err == nil:
			instrumentation.SetSpanSuccess(span)
		case errors.Is(err, storage.ErrNotFound):
			result = "not_found"
			instrumentation.SetSpanSuccess(span)
		default:
			result = "error"
			instrumentation.RecordError(span, err)
		}
		inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
	}
}
