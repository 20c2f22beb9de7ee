package sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/storage"
)

const (
	// DefaultDriver is used when Config.Driver is empty
	DefaultDriver = "sqlite"

	// DefaultDSN is an in-memory SQLite database private to the process
	DefaultDSN = "file::memory:?cache=shared"
)

// Config holds configuration for the SQL storage backend.
type Config struct {
	// Driver is the dialect name registered with RegisterDriver.
	// Default: "sqlite"
	Driver string

	// DSN is the driver-specific data source name.
	// Default: an in-memory SQLite database
	DSN string

	// MaxOpenConns bounds the connection pool. SQLite defaults to 1 since it
	// allows a single writer.
	MaxOpenConns int

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a GORM-backed implementation of storage.Backend.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	mu              sync.RWMutex
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

var _ storage.Backend = (*Store)(nil)

// New opens the database and migrates the schema.
func New(cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver
	}
	if cfg.DSN == "" {
		cfg.DSN = DefaultDSN
	}
	if cfg.MaxOpenConns <= 0 && cfg.Driver == "sqlite" {
		cfg.MaxOpenConns = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dialector, err := GetDialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.AutoMigrate(
		&authorizationCodeRow{},
		&accessTokenRow{},
		&refreshTokenRow{},
		&clientRow{},
		&userRow{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	cfg.Logger.Info("Opened SQL storage", "driver", cfg.Driver)

	return &Store{db: db, logger: cfg.Logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans and metrics for store operations and
// registers the record-count gauges, which count rows on each collection.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.mu.Unlock()

	if inst == nil {
		return
	}
	err := inst.RegisterStorageSizeCallbacks(
		s.countRows(&authorizationCodeRow{}),
		s.countRows(&accessTokenRow{}),
		s.countRows(&refreshTokenRow{}),
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

func (s *Store) countRows(model any) func() int64 {
	return func() int64 {
		var n int64
		if err := s.db.Model(model).Count(&n).Error; err != nil {
			s.logger.Debug("Failed to count rows", "error", err)
		}
		return n
	}
}

// ============================================================
// Generic row operations
// ============================================================

func (s *Store) insert(ctx context.Context, row any, what, id string) error {
	if id == "" {
		return fmt.Errorf("%s id cannot be empty", what)
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s %s", storage.ErrAlreadyExists, what, id)
		}
		return fmt.Errorf("failed to save %s: %w", what, err)
	}
	return nil
}

func (s *Store) first(ctx context.Context, dst any, column, value, what string) error {
	err := s.db.WithContext(ctx).Where(column+" = ?", value).First(dst).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s %s", storage.ErrNotFound, what, value)
		}
		return fmt.Errorf("failed to get %s: %w", what, err)
	}
	return nil
}

// take loads the row for id into dst and deletes it in one transaction. Only
// the caller whose DELETE removed the row succeeds.
func (s *Store) take(ctx context.Context, dst any, id, what string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(dst).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(dst)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s %s", storage.ErrNotFound, what, id)
		}
		return fmt.Errorf("failed to delete %s: %w", what, err)
	}
	return nil
}

// sweep deletes rows of T whose expires_at is at or before now and returns
// them. Rows removed concurrently by another caller are not returned.
func sweep[T any](ctx context.Context, s *Store, now time.Time) ([]T, error) {
	var rows []T
	err := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("expires_at <= ?", now.UTC()).
		Delete(&rows).Error
	if err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(instrumentation.AttrStorageRemoved, len(rows)))
	return rows, nil
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
	instrumentation.AddStorageAttributes(span, operation, "sql")
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
