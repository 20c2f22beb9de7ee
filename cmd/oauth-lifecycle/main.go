// Command oauth-lifecycle serves the OAuth credential lifecycle engine over
// HTTP: authorization codes, access and refresh tokens, introspection and
// revocation, with a background sweep of expired records.
//
// Configuration is read from the environment and an optional .env file.
package main

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	oauth "github.com/giantswarm/oauth-lifecycle"
	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/security"
	"github.com/giantswarm/oauth-lifecycle/server"
	"github.com/giantswarm/oauth-lifecycle/storage"
	"github.com/giantswarm/oauth-lifecycle/storage/memory"
	sqlstore "github.com/giantswarm/oauth-lifecycle/storage/sql"
	"github.com/giantswarm/oauth-lifecycle/storage/valkey"
	"github.com/giantswarm/oauth-lifecycle/token"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "oauth-lifecycle: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signer, err := loadSigner(cfg, logger)
	if err != nil {
		return err
	}
	opts := []token.Option{token.WithIssuer(cfg.Issuer)}
	if cfg.VerificationKeyFile != "" {
		pub, err := token.LoadVerificationKey(cfg.VerificationKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load verification key: %w", err)
		}
		opts = append(opts, token.WithVerificationKey(pub))
	}
	codec, err := token.NewCodec(signer, opts...)
	if err != nil {
		return fmt.Errorf("failed to create codec: %w", err)
	}

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := seedDirectory(ctx, cfg, store, logger); err != nil {
		return err
	}

	srv, err := oauth.NewServer(codec, store, &oauth.Config{
		Issuer: cfg.Issuer,
		Lifecycle: server.Config{
			AuthorizationCodeTTL: cfg.AuthorizationCodeTTL,
			AccessTokenTTL:       cfg.AccessTokenTTL,
		},
		SweepInterval: cfg.SweepInterval,
		Security: oauth.SecurityConfig{
			TrustProxy:         cfg.TrustProxy,
			EnableAuditLogging: cfg.AuditLogging,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	mux := http.NewServeMux()

	if cfg.Metrics {
		inst, err := instrumentation.New(instrumentation.Config{
			Enabled:            true,
			ServiceVersion:     version(),
			PrometheusExporter: true,
		})
		if err != nil {
			return fmt.Errorf("failed to create instrumentation: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := inst.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Failed to shut down instrumentation", "error", err)
			}
		}()
		srv.SetInstrumentation(inst)
		mux.Handle("/metrics", promhttp.Handler())
	}

	handler := oauth.NewHandler(srv, logger)
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start expiry sweeper: %w", err)
	}
	defer srv.Stop()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           security.RequestIDMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting OAuth server",
			"addr", cfg.ListenAddr,
			"issuer", cfg.Issuer,
			"storage", cfg.StorageBackend,
			"metrics", cfg.Metrics)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// loadSigner reads the signing key from SIGNING_KEY_FILE, or generates an
// ephemeral one. Credentials signed with an ephemeral key do not survive a
// restart.
func loadSigner(cfg *config, logger *slog.Logger) (crypto.Signer, error) {
	if cfg.SigningKeyFile != "" {
		signer, err := token.LoadSigningKey(cfg.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		return signer, nil
	}

	logger.Warn("SIGNING_KEY_FILE not set, generating an ephemeral signing key")
	signer, err := token.GenerateSigningKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return signer, nil
}

func openStore(cfg *config, logger *slog.Logger) (storage.Backend, func(), error) {
	switch cfg.StorageBackend {
	case backendValkey:
		var encryptor *security.Encryptor
		if cfg.EncryptionKey != "" {
			key, err := security.KeyFromBase64(cfg.EncryptionKey)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid STORAGE_ENCRYPTION_KEY: %w", err)
			}
			encryptor, err = security.NewEncryptor(key)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
			}
		}
		store, err := valkey.New(valkey.Config{
			Address:   cfg.ValkeyAddress,
			Password:  cfg.ValkeyPassword,
			DB:        cfg.ValkeyDB,
			KeyPrefix: cfg.ValkeyPrefix,
			Logger:    logger,
			Encryptor: encryptor,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case backendSQL:
		store, err := sqlstore.New(sqlstore.Config{
			Driver: cfg.DatabaseDriver,
			DSN:    cfg.DatabaseDSN,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close database", "error", err)
			}
		}, nil

	default:
		store := memory.New()
		store.SetLogger(logger)
		logger.Warn("Using in-memory storage, credentials do not survive a restart")
		return store, func() {}, nil
	}
}

// seedDirectory registers the application and owner named in the
// configuration. Records that already exist are left untouched.
func seedDirectory(ctx context.Context, cfg *config, store storage.Backend, logger *slog.Logger) error {
	if cfg.SeedClientID != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedClientSecret), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash client secret: %w", err)
		}
		err = store.SaveClient(ctx, &storage.Client{
			ID:               uuid.NewString(),
			Name:             cfg.SeedClientName,
			ClientID:         cfg.SeedClientID,
			ClientSecretHash: string(hash),
			RedirectURI:      cfg.SeedClientRedirectURI,
			CreatedAt:        time.Now(),
		})
		if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("failed to seed client: %w", err)
		}
		logger.Info("Seeded application", "client_id", cfg.SeedClientID, "existing", err != nil)
	}

	if cfg.SeedUsername != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.SeedUserPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash user password: %w", err)
		}
		name := cfg.SeedUserName
		if name == "" {
			name = cfg.SeedUsername
		}
		err = store.SaveUser(ctx, &storage.User{
			ID:           uuid.NewString(),
			Username:     cfg.SeedUsername,
			PasswordHash: string(hash),
			Name:         name,
			CreatedAt:    time.Now(),
		})
		if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("failed to seed user: %w", err)
		}
		logger.Info("Seeded owner", "username", cfg.SeedUsername, "existing", err != nil)
	}

	return nil
}

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return instrumentation.DefaultServiceVersion
}
