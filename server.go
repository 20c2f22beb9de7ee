package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/security"
	"github.com/giantswarm/oauth-lifecycle/server"
	"github.com/giantswarm/oauth-lifecycle/storage"
	"github.com/giantswarm/oauth-lifecycle/token"
)

// Server wires a credential codec and a storage backend into the lifecycle
// engine, and owns the background expiry sweeper.
type Server struct {
	Engine          *server.Server
	Codec           *token.Codec
	Store           storage.Backend
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // per client IP, token endpoint only
	Instrumentation *instrumentation.Instrumentation
	Config          *Config

	logger *slog.Logger

	mu      sync.Mutex
	sweeper *storage.Sweeper
}

// NewServer creates a server over codec and store. The codec should be
// built with token.WithIssuer(config.Issuer) when an issuer is configured.
func NewServer(codec *token.Codec, store storage.Backend, config *Config) (*Server, error) {
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	config = applyDefaults(config)
	logger := config.Logger

	engine, err := server.New(codec, store, store, store, store, store, &config.Lifecycle, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle engine: %w", err)
	}

	srv := &Server{
		Engine: engine,
		Codec:  codec,
		Store:  store,
		Config: config,
		logger: logger,
	}

	srv.Auditor = security.NewAuditor(logger, config.Security.EnableAuditLogging)
	engine.SetAuditor(srv.Auditor)

	if !config.RateLimit.Disabled {
		srv.RateLimiter = security.NewRateLimiter(security.RateLimitConfig{
			RequestsPerSecond: config.RateLimit.Rate,
			Burst:             config.RateLimit.Burst,
			MaxEntries:        config.RateLimit.MaxEntries,
		}, logger)
	}

	return srv, nil
}

// SetInstrumentation enables traces and metrics on the engine, the auditor,
// the store (when it supports it), the sweeper and HTTP handlers, including
// ones created before the call.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	s.Engine.SetInstrumentation(inst)

	if inst != nil {
		s.Auditor.SetMetrics(inst.Metrics())
	}

	type instrumentationSetter interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}
	if setter, ok := s.Store.(instrumentationSetter); ok {
		setter.SetInstrumentation(inst)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweeper != nil {
		s.sweeper.SetMetrics(s.sweepMetrics())
	}
}

func (s *Server) sweepMetrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// sweepTargets lists what the sweeper evicts: expired codes and access
// tokens, and idle rate limiter entries.
func (s *Server) sweepTargets() []storage.SweepTarget {
	targets := []storage.SweepTarget{
		storage.AuthorizationCodeSweepTarget(s.Store),
		storage.AccessTokenSweepTarget(s.Store),
	}
	if s.RateLimiter != nil {
		targets = append(targets, storage.NewSweepTarget("rate_limiter", func(context.Context, time.Time) (int, error) {
			return s.RateLimiter.Cleanup(), nil
		}))
	}
	return targets
}

// Sweeper returns a sweeper over the server's targets, creating it on first use.
func (s *Server) Sweeper() *storage.Sweeper {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweeper == nil {
		s.sweeper = storage.NewSweeper(storage.SweeperConfig{
			Interval: s.Config.SweepInterval,
			Clock:    s.Engine.Config.Clock,
			Logger:   s.logger,
			Metrics:  s.sweepMetrics(),
		}, s.sweepTargets()...)
	}
	return s.sweeper
}

// Start starts the expiry sweeper. It stops when ctx is done or on Stop.
func (s *Server) Start(ctx context.Context) error {
	return s.Sweeper().Start(ctx)
}

// Stop stops the expiry sweeper and waits for a running sweep to finish.
func (s *Server) Stop() {
	s.Sweeper().Stop()
}
