package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/security"
	"github.com/giantswarm/oauth-lifecycle/storage"
	"github.com/giantswarm/oauth-lifecycle/token"
)

// Codec mints and verifies signed credentials. *token.Codec implements it.
type Codec interface {
	Mint(subject string, expiresIn time.Duration) (string, *token.Claims, error)
	Verify(raw string) (*token.Claims, error)
	PeekIdentifier(raw string) string
}

var _ Codec = (*token.Codec)(nil)

// Server is the credential lifecycle engine. It holds no state of its own
// beyond its collaborators and is safe for concurrent use.
type Server struct {
	codec         Codec
	codes         storage.AuthorizationCodeStore
	accessTokens  storage.AccessTokenStore
	refreshTokens storage.RefreshTokenStore
	clients       storage.ClientStore
	users         storage.UserStore

	Auditor *security.Auditor
	Logger  *slog.Logger
	Config  *Config

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	metrics         *instrumentation.Metrics
}

// New creates a lifecycle engine over codec and the given stores.
// A single backend usually provides all five stores.
func New(
	codec Codec,
	codes storage.AuthorizationCodeStore,
	accessTokens storage.AccessTokenStore,
	refreshTokens storage.RefreshTokenStore,
	clients storage.ClientStore,
	users storage.UserStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	switch {
	case codec == nil:
		return nil, errors.New("codec is required")
	case codes == nil:
		return nil, errors.New("authorization code store is required")
	case accessTokens == nil:
		return nil, errors.New("access token store is required")
	case refreshTokens == nil:
		return nil, errors.New("refresh token store is required")
	case clients == nil:
		return nil, errors.New("client store is required")
	case users == nil:
		return nil, errors.New("user store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		codec:         codec,
		codes:         codes,
		accessTokens:  accessTokens,
		refreshTokens: refreshTokens,
		clients:       clients,
		users:         users,
		Config:        applyDefaults(config),
		Logger:        logger,
		tracer:        tracenoop.NewTracerProvider().Tracer("server"),
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables spans and metrics for engine operations
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		s.tracer = tracenoop.NewTracerProvider().Tracer("server")
		s.metrics = nil
		return
	}
	s.tracer = inst.Tracer("server")
	s.metrics = inst.Metrics()
}

// Instrumentation returns the instrumentation set with SetInstrumentation, or nil.
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.instrumentation
}

func (s *Server) now() time.Time {
	return s.Config.Clock()
}

// startOperation opens a span for a public operation. The returned finish
// function ends it, recording err and counting failures by kind.
func (s *Server) startOperation(ctx context.Context, operation string) (context.Context, trace.Span, func(error)) {
	ctx, span := s.tracer.Start(ctx, "server."+operation)
	return ctx, span, func(err error) {
		defer span.End()
		if err == nil {
			instrumentation.SetSpanSuccess(span)
			return
		}
		instrumentation.RecordError(span, err)
		if s.metrics != nil {
			s.metrics.RecordOperationFailure(ctx, operation, Kind(err))
		}
		if errors.Is(err, ErrInternal) {
			s.Logger.ErrorContext(ctx, "Lifecycle operation failed", "operation", operation, "error", err)
			return
		}
		s.Logger.DebugContext(ctx, "Lifecycle operation rejected", "operation", operation, "kind", Kind(err), "error", err)
	}
}

// committed detaches store writes from caller cancellation. A write that
// has started runs to completion even if the request is abandoned.
func committed(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
