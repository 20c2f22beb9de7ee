package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/storage"
)

// Store is an in-memory implementation of storage.Backend.
type Store struct {
	mu sync.RWMutex

	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	clients           map[string]*storage.Client
	clientsByClientID map[string]string // external client_id -> Client.ID
	users             map[string]*storage.User
	usersByUsername   map[string]string // username -> User.ID

	// read lock-free by the size gauges
	codesCount         atomic.Int64
	accessTokensCount  atomic.Int64
	refreshTokensCount atomic.Int64

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	logger          *slog.Logger
}

var _ storage.Backend = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		codes:             make(map[string]*storage.AuthorizationCode),
		accessTokens:      make(map[string]*storage.AccessToken),
		refreshTokens:     make(map[string]*storage.RefreshToken),
		clients:           make(map[string]*storage.Client),
		clientsByClientID: make(map[string]string),
		users:             make(map[string]*storage.User),
		usersByUsername:   make(map[string]string),
		logger:            slog.Default(),
	}
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables spans and metrics for store operations and
// registers the record-count gauges.
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
		s.codesCount.Load,
		s.accessTokensCount.Load,
		s.refreshTokensCount.Load,
	)
	if err != nil {
		s.logger.Warn("Failed to register storage size callbacks", "error", err)
	}
}

// ============================================================
// Authorization codes
// ============================================================

// SaveAuthorizationCode stores a copy of code under code.ID
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, finish := s.instrument(ctx, "save_authorization_code")
	defer func() { finish(err) }()

	if code == nil || code.ID == "" {
		return errors.New("authorization code id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.ID]; exists {
		return fmt.Errorf("%w: authorization code %s", storage.ErrAlreadyExists, code.ID)
	}
	cp := *code
	s.codes[code.ID] = &cp
	s.codesCount.Add(1)

	s.logger.DebugContext(ctx, "Saved authorization code", "id", code.ID, "client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode returns a copy of the record for id
func (s *Store) GetAuthorizationCode(ctx context.Context, id string) (_ *storage.AuthorizationCode, err error) {
	_, finish := s.instrument(ctx, "get_authorization_code")
	defer func() { finish(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.codes[id]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code %s", storage.ErrNotFound, id)
	}
	cp := *code
	return &cp, nil
}

// DeleteAuthorizationCode removes the record for id and returns it
func (s *Store) DeleteAuthorizationCode(ctx context.Context, id string) (_ *storage.AuthorizationCode, err error) {
	_, finish := s.instrument(ctx, "delete_authorization_code")
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[id]
	if !ok {
		return nil, fmt.Errorf("%w: authorization code %s", storage.ErrNotFound, id)
	}
	delete(s.codes, id)
	s.codesCount.Add(-1)
	return code, nil
}

// DeleteExpiredAuthorizationCodes removes codes expired at now
func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (_ []*storage.AuthorizationCode, err error) {
	ctx, finish := s.instrument(ctx, "sweep_authorization_codes")
	defer func() { finish(err) }()

	s.mu.RLock()
	var expired []string
	for id, code := range s.codes {
		if storage.IsExpired(code.ExpiresAt, now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	var removed []*storage.AuthorizationCode
	for _, id := range expired {
		s.mu.Lock()
		if code, ok := s.codes[id]; ok {
			delete(s.codes, id)
			s.codesCount.Add(-1)
			removed = append(removed, code)
		}
		s.mu.Unlock()
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(instrumentation.AttrStorageRemoved, len(removed)))
	return removed, nil
}

// ============================================================
// Access tokens
// ============================================================

// SaveAccessToken stores a copy of token under token.ID
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, finish := s.instrument(ctx, "save_access_token")
	defer func() { finish(err) }()

	if token == nil || token.ID == "" {
		return errors.New("access token id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[token.ID]; exists {
		return fmt.Errorf("%w: access token %s", storage.ErrAlreadyExists, token.ID)
	}
	cp := *token
	s.accessTokens[token.ID] = &cp
	s.accessTokensCount.Add(1)

	s.logger.DebugContext(ctx, "Saved access token", "id", token.ID, "client_id", token.ClientID)
	return nil
}

// GetAccessToken returns a copy of the record for id
func (s *Store) GetAccessToken(ctx context.Context, id string) (_ *storage.AccessToken, err error) {
	_, finish := s.instrument(ctx, "get_access_token")
	defer func() { finish(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.accessTokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: access token %s", storage.ErrNotFound, id)
	}
	cp := *token
	return &cp, nil
}

// DeleteAccessToken removes the record for id and returns it
func (s *Store) DeleteAccessToken(ctx context.Context, id string) (_ *storage.AccessToken, err error) {
	_, finish := s.instrument(ctx, "delete_access_token")
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.accessTokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: access token %s", storage.ErrNotFound, id)
	}
	delete(s.accessTokens, id)
	s.accessTokensCount.Add(-1)
	return token, nil
}

// DeleteExpiredAccessTokens removes access tokens expired at now
func (s *Store) DeleteExpiredAccessTokens(ctx context.Context, now time.Time) (_ []*storage.AccessToken, err error) {
	ctx, finish := s.instrument(ctx, "sweep_access_tokens")
	defer func() { finish(err) }()

	s.mu.RLock()
	var expired []string
	for id, token := range s.accessTokens {
		if storage.IsExpired(token.ExpiresAt, now) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	var removed []*storage.AccessToken
	for _, id := range expired {
		s.mu.Lock()
		if token, ok := s.accessTokens[id]; ok {
			delete(s.accessTokens, id)
			s.accessTokensCount.Add(-1)
			removed = append(removed, token)
		}
		s.mu.Unlock()
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.Int(instrumentation.AttrStorageRemoved, len(removed)))
	return removed, nil
}

// ============================================================
// Refresh tokens
// ============================================================

// SaveRefreshToken stores a copy of token under token.ID
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, finish := s.instrument(ctx, "save_refresh_token")
	defer func() { finish(err) }()

	if token == nil || token.ID == "" {
		return errors.New("refresh token id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.ID]; exists {
		return fmt.Errorf("%w: refresh token %s", storage.ErrAlreadyExists, token.ID)
	}
	cp := *token
	s.refreshTokens[token.ID] = &cp
	s.refreshTokensCount.Add(1)

	s.logger.DebugContext(ctx, "Saved refresh token", "id", token.ID, "client_id", token.ClientID)
	return nil
}

// GetRefreshToken returns a copy of the record for id
func (s *Store) GetRefreshToken(ctx context.Context, id string) (_ *storage.RefreshToken, err error) {
	_, finish := s.instrument(ctx, "get_refresh_token")
	defer func() { finish(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token %s", storage.ErrNotFound, id)
	}
	cp := *token
	return &cp, nil
}

// DeleteRefreshToken removes the record for id and returns it
func (s *Store) DeleteRefreshToken(ctx context.Context, id string) (_ *storage.RefreshToken, err error) {
	_, finish := s.instrument(ctx, "delete_refresh_token")
	defer func() { finish(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token %s", storage.ErrNotFound, id)
	}
	delete(s.refreshTokens, id)
	s.refreshTokensCount.Add(-1)
	return token, nil
}

// ============================================================
// Directories
// ============================================================

// SaveClient registers an application. Both Client.ID and Client.ClientID must be unused.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	_, finish := s.instrument(ctx, "save_client")
	defer func() { finish(err) }()

	if client == nil || client.ID == "" || client.ClientID == "" {
		return errors.New("client id and client_id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		return fmt.Errorf("%w: client %s", storage.ErrAlreadyExists, client.ID)
	}
	if _, exists := s.clientsByClientID[client.ClientID]; exists {
		return fmt.Errorf("%w: client_id %s", storage.ErrAlreadyExists, client.ClientID)
	}
	cp := *client
	s.clients[client.ID] = &cp
	s.clientsByClientID[client.ClientID] = client.ID
	return nil
}

// GetClient looks an application up by Client.ID
func (s *Store) GetClient(ctx context.Context, id string) (_ *storage.Client, err error) {
	_, finish := s.instrument(ctx, "get_client")
	defer func() { finish(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientLocked(id)
}

// GetClientByClientID looks an application up by its external client_id
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	_, finish := s.instrument(ctx, "get_client_by_client_id")
	defer func() { finish(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.clientsByClientID[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: client_id %s", storage.ErrNotFound, clientID)
	}
	return s.clientLocked(id)
}

func (s *Store) clientLocked(id string) (*storage.Client, error) {
	client, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: client %s", storage.ErrNotFound, id)
	}
	cp := *client
	return &cp, nil
}

// SaveUser registers a resource owner. Both User.ID and User.Username must be unused.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	_, finish := s.instrument(ctx, "save_user")
	defer func() { finish(err) }()

	if user == nil || user.ID == "" || user.Username == "" {
		return errors.New("user id and username cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("%w: user %s", storage.ErrAlreadyExists, user.ID)
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username %s", storage.ErrAlreadyExists, user.Username)
	}
	cp := *user
	s.users[user.ID] = &cp
	s.usersByUsername[user.Username] = user.ID
	return nil
}

// GetUser looks an owner up by User.ID
func (s *Store) GetUser(ctx context.Context, id string) (_ *storage.User, err error) {
	_, finish := s.instrument(ctx, "get_user")
	defer func() { finish(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userLocked(id)
}

// GetUserByUsername looks an owner up by login name
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	_, finish := s.instrument(ctx, "get_user_by_username")
	defer func() { finish(err) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByUsername[username]
	if !ok {
		return nil, fmt.Errorf("%w: username %s", storage.ErrNotFound, username)
	}
	return s.userLocked(id)
}

func (s *Store) userLocked(id string) (*storage.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", storage.ErrNotFound, id)
	}
	cp := *user
	return &cp, nil
}

// ============================================================
// Instrumentation
// ============================================================

// instrument starts a span for operation and returns a func that ends it and
// records the outcome. Not-found results count as successful lookups.
func (s *Store) instrument(ctx context.Context, operation string) (context.Context, func(error)) {
	s.mu.RLock()
	tracer, inst := s.tracer, s.instrumentation
	s.mu.RUnlock()

	if tracer == nil || inst == nil {
		return ctx, func(error) {}
	}

	ctx, span := tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "memory")
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
