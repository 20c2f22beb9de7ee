// Package mock provides a storage.Backend whose individual operations can be
// overridden, for injecting failures into engine and sweeper tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/oauth-lifecycle/storage"
	"github.com/giantswarm/oauth-lifecycle/storage/memory"
)

// Store delegates to an in-memory store unless the matching Func field is set.
type Store struct {
	*memory.Store

	SaveAuthorizationCodeFunc           func(ctx context.Context, code *storage.AuthorizationCode) error
	DeleteAuthorizationCodeFunc         func(ctx context.Context, id string) (*storage.AuthorizationCode, error)
	DeleteExpiredAuthorizationCodesFunc func(ctx context.Context, now time.Time) ([]*storage.AuthorizationCode, error)
	SaveAccessTokenFunc                 func(ctx context.Context, token *storage.AccessToken) error
	GetAccessTokenFunc                  func(ctx context.Context, id string) (*storage.AccessToken, error)
	DeleteExpiredAccessTokensFunc       func(ctx context.Context, now time.Time) ([]*storage.AccessToken, error)
	SaveRefreshTokenFunc                func(ctx context.Context, token *storage.RefreshToken) error
	GetRefreshTokenFunc                 func(ctx context.Context, id string) (*storage.RefreshToken, error)

	mu         sync.Mutex
	callCounts map[string]int
}

var _ storage.Backend = (*Store)(nil)

// New creates a mock store over a fresh memory.Store.
func New() *Store {
	return &Store{
		Store:      memory.New(),
		callCounts: make(map[string]int),
	}
}

// CallCount returns how many times the named method was invoked through an override point.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

func (m *Store) count(method string) {
	m.mu.Lock()
	m.callCounts[method]++
	m.mu.Unlock()
}

// SaveAuthorizationCode calls SaveAuthorizationCodeFunc if set
func (m *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.count("SaveAuthorizationCode")
	if m.SaveAuthorizationCodeFunc != nil {
		return m.SaveAuthorizationCodeFunc(ctx, code)
	}
	return m.Store.SaveAuthorizationCode(ctx, code)
}

// DeleteAuthorizationCode calls DeleteAuthorizationCodeFunc if set
func (m *Store) DeleteAuthorizationCode(ctx context.Context, id string) (*storage.AuthorizationCode, error) {
	m.count("DeleteAuthorizationCode")
	if m.DeleteAuthorizationCodeFunc != nil {
		return m.DeleteAuthorizationCodeFunc(ctx, id)
	}
	return m.Store.DeleteAuthorizationCode(ctx, id)
}

// DeleteExpiredAuthorizationCodes calls DeleteExpiredAuthorizationCodesFunc if set
func (m *Store) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) ([]*storage.AuthorizationCode, error) {
	m.count("DeleteExpiredAuthorizationCodes")
	if m.DeleteExpiredAuthorizationCodesFunc != nil {
		return m.DeleteExpiredAuthorizationCodesFunc(ctx, now)
	}
	return m.Store.DeleteExpiredAuthorizationCodes(ctx, now)
}

// SaveAccessToken calls SaveAccessTokenFunc if set
func (m *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.count("SaveAccessToken")
	if m.SaveAccessTokenFunc != nil {
		return m.SaveAccessTokenFunc(ctx, token)
	}
	return m.Store.SaveAccessToken(ctx, token)
}

// GetAccessToken calls GetAccessTokenFunc if set
func (m *Store) GetAccessToken(ctx context.Context, id string) (*storage.AccessToken, error) {
	m.count("GetAccessToken")
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx, id)
	}
	return m.Store.GetAccessToken(ctx, id)
}

// DeleteExpiredAccessTokens calls DeleteExpiredAccessTokensFunc if set
func (m *Store) DeleteExpiredAccessTokens(ctx context.Context, now time.Time) ([]*storage.AccessToken, error) {
	m.count("DeleteExpiredAccessTokens")
	if m.DeleteExpiredAccessTokensFunc != nil {
		return m.DeleteExpiredAccessTokensFunc(ctx, now)
	}
	return m.Store.DeleteExpiredAccessTokens(ctx, now)
}

// SaveRefreshToken calls SaveRefreshTokenFunc if set
func (m *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	m.count("SaveRefreshToken")
	if m.SaveRefreshTokenFunc != nil {
		return m.SaveRefreshTokenFunc(ctx, token)
	}
	return m.Store.SaveRefreshToken(ctx, token)
}

// GetRefreshToken calls GetRefreshTokenFunc if set
func (m *Store) GetRefreshToken(ctx context.Context, id string) (*storage.RefreshToken, error) {
	m.count("GetRefreshToken")
	if m.GetRefreshTokenFunc != nil {
		return m.GetRefreshTokenFunc(ctx, id)
	}
	return m.Store.GetRefreshToken(ctx, id)
}
