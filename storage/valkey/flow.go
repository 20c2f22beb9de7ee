package valkey

import (
	"context"
	"time"

	"github.com/giantswarm/oauth-lifecycle/storage"
)

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode stores code with a TTL ending at code.ExpiresAt
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, finish := s.instrument(ctx, "save_authorization_code")
	defer func() { finish(err) }()

	if code == nil {
		return validateID("", "authorization code id")
	}
	if err := validateID(code.ID, "authorization code id"); err != nil {
		return err
	}

	if err := s.putRecord(ctx, s.codeKey(code.ID), code, ttlUntil(code.ExpiresAt), "authorization code", code.ID); err != nil {
		return err
	}
	s.logger.Debug("Saved authorization code", "id_prefix", logID(code.ID), "client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves the record for id
func (s *Store) GetAuthorizationCode(ctx context.Context, id string) (_ *storage.AuthorizationCode, err error) {
	ctx, finish := s.instrument(ctx, "get_authorization_code")
	defer func() { finish(err) }()

	return getRecord[storage.AuthorizationCode](ctx, s, s.codeKey(id), "authorization code", id)
}

// DeleteAuthorizationCode atomically removes and returns the record for id
func (s *Store) DeleteAuthorizationCode(ctx context.Context, id string) (_ *storage.AuthorizationCode, err error) {
	ctx, finish := s.instrument(ctx, "delete_authorization_code")
	defer func() { finish(err) }()

	code, err := takeRecord[storage.AuthorizationCode](ctx, s, s.codeKey(id), "authorization code", id)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Deleted authorization code", "id_prefix", logID(id))
	return code, nil
}

// DeleteExpiredAuthorizationCodes is a no-op: codes expire through their TTL.
func (s *Store) DeleteExpiredAuthorizationCodes(context.Context, time.Time) ([]*storage.AuthorizationCode, error) {
	return nil, nil
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveAccessToken stores token with a TTL ending at token.ExpiresAt
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, finish := s.instrument(ctx, "save_access_token")
	defer func() { finish(err) }()

	if token == nil {
		return validateID("", "access token id")
	}
	if err := validateID(token.ID, "access token id"); err != nil {
		return err
	}

	if err := s.putRecord(ctx, s.accessKey(token.ID), token, ttlUntil(token.ExpiresAt), "access token", token.ID); err != nil {
		return err
	}
	s.logger.Debug("Saved access token", "id_prefix", logID(token.ID), "client_id", token.ClientID)
	return nil
}

// GetAccessToken retrieves the record for id
func (s *Store) GetAccessToken(ctx context.Context, id string) (_ *storage.AccessToken, err error) {
	ctx, finish := s.instrument(ctx, "get_access_token")
	defer func() { finish(err) }()

	return getRecord[storage.AccessToken](ctx, s, s.accessKey(id), "access token", id)
}

// DeleteAccessToken atomically removes and returns the record for id
func (s *Store) DeleteAccessToken(ctx context.Context, id string) (_ *storage.AccessToken, err error) {
	ctx, finish := s.instrument(ctx, "delete_access_token")
	defer func() { finish(err) }()

	token, err := takeRecord[storage.AccessToken](ctx, s, s.accessKey(id), "access token", id)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Deleted access token", "id_prefix", logID(id))
	return token, nil
}

// DeleteExpiredAccessTokens is a no-op: access tokens expire through their TTL.
func (s *Store) DeleteExpiredAccessTokens(context.Context, time.Time) ([]*storage.AccessToken, error) {
	return nil, nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// SaveRefreshToken stores token without a TTL. It lives until revoked.
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, finish := s.instrument(ctx, "save_refresh_token")
	defer func() { finish(err) }()

	if token == nil {
		return validateID("", "refresh token id")
	}
	if err := validateID(token.ID, "refresh token id"); err != nil {
		return err
	}

	if err := s.putRecord(ctx, s.refreshKey(token.ID), token, 0, "refresh token", token.ID); err != nil {
		return err
	}
	s.logger.Debug("Saved refresh token", "id_prefix", logID(token.ID), "client_id", token.ClientID)
	return nil
}

// GetRefreshToken retrieves the record for id
func (s *Store) GetRefreshToken(ctx context.Context, id string) (_ *storage.RefreshToken, err error) {
	ctx, finish := s.instrument(ctx, "get_refresh_token")
	defer func() { finish(err) }()

	return getRecord[storage.RefreshToken](ctx, s, s.refreshKey(id), "refresh token", id)
}

// DeleteRefreshToken atomically removes and returns the record for id
func (s *Store) DeleteRefreshToken(ctx context.Context, id string) (_ *storage.RefreshToken, err error) {
	ctx, finish := s.instrument(ctx, "delete_refresh_token")
	defer func() { finish(err) }()

	token, err := takeRecord[storage.RefreshToken](ctx, s, s.refreshKey(id), "refresh token", id)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Deleted refresh token", "id_prefix", logID(id))
	return token, nil
}
