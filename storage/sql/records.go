package sql

import (
	"context"
	"time"

	"github.com/giantswarm/oauth-lifecycle/storage"
)

// ============================================================
// AuthorizationCodeStore Implementation
// ============================================================

// SaveAuthorizationCode inserts code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) (err error) {
	ctx, finish := s.instrument(ctx, "save_authorization_code")
	defer func() { finish(err) }()

	if code == nil {
		code = &storage.AuthorizationCode{}
	}
	return s.insert(ctx, fromAuthorizationCode(code), "authorization code", code.ID)
}

// GetAuthorizationCode retrieves the record for id
func (s *Store) GetAuthorizationCode(ctx context.Context, id string) (_ *storage.AuthorizationCode, err error) {
	ctx, finish := s.instrument(ctx, "get_authorization_code")
	defer func() { finish(err) }()

	var row authorizationCodeRow
	if err := s.first(ctx, &row, "id", id, "authorization code"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// DeleteAuthorizationCode removes and returns the record for id
func (s *Store) DeleteAuthorizationCode(ctx context.Context, id string) (_ *storage.AuthorizationCode, err error) {
	ctx, finish := s.instrument(ctx, "delete_authorization_code")
	defer func() { finish(err) }()

	var row authorizationCodeRow
	if err := s.take(ctx, &row, id, "authorization code"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// DeleteExpiredAuthorizationCodes removes codes expired at now
func (s *Store) DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) (_ []*storage.AuthorizationCode, err error) {
	ctx, finish := s.instrument(ctx, "sweep_authorization_codes")
	defer func() { finish(err) }()

	rows, err := sweep[authorizationCodeRow](ctx, s, now)
	if err != nil {
		return nil, err
	}
	removed := make([]*storage.AuthorizationCode, 0, len(rows))
	for i := range rows {
		removed = append(removed, rows[i].record())
	}
	return removed, nil
}

// ============================================================
// AccessTokenStore Implementation
// ============================================================

// SaveAccessToken inserts token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) (err error) {
	ctx, finish := s.instrument(ctx, "save_access_token")
	defer func() { finish(err) }()

	if token == nil {
		token = &storage.AccessToken{}
	}
	return s.insert(ctx, fromAccessToken(token), "access token", token.ID)
}

// GetAccessToken retrieves the record for id
func (s *Store) GetAccessToken(ctx context.Context, id string) (_ *storage.AccessToken, err error) {
	ctx, finish := s.instrument(ctx, "get_access_token")
	defer func() { finish(err) }()

	var row accessTokenRow
	if err := s.first(ctx, &row, "id", id, "access token"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// DeleteAccessToken removes and returns the record for id
func (s *Store) DeleteAccessToken(ctx context.Context, id string) (_ *storage.AccessToken, err error) {
	ctx, finish := s.instrument(ctx, "delete_access_token")
	defer func() { finish(err) }()

	var row accessTokenRow
	if err := s.take(ctx, &row, id, "access token"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// DeleteExpiredAccessTokens removes access tokens expired at now
func (s *Store) DeleteExpiredAccessTokens(ctx context.Context, now time.Time) (_ []*storage.AccessToken, err error) {
	ctx, finish := s.instrument(ctx, "sweep_access_tokens")
	defer func() { finish(err) }()

	rows, err := sweep[accessTokenRow](ctx, s, now)
	if err != nil {
		return nil, err
	}
	removed := make([]*storage.AccessToken, 0, len(rows))
	for i := range rows {
		removed = append(removed, rows[i].record())
	}
	return removed, nil
}

// ============================================================
// RefreshTokenStore Implementation
// ============================================================

// SaveRefreshToken inserts token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) (err error) {
	ctx, finish := s.instrument(ctx, "save_refresh_token")
	defer func() { finish(err) }()

	if token == nil {
		token = &storage.RefreshToken{}
	}
	return s.insert(ctx, fromRefreshToken(token), "refresh token", token.ID)
}

// GetRefreshToken retrieves the record for id
func (s *Store) GetRefreshToken(ctx context.Context, id string) (_ *storage.RefreshToken, err error) {
	ctx, finish := s.instrument(ctx, "get_refresh_token")
	defer func() { finish(err) }()

	var row refreshTokenRow
	if err := s.first(ctx, &row, "id", id, "refresh token"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// DeleteRefreshToken removes and returns the record for id
func (s *Store) DeleteRefreshToken(ctx context.Context, id string) (_ *storage.RefreshToken, err error) {
	ctx, finish := s.instrument(ctx, "delete_refresh_token")
	defer func() { finish(err) }()

	var row refreshTokenRow
	if err := s.take(ctx, &row, id, "refresh token"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// ============================================================
// Directories
// ============================================================

// SaveClient registers an application. Both Client.ID and Client.ClientID must be unused.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) (err error) {
	ctx, finish := s.instrument(ctx, "save_client")
	defer func() { finish(err) }()

	if client == nil {
		client = &storage.Client{}
	}
	return s.insert(ctx, fromClient(client), "client", client.ID)
}

// GetClient looks an application up by Client.ID
func (s *Store) GetClient(ctx context.Context, id string) (_ *storage.Client, err error) {
	ctx, finish := s.instrument(ctx, "get_client")
	defer func() { finish(err) }()

	var row clientRow
	if err := s.first(ctx, &row, "id", id, "client"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// GetClientByClientID looks an application up by its external client_id
func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (_ *storage.Client, err error) {
	ctx, finish := s.instrument(ctx, "get_client_by_client_id")
	defer func() { finish(err) }()

	var row clientRow
	if err := s.first(ctx, &row, "client_id", clientID, "client_id"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// SaveUser registers a resource owner. Both User.ID and User.Username must be unused.
func (s *Store) SaveUser(ctx context.Context, user *storage.User) (err error) {
	ctx, finish := s.instrument(ctx, "save_user")
	defer func() { finish(err) }()

	if user == nil {
		user = &storage.User{}
	}
	return s.insert(ctx, fromUser(user), "user", user.ID)
}

// GetUser looks an owner up by User.ID
func (s *Store) GetUser(ctx context.Context, id string) (_ *storage.User, err error) {
	ctx, finish := s.instrument(ctx, "get_user")
	defer func() { finish(err) }()

	var row userRow
	if err := s.first(ctx, &row, "id", id, "user"); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// GetUserByUsername looks an owner up by login name
func (s *Store) GetUserByUsername(ctx context.Context, username string) (_ *storage.User, err error) {
	ctx, finish := s.instrument(ctx, "get_user_by_username")
	defer func() { finish(err) }()

	var row userRow
	if err := s.first(ctx, &row, "username", username, "username"); err != nil {
		return nil, err
	}
	return row.record(), nil
}
