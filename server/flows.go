package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/internal/util"
	"github.com/giantswarm/oauth-lifecycle/security"
	"github.com/giantswarm/oauth-lifecycle/storage"
)

// Grant types, as named on the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
)

// Token kinds, as reported in metrics and audit events.
const (
	TokenKindAccessToken  = "access_token"
	TokenKindRefreshToken = "refresh_token"
)

// TokenType is the token_type of every issued access token.
const TokenType = "Bearer"

// TokenInfo describes a valid access token.
type TokenInfo struct {
	// TokenID is the credential's identifier claim.
	TokenID string

	// Audience is the external client_id of the application the token was issued to.
	Audience string

	// ExpiresIn is the remaining lifetime in whole seconds, never negative.
	ExpiresIn int64
	ExpiresAt time.Time

	Scope string

	// UserID is empty for tokens an application holds on its own behalf.
	UserID   string
	ClientID string

	// User is the owning user, nil for application tokens.
	User   *storage.User
	Client *storage.Client
}

// IssueAuthorizationCode mints an authorization code for user, granted to
// client for redirectURI and scope, and stores its record. The caller has
// already authenticated user and checked redirectURI against the client's
// registration. redirectURI is stored as given and may be empty when the
// authorization request omitted it; the exchange must then omit it too.
func (s *Server) IssueAuthorizationCode(ctx context.Context, client *storage.Client, redirectURI string, user *storage.User, scope string) (_ string, err error) {
	ctx, span, finish := s.startOperation(ctx, "issue_authorization_code")
	defer func() { finish(err) }()

	if client == nil || user == nil {
		return "", fmt.Errorf("%w: client and user are required", ErrInternal)
	}
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, user.ID, scope)

	raw, claims, err := s.codec.Mint(user.ID, seconds(s.Config.AuthorizationCodeTTL))
	if err != nil {
		return "", fmt.Errorf("%w: failed to mint authorization code: %v", ErrInternal, err)
	}

	record := &storage.AuthorizationCode{
		ID:          claims.ID,
		ClientID:    client.ID,
		RedirectURI: redirectURI,
		UserID:      user.ID,
		Scope:       scope,
		CreatedAt:   claims.IssuedAt,
		ExpiresAt:   claims.ExpiresAt,
	}
	// A taken identifier is not retried.
	if err := s.codes.SaveAuthorizationCode(committed(ctx), record); err != nil {
		return "", fmt.Errorf("%w: failed to store authorization code: %v", ErrInternal, err)
	}
	span.SetAttributes(attribute.String(instrumentation.AttrTokenID, claims.ID))

	if s.metrics != nil {
		s.metrics.RecordCodeIssued(ctx, client.ClientID)
	}
	s.Auditor.LogEvent(ctx, security.Event{
		Type:     security.EventCodeIssued,
		UserID:   user.ID,
		ClientID: client.ClientID,
		Details:  map[string]any{"scope": scope},
	})
	return raw, nil
}

// ExchangeAuthorizationCode redeems code for an access token, plus a refresh
// token when the code's scope requests offline access.
//
// The code record is deleted before any check runs, so a code is consumed
// by its first presentation whether or not the exchange succeeds.
//
// The access token and refresh token are written to separate stores without
// a transaction. If storing the refresh token fails, the already stored
// access token stays valid while the caller receives ErrInternal. The
// partial issuance is recorded as an audit event.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, client *storage.Client, code, redirectURI string) (_ *oauth2.Token, err error) {
	ctx, span, finish := s.startOperation(ctx, "exchange_authorization_code")
	defer func() { finish(err) }()

	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInternal)
	}

	id := s.codec.PeekIdentifier(code)
	if id == "" {
		return nil, fmt.Errorf("%w: malformed authorization code", ErrNotFound)
	}
	span.SetAttributes(attribute.String(instrumentation.AttrTokenID, id))

	record, err := requireExists(s.codes.DeleteAuthorizationCode(committed(ctx), id))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && !errors.Is(err, ErrInternal) {
			s.Auditor.LogEvent(ctx, security.Event{
				Type:     security.EventCodeExchangeFailed,
				UserID:   record.UserID,
				ClientID: client.ClientID,
				Details:  map[string]any{"reason": Kind(err)},
			})
		}
	}()

	claims, err := requireValidSignature(s.codec, code)
	if err != nil {
		return nil, err
	}
	if err := requireUnexpired(record.ExpiresAt, s.now()); err != nil {
		return nil, err
	}
	if err := requireOwnerMatch(claims, record.UserID); err != nil {
		return nil, err
	}
	if err := requireApplicationMatch(record.ClientID, client); err != nil {
		return nil, err
	}
	if err := requireRedirectMatch(record.RedirectURI, redirectURI); err != nil {
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, record.UserID, record.Scope)

	accessToken, access, err := s.issueAccessToken(ctx, GrantTypeAuthorizationCode, record.UserID, record.UserID, client, record.Scope)
	if err != nil {
		return nil, err
	}

	offline := util.HasScope(record.Scope, s.Config.OfflineAccessScope)
	span.SetAttributes(attribute.Bool(instrumentation.AttrOffline, offline))

	var refreshToken string
	if offline {
		refreshToken, err = s.issueRefreshToken(ctx, record.UserID, client, record.Scope)
		if err != nil {
			s.Logger.WarnContext(ctx, "Access token stored but refresh token was not",
				"access_token_id", access.ID,
				"client_id", client.ClientID,
				"error", err)
			s.Auditor.LogEvent(ctx, security.Event{
				Type:     security.EventPartialIssuance,
				UserID:   record.UserID,
				ClientID: client.ClientID,
				Details:  map[string]any{"access_token_id": access.ID},
			})
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.RecordCodeExchange(ctx, client.ClientID, offline)
	}
	s.Auditor.LogTokenIssued(ctx, record.UserID, client.ClientID, record.Scope, GrantTypeAuthorizationCode, offline)

	return s.tokenResponse(accessToken, refreshToken, access), nil
}

// RefreshAccessToken issues a new access token for a refresh token. The
// refresh token is not consumed and stays usable until revoked.
func (s *Server) RefreshAccessToken(ctx context.Context, client *storage.Client, refreshToken string) (_ *oauth2.Token, err error) {
	ctx, span, finish := s.startOperation(ctx, "refresh_access_token")
	defer func() { finish(err) }()

	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInternal)
	}

	id := s.codec.PeekIdentifier(refreshToken)
	if id == "" {
		return nil, fmt.Errorf("%w: malformed refresh token", ErrNotFound)
	}
	span.SetAttributes(attribute.String(instrumentation.AttrTokenID, id))

	record, err := requireExists(s.refreshTokens.GetRefreshToken(ctx, id))
	if err != nil {
		return nil, err
	}
	claims, err := requireValidSignature(s.codec, refreshToken)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerMatch(claims, record.UserID); err != nil {
		return nil, err
	}
	if err := requireApplicationMatch(record.ClientID, client); err != nil {
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, record.UserID, record.Scope)

	accessToken, access, err := s.issueAccessToken(ctx, GrantTypeRefreshToken, record.UserID, record.UserID, client, record.Scope)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(ctx, client.ClientID)
	}
	s.Auditor.LogTokenRefreshed(ctx, record.UserID, client.ClientID)

	return s.tokenResponse(accessToken, "", access), nil
}

// IssueClientCredentialsToken issues an access token that client holds on
// its own behalf. Such tokens have no owner and never come with a refresh
// token.
func (s *Server) IssueClientCredentialsToken(ctx context.Context, client *storage.Client, scope string) (_ *oauth2.Token, err error) {
	ctx, span, finish := s.startOperation(ctx, "issue_client_credentials_token")
	defer func() { finish(err) }()

	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInternal)
	}
	instrumentation.AddOAuthFlowAttributes(span, client.ClientID, "", scope)

	accessToken, access, err := s.issueAccessToken(ctx, GrantTypeClientCredentials, client.ID, "", client, scope)
	if err != nil {
		return nil, err
	}
	s.Auditor.LogTokenIssued(ctx, "", client.ClientID, scope, GrantTypeClientCredentials, false)

	return s.tokenResponse(accessToken, "", access), nil
}

// ValidateAccessToken verifies an access token, checks its record and
// resolves the identity it was issued to.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (_ *TokenInfo, err error) {
	ctx, span, finish := s.startOperation(ctx, "validate_access_token")
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTokenValidation(ctx, err == nil)
		}
		finish(err)
	}()

	claims, err := requireValidSignature(s.codec, accessToken)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(instrumentation.AttrTokenID, claims.ID))

	record, err := requireExists(s.accessTokens.GetAccessToken(ctx, claims.ID))
	if err != nil {
		return nil, err
	}
	now := s.now()
	// The record may outlive its expiry until the next sweep.
	if err := requireUnexpired(record.ExpiresAt, now); err != nil {
		return nil, err
	}
	if err := requireOwnerMatch(claims, subjectOf(record)); err != nil {
		return nil, err
	}

	info := &TokenInfo{
		TokenID:   record.ID,
		ExpiresIn: remainingSeconds(record.ExpiresAt, now),
		ExpiresAt: record.ExpiresAt,
		Scope:     record.Scope,
		UserID:    record.UserID,
		ClientID:  record.ClientID,
	}
	if record.UserID != "" {
		if info.User, err = requireExists(s.users.GetUser(ctx, record.UserID)); err != nil {
			return nil, err
		}
	}
	if info.Client, err = requireExists(s.clients.GetClient(ctx, record.ClientID)); err != nil {
		return nil, err
	}
	info.Audience = info.Client.ClientID

	instrumentation.AddOAuthFlowAttributes(span, info.Audience, record.UserID, record.Scope)
	span.SetAttributes(attribute.Int64(instrumentation.AttrExpiresIn, info.ExpiresIn))
	return info, nil
}

// RevokeToken revokes an access or refresh token. The access token store is
// tried first. Revoking a credential that has no record fails with
// ErrNotFound, so a second revocation of the same credential fails too.
func (s *Server) RevokeToken(ctx context.Context, credential string) (err error) {
	ctx, span, finish := s.startOperation(ctx, "revoke_token")
	defer func() { finish(err) }()

	claims, err := requireValidSignature(s.codec, credential)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String(instrumentation.AttrTokenID, claims.ID))

	access, err := s.accessTokens.DeleteAccessToken(committed(ctx), claims.ID)
	switch {
	case err == nil:
		s.revoked(ctx, span, TokenKindAccessToken, access.UserID, access.ClientID)
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	refresh, err := requireExists(s.refreshTokens.DeleteRefreshToken(committed(ctx), claims.ID))
	if err != nil {
		return err
	}
	s.revoked(ctx, span, TokenKindRefreshToken, refresh.UserID, refresh.ClientID)
	return nil
}

func (s *Server) revoked(ctx context.Context, span trace.Span, kind, userID, clientID string) {
	span.SetAttributes(attribute.String(instrumentation.AttrTokenKind, kind))
	if s.metrics != nil {
		s.metrics.RecordTokenRevocation(ctx, kind)
	}
	s.Auditor.LogTokenRevoked(ctx, userID, clientID, kind)
}

// issueAccessToken mints an access token with the given subject and stores
// its record. userID is empty for application tokens.
func (s *Server) issueAccessToken(ctx context.Context, grantType, subject, userID string, client *storage.Client, scope string) (string, *storage.AccessToken, error) {
	raw, claims, err := s.codec.Mint(subject, seconds(s.Config.AccessTokenTTL))
	if err != nil {
		return "", nil, fmt.Errorf("%w: failed to mint access token: %v", ErrInternal, err)
	}
	record := &storage.AccessToken{
		ID:        claims.ID,
		UserID:    userID,
		ClientID:  client.ID,
		Scope:     scope,
		CreatedAt: claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}
	if err := s.accessTokens.SaveAccessToken(committed(ctx), record); err != nil {
		return "", nil, fmt.Errorf("%w: failed to store access token: %v", ErrInternal, err)
	}
	if s.metrics != nil {
		s.metrics.RecordTokenIssued(ctx, TokenKindAccessToken, grantType)
	}
	return raw, record, nil
}

// issueRefreshToken mints a refresh token for userID and stores its record.
func (s *Server) issueRefreshToken(ctx context.Context, userID string, client *storage.Client, scope string) (string, error) {
	raw, claims, err := s.codec.Mint(userID, seconds(s.Config.RefreshTokenTTL))
	if err != nil {
		return "", fmt.Errorf("%w: failed to mint refresh token: %v", ErrInternal, err)
	}
	record := &storage.RefreshToken{
		ID:        claims.ID,
		UserID:    userID,
		ClientID:  client.ID,
		Scope:     scope,
		CreatedAt: claims.IssuedAt,
	}
	if err := s.refreshTokens.SaveRefreshToken(committed(ctx), record); err != nil {
		return "", fmt.Errorf("%w: failed to store refresh token: %v", ErrInternal, err)
	}
	if s.metrics != nil {
		s.metrics.RecordTokenIssued(ctx, TokenKindRefreshToken, GrantTypeAuthorizationCode)
	}
	return raw, nil
}

func (s *Server) tokenResponse(accessToken, refreshToken string, record *storage.AccessToken) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  accessToken,
		TokenType:    TokenType,
		RefreshToken: refreshToken,
		Expiry:       record.ExpiresAt,
		ExpiresIn:    s.Config.AccessTokenTTL,
	}
	if record.Scope != "" {
		tok = tok.WithExtra(map[string]any{"scope": record.Scope})
	}
	return tok
}

// subjectOf returns the subject an access token was minted for: the owner,
// or the application for tokens it holds on its own behalf.
func subjectOf(record *storage.AccessToken) string {
	if record.UserID != "" {
		return record.UserID
	}
	return record.ClientID
}

// remainingSeconds returns the whole seconds left until expiresAt, floored at zero.
func remainingSeconds(expiresAt, now time.Time) int64 {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(left / time.Second)
}
