package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/security"
	"github.com/giantswarm/oauth-lifecycle/server"
	"github.com/giantswarm/oauth-lifecycle/storage"
)

// Endpoint paths registered by RegisterRoutes.
const (
	AuthorizationPath = "/dialog/authorize"
	TokenPath         = "/oauth/token"
	TokenInfoPath     = "/api/tokeninfo"
	RevocationPath    = "/api/revoke"
	UserInfoPath      = "/api/userinfo"
	ClientInfoPath    = "/api/clientinfo"
	JWKSPath          = "/.well-known/jwks.json"
)

const (
	basicRealm        = `Basic realm="oauth"`
	jwksMaxAge        = "public, max-age=3600"
	retryAfterSeconds = "1"
)

// OwnerResolver identifies the resource owner approving an authorization
// request. It returns an error wrapping server.ErrAuthenticationFailed when
// the owner could not be authenticated.
type OwnerResolver func(r *http.Request) (*storage.User, error)

// Handler is a thin HTTP adapter for the lifecycle engine.
// It parses requests, delegates to the engine and maps its errors to OAuth responses.
type Handler struct {
	server        *Server
	logger        *slog.Logger
	ownerResolver OwnerResolver
}

// NewHandler creates a new HTTP handler. Owners authenticate to the
// authorization endpoint with HTTP Basic credentials unless
// SetOwnerResolver installs another resolver.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}
	h.ownerResolver = h.basicAuthOwner

	return h
}

// SetOwnerResolver replaces how the authorization endpoint identifies the owner.
func (h *Handler) SetOwnerResolver(resolver OwnerResolver) {
	if resolver != nil {
		h.ownerResolver = resolver
	}
}

// RegisterRoutes registers every endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc(AuthorizationPath, h.ServeAuthorization)
	mux.HandleFunc(TokenPath, h.ServeToken)
	mux.HandleFunc(TokenInfoPath, h.ServeTokenInfo)
	mux.HandleFunc(RevocationPath, h.ServeTokenRevocation)
	mux.Handle(UserInfoPath, h.ValidateToken(http.HandlerFunc(h.ServeUserInfo)))
	mux.Handle(ClientInfoPath, h.ValidateToken(http.HandlerFunc(h.ServeClientInfo)))
	mux.HandleFunc(JWKSPath, h.ServeJWKS)
}

// Routes returns all endpoints behind the request ID middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.RequestIDMiddleware(mux)
}

// tracer returns nil when instrumentation is not enabled.
func (h *Handler) tracer() trace.Tracer {
	if inst := h.server.Instrumentation; inst != nil {
		return inst.Tracer("http")
	}
	return nil
}

func (h *Handler) startSpan(r *http.Request, name string) (*http.Request, trace.Span) {
	tracer := h.tracer()
	if tracer == nil {
		return r, nil
	}
	ctx, span := tracer.Start(r.Context(), name)
	return r.WithContext(ctx), span
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.server.Config.Security.TrustProxy, h.server.Config.Security.TrustedProxyCount)
}

// ServeAuthorization handles authorization requests (response_type=code).
// The redirect_uri must be the one registered for the client; when it is
// omitted the registered one is used. Errors are written to the caller and
// never redirected.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.authorization")
	if span != nil {
		defer span.End()
	}
	ctx := r.Context()

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	scope := query.Get("scope")
	state := query.Get("state")

	fail := func(e *OAuthError) {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, e.Status, startTime)
		instrumentation.RecordError(span, e)
		h.writeOAuthError(w, e)
	}

	if query.Get("response_type") != "code" {
		fail(NewOAuthError(ErrorCodeUnsupportedResponseType, "response_type must be code", http.StatusBadRequest))
		return
	}
	if clientID == "" {
		fail(ErrInvalidRequest("client_id is required"))
		return
	}

	client, err := h.server.Engine.LookupClient(ctx, clientID)
	if err != nil {
		h.logger.Warn("Authorization request for unknown client", "client_id", clientID, "ip", h.clientIP(r))
		fail(toOAuthError(err, NewOAuthError(ErrorCodeUnauthorizedClient, "Unknown client", http.StatusBadRequest)))
		return
	}

	// The code is bound to redirect_uri as requested, so a request that
	// omits it must omit it at the token endpoint too.
	target := redirectURI
	if target == "" {
		target = client.RedirectURI
	}
	if target != client.RedirectURI {
		h.logger.Warn("Authorization request with unregistered redirect_uri", "client_id", clientID, "ip", h.clientIP(r))
		fail(ErrInvalidRedirectURI("redirect_uri does not match the registered redirect URI"))
		return
	}

	owner, err := h.ownerResolver(r)
	if err != nil {
		if errors.Is(err, server.ErrAuthenticationFailed) {
			w.Header().Set("WWW-Authenticate", basicRealm)
			fail(ErrAccessDenied("Owner authentication required"))
			return
		}
		h.logger.Error("Failed to resolve resource owner", "client_id", clientID, "error", err)
		fail(ErrServerError("Failed to resolve resource owner"))
		return
	}

	instrumentation.AddOAuthFlowAttributes(span, clientID, owner.ID, scope)

	code, err := h.server.Engine.IssueAuthorizationCode(ctx, client, redirectURI, owner, scope)
	if err != nil {
		h.logger.Error("Failed to issue authorization code", "client_id", clientID, "error", err)
		fail(ErrServerError("Failed to issue authorization code"))
		return
	}

	location, err := url.Parse(target)
	if err != nil {
		fail(ErrInvalidRedirectURI("redirect_uri is not a valid URL"))
		return
	}
	params := location.Query()
	params.Set("code", code)
	if state != "" {
		params.Set("state", state)
	}
	location.RawQuery = params.Encode()

	h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, location.String(), http.StatusFound)
}

// basicAuthOwner authenticates the owner with HTTP Basic credentials
// against the owner directory.
func (h *Handler) basicAuthOwner(r *http.Request) (*storage.User, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, server.ErrAuthenticationFailed
	}
	return h.server.Engine.AuthenticateUser(r.Context(), username, password)
}

// ServeToken handles the token endpoint for the authorization_code,
// refresh_token and client_credentials grants. Every grant requires client
// authentication.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.token")
	if span != nil {
		defer span.End()
	}
	ctx := r.Context()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, r, clientIP) {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	fail := func(e *OAuthError) {
		h.recordHTTPMetrics(ctx, "token", r.Method, e.Status, startTime)
		instrumentation.RecordError(span, e)
		h.writeOAuthError(w, e)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.server.Config.Security.MaxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		fail(ErrInvalidRequest("Failed to parse request"))
		return
	}

	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken, server.GrantTypeClientCredentials:
	case "":
		fail(ErrInvalidRequest("grant_type is required"))
		return
	default:
		fail(ErrUnsupportedGrantType("Grant type " + grantType + " is not supported"))
		return
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))

	client, oauthErr := h.authenticateClient(r)
	if oauthErr != nil {
		h.logger.Warn("Client authentication failed", "ip", clientIP)
		fail(oauthErr)
		return
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, client.ClientID))

	var (
		tok      *oauth2.Token
		err      error
		rejected = ErrInvalidGrant("Grant is invalid, expired or revoked")
	)
	switch grantType {
	case server.GrantTypeAuthorizationCode:
		code := r.PostFormValue("code")
		if code == "" {
			fail(ErrInvalidRequest("code is required"))
			return
		}
		tok, err = h.server.Engine.ExchangeAuthorizationCode(ctx, client, code, r.PostFormValue("redirect_uri"))
	case server.GrantTypeRefreshToken:
		refreshToken := r.PostFormValue("refresh_token")
		if refreshToken == "" {
			fail(ErrInvalidRequest("refresh_token is required"))
			return
		}
		tok, err = h.server.Engine.RefreshAccessToken(ctx, client, refreshToken)
	case server.GrantTypeClientCredentials:
		tok, err = h.server.Engine.IssueClientCredentialsToken(ctx, client, r.PostFormValue("scope"))
	}
	if err != nil {
		// The engine has already logged and audited the specific reason.
		h.logger.Info("Token request rejected", "grant_type", grantType, "client_id", client.ClientID, "ip", clientIP, "kind", server.Kind(err))
		fail(toOAuthError(err, rejected))
		return
	}

	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, tok)
}

// ServeTokenInfo handles token introspection. The access token is read from
// the access_token parameter. A valid token yields its audience and
// remaining lifetime; anything else yields invalid_token.
func (h *Handler) ServeTokenInfo(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.tokeninfo")
	if span != nil {
		defer span.End()
	}
	ctx := r.Context()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "tokeninfo", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, h.server.Config.Security.MaxRequestBodySize)
	}

	accessToken := r.FormValue("access_token")
	if accessToken == "" {
		h.recordHTTPMetrics(ctx, "tokeninfo", r.Method, http.StatusBadRequest, startTime)
		h.writeOAuthError(w, ErrInvalidToken(""))
		return
	}

	info, err := h.server.Engine.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		e := toOAuthError(err, ErrInvalidToken(""))
		h.recordHTTPMetrics(ctx, "tokeninfo", r.Method, e.Status, startTime)
		instrumentation.RecordError(span, err)
		h.writeOAuthError(w, e)
		return
	}

	h.recordHTTPMetrics(ctx, "tokeninfo", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusOK, TokenInfoResponse{
		Audience:  info.Audience,
		ExpiresIn: info.ExpiresIn,
	})
}

// ServeTokenRevocation revokes the access or refresh token in the token
// parameter and answers with an empty object. Unknown, already revoked and
// malformed tokens yield invalid_token. Clients presenting HTTP Basic
// credentials must authenticate.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	r, span := h.startSpan(r, "oauth.http.revocation")
	if span != nil {
		defer span.End()
	}
	ctx := r.Context()

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, h.server.Config.Security.MaxRequestBodySize)
	}

	fail := func(e *OAuthError) {
		h.recordHTTPMetrics(ctx, "revoke", r.Method, e.Status, startTime)
		instrumentation.RecordError(span, e)
		h.writeOAuthError(w, e)
	}

	if clientID, secret, ok := r.BasicAuth(); ok {
		if _, err := h.server.Engine.AuthenticateClient(ctx, clientID, secret); err != nil {
			fail(toOAuthError(err, ErrInvalidClient("Client authentication failed")))
			return
		}
	}

	credential := r.FormValue("token")
	if credential == "" {
		fail(ErrInvalidToken(""))
		return
	}

	if err := h.server.Engine.RevokeToken(ctx, credential); err != nil {
		h.logger.Debug("Token revocation rejected", "ip", h.clientIP(r), "kind", server.Kind(err))
		fail(toOAuthError(err, ErrInvalidToken("")))
		return
	}

	h.recordHTTPMetrics(ctx, "revoke", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeJSON(w, http.StatusOK, RevocationResponse{})
}

// ValidateToken is middleware that validates the Bearer access token and
// stores its TokenInfo in the request context.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accessToken, ok := h.extractBearerToken(w, r)
		if !ok {
			return
		}

		info, err := h.server.Engine.ValidateAccessToken(r.Context(), accessToken)
		if err != nil {
			h.logger.Debug("Token validation failed", "ip", h.clientIP(r), "kind", server.Kind(err))
			e := toOAuthError(err, NewOAuthError(ErrorCodeInvalidToken, "Token validation failed", http.StatusUnauthorized))
			h.writeOAuthError(w, e)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithTokenInfo(r.Context(), info)))
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header.
// Returns the token and true if successful, or writes an error and returns false.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeOAuthError(w, NewOAuthError(ErrorCodeInvalidToken, "Missing Authorization header", http.StatusUnauthorized))
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		h.writeOAuthError(w, NewOAuthError(ErrorCodeInvalidToken, "Invalid Authorization header format", http.StatusUnauthorized))
		return "", false
	}

	return parts[1], true
}

// ServeUserInfo describes the owner of the presented access token.
// Tokens an application holds on its own behalf have no owner.
func (h *Handler) ServeUserInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := TokenInfoFromContext(r.Context())
	if !ok || info == nil {
		h.writeOAuthError(w, NewOAuthError(ErrorCodeInvalidToken, "Missing token", http.StatusUnauthorized))
		return
	}
	if info.User == nil {
		h.writeOAuthError(w, NewOAuthError(ErrorCodeInvalidToken, "Token is not bound to a user", http.StatusForbidden))
		return
	}

	h.writeJSON(w, http.StatusOK, UserInfoResponse{
		UserID: info.User.ID,
		Name:   info.User.Name,
		Scope:  info.Scope,
	})
}

// ServeClientInfo describes the application the presented access token was issued to.
func (h *Handler) ServeClientInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := TokenInfoFromContext(r.Context())
	if !ok || info == nil || info.Client == nil {
		h.writeOAuthError(w, NewOAuthError(ErrorCodeInvalidToken, "Missing token", http.StatusUnauthorized))
		return
	}

	h.writeJSON(w, http.StatusOK, ClientInfoResponse{
		ClientID: info.Client.ClientID,
		Name:     info.Client.Name,
		Scope:    info.Scope,
	})
}

// ServeJWKS publishes the credential verification key as a JSON Web Key Set.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := h.server.Codec.JWKS()
	if err != nil {
		h.logger.Error("Failed to encode key set", "error", err)
		h.writeOAuthError(w, ErrServerError("Failed to encode key set"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", jwksMaxAge)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}

// checkIPRateLimit checks if the client IP is rate limited. Returns true if limited.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, r *http.Request, clientIP string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.server.Auditor.LogRateLimitExceeded(r.Context(), clientIP, "")

	w.Header().Set("Retry-After", retryAfterSeconds)
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// authenticateClient authenticates the client with HTTP Basic credentials
// or, failing that, the client_id and client_secret form parameters.
func (h *Handler) authenticateClient(r *http.Request) (*storage.Client, *OAuthError) {
	clientID, secret, ok := r.BasicAuth()
	if !ok {
		clientID, secret = r.PostFormValue("client_id"), r.PostFormValue("client_secret")
	}
	if clientID == "" {
		return nil, ErrInvalidClient("Client authentication required")
	}

	client, err := h.server.Engine.AuthenticateClient(r.Context(), clientID, secret)
	if err != nil {
		return nil, toOAuthError(err, ErrInvalidClient("Client authentication failed"))
	}
	return client, nil
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, tok *oauth2.Token) {
	resp := TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		TokenType:    tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("Failed to write response", "error", err)
	}
}

func (h *Handler) writeOAuthError(w http.ResponseWriter, e *OAuthError) {
	h.writeError(w, e.Code, e.Description, e.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	if status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
		if code == ErrorCodeInvalidToken {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		} else {
			w.Header().Set("WWW-Authenticate", basicRealm)
		}
	}
	h.writeJSON(w, status, ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}
	duration := time.Since(startTime).Seconds() * 1000 // milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

type contextKey string

const tokenInfoKey contextKey = "token_info"

// TokenInfoFromContext retrieves the validated token set by ValidateToken.
func TokenInfoFromContext(ctx context.Context) (*server.TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey).(*server.TokenInfo)
	return info, ok
}

// ContextWithTokenInfo returns a context carrying info.
//
// WARNING: This function should ONLY be used for testing. In production the
// token info must only be set by the ValidateToken middleware.
func ContextWithTokenInfo(ctx context.Context, info *server.TokenInfo) context.Context {
	return context.WithValue(ctx, tokenInfoKey, info)
}
