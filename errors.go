package oauth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/giantswarm/oauth-lifecycle/server"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidToken            = "invalid_token"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeInvalidRedirectURI      = "invalid_redirect_uri"
	ErrorCodeRateLimitExceeded       = "rate_limit_exceeded"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_request", "invalid_grant")
	Description string // Human-readable error description, may be empty
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common OAuth errors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrInvalidGrant indicates the authorization code or refresh token is invalid or expired
	ErrInvalidGrant = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
	}

	// ErrInvalidToken indicates a presented token is invalid, expired or revoked
	ErrInvalidToken = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusBadRequest)
	}

	// ErrUnsupportedGrantType indicates the grant type is not supported
	ErrUnsupportedGrantType = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
	}

	// ErrServerError indicates an internal server error occurred
	ErrServerError = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}

	// ErrAccessDenied indicates the owner could not be authenticated
	ErrAccessDenied = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusUnauthorized)
	}

	// ErrInvalidRedirectURI indicates the redirect URI is not the one registered for the client
	ErrInvalidRedirectURI = func(desc string) *OAuthError {
		return NewOAuthError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
	}
)

// toOAuthError maps an engine error to the error written to the client.
// Every credential failure collapses into rejected, so callers cannot tell
// which check failed. Only authentication failures and internal errors keep
// their own codes.
func toOAuthError(err error, rejected *OAuthError) *OAuthError {
	var oauthErr *OAuthError
	switch {
	case errors.As(err, &oauthErr):
		return oauthErr
	case errors.Is(err, server.ErrAuthenticationFailed):
		return ErrInvalidClient("Client authentication failed")
	case errors.Is(err, server.ErrNotFound),
		errors.Is(err, server.ErrExpired),
		errors.Is(err, server.ErrInvalidSignature),
		errors.Is(err, server.ErrBindingMismatch):
		return rejected
	default:
		return ErrServerError("Internal server error")
	}
}
