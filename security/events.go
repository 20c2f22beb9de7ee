package security

// Audit event types.
const (
	// EventCodeIssued is logged when an authorization code is granted to an application
	EventCodeIssued = "authorization_code_issued"

	// EventCodeExchangeFailed is logged when a presented authorization code is rejected.
	// The code is consumed regardless.
	EventCodeExchangeFailed = "authorization_code_exchange_failed"

	// EventTokenIssued is logged when an access token (and possibly a refresh token) is issued
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is exchanged for a new access token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a credential is revoked
	EventTokenRevoked = "token_revoked"

	// EventPartialIssuance is logged when the access token was persisted but the
	// refresh token was not, leaving a usable access token behind a failed request
	EventPartialIssuance = "partial_issuance"

	// EventAuthFailure is logged when client or owner authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a caller exceeds the token endpoint limit
	EventRateLimitExceeded = "rate_limit_exceeded"
)
