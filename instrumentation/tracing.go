package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
//
// Never record credential strings (codes, access or refresh tokens, client
// secrets) as attribute values. Credential identifiers (jti) are safe: they
// are lookup keys and cannot be presented in place of the credential.
const (
	AttrClientID    = "oauth.client_id"
	AttrUserID      = "oauth.user_id"
	AttrScope       = "oauth.scope"
	AttrGrantType   = "oauth.grant_type"
	AttrTokenID     = "oauth.token.id" //nolint:gosec // identifier claim, not a credential
	AttrTokenKind   = "oauth.token.kind"
	AttrOffline     = "oauth.offline_access"
	AttrExpiresIn   = "oauth.expires_in"
	AttrErrorKind   = "oauth.error.kind"
	AttrRedirectURI = "oauth.redirect_uri"

	AttrStorageOperation = "storage.operation"
	AttrStorageType      = "storage.type"
	AttrStorageRemoved   = "storage.removed"

	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"

	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds client, user and scope attributes, skipping empty values
func AddOAuthFlowAttributes(span trace.Span, clientID, userID, scope string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// AddSecurityAttributes adds the client IP to a span. Check ShouldLogClientIPs first.
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
