package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
)

// Auditor writes security events to a structured log. Owner identifiers are
// hashed before they are written.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
	now     func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetMetrics counts every logged event in oauth.audit.events.total.
func (a *Auditor) SetMetrics(m *instrumentation.Metrics) {
	a.metrics = m
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event. A nil Auditor is a no-op.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()
	if event.RequestID == "" {
		event.RequestID = GetRequestID(ctx)
	}

	a.logger.InfoContext(ctx, "security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(ctx, event.Type)
	}
}

// LogTokenIssued logs an issuance. refresh reports whether a refresh token was issued too.
func (a *Auditor) LogTokenIssued(ctx context.Context, userID, clientID, scope, grantType string, refresh bool) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenIssued,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope":         scope,
			"grant_type":    grantType,
			"refresh_token": refresh,
		},
	})
}

// LogTokenRefreshed logs a refresh token exchange
func (a *Auditor) LogTokenRefreshed(ctx context.Context, userID, clientID string) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenRefreshed,
		UserID:   userID,
		ClientID: clientID,
	})
}

// LogTokenRevoked logs a revocation. tokenType is the store the record was removed from.
func (a *Auditor) LogTokenRevoked(ctx context.Context, userID, clientID, tokenType string) {
	a.LogEvent(ctx, Event{
		Type:     EventTokenRevoked,
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogAuthFailure logs an authentication or validation failure
func (a *Auditor) LogAuthFailure(ctx context.Context, userID, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress, clientID string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// hashForLogging returns a truncated SHA-256 of sensitive so events stay correlatable
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
