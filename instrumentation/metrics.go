package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the credential lifecycle
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Lifecycle Metrics
	CodeIssued       metric.Int64Counter
	CodeExchanged    metric.Int64Counter
	TokenIssued      metric.Int64Counter
	TokenRefreshed   metric.Int64Counter
	TokenValidated   metric.Int64Counter
	TokenRevoked     metric.Int64Counter
	OperationFailure metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	AuthFailures      metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageSizeCodes         metric.Int64ObservableGauge
	StorageSizeAccessTokens  metric.Int64ObservableGauge
	StorageSizeRefreshTokens metric.Int64ObservableGauge

	// Sweeper Metrics
	SweepRuns    metric.Int64Counter
	SweepRemoved metric.Int64Counter

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
}

type counterSpec struct {
	dst         *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")
	securityMeter := inst.Meter("security")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.CodeIssued, serverMeter, "oauth.code.issued", "Number of authorization codes issued", "{code}"},
		{&m.CodeExchanged, serverMeter, "oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"},
		{&m.TokenIssued, serverMeter, "oauth.token.issued", "Number of credentials minted and stored", "{token}"},
		{&m.TokenRefreshed, serverMeter, "oauth.token.refreshed", "Number of refresh token exchanges", "{refresh}"},
		{&m.TokenValidated, serverMeter, "oauth.token.validated", "Number of access token validations", "{validation}"},
		{&m.TokenRevoked, serverMeter, "oauth.token.revoked", "Number of tokens revoked", "{revocation}"},
		{&m.OperationFailure, serverMeter, "oauth.operation.failures", "Number of failed lifecycle operations by error kind", "{failure}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.AuthFailures, securityMeter, "oauth.auth.failures", "Number of failed client or owner authentications", "{failure}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Total number of storage operations", "{operation}"},
		{&m.SweepRuns, storageMeter, "storage.sweep.runs", "Number of expiry sweeps executed", "{run}"},
		{&m.SweepRemoved, storageMeter, "storage.sweep.removed", "Number of expired records removed by sweeps", "{record}"},
		{&m.AuditEventsTotal, securityMeter, "oauth.audit.events.total", "Total number of audit events", "{event}"},
		{&m.EncryptionOperationsTotal, securityMeter, "oauth.encryption.operations.total", "Total number of encryption/decryption operations", "{operation}"},
	}
	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageSizeCodes, err = storageMeter.Int64ObservableGauge(
		"storage.size.codes",
		metric.WithDescription("Number of authorization code records held"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.codes gauge: %w", err)
	}

	m.StorageSizeAccessTokens, err = storageMeter.Int64ObservableGauge(
		"storage.size.access_tokens",
		metric.WithDescription("Number of access token records held"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.access_tokens gauge: %w", err)
	}

	m.StorageSizeRefreshTokens, err = storageMeter.Int64ObservableGauge(
		"storage.size.refresh_tokens",
		metric.WithDescription("Number of refresh token records held"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.size.refresh_tokens gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordCodeIssued records an authorization code being issued
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodeIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordCodeExchange records an authorization code exchange
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID string, offline bool) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("offline_access", offline),
	))
}

// RecordTokenIssued records a minted credential. kind is "access_token" or "refresh_token".
func (m *Metrics) RecordTokenIssued(ctx context.Context, kind, grantType string) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("grant_type", grantType),
	))
}

// RecordTokenRefresh records a refresh token exchange
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordTokenValidation records an access token validation and its outcome
func (m *Metrics) RecordTokenValidation(ctx context.Context, valid bool) {
	m.TokenValidated.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}

// RecordTokenRevocation records a token revocation. kind is the store the record was removed from.
func (m *Metrics) RecordTokenRevocation(ctx context.Context, kind string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordOperationFailure records a failed lifecycle operation
func (m *Metrics) RecordOperationFailure(ctx context.Context, operation, kind string) {
	m.OperationFailure.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("kind", kind),
	))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("limiter_type", limiterType)))
}

// RecordAuthFailure records a failed client or owner authentication
func (m *Metrics) RecordAuthFailure(ctx context.Context, principal string) {
	m.AuthFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("principal", principal)))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordSweep records one sweep pass over a store and how many records it removed
func (m *Metrics) RecordSweep(ctx context.Context, store string, removed int, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SweepRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("result", result),
	))
	if removed > 0 {
		m.SweepRemoved.Add(ctx, int64(removed), metric.WithAttributes(attribute.String("store", store)))
	}
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordEncryptionOperation records an encryption/decryption operation
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string) {
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}
