package server_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/internal/testutil"
	"github.com/giantswarm/oauth-lifecycle/security"
	"github.com/giantswarm/oauth-lifecycle/server"
	"github.com/giantswarm/oauth-lifecycle/storage"
)

func withAuditLog(t *testing.T, f *fixture) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	f.srv.SetAuditor(security.NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true))
	return &buf
}

func TestAudit_LifecycleEvents(t *testing.T) {
	f := setupTestServer(t)
	ctx := t.Context()
	buf := withAuditLog(t, f)

	tok, err := f.srv.ExchangeAuthorizationCode(ctx, f.client, f.issueCode(t, "offline_access"), testutil.TestRedirectURI)
	require.NoError(t, err)
	_, err = f.srv.RefreshAccessToken(ctx, f.client, tok.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, f.srv.RevokeToken(ctx, tok.AccessToken))
	_, err = f.srv.AuthenticateClient(ctx, testutil.TestClientID, "wrong")
	require.Error(t, err)

	out := buf.String()
	for _, event := range []string{
		security.EventCodeIssued,
		security.EventTokenIssued,
		security.EventTokenRefreshed,
		security.EventTokenRevoked,
		security.EventAuthFailure,
	} {
		assert.Contains(t, out, `"event_type":"`+event+`"`)
	}
	// Owner identifiers are hashed, credentials never appear.
	assert.NotContains(t, out, testutil.TestUserID)
	assert.NotContains(t, out, tok.AccessToken)
	assert.NotContains(t, out, tok.RefreshToken)
}

func TestAudit_RejectedExchange(t *testing.T) {
	f := setupTestServer(t)
	buf := withAuditLog(t, f)

	code := f.issueCode(t, "read")
	_, err := f.srv.ExchangeAuthorizationCode(t.Context(), f.client, code, "https://evil.example.com/callback")
	require.ErrorIs(t, err, server.ErrBindingMismatch)

	out := buf.String()
	assert.Contains(t, out, security.EventCodeExchangeFailed)
	assert.Contains(t, out, "binding_mismatch")
}

func TestAudit_PartialIssuance(t *testing.T) {
	f := setupTestServer(t)
	buf := withAuditLog(t, f)
	f.store.SaveRefreshTokenFunc = func(context.Context, *storage.RefreshToken) error {
		return errors.New("disk full")
	}

	_, err := f.srv.ExchangeAuthorizationCode(t.Context(), f.client, f.issueCode(t, "offline_access"), testutil.TestRedirectURI)
	require.ErrorIs(t, err, server.ErrInternal)

	out := buf.String()
	assert.Contains(t, out, security.EventPartialIssuance)
	assert.NotContains(t, out, `"event_type":"`+security.EventTokenIssued+`"`)
}

func TestInstrumentation_OperationFailuresByKind(t *testing.T) {
	f := setupTestServer(t)
	ctx := t.Context()

	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	require.NoError(t, err)
	f.srv.SetInstrumentation(inst)
	assert.Same(t, inst, f.srv.Instrumentation())

	code := f.issueCode(t, "read")
	tok, err := f.srv.ExchangeAuthorizationCode(ctx, f.client, code, testutil.TestRedirectURI)
	require.NoError(t, err)
	_, err = f.srv.ExchangeAuthorizationCode(ctx, f.client, code, testutil.TestRedirectURI)
	require.ErrorIs(t, err, server.ErrNotFound)
	_, err = f.srv.ValidateAccessToken(ctx, tok.AccessToken)
	require.NoError(t, err)
	_, err = f.srv.ValidateAccessToken(ctx, "garbage")
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	failures := map[string]int64{}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
				if m.Name != "oauth.operation.failures" {
					continue
				}
				op, _ := dp.Attributes.Value("operation")
				kind, _ := dp.Attributes.Value("kind")
				failures[op.AsString()+"/"+kind.AsString()] += dp.Value
			}
		}
	}

	assert.Equal(t, int64(1), totals["oauth.code.issued"])
	assert.Equal(t, int64(1), totals["oauth.code.exchanged"])
	assert.Equal(t, int64(2), totals["oauth.token.validated"])
	assert.Equal(t, int64(1), failures["exchange_authorization_code/not_found"])
	assert.Equal(t, int64(1), failures["validate_access_token/invalid_signature"])
	assert.Len(t, failures, 2)
}
