package oauth

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/internal/testutil"
	"github.com/giantswarm/oauth-lifecycle/server"
	"github.com/giantswarm/oauth-lifecycle/storage/memory"
)

const testIssuer = "https://auth.example.com"

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, configure func(*Config)) (*Server, *memory.Store, *testutil.MockTime) {
	t.Helper()

	clock := testutil.NewMockTime(epoch)
	codec := testutil.NewTestCodec(t, clock.Now)
	store := memory.New()

	config := &Config{
		Issuer:    testIssuer,
		Lifecycle: server.Config{Clock: clock.Now},
		Logger:    slog.New(slog.DiscardHandler),
	}
	if configure != nil {
		configure(config)
	}

	srv, err := NewServer(codec, store, config)
	require.NoError(t, err)
	return srv, store, clock
}

func TestNewServer(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	assert.NotNil(t, srv.Engine)
	assert.NotNil(t, srv.Auditor)
	assert.NotNil(t, srv.RateLimiter)
	assert.Equal(t, DefaultSweepInterval, srv.Config.SweepInterval)
	assert.Equal(t, int64(server.DefaultAccessTokenTTL), srv.Engine.Config.AccessTokenTTL)
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	codec := testutil.NewTestCodec(t, nil)

	_, err := NewServer(nil, memory.New(), nil)
	assert.ErrorContains(t, err, "codec is required")

	_, err = NewServer(codec, nil, nil)
	assert.ErrorContains(t, err, "store is required")

	srv, err := NewServer(codec, memory.New(), nil)
	require.NoError(t, err)
	assert.NotNil(t, srv.Config.Logger)
}

func TestNewServer_RateLimitDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) {
		c.RateLimit.Disabled = true
	})
	assert.Nil(t, srv.RateLimiter)
}

func TestServer_SweepEvictsExpiredRecords(t *testing.T) {
	srv, store, clock := newTestServer(t, nil)
	ctx := t.Context()
	client, user := testutil.SeedDirectory(t, store, store)

	_, err := srv.Engine.IssueAuthorizationCode(ctx, client, testutil.TestRedirectURI, user, "read")
	require.NoError(t, err)
	_, err = srv.Engine.IssueClientCredentialsToken(ctx, client, "read")
	require.NoError(t, err)

	removed, err := srv.Sweeper().SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed, "nothing has expired yet")

	clock.Advance(2 * time.Hour)

	removed, err = srv.Sweeper().SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestServer_StartStop(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) {
		c.SweepInterval = time.Millisecond
	})

	require.NoError(t, srv.Start(t.Context()))
	assert.Error(t, srv.Start(t.Context()), "starting twice should fail")

	srv.Stop()
	srv.Stop()

	require.NoError(t, srv.Start(t.Context()), "a stopped sweeper can be restarted")
	srv.Stop()
}

func TestServer_SetInstrumentation(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	inst, err := instrumentation.New(instrumentation.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Shutdown(t.Context()) })

	srv.SetInstrumentation(inst)

	assert.Same(t, inst, srv.Instrumentation)
	assert.Same(t, inst, srv.Engine.Instrumentation())
}

func TestServer_SetInstrumentationAfterSweeperCreated(t *testing.T) {
	srv, store, clock := newTestServer(t, nil)
	ctx := t.Context()
	client, _ := testutil.SeedDirectory(t, store, store)

	sweeper := srv.Sweeper()

	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	require.NoError(t, err)
	srv.SetInstrumentation(inst)

	_, err = srv.Engine.IssueClientCredentialsToken(ctx, client, "read")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	removed, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var runs int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "storage.sweep.runs" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				runs += dp.Value
			}
		}
	}
	assert.Positive(t, runs, "sweeps after SetInstrumentation are recorded")
}

func TestServer_RestartAfterContextCancel(t *testing.T) {
	srv, _, _ := newTestServer(t, func(c *Config) {
		c.SweepInterval = time.Millisecond
	})

	ctx, cancel := context.WithCancel(t.Context())
	require.NoError(t, srv.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		return srv.Start(t.Context()) == nil
	}, 2*time.Second, 5*time.Millisecond, "sweeper should restart once its context is done")
	srv.Stop()
}
