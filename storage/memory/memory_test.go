package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/oauth-lifecycle/instrumentation"
	"github.com/giantswarm/oauth-lifecycle/storage"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestStore_AuthorizationCodeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	code := &storage.AuthorizationCode{
		ID:          "code-1",
		ClientID:    "app-1",
		RedirectURI: "https://app.example.com/cb",
		UserID:      "user-1",
		Scope:       "read",
		ExpiresAt:   testNow.Add(5 * time.Minute),
	}
	if err := s.SaveAuthorizationCode(ctx, code); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}

	err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{ID: "code-1"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("second save error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetAuthorizationCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if got.RedirectURI != code.RedirectURI || got.UserID != "user-1" {
		t.Errorf("GetAuthorizationCode() = %+v", got)
	}

	deleted, err := s.DeleteAuthorizationCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("DeleteAuthorizationCode() error = %v", err)
	}
	if deleted.ID != "code-1" {
		t.Errorf("deleted.ID = %q", deleted.ID)
	}

	if _, err := s.DeleteAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("get after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_SaveRejectsEmptyID(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{}); err == nil {
		t.Error("SaveAuthorizationCode accepted an empty id")
	}
	if err := s.SaveAccessToken(ctx, nil); err == nil {
		t.Error("SaveAccessToken accepted nil")
	}
	if err := s.SaveRefreshToken(ctx, &storage.RefreshToken{}); err == nil {
		t.Error("SaveRefreshToken accepted an empty id")
	}
}

func TestStore_RecordsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()

	token := &storage.AccessToken{ID: "at-1", ClientID: "app-1", Scope: "read", ExpiresAt: testNow}
	if err := s.SaveAccessToken(ctx, token); err != nil {
		t.Fatal(err)
	}
	token.Scope = "admin"

	got, _ := s.GetAccessToken(ctx, "at-1")
	if got.Scope != "read" {
		t.Errorf("stored record changed through caller pointer: scope = %q", got.Scope)
	}
	got.Scope = "admin"

	again, _ := s.GetAccessToken(ctx, "at-1")
	if again.Scope != "read" {
		t.Errorf("stored record changed through returned pointer: scope = %q", again.Scope)
	}
}

func TestStore_ConcurrentDeleteHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.SaveRefreshToken(ctx, &storage.RefreshToken{ID: "rt-1", ClientID: "app-1"}); err != nil {
		t.Fatal(err)
	}

	var wins, misses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DeleteRefreshToken(ctx, "rt-1")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, storage.ErrNotFound):
				misses.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || misses.Load() != 63 {
		t.Errorf("wins = %d, misses = %d, want 1 and 63", wins.Load(), misses.Load())
	}
}

func TestStore_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := New()

	tokens := []*storage.AccessToken{
		{ID: "past", ExpiresAt: testNow.Add(-time.Second)},
		{ID: "boundary", ExpiresAt: testNow},
		{ID: "future", ExpiresAt: testNow.Add(time.Second)},
	}
	for _, tok := range tokens {
		if err := s.SaveAccessToken(ctx, tok); err != nil {
			t.Fatal(err)
		}
	}
	codes := []*storage.AuthorizationCode{
		{ID: "code-old", ExpiresAt: testNow.Add(-time.Minute)},
		{ID: "code-new", ExpiresAt: testNow.Add(time.Minute)},
	}
	for _, c := range codes {
		if err := s.SaveAuthorizationCode(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := s.DeleteExpiredAccessTokens(ctx, testNow)
	if err != nil {
		t.Fatalf("DeleteExpiredAccessTokens() error = %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %d access tokens, want 2", len(removed))
	}
	if _, err := s.GetAccessToken(ctx, "boundary"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("token expiring exactly now must be swept")
	}
	if _, err := s.GetAccessToken(ctx, "future"); err != nil {
		t.Errorf("unexpired token swept: %v", err)
	}

	removedCodes, err := s.DeleteExpiredAuthorizationCodes(ctx, testNow)
	if err != nil {
		t.Fatalf("DeleteExpiredAuthorizationCodes() error = %v", err)
	}
	if len(removedCodes) != 1 || removedCodes[0].ID != "code-old" {
		t.Errorf("removed codes = %v", removedCodes)
	}
}

func TestStore_Directories(t *testing.T) {
	ctx := context.Background()
	s := New()

	client := &storage.Client{ID: "app-1", ClientID: "ext-1", Name: "App", RedirectURI: "https://app/cb"}
	if err := s.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	if err := s.SaveClient(ctx, &storage.Client{ID: "app-2", ClientID: "ext-1"}); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Errorf("duplicate client_id error = %v, want ErrAlreadyExists", err)
	}

	byID, err := s.GetClient(ctx, "app-1")
	if err != nil || byID.ClientID != "ext-1" {
		t.Errorf("GetClient() = %+v, %v", byID, err)
	}
	byExternal, err := s.GetClientByClientID(ctx, "ext-1")
	if err != nil || byExternal.ID != "app-1" {
		t.Errorf("GetClientByClientID() = %+v, %v", byExternal, err)
	}
	if _, err := s.GetClientByClientID(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown client_id error = %v, want ErrNotFound", err)
	}

	user := &storage.User{ID: "user-1", Username: "alice", Name: "Alice"}
	if err := s.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}
	got, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || got.ID != "user-1" {
		t.Errorf("GetUserByUsername() = %+v, %v", got, err)
	}
	if _, err := s.GetUser(ctx, "user-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}

func TestStore_Instrumentation(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:       true,
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	})
	if err != nil {
		t.Fatal(err)
	}

	s := New()
	s.SetInstrumentation(inst)

	_ = s.SaveAccessToken(ctx, &storage.AccessToken{ID: "a", ExpiresAt: testNow})
	_ = s.SaveAccessToken(ctx, &storage.AccessToken{ID: "b", ExpiresAt: testNow})
	_ = s.SaveRefreshToken(ctx, &storage.RefreshToken{ID: "r"})
	_, _ = s.GetAccessToken(ctx, "missing")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatal(err)
	}

	gauges := map[string]int64{}
	var operations int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Gauge[int64]:
				gauges[m.Name] = data.DataPoints[0].Value
			case metricdata.Sum[int64]:
				if m.Name == "storage.operation.total" {
					for _, dp := range data.DataPoints {
						operations += dp.Value
					}
				}
			}
		}
	}

	if gauges["storage.size.access_tokens"] != 2 {
		t.Errorf("access token gauge = %d, want 2", gauges["storage.size.access_tokens"])
	}
	if gauges["storage.size.refresh_tokens"] != 1 {
		t.Errorf("refresh token gauge = %d, want 1", gauges["storage.size.refresh_tokens"])
	}
	if operations != 4 {
		t.Errorf("storage operations = %d, want 4", operations)
	}
}
