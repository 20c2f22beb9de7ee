package server

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-lifecycle/storage"
	"github.com/giantswarm/oauth-lifecycle/token"
)

func TestRequireExists(t *testing.T) {
	record := &storage.AccessToken{ID: "tok-1"}

	tests := []struct {
		name    string
		record  *storage.AccessToken
		err     error
		wantErr error
	}{
		{"found", record, nil, nil},
		{"not found", nil, fmt.Errorf("%w: access token tok-1", storage.ErrNotFound), ErrNotFound},
		{"nil without error", nil, nil, ErrNotFound},
		{"store failure", nil, errors.New("connection refused"), ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := requireExists(tt.record, tt.err)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("requireExists() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && got != record {
				t.Errorf("requireExists() = %v, want input record", got)
			}
		})
	}
}

func TestRequireUnexpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		wantErr   bool
	}{
		{"future", now.Add(time.Second), false},
		{"one nanosecond left", now.Add(time.Nanosecond), false},
		{"exactly now", now, true},
		{"past", now.Add(-time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireUnexpired(tt.expiresAt, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("requireUnexpired() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrExpired) {
				t.Errorf("requireUnexpired() error = %v, want ErrExpired", err)
			}
		})
	}
}

func TestRequireApplicationMatch(t *testing.T) {
	client := &storage.Client{ID: "app-1", ClientID: "external-1"}

	if err := requireApplicationMatch("app-1", client); err != nil {
		t.Errorf("requireApplicationMatch() unexpected error = %v", err)
	}
	// The record holds the internal id, never the external client_id.
	if err := requireApplicationMatch("external-1", client); !errors.Is(err, ErrBindingMismatch) {
		t.Errorf("requireApplicationMatch(external id) error = %v, want ErrBindingMismatch", err)
	}
	if err := requireApplicationMatch("app-1", nil); !errors.Is(err, ErrBindingMismatch) {
		t.Errorf("requireApplicationMatch(nil client) error = %v, want ErrBindingMismatch", err)
	}
}

func TestRequireRedirectMatch(t *testing.T) {
	tests := []struct {
		name     string
		recorded string
		given    string
		wantErr  bool
	}{
		{"exact", "https://example.com/cb", "https://example.com/cb", false},
		{"trailing slash", "https://example.com/cb", "https://example.com/cb/", true},
		{"different host", "https://example.com/cb", "https://evil.com/cb", true},
		{"missing", "https://example.com/cb", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireRedirectMatch(tt.recorded, tt.given)
			if (err != nil) != tt.wantErr {
				t.Errorf("requireRedirectMatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBindingMismatch) {
				t.Errorf("requireRedirectMatch() error = %v, want ErrBindingMismatch", err)
			}
		})
	}
}

func TestRequireOwnerMatch(t *testing.T) {
	claims := &token.Claims{ID: "jti", Subject: "user-1"}

	if err := requireOwnerMatch(claims, "user-1"); err != nil {
		t.Errorf("requireOwnerMatch() unexpected error = %v", err)
	}
	if err := requireOwnerMatch(claims, "user-2"); !errors.Is(err, ErrBindingMismatch) {
		t.Errorf("requireOwnerMatch() error = %v, want ErrBindingMismatch", err)
	}
}

func TestRequireCredentialsMatch(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}

	tests := []struct {
		name    string
		secret  string
		hash    string
		wantErr bool
	}{
		{"match", "s3cret", string(hash), false},
		{"mismatch", "S3cret", string(hash), true},
		{"empty secret", "", string(hash), true},
		{"no hash", "s3cret", "", true},
		{"corrupt hash", "s3cret", "not-bcrypt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireCredentialsMatch(tt.secret, tt.hash)
			if (err != nil) != tt.wantErr {
				t.Fatalf("requireCredentialsMatch() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("requireCredentialsMatch() error = %v, want ErrAuthenticationFailed", err)
			}
		})
	}
}

func TestDummyHashIsValidBcrypt(t *testing.T) {
	if _, err := bcrypt.Cost([]byte(dummyHash)); err != nil {
		t.Fatalf("dummyHash is not a bcrypt hash: %v", err)
	}
}

type stubVerifier struct {
	claims *token.Claims
	err    error
}

func (s stubVerifier) Mint(string, time.Duration) (string, *token.Claims, error) {
	return "", nil, errors.New("not implemented")
}
func (s stubVerifier) Verify(string) (*token.Claims, error) { return s.claims, s.err }
func (s stubVerifier) PeekIdentifier(string) string         { return "" }

func TestRequireValidSignature(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"valid", nil, nil},
		{"expired", fmt.Errorf("%w: token is expired", token.ErrExpired), ErrExpired},
		{"bad signature", token.ErrInvalidSignature, ErrInvalidSignature},
		{"anything else", errors.New("boom"), ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec := stubVerifier{claims: &token.Claims{ID: "jti"}, err: tt.err}
			claims, err := requireValidSignature(codec, "raw")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("requireValidSignature() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && claims.ID != "jti" {
				t.Errorf("requireValidSignature() claims = %+v", claims)
			}
		})
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotFound, "not_found"},
		{fmt.Errorf("%w: wrapped", ErrExpired), "expired"},
		{ErrInvalidSignature, "invalid_signature"},
		{ErrBindingMismatch, "binding_mismatch"},
		{ErrAuthenticationFailed, "authentication_failed"},
		{ErrInternal, "internal"},
		{errors.New("unknown"), "internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(&Config{AccessTokenTTL: 60})

	if cfg.AccessTokenTTL != 60 {
		t.Errorf("AccessTokenTTL = %d, want 60", cfg.AccessTokenTTL)
	}
	if cfg.AuthorizationCodeTTL != DefaultAuthorizationCodeTTL {
		t.Errorf("AuthorizationCodeTTL = %d, want %d", cfg.AuthorizationCodeTTL, DefaultAuthorizationCodeTTL)
	}
	if cfg.RefreshTokenTTL != DefaultRefreshTokenTTL {
		t.Errorf("RefreshTokenTTL = %d, want %d", cfg.RefreshTokenTTL, DefaultRefreshTokenTTL)
	}
	if cfg.OfflineAccessScope != DefaultOfflineAccessScope {
		t.Errorf("OfflineAccessScope = %q, want %q", cfg.OfflineAccessScope, DefaultOfflineAccessScope)
	}
	if cfg.Clock == nil {
		t.Error("Clock should default to time.Now")
	}
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		expiresAt time.Time
		want      int64
	}{
		{now.Add(time.Hour), 3600},
		{now.Add(3599*time.Second + 999*time.Millisecond), 3599},
		{now.Add(time.Millisecond), 0},
		{now, 0},
		{now.Add(-time.Hour), 0},
	}
	for _, tt := range tests {
		if got := remainingSeconds(tt.expiresAt, now); got != tt.want {
			t.Errorf("remainingSeconds(%v) = %d, want %d", tt.expiresAt.Sub(now), got, tt.want)
		}
	}
}
