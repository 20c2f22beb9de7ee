package token_test

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/giantswarm/oauth-lifecycle/internal/testutil"
	"github.com/giantswarm/oauth-lifecycle/token"
)

var mintTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCodec_MintVerify(t *testing.T) {
	clock := testutil.NewMockTime(mintTime)
	codec := testutil.NewTestCodec(t, clock.Now, token.WithIssuer("https://auth.example.com"))

	raw, minted, err := codec.Mint("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if minted.ID == "" {
		t.Fatal("Mint() returned empty identifier")
	}
	if !minted.ExpiresAt.Equal(mintTime.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", minted.ExpiresAt, mintTime.Add(time.Hour))
	}

	claims, err := codec.Verify(raw)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.ID != minted.ID {
		t.Errorf("ID = %q, want %q", claims.ID, minted.ID)
	}
	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want user-1", claims.Subject)
	}
	if claims.Issuer != "https://auth.example.com" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
	if !claims.IssuedAt.Equal(mintTime) {
		t.Errorf("IssuedAt = %v, want %v", claims.IssuedAt, mintTime)
	}
}

func TestCodec_ExpiryBoundary(t *testing.T) {
	clock := testutil.NewMockTime(mintTime)
	codec := testutil.NewTestCodec(t, clock.Now)

	raw, _, err := codec.Mint("user-1", 60*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{"just minted", 0, nil},
		{"one nanosecond before expiry", 60*time.Second - time.Nanosecond, nil},
		{"exactly at expiry", 60 * time.Second, token.ErrExpired},
		{"after expiry", 61 * time.Second, token.ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock.Set(mintTime.Add(tt.advance))
			_, err := codec.Verify(raw)
			if tt.wantErr == nil && err != nil {
				t.Errorf("Verify() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCodec_ZeroTTLIsImmediatelyExpired(t *testing.T) {
	codec := testutil.NewTestCodec(t, func() time.Time { return mintTime })

	raw, _, err := codec.Mint("user-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Verify(raw); !errors.Is(err, token.ErrExpired) {
		t.Errorf("Verify() error = %v, want ErrExpired", err)
	}
}

func TestCodec_RejectsTampering(t *testing.T) {
	codec := testutil.NewTestCodec(t, func() time.Time { return mintTime })
	raw, _, err := codec.Mint("user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(raw, ".")

	otherKey, err := token.GenerateSigningKey()
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := token.NewCodec(otherKey, token.WithClock(func() time.Time { return mintTime }))
	if err != nil {
		t.Fatal(err)
	}
	foreignRaw, _, err := foreign.Mint("user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	foreignParts := strings.Split(foreignRaw, ".")

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not-a-credential"},
		{"truncated", parts[0] + "." + parts[1]},
		{"swapped payload", parts[0] + "." + foreignParts[1] + "." + parts[2]},
		{"foreign key", foreignRaw},
		{"flipped signature", parts[0] + "." + parts[1] + "." + flip(parts[2])},
		{"alg none", noneToken(parts[1])},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Verify(tt.raw); !errors.Is(err, token.ErrInvalidSignature) {
				t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
			}
		})
	}
}

func TestCodec_IssuerMismatch(t *testing.T) {
	key := testutil.MustRSAKey(t)
	clock := func() time.Time { return mintTime }

	minter, err := token.NewCodec(key, token.WithClock(clock), token.WithIssuer("https://a.example.com"))
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := token.NewCodec(key, token.WithClock(clock), token.WithIssuer("https://b.example.com"))
	if err != nil {
		t.Fatal(err)
	}

	raw, _, err := minter.Mint("user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(raw); !errors.Is(err, token.ErrInvalidSignature) {
		t.Errorf("Verify() error = %v, want ErrInvalidSignature", err)
	}
}

func TestCodec_IdentifiersAreUnique(t *testing.T) {
	codec := testutil.NewTestCodec(t, nil)

	const n = 10000
	seen := make(map[string]struct{}, n)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n/8; i++ {
				_, claims, err := codec.Mint("user-1", time.Hour)
				if err != nil {
					t.Errorf("Mint() error = %v", err)
					return
				}
				mu.Lock()
				seen[claims.ID] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("got %d distinct identifiers from %d mints", len(seen), n)
	}
}

func TestCodec_PeekIdentifier(t *testing.T) {
	codec := testutil.NewTestCodec(t, func() time.Time { return mintTime })
	raw, claims, err := codec.Mint("user-1", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if got := codec.PeekIdentifier(raw); got != claims.ID {
		t.Errorf("PeekIdentifier() = %q, want %q", got, claims.ID)
	}
	if got := codec.PeekIdentifier("garbage"); got != "" {
		t.Errorf("PeekIdentifier(garbage) = %q, want empty", got)
	}
}

func TestCodec_VerificationOnly(t *testing.T) {
	key := testutil.MustRSAKey(t)
	clock := func() time.Time { return mintTime }

	signer, err := token.NewCodec(key, token.WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	verifier, err := token.NewCodec(nil, token.WithClock(clock), token.WithVerificationKey(&key.PublicKey))
	if err != nil {
		t.Fatalf("NewCodec(verify-only) error = %v", err)
	}

	raw, _, err := signer.Mint("user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.Verify(raw); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
	if _, _, err := verifier.Mint("user-1", time.Hour); !errors.Is(err, token.ErrNoSigningKey) {
		t.Errorf("Mint() on verify-only codec error = %v, want ErrNoSigningKey", err)
	}
	if signer.KeyID() != verifier.KeyID() {
		t.Error("signer and verifier disagree on key id")
	}

	if _, err := token.NewCodec(nil); err == nil {
		t.Error("NewCodec(nil) without verification key should fail")
	}
}

func TestCodec_ECKeys(t *testing.T) {
	codec, err := token.NewCodec(testutil.MustECKey(t), token.WithClock(func() time.Time { return mintTime }))
	if err != nil {
		t.Fatalf("NewCodec(EC) error = %v", err)
	}
	raw, _, err := codec.Mint("user-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Verify(raw); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestCodec_JWKS(t *testing.T) {
	key := testutil.MustRSAKey(t)
	codec := testutil.NewTestCodec(t, nil)

	data, err := codec.JWKS()
	if err != nil {
		t.Fatalf("JWKS() error = %v", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		t.Fatalf("JWKS() is not a key set: %v", err)
	}
	if len(set.Keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(set.Keys))
	}
	jwk := set.Keys[0]
	if jwk.KeyID != codec.KeyID() || jwk.Algorithm != "RS256" || jwk.Use != "sig" {
		t.Errorf("unexpected key metadata: kid=%q alg=%q use=%q", jwk.KeyID, jwk.Algorithm, jwk.Use)
	}
	pub, ok := jwk.Key.(*rsa.PublicKey)
	if !ok || !pub.Equal(&key.PublicKey) {
		t.Error("published key does not match signing key")
	}
	if strings.Contains(string(data), `"d"`) {
		t.Error("key set leaks private key material")
	}
}

func flip(s string) string {
	b := []byte(s)
	if b[0] == 'A' {
		b[0] = 'B'
	} else {
		b[0] = 'A'
	}
	return string(b)
}

func noneToken(payload string) string {
	// {"alg":"none","typ":"JWT"}
	return "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + payload + "."
}
