package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-lifecycle/storage"
	"github.com/giantswarm/oauth-lifecycle/token"
)

// Fixture identities seeded by SeedDirectory.
const (
	TestClientRecordID = "app-1"
	TestClientID       = "test-client-id"
	TestClientSecret   = "test-client-secret"
	TestClientName     = "Test Client"
	TestRedirectURI    = "https://example.com/callback"

	TestUserID       = "user-1"
	TestUsername     = "alice"
	TestUserPassword = "correct horse battery staple"
	TestUserName     = "Alice Example"
)

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

var (
	rsaKeyOnce sync.Once
	rsaKey     *rsa.PrivateKey
	rsaKeyErr  error

	ecKeyOnce sync.Once
	ecKey     *ecdsa.PrivateKey
	ecKeyErr  error
)

// MustRSAKey returns a 2048-bit RSA key shared by every test in the binary.
func MustRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	rsaKeyOnce.Do(func() {
		rsaKey, rsaKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	if rsaKeyErr != nil {
		t.Fatalf("failed to generate RSA key: %v", rsaKeyErr)
	}
	return rsaKey
}

// MustECKey returns a P-256 key shared by every test in the binary.
func MustECKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	ecKeyOnce.Do(func() {
		ecKey, ecKeyErr = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	})
	if ecKeyErr != nil {
		t.Fatalf("failed to generate EC key: %v", ecKeyErr)
	}
	return ecKey
}

// NewTestCodec returns a codec signing with MustRSAKey and reading time from clock.
func NewTestCodec(t testing.TB, clock func() time.Time, opts ...token.Option) *token.Codec {
	t.Helper()
	if clock != nil {
		opts = append([]token.Option{token.WithClock(clock)}, opts...)
	}
	codec, err := token.NewCodec(MustRSAKey(t), opts...)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	return codec
}

// MustHash bcrypt-hashes secret at the minimum cost.
func MustHash(t testing.TB, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	return string(hash)
}

// GenerateTestClient creates the fixture application with a hashed TestClientSecret.
func GenerateTestClient(t testing.TB) *storage.Client {
	t.Helper()
	return &storage.Client{
		ID:               TestClientRecordID,
		Name:             TestClientName,
		ClientID:         TestClientID,
		ClientSecretHash: MustHash(t, TestClientSecret),
		RedirectURI:      TestRedirectURI,
		CreatedAt:        time.Now(),
	}
}

// GenerateTestUser creates the fixture owner with a hashed TestUserPassword.
func GenerateTestUser(t testing.TB) *storage.User {
	t.Helper()
	return &storage.User{
		ID:           TestUserID,
		Username:     TestUsername,
		PasswordHash: MustHash(t, TestUserPassword),
		Name:         TestUserName,
		CreatedAt:    time.Now(),
	}
}

// SeedDirectory registers the fixture application and owner.
func SeedDirectory(t testing.TB, clients storage.ClientStore, users storage.UserStore) (*storage.Client, *storage.User) {
	t.Helper()
	ctx := t.Context()

	client := GenerateTestClient(t)
	if err := clients.SaveClient(ctx, client); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	user := GenerateTestUser(t)
	if err := users.SaveUser(ctx, user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return client, user
}

// HTTPRequest is a helper for making test HTTP requests
type HTTPRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// NewHTTPRequest creates a new HTTP request helper
func NewHTTPRequest(method, url string) *HTTPRequest {
	return &HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// WithHeader adds a header to the request
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.Headers[key] = value
	return r
}

// WithBasicAuth sets an HTTP Basic Authorization header
func (r *HTTPRequest) WithBasicAuth(username, password string) *HTTPRequest {
	creds := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return r.WithHeader("Authorization", "Basic "+creds)
}

// WithBearer sets a Bearer Authorization header
func (r *HTTPRequest) WithBearer(token string) *HTTPRequest {
	return r.WithHeader("Authorization", "Bearer "+token)
}

// WithForm sets a form-encoded body
func (r *HTTPRequest) WithForm(body string) *HTTPRequest {
	r.Body = body
	return r.WithHeader("Content-Type", "application/x-www-form-urlencoded")
}

// Do executes the HTTP request
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.Method, r.URL, strings.NewReader(r.Body))
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}
