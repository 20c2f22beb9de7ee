package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an identifier.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when saving under an identifier that is
	// already taken. Stores never overwrite.
	ErrAlreadyExists = errors.New("record already exists")
)

// AuthorizationCode is the server-side record of an issued authorization code.
type AuthorizationCode struct {
	// ID is the jti of the signed code.
	ID string `json:"id"`
	// ClientID is the Client.ID of the application the code was granted to.
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	UserID      string    `json:"user_id"`
	Scope       string    `json:"scope"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AccessToken is the server-side record of an issued access token.
type AccessToken struct {
	ID string `json:"id"`
	// UserID is empty for tokens issued to an application on its own behalf.
	UserID    string    `json:"user_id,omitempty"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RefreshToken is the server-side record of an issued refresh token. It has
// no stored expiry and lives until revoked; the signed credential still
// carries a long absolute horizon.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is a registered application.
type Client struct {
	// ID is the internal application identifier records are bound to.
	ID   string `json:"id"`
	Name string `json:"name"`
	// ClientID is the external identifier the application presents.
	ClientID         string    `json:"client_id"`
	ClientSecretHash string    `json:"client_secret_hash"` // bcrypt
	RedirectURI      string    `json:"redirect_uri"`
	CreatedAt        time.Time `json:"created_at"`
}

// User is a resource owner.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"` // bcrypt
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthorizationCodeStore persists authorization code records.
// All methods accept context.Context for tracing and cancellation.
type AuthorizationCodeStore interface {
	// SaveAuthorizationCode stores code under code.ID. It fails with
	// ErrAlreadyExists if the identifier is taken.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode returns the record for id or ErrNotFound.
	GetAuthorizationCode(ctx context.Context, id string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes the record for id and returns it.
	// Only one of several concurrent callers receives the record.
	DeleteAuthorizationCode(ctx context.Context, id string) (*AuthorizationCode, error)

	// DeleteExpiredAuthorizationCodes removes every record with ExpiresAt at
	// or before now and returns them.
	DeleteExpiredAuthorizationCodes(ctx context.Context, now time.Time) ([]*AuthorizationCode, error)
}

// AccessTokenStore persists access token records.
type AccessTokenStore interface {
	SaveAccessToken(ctx context.Context, token *AccessToken) error
	GetAccessToken(ctx context.Context, id string) (*AccessToken, error)
	DeleteAccessToken(ctx context.Context, id string) (*AccessToken, error)
	DeleteExpiredAccessTokens(ctx context.Context, now time.Time) ([]*AccessToken, error)
}

// RefreshTokenStore persists refresh token records. Refresh records are
// removed only by explicit revocation.
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
}

// ClientStore is the application directory. The engine only reads from it;
// SaveClient serves out-of-band registration and seeding.
type ClientStore interface {
	SaveClient(ctx context.Context, client *Client) error

	// GetClient looks an application up by Client.ID.
	GetClient(ctx context.Context, id string) (*Client, error)

	// GetClientByClientID looks an application up by the external Client.ClientID.
	GetClientByClientID(ctx context.Context, clientID string) (*Client, error)
}

// UserStore is the owner directory.
type UserStore interface {
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// Backend is implemented by stores that provide every interface above.
type Backend interface {
	AuthorizationCodeStore
	AccessTokenStore
	RefreshTokenStore
	ClientStore
	UserStore
}

// IsExpired reports whether a record expiring at expiresAt is expired at now.
// The boundary instant counts as expired.
func IsExpired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}
