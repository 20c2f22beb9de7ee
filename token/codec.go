// Package token mints and verifies the signed, self-describing credentials
// handed out by the lifecycle engine. A credential is a JWT carrying a random
// identifier (jti), a subject and an absolute expiry. The codec keeps no state
// beyond its key material; persistence is the job of the storage package.
package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidSignature is returned when a credential cannot be parsed or its
	// signature does not verify against the verification key.
	ErrInvalidSignature = errors.New("invalid credential signature")

	// ErrExpired is returned when the embedded expiry is at or before the current time.
	ErrExpired = errors.New("credential expired")

	// ErrNoSigningKey is returned by Mint on a verification-only codec.
	ErrNoSigningKey = errors.New("codec has no signing key")
)

// Claims is the decoded payload of a credential.
type Claims struct {
	ID        string
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec signs and verifies credentials with an asymmetric key pair.
type Codec struct {
	signer    crypto.Signer
	verifier  crypto.PublicKey
	method    jwt.SigningMethod
	keyID     string
	issuer    string
	now       func() time.Time
	newID     func() string
	validAlgs []string
}

// Option configures a Codec.
type Option func(*Codec)

// WithIssuer sets the iss claim on minted credentials and requires it on verification.
func WithIssuer(issuer string) Option {
	return func(c *Codec) { c.issuer = issuer }
}

// WithClock overrides the time source. Used by tests to pin expiry boundaries.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithVerificationKey verifies with pub instead of the signer's public key.
func WithVerificationKey(pub crypto.PublicKey) Option {
	return func(c *Codec) { c.verifier = pub }
}

// WithIdentifierSource replaces the jti generator.
func WithIdentifierSource(newID func() string) Option {
	return func(c *Codec) {
		if newID != nil {
			c.newID = newID
		}
	}
}

// NewCodec builds a codec around signer. signer may be nil when a verification
// key is supplied with WithVerificationKey, producing a verify-only codec.
func NewCodec(signer crypto.Signer, opts ...Option) (*Codec, error) {
	c := &Codec{
		signer: signer,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	if signer != nil {
		c.verifier = signer.Public()
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.verifier == nil {
		return nil, errors.New("a signing key or verification key is required")
	}
	if signer != nil {
		switch signer.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey:
		default:
			return nil, fmt.Errorf("unsupported signing key type: %T", signer)
		}
	}

	alg, err := Algorithm(c.verifier)
	if err != nil {
		return nil, err
	}
	c.method = jwt.GetSigningMethod(alg)
	c.validAlgs = []string{alg}

	c.keyID, err = KeyID(c.verifier)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// KeyID returns the thumbprint placed in the kid header of minted credentials.
func (c *Codec) KeyID() string {
	return c.keyID
}

// Mint signs a new credential for subject that expires expiresIn from now.
// Each call draws a fresh identifier.
func (c *Codec) Mint(subject string, expiresIn time.Duration) (string, *Claims, error) {
	if c.signer == nil {
		return "", nil, ErrNoSigningKey
	}

	issuedAt := c.now()
	rc := jwt.RegisteredClaims{
		ID:        c.newID(),
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(expiresIn)),
	}

	tok := jwt.NewWithClaims(c.method, rc)
	tok.Header["kid"] = c.keyID

	signed, err := tok.SignedString(c.signer)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, claimsFrom(&rc), nil
}

// Verify checks the signature and the embedded expiry of raw. It fails with
// ErrInvalidSignature or ErrExpired. A credential whose expiry equals the
// current instant is expired.
func (c *Codec) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(c.validAlgs),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var rc jwt.RegisteredClaims
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, &rc, func(*jwt.Token) (any, error) {
		return c.verifier, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if rc.ID == "" {
		return nil, fmt.Errorf("%w: missing jti claim", ErrInvalidSignature)
	}

	claims := claimsFrom(&rc)
	if !c.now().Before(claims.ExpiresAt) {
		return nil, ErrExpired
	}
	return claims, nil
}

// PeekIdentifier returns the jti claim of raw without checking the signature,
// or "" when raw is not a well-formed credential. The result is only a lookup
// key; it must never be trusted on its own.
func (c *Codec) PeekIdentifier(raw string) string {
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &rc); err != nil {
		return ""
	}
	return rc.ID
}

// JWKS returns the JSON Web Key Set publishing the verification key.
func (c *Codec) JWKS() ([]byte, error) {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       c.verifier,
			KeyID:     c.keyID,
			Algorithm: c.method.Alg(),
			Use:       "sig",
		}},
	}
	data, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key set: %w", err)
	}
	return data, nil
}

func claimsFrom(rc *jwt.RegisteredClaims) *Claims {
	claims := &Claims{
		ID:      rc.ID,
		Subject: rc.Subject,
		Issuer:  rc.Issuer,
	}
	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Time
	}
	if rc.ExpiresAt != nil {
		claims.ExpiresAt = rc.ExpiresAt.Time
	}
	return claims
}
