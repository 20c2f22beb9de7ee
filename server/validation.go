package server

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-lifecycle/storage"
	"github.com/giantswarm/oauth-lifecycle/token"
)

// dummyHash is compared against when the principal does not exist, so that
// unknown and known principals cost the same bcrypt comparison.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// The validation chain. Each check returns nil (or its input) on success and
// an error wrapping one failure kind otherwise. Operations apply them in
// sequence and stop at the first failure.

// requireExists passes record through when the store lookup found it.
// Store failures other than not-found are internal errors.
func requireExists[T any](record *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if record == nil {
		return nil, ErrNotFound
	}
	return record, nil
}

// requireValidSignature runs full codec verification on raw.
func requireValidSignature(codec Codec, raw string) (*token.Claims, error) {
	claims, err := codec.Verify(raw)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, token.ErrExpired):
		return nil, fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

// requireUnexpired fails when expiresAt is at or before now.
func requireUnexpired(expiresAt, now time.Time) error {
	if storage.IsExpired(expiresAt, now) {
		return fmt.Errorf("%w: record expired at %s", ErrExpired, expiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// requireApplicationMatch fails when the record was issued to another application.
// recordClientID is the stored Client.ID.
func requireApplicationMatch(recordClientID string, client *storage.Client) error {
	if client == nil || recordClientID != client.ID {
		return fmt.Errorf("%w: application", ErrBindingMismatch)
	}
	return nil
}

// requireRedirectMatch fails when redirectURI differs from the one the code was issued for.
func requireRedirectMatch(recordRedirectURI, redirectURI string) error {
	if recordRedirectURI != redirectURI {
		return fmt.Errorf("%w: redirect_uri", ErrBindingMismatch)
	}
	return nil
}

// requireOwnerMatch fails when the credential's subject is not the owner the record names.
func requireOwnerMatch(claims *token.Claims, recordUserID string) error {
	if claims.Subject != recordUserID {
		return fmt.Errorf("%w: owner", ErrBindingMismatch)
	}
	return nil
}

// requireCredentialsMatch compares secret against a bcrypt hash. An empty
// hash is replaced by dummyHash and always fails. bcrypt compares in
// constant time.
func requireCredentialsMatch(secret, hash string) error {
	known := hash != ""
	if !known {
		hash = dummyHash
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil || !known {
		return ErrAuthenticationFailed
	}
	return nil
}
