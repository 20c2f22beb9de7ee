package server

import (
	"errors"
)

// Failure kinds of the lifecycle engine. Every error returned by an engine
// operation wraps exactly one of them.
var (
	// ErrNotFound means no record exists for the presented identifier.
	ErrNotFound = errors.New("credential not found")

	// ErrExpired means the record or the embedded claim is past its expiry.
	ErrExpired = errors.New("credential expired")

	// ErrInvalidSignature means the credential failed codec verification.
	ErrInvalidSignature = errors.New("invalid credential signature")

	// ErrBindingMismatch means the credential was issued for another
	// application or redirect target.
	ErrBindingMismatch = errors.New("credential binding mismatch")

	// ErrAuthenticationFailed means a client secret or owner password did not match.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInternal covers identifier collisions and unavailable stores.
	ErrInternal = errors.New("internal error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrExpired, "expired"},
	{ErrInvalidSignature, "invalid_signature"},
	{ErrBindingMismatch, "binding_mismatch"},
	{ErrAuthenticationFailed, "authentication_failed"},
	{ErrInternal, "internal"},
}

// Kind returns the snake_case name of the failure kind err wraps, "" for nil
// and "internal" for errors outside the engine's kinds.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
