// Package server implements the credential lifecycle engine.
//
// The engine issues authorization codes, exchanges them for access and
// refresh tokens, refreshes access tokens, validates access tokens for
// introspection and revokes credentials. It holds no state of its own: every
// operation is a sequence of codec and store calls checked by the validation
// chain in validation.go.
//
// Every failure is one of six kinds (ErrNotFound, ErrExpired,
// ErrInvalidSignature, ErrBindingMismatch, ErrAuthenticationFailed,
// ErrInternal). Callers branch with errors.Is; Kind names the kind for logs
// and metrics. The transport layer collapses all but ErrInternal and
// ErrAuthenticationFailed into one generic OAuth error.
//
// Example usage:
//
//	codec, _ := token.NewCodec(signingKey)
//	store := memory.New()
//
//	srv, err := server.New(codec, store, store, store, store, store, &server.Config{}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	code, _ := srv.IssueAuthorizationCode(ctx, client, redirectURI, user, "read offline_access")
//	tok, err := srv.ExchangeAuthorizationCode(ctx, client, code, redirectURI)
package server
