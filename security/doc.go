// Package security holds the protective plumbing around the credential
// lifecycle: the audit trail, the per-client rate limiter guarding the token
// endpoint, AES-GCM sealing of records at rest, client IP resolution behind
// proxies, request IDs and response headers.
//
// Nothing here decides whether a credential is valid; that is the engine's
// job. These helpers only observe, throttle or protect.
package security
