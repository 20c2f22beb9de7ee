// Package storage defines the credential stores and directories the lifecycle
// engine depends on, and the Sweeper that evicts expired records from them.
//
// Credential stores map a credential identifier (the jti claim) to metadata.
// They never hold the signed credential itself. Per-identifier operations are
// atomic: when two callers delete the same identifier, exactly one receives
// the record and the other gets ErrNotFound.
//
// Implementations are provided in subpackages:
//   - storage/memory: mutex-guarded maps for development, tests and single instances
//   - storage/valkey: Valkey/Redis-compatible shared storage with native key expiry
//   - storage/sql: relational storage through gorm
//   - storage/mock: function-overridable stores for failure injection in tests
package storage
