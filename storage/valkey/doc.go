// Package valkey provides a Valkey storage backend for the oauth-lifecycle engine.
//
// Valkey is a key-value store that is wire-compatible with Redis. The Store
// type implements [storage.Backend], so one Valkey deployment can hold the
// credential records and the client and owner directories for several
// engine replicas.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"):
//
//	{prefix}code:{id}              -> record(AuthorizationCode), TTL until expires_at
//	{prefix}access:{id}            -> record(AccessToken), TTL until expires_at
//	{prefix}refresh:{id}           -> record(RefreshToken), no TTL
//	{prefix}client:{id}            -> record(Client)
//	{prefix}clientid:{client_id}   -> id
//	{prefix}user:{id}              -> record(User)
//	{prefix}username:{username}    -> id
//
// A record is the JSON encoding of the storage type, sealed with AES-256-GCM
// when an encryptor is configured.
//
// # Atomicity
//
// Saves use SET NX so an identifier is never overwritten. Deletes use GETDEL,
// so of several concurrent deletes of one identifier exactly one receives the
// record. Directory entries and their lookup index are written together by a
// Lua script.
//
// # Expiry
//
// Authorization codes and access tokens carry a TTL ending at their expiry,
// so Valkey evicts them itself. DeleteExpiredAuthorizationCodes and
// DeleteExpiredAccessTokens therefore find nothing to do and exist only to
// satisfy the sweeper contract.
//
// # Usage
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth:",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// # Testing
//
// The tests need a running server. Set VALKEY_TEST_ADDR (default
// localhost:6379); tests are skipped when no server answers.
package valkey
