// Package memory provides an in-memory implementation of every storage
// interface.
//
// Records live in maps guarded by a single sync.RWMutex, which gives the
// per-identifier atomicity the engine relies on: of two concurrent deletes of
// the same identifier, one wins and the other sees storage.ErrNotFound.
// Records are copied on the way in and out, so callers can never mutate
// stored state.
//
// The store runs no goroutine of its own. Expired records are evicted by a
// storage.Sweeper built over storage.AuthorizationCodeSweepTarget and
// storage.AccessTokenSweepTarget.
//
//	store := memory.New()
//	sweeper := storage.NewSweeper(storage.SweeperConfig{},
//		storage.AuthorizationCodeSweepTarget(store),
//		storage.AccessTokenSweepTarget(store))
//	_ = sweeper.Start(ctx)
//	defer sweeper.Stop()
//
// Nothing survives a restart; use storage/valkey or storage/sql when records
// must be shared or durable.
package memory
