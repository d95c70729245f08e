// Package layercache orchestrates reads over an ordered chain of cache layers
// (fast to slow) with per-layer request batching, miss fallthrough and
// best-effort backfill of faster layers.
//
// Components:
//   - Layer[K,V]: batched read + batched write over some store (memory, Redis,
//     Ristretto, BigCache, go-cache, bbolt; see layer/...).
//   - batcher: one per layer. Keys requested within one window are merged into
//     a single BatchGet. The batcher forgets a batch the moment it dispatches
//     it, so it coalesces requests but never serves results across windows.
//   - Chain[K,V]: the ordered layers plus a replaceable terminal fetcher.
//
// Flow:
//
//	Load(k) -> layer0 batch -> miss -> layer1 batch -> ... -> final fetcher
//	        <- value        <- BatchSet backfill on every layer that missed
//
// Usage:
//
//	c := layercache.New[string, User](layercache.Options{}).
//		Use(memory.New[string, User](memory.Config[string]{TTL: time.Minute})).
//		Use(redislayer).
//		Final(loadUsersFromDB)
//	u, err := c.Load(ctx, "u:1")
//
// Slot 0 of every chain is an always-miss layer, so a chain without any layer
// still falls straight through to the final fetcher.
package layercache
