// Package sqlcached is an in-process storage engine for a key/value cache
// server. Hot items live in an in-memory cache; writes are mirrored
// asynchronously to an embedded SQLite store and misses are backfilled from
// it, so the cache survives process restarts without blocking client-facing
// operations on disk I/O.
//
// The host server drives the engine synchronously. Operations that need
// disk never block: a get on a cold key returns ErrWouldBlock and the engine
// later calls the host's NotifyFunc once the read-through pipeline resolves
// it, at which point the host re-drives the original get.
package sqlcached
