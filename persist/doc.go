// Package persist mirrors the in-memory cache to an embedded SQLite store.
// Durability is always eventual relative to the client response: the Writer
// drains a coalescing write-behind queue in the background, the Reader
// resolves cache misses with durable point lookups and an asynchronous
// completion callback, and the Warmer optionally repopulates the cache from
// a full scan at startup.
package persist
