// Package cache provides the in-memory item cache backing the engine.
// Items are reference counted: the cache owns one logical reference while an
// item is linked, and every other holder (the engine coordinator, the
// write-behind pipeline) retains and releases its own. An item may be
// unlinked while still referenced by an in-flight pipeline operation; it
// becomes unreachable once the last holder releases it.
//
// A single mutex serializes lookup, link and unlink. Reference counts are
// atomic so pipeline goroutines can retain and release without taking the
// cache lock.
package cache
