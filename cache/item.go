package cache

import (
	"fmt"
	"sync/atomic"
)

// MaxKeyLen is the longest allowed key, matching the durable schema's
// VARCHAR(250) primary key.
const MaxKeyLen = 250

type ItemMeta struct {
	Key     string
	Flags   uint32
	Exptime int64 // Unix seconds, 0 means never.
}

func (m ItemMeta) expired(now int64) bool {
	return m.Exptime != 0 && m.Exptime < now
}

// Item is the unit of storage. Value is writable only between Allocate and
// Link; once linked the item is read-shared and updates must replace it with
// a new item.
type Item struct {
	ItemMeta
	Value []byte

	// cas is assigned before link and immutable afterwards.
	cas uint64
	// refs counts live holders besides the cache's own link.
	refs int32
	// linked and stime are guarded by the cache lock.
	linked bool
	stime  int64 // UnixNano of last link, for flush sweeps.
	atime  int64 // UnixNano of last LRU bump.

	// Intrusive LRU links, guarded by the cache lock.
	owner      *queue
	prev, next *Item
}

// Cas returns the item's CAS token, 0 if unset.
func (i *Item) Cas() uint64 { return i.cas }

// Retain adds a reference. Safe to call without the cache lock.
func (i *Item) Retain() { atomic.AddInt32(&i.refs, 1) }

// Release drops a reference taken by Allocate, Lookup or Retain.
func (i *Item) Release() {
	if refs := atomic.AddInt32(&i.refs, -1); refs < 0 {
		panic(fmt.Sprintf("item %q released more times than retained", i.Key))
	}
}

func (i *Item) retained() bool { return atomic.LoadInt32(&i.refs) != 0 }

// extraSizePerItem approximates the per-item bookkeeping overhead (Item
// struct, table cell, LRU links). Without such compensation it is possible
// to blow up the cache with tiny values.
const extraSizePerItem = 64

func (i *Item) size() int64 {
	return int64(extraSizePerItem + len(i.Key) + len(i.Value))
}

func (i *Item) GoString() string {
	return fmt.Sprintf("{%#v, cas:%v, refs:%v, linked:%v, bytes:%v}",
		i.ItemMeta, i.cas, atomic.LoadInt32(&i.refs), i.linked, len(i.Value))
}
