package cache

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrTooLarge means the item exceeds the configured maximum size or
	// key length. Reported at allocation, before any cache mutation.
	ErrTooLarge = errors.New("item too large")
	// ErrOutOfMemory means the byte ceiling is reached and eviction is
	// disabled or could not free enough space.
	ErrOutOfMemory = errors.New("out of memory")
)

// Only reposition an item in the LRU if it has not been repositioned in this
// long. Saves churning on frequently accessed items.
const updateInterval = 60 * time.Second

// How many items from the bottom of the LRU to examine when reclaiming or
// evicting. Referenced items are skipped, so a bounded walk keeps Allocate
// from stalling behind a run of in-flight items.
const sweepTries = 50

type Config struct {
	// Size is the cache byte ceiling. 0 means unlimited.
	Size int64
	// MaxItemSize bounds a single item's total size. 0 means unlimited.
	MaxItemSize int64
	// Eviction allows unreferenced items to be evicted when the ceiling
	// is reached. When false, Allocate fails with ErrOutOfMemory instead.
	Eviction bool
}

// Cache is the in-memory cache layer consumed by the engine coordinator.
// Lookup and Allocate return retained items; callers must Release them.
// Compound sequences (lookup-then-link) are serialized by the caller.
type Cache interface {
	// Allocate creates a detached item with a zeroed Value of the given
	// size, reserving room under the byte ceiling.
	Allocate(key string, flags uint32, exptime int64, size int) (*Item, error)
	// Lookup returns the linked item for key, retained, or nil.
	// Expired and flushed items are lazily unlinked.
	Lookup(key string) *Item
	// Link inserts an allocated item. The key must not be present.
	Link(it *Item)
	// Unlink detaches a linked item from the table and LRU. The item
	// stays valid for holders that retained it.
	Unlink(it *Item)
	// AssignCas sets the item's CAS token. Call before Link.
	AssignCas(it *Item, cas uint64)
	// FlushExpired invalidates every item stored at or before the cutoff
	// Unix second. 0 means all items stored so far.
	FlushExpired(when int64)
	EmitStats(add func(name, value string))
	// ResetStats zeroes the cumulative counters only.
	ResetStats()
}

func New(l logrus.FieldLogger, conf Config) Cache {
	return newCache(l, conf)
}

func newCache(l logrus.FieldLogger, conf Config) *lockedCache {
	return &lockedCache{
		log:   l,
		conf:  conf,
		table: make(map[string]*Item),
		lru:   newQueue(),
	}
}

type lockedCache struct {
	log  logrus.FieldLogger
	conf Config

	// Protects table, lru, oldestLive, stats and the linked, stime and
	// atime fields of owned items.
	sync.Mutex
	table map[string]*Item
	lru   *queue
	// oldestLive marks the last flush cutoff in UnixNano. Items linked at
	// or before it are dead and unlinked lazily on lookup.
	oldestLive int64
	stats      stats
}

type stats struct {
	totalItems int64
	evictions  int64
	reclaimed  int64
}

var _ Cache = (*lockedCache)(nil)

func (c *lockedCache) Allocate(key string, flags uint32, exptime int64, size int) (*Item, error) {
	it := &Item{
		ItemMeta: ItemMeta{Key: key, Flags: flags, Exptime: exptime},
		Value:    make([]byte, size),
		refs:     1,
	}
	if len(key) > MaxKeyLen || (c.conf.MaxItemSize != 0 && it.size() > c.conf.MaxItemSize) {
		return nil, ErrTooLarge
	}
	c.Lock()
	defer c.Unlock()
	if err := c.makeRoom(it.size()); err != nil {
		return nil, err
	}
	return it, nil
}

func (c *lockedCache) Lookup(key string) *Item {
	c.Lock()
	defer c.Unlock()
	it, ok := c.table[key]
	if !ok {
		return nil
	}
	now := time.Now()
	if it.expired(now.Unix()) {
		c.log.Debugf("Item %s expired.", key)
		c.unlink(it)
		return nil
	}
	if c.oldestLive != 0 && it.stime <= c.oldestLive {
		c.log.Debugf("Item %s nuked by flush.", key)
		c.unlink(it)
		return nil
	}
	if nano := now.UnixNano(); nano-it.atime >= int64(updateInterval) {
		c.lru.bump(it)
		it.atime = nano
	}
	it.Retain()
	return it
}

func (c *lockedCache) Link(it *Item) {
	c.Lock()
	defer c.Unlock()
	if it.linked {
		c.log.Panicf("Link of already linked item %s.", it.Key)
	}
	if _, ok := c.table[it.Key]; ok {
		c.log.Panicf("Link over existing item %s.", it.Key)
	}
	now := time.Now().UnixNano()
	it.linked = true
	it.stime, it.atime = now, now
	c.table[it.Key] = it
	c.lru.push(it)
	c.stats.totalItems++
}

func (c *lockedCache) Unlink(it *Item) {
	c.Lock()
	defer c.Unlock()
	c.unlink(it)
}

// unlink removes an owned item. Noop if it was already unlinked by a
// concurrent sweep.
func (c *lockedCache) unlink(it *Item) {
	if !it.linked {
		return
	}
	it.linked = false
	delete(c.table, it.Key)
	c.lru.remove(it)
}

func (c *lockedCache) AssignCas(it *Item, cas uint64) {
	it.cas = cas
}

func (c *lockedCache) FlushExpired(when int64) {
	c.Lock()
	defer c.Unlock()
	if when == 0 {
		c.oldestLive = time.Now().UnixNano()
	} else {
		// Cover the whole cutoff second.
		c.oldestLive = when*int64(time.Second) + int64(time.Second) - 1
	}
	for it := c.lru.head(); !c.lru.end(it); {
		next := it.next
		if it.stime <= c.oldestLive {
			c.unlink(it)
		}
		it = next
	}
}

// makeRoom reclaims expired items from the bottom of the LRU, then evicts
// unreferenced live ones, until need fits under the byte ceiling.
func (c *lockedCache) makeRoom(need int64) error {
	if c.conf.Size == 0 {
		return nil
	}
	over := func() bool { return c.lru.size+need > c.conf.Size }
	if !over() {
		return nil
	}
	now := time.Now().Unix()
	c.sweep(over, func(it *Item) bool { return it.expired(now) }, &c.stats.reclaimed)
	if !over() {
		return nil
	}
	if !c.conf.Eviction {
		return ErrOutOfMemory
	}
	c.sweep(over, func(*Item) bool { return true }, &c.stats.evictions)
	if over() {
		return ErrOutOfMemory
	}
	return nil
}

func (c *lockedCache) sweep(over func() bool, victim func(*Item) bool, counter *int64) {
	it := c.lru.head()
	for tries := sweepTries; tries > 0 && !c.lru.end(it) && over(); tries-- {
		next := it.next
		// In-flight holders keep an item alive; skip it.
		if !it.retained() && victim(it) {
			c.log.Debugf("Item %s evicted.", it.Key)
			c.unlink(it)
			*counter++
		}
		it = next
	}
}

func (c *lockedCache) EmitStats(add func(name, value string)) {
	c.Lock()
	defer c.Unlock()
	add("curr_items", strconv.Itoa(len(c.table)))
	add("total_items", strconv.FormatInt(c.stats.totalItems, 10))
	add("bytes", strconv.FormatInt(c.lru.size, 10))
	add("evictions", strconv.FormatInt(c.stats.evictions, 10))
	add("reclaimed", strconv.FormatInt(c.stats.reclaimed, 10))
}

func (c *lockedCache) ResetStats() {
	c.Lock()
	defer c.Unlock()
	c.stats = stats{}
}
