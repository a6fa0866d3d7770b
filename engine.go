package sqlcached

import (
	"bytes"
	"context"
	"strconv"
	"sync"

	"github.com/facebookgo/stackerr"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sqlcached/sqlcached/cache"
	"github.com/sqlcached/sqlcached/persist"
)

// StoreOp selects the semantics of Engine.Store.
type StoreOp int

const (
	// Set stores unconditionally.
	Set StoreOp = iota
	// Add stores only if the key is absent.
	Add
	// Replace stores only if the key is present.
	Replace
	// Append concatenates after the existing value.
	Append
	// Prepend concatenates before the existing value.
	Prepend
)

// NotifyFunc is called from a pipeline goroutine when a previously pending
// operation resolves: err is nil on success, ErrNotFound when the key has no
// durable record. The host is expected to re-drive the original operation
// on success.
type NotifyFunc func(cookie any, err error)

// AddStatFunc receives one stats name/value pair.
type AddStatFunc func(name, value string)

// Engine is the request coordinator the host server drives. Operations
// never block on disk I/O; Get reports ErrWouldBlock on a cold key and the
// engine notifies the host when the read-through pipeline resolves it.
type Engine interface {
	// Allocate creates an item for a store operation. Rejects oversized
	// items with ErrTooLarge before any cache mutation.
	Allocate(key string, flags uint32, exptime int64, size int) (*cache.Item, error)
	// Release drops the caller's reference on an item obtained from
	// Allocate or Get.
	Release(it *cache.Item)
	// Get returns the cached item for key, retained for the caller. On a
	// miss it enqueues a read-through request for cookie and returns
	// ErrWouldBlock; the caller should suspend the client until notified.
	Get(cookie any, key string) (*cache.Item, error)
	// Store links it into the cache under op semantics and schedules it
	// for persistence. Returns the item's fresh CAS token.
	Store(it *cache.Item, op StoreOp, expectedCas uint64) (uint64, error)
	// Delete unlinks key. Deleting an absent key returns ErrNotFound; a
	// mismatched non-zero expectedCas returns ErrCasConflict.
	Delete(key string, expectedCas uint64) error
	// Arithmetic adjusts the unsigned decimal value stored at key by
	// delta. Increment wraps modulo 2^64; decrement clamps at zero. When
	// the key is absent and create is set, the initial value is stored
	// as-is. Returns the new value and CAS token.
	Arithmetic(key string, incr bool, delta, initial uint64, create bool, exptime int64) (uint64, uint64, error)
	// Flush invalidates every cache entry stored at or before the cutoff
	// Unix second, 0 meaning all. The durable store is not truncated.
	Flush(when int64) error
	Stats(add AddStatFunc)
	ResetStats()
	// Close stops the pipeline workers. The write-behind queue is
	// drained before Close returns. A Get racing Close may still miss;
	// its read-through request completes as not-found.
	Close() error
}

type engine struct {
	log    logrus.FieldLogger
	conf   Config
	cache  cache.Cache
	store  *persist.Store
	writer *persist.Writer
	reader *persist.Reader
	notify NotifyFunc

	// mu serializes compound cache sequences (lookup-then-link) of
	// store, delete, arithmetic and pipeline materialization. Plain
	// lookups take only the cache's own lock.
	mu         sync.Mutex
	casCounter uint64

	cancel context.CancelFunc
	group  *errgroup.Group
}

var _ Engine = (*engine)(nil)

// New opens the durable store and starts the pipeline workers. notify must
// not be nil; it is invoked from pipeline goroutines.
func New(l logrus.FieldLogger, conf Config, notify NotifyFunc) (Engine, error) {
	if notify == nil {
		return nil, stackerr.New("nil notify func")
	}
	store, err := persist.Open(conf.DBName, persist.Options{Compress: conf.Compress})
	if err != nil {
		return nil, err
	}
	e := &engine{
		log:    l,
		conf:   conf,
		store:  store,
		notify: notify,
	}
	e.cache = cache.New(l, cache.Config{
		Size:        conf.CacheSize,
		MaxItemSize: conf.MaxItemSize,
		Eviction:    conf.Eviction,
	})
	e.writer = persist.NewWriter(l, store)
	e.reader = persist.NewReader(l, store, e.materialize, e.complete)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, ctx = errgroup.WithContext(ctx)
	e.group.Go(func() error { return e.writer.Run(ctx) })
	e.group.Go(func() error { return e.reader.Run(ctx) })
	if conf.Warmup {
		warmer := persist.NewWarmer(l, store, e.materialize)
		e.group.Go(func() error {
			warmer.Run(ctx)
			return nil
		})
	}
	e.log.Debugf("Engine started: %+v", conf)
	return e, nil
}

func (e *engine) Allocate(key string, flags uint32, exptime int64, size int) (*cache.Item, error) {
	return e.cache.Allocate(key, flags, exptime, size)
}

func (e *engine) Release(it *cache.Item) { it.Release() }

func (e *engine) Get(cookie any, key string) (*cache.Item, error) {
	if it := e.cache.Lookup(key); it != nil {
		return it, nil
	}
	e.reader.Enqueue(cookie, key)
	return nil, ErrWouldBlock
}

func (e *engine) Store(it *cache.Item, op StoreOp, expectedCas uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doStore(it, op, expectedCas)
}

// doStore requires e.mu. persist is skipped only for materialization.
func (e *engine) doStore(it *cache.Item, op StoreOp, expectedCas uint64) (uint64, error) {
	old := e.cache.Lookup(it.Key)
	if old == nil {
		switch op {
		case Replace, Append, Prepend:
			return 0, ErrNotFound
		}
		e.link(it, true)
		return it.Cas(), nil
	}
	defer old.Release()

	if op == Add {
		return 0, ErrExists
	}
	if e.conf.UseCas && expectedCas != 0 && expectedCas != old.Cas() {
		return 0, ErrCasConflict
	}
	if op == Append || op == Prepend {
		merged, err := e.concat(old, it, op)
		if err != nil {
			return 0, err
		}
		defer merged.Release()
		e.cache.Unlink(old)
		e.link(merged, true)
		return merged.Cas(), nil
	}
	e.cache.Unlink(old)
	e.link(it, true)
	return it.Cas(), nil
}

// link assigns a fresh CAS token, inserts the item, and hands it to the
// write-behind pipeline unless the durable store is its source.
func (e *engine) link(it *cache.Item, persistIt bool) {
	if e.conf.UseCas {
		e.casCounter++
		e.cache.AssignCas(it, e.casCounter)
	}
	e.cache.Link(it)
	if persistIt {
		e.writer.Enqueue(it)
	}
}

var crlf = []byte("\r\n")

// concat builds the Append/Prepend result. Per the stored text-protocol
// convention, a trailing CRLF of the leading fragment is trimmed so the
// terminator of the trailing fragment ends the combined value.
func (e *engine) concat(old, it *cache.Item, op StoreOp) (*cache.Item, error) {
	first, second := old, it
	if op == Prepend {
		first, second = it, old
	}
	lead := bytes.TrimSuffix(first.Value, crlf)
	merged, err := e.cache.Allocate(old.Key, old.Flags, old.Exptime, len(lead)+len(second.Value))
	if err != nil {
		return nil, err
	}
	n := copy(merged.Value, lead)
	copy(merged.Value[n:], second.Value)
	return merged, nil
}

func (e *engine) Delete(key string, expectedCas uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.cache.Lookup(key)
	if old == nil {
		// Policy: deleting an absent key reports not-found rather than
		// an idempotent success. See DESIGN.md.
		return ErrNotFound
	}
	defer old.Release()
	if e.conf.UseCas && expectedCas != 0 && expectedCas != old.Cas() {
		return ErrCasConflict
	}
	// TODO: propagate deletes to the durable store; until then a deleted
	// key can be resurrected by a later read-through.
	e.cache.Unlink(old)
	return nil
}

// Bound for retrying an arithmetic create that loses to a concurrent
// creator. e.mu currently serializes creators, so the retry fires only if
// store and arithmetic ever stop sharing the engine lock. A loop, not
// recursion: contention must not grow the stack.
const arithmeticMaxRetries = 8

func (e *engine) Arithmetic(key string, incr bool, delta, initial uint64, create bool, exptime int64) (uint64, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for attempt := 0; attempt < arithmeticMaxRetries; attempt++ {
		old := e.cache.Lookup(key)
		if old != nil {
			result, cas, err := e.applyDelta(old, incr, delta)
			old.Release()
			return result, cas, err
		}
		if !create {
			return 0, 0, ErrNotFound
		}
		text := strconv.FormatUint(initial, 10) + "\r\n"
		it, err := e.cache.Allocate(key, 0, exptime, len(text))
		if err != nil {
			return 0, 0, err
		}
		copy(it.Value, text)
		cas, err := e.doStore(it, Add, 0)
		it.Release()
		if err == nil {
			return initial, cas, nil
		}
		if err != ErrExists {
			return 0, 0, err
		}
		// A concurrent creator won the race; start over against the
		// entry it stored.
	}
	return 0, 0, ErrExists
}

// applyDelta requires e.mu. The stored value keeps the terminator style it
// had: a CRLF-terminated value stays CRLF-terminated.
func (e *engine) applyDelta(old *cache.Item, incr bool, delta uint64) (uint64, uint64, error) {
	terminated := bytes.HasSuffix(old.Value, crlf)
	value, err := strconv.ParseUint(string(bytes.TrimSuffix(old.Value, crlf)), 10, 64)
	if err != nil {
		return 0, 0, ErrInvalidValue
	}
	if incr {
		value += delta
	} else if delta > value {
		value = 0
	} else {
		value -= delta
	}
	text := strconv.FormatUint(value, 10)
	if terminated {
		text += "\r\n"
	}
	it, err := e.cache.Allocate(old.Key, old.Flags, old.Exptime, len(text))
	if err != nil {
		return 0, 0, err
	}
	copy(it.Value, text)
	e.cache.Unlink(old)
	e.link(it, true)
	cas := it.Cas()
	it.Release()
	return value, cas, nil
}

func (e *engine) Flush(when int64) error {
	e.cache.FlushExpired(when)
	return nil
}

func (e *engine) Stats(add AddStatFunc) {
	e.cache.EmitStats(add)
	add("pending_writes", strconv.Itoa(e.writer.Len()))
	add("pending_reads", strconv.Itoa(e.reader.Len()))
}

func (e *engine) ResetStats() { e.cache.ResetStats() }

// materialize is the authoritative add used by the read-through and warm-up
// workers. An entry already in memory wins, and the insert does not echo
// into the write-behind queue.
func (e *engine) materialize(rec persist.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old := e.cache.Lookup(rec.Key); old != nil {
		old.Release()
		return nil
	}
	it, err := e.cache.Allocate(rec.Key, rec.Flags, rec.Exptime, len(rec.Value))
	if err != nil {
		return err
	}
	copy(it.Value, rec.Value)
	e.link(it, false)
	it.Release()
	return nil
}

func (e *engine) complete(cookie any, found bool) {
	if found {
		e.notify(cookie, nil)
		return
	}
	e.notify(cookie, ErrNotFound)
}

func (e *engine) Close() error {
	e.cancel()
	err := e.group.Wait()
	if cerr := e.store.Close(); err == nil {
		err = cerr
	}
	return err
}
