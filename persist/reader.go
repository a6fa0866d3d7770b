package persist

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// CompleteFunc delivers the single outcome of a pending read to the
// requester identified by cookie. Called from the reader goroutine.
type CompleteFunc func(cookie any, found bool)

// MaterializeFunc inserts a recovered record into the in-memory cache. The
// durable copy is authoritative for cold keys, so the insert bypasses CAS
// conflict checks and must not echo back into the write-behind queue.
type MaterializeFunc func(Record) error

// Reader is the read-through pipeline: a single worker resolving cache
// misses against the durable store. The queue is keyed by requester cookie;
// a later Enqueue for the same cookie supersedes an unresolved earlier one,
// which is dropped without notification. Callers must not keep more than
// one read outstanding per cookie.
type Reader struct {
	log         logrus.FieldLogger
	store       *Store
	materialize MaterializeFunc
	complete    CompleteFunc

	// lock protects queue and closing; cond signals the worker.
	lock    sync.Mutex
	cond    *sync.Cond
	queue   map[any]string
	closing bool
}

func NewReader(l logrus.FieldLogger, store *Store, materialize MaterializeFunc, complete CompleteFunc) *Reader {
	r := &Reader{
		log:         l.WithField("worker", "read-through"),
		store:       store,
		materialize: materialize,
		complete:    complete,
		queue:       make(map[any]string),
	}
	r.cond = sync.NewCond(&r.lock)
	return r
}

// Enqueue schedules an asynchronous durable lookup of key for cookie.
// Exactly one completion is eventually delivered, unless superseded. Once
// Run has been stopped the lookup cannot happen; such requests complete
// immediately as not-found so no requester is left suspended.
func (r *Reader) Enqueue(cookie any, key string) {
	r.lock.Lock()
	if r.closing {
		r.lock.Unlock()
		r.complete(cookie, false)
		return
	}
	r.queue[cookie] = key
	r.cond.Signal()
	r.lock.Unlock()
}

// Len reports the current queue depth.
func (r *Reader) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.queue)
}

// Run resolves queued reads until ctx is canceled, then resolves what is
// left before returning so no requester is left suspended.
func (r *Reader) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		r.lock.Lock()
		r.closing = true
		r.cond.Broadcast()
		r.lock.Unlock()
	})
	defer stop()

	r.lock.Lock()
	for {
		for len(r.queue) == 0 && !r.closing {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			r.lock.Unlock()
			return nil
		}
		var cookie any
		var key string
		for cookie, key = range r.queue {
			break
		}
		delete(r.queue, cookie)
		r.lock.Unlock()
		found := r.resolve(key)
		r.complete(cookie, found)
		r.lock.Lock()
	}
}

// resolve reports whether key was recovered into the cache. Store and
// materialization failures are logged and resolve as not-found.
func (r *Reader) resolve(key string) bool {
	rec, found, err := r.store.Get(context.Background(), key)
	if err != nil {
		r.log.WithError(err).Errorf("Lookup of %q failed.", key)
		readMisses.Inc()
		return false
	}
	if !found {
		readMisses.Inc()
		return false
	}
	if err := r.materialize(rec); err != nil {
		r.log.WithError(err).Errorf("Could not materialize %q.", key)
		readMisses.Inc()
		return false
	}
	readsResolved.Inc()
	return true
}
