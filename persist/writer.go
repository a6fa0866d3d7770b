package persist

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/sqlcached/sqlcached/cache"
)

// How many times a statement is retried before the record is dropped.
// The DSN busy timeout absorbs lock contention; this covers the rest.
const putAttempts = 3

// Writer is the write-behind pipeline: a single worker draining a queue of
// pending writes coalesced by key. Within one key, persistence order follows
// submission order because coalescing always keeps the most recently
// submitted version. Across keys no order is guaranteed.
type Writer struct {
	log   logrus.FieldLogger
	store *Store

	// lock protects queue and closing; cond signals the worker.
	lock    sync.Mutex
	cond    *sync.Cond
	queue   map[string]*cache.Item
	closing bool
}

func NewWriter(l logrus.FieldLogger, store *Store) *Writer {
	w := &Writer{
		log:   l.WithField("worker", "write-behind"),
		store: store,
		queue: make(map[string]*cache.Item),
	}
	w.cond = sync.NewCond(&w.lock)
	return w
}

// Enqueue schedules it for persistence. The writer takes its own reference
// and releases it after the item is persisted, or immediately if a later
// Enqueue for the same key supersedes it first.
func (w *Writer) Enqueue(it *cache.Item) {
	it.Retain()
	w.lock.Lock()
	if old, ok := w.queue[it.Key]; ok {
		// Don't store the previous version.
		old.Release()
		writesSuperseded.Inc()
	}
	w.queue[it.Key] = it
	w.cond.Signal()
	w.lock.Unlock()
}

// Len reports the current queue depth.
func (w *Writer) Len() int {
	w.lock.Lock()
	defer w.lock.Unlock()
	return len(w.queue)
}

// Run drains the queue until ctx is canceled, then persists what is left
// before returning, so acknowledged writes reach disk on an orderly
// shutdown.
func (w *Writer) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		w.lock.Lock()
		w.closing = true
		w.cond.Broadcast()
		w.lock.Unlock()
	})
	defer stop()

	w.lock.Lock()
	for {
		for len(w.queue) == 0 && !w.closing {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.lock.Unlock()
			return nil
		}
		var it *cache.Item
		for _, it = range w.queue {
			break
		}
		delete(w.queue, it.Key)
		w.lock.Unlock()
		w.persist(it)
		it.Release()
		w.lock.Lock()
	}
}

func (w *Writer) persist(it *cache.Item) {
	rec := Record{Key: it.Key, Flags: it.Flags, Exptime: it.Exptime, Value: it.Value}
	var err error
	for attempt := 0; attempt < putAttempts; attempt++ {
		// Background context: the drain after cancellation must still
		// be able to write.
		if err = w.store.Put(context.Background(), rec); err == nil {
			writesPersisted.Inc()
			return
		}
	}
	writeFailures.Inc()
	w.log.WithError(err).Errorf("Dropping write of %q after %v attempts.", it.Key, putAttempts)
}
