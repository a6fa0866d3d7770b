package sqlcached

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/sqlcached/sqlcached/cache"
	"github.com/sqlcached/sqlcached/persist"
	. "github.com/sqlcached/sqlcached/testutil"
)

type notification struct {
	cookie any
	err    error
}

var _ = Describe("Engine", func() {
	var (
		conf          Config
		e             Engine
		notifications chan notification
		dbfile        string
	)
	notify := func(cookie any, err error) {
		notifications <- notification{cookie, err}
	}
	BeforeEach(func() {
		dbfile = TmpFileName()
		conf = DefaultConfig()
		conf.DBName = dbfile
		conf.CacheSize = 1 << 20
		notifications = make(chan notification, 1024)
	})
	JustBeforeEach(func() {
		var err error
		e, err = New(testLogger(), conf, notify)
		Expect(err).To(BeNil())
	})
	AfterEach(func() {
		Expect(e.Close()).To(BeNil())
	})

	store := func(key, value string, op StoreOp, expectedCas uint64) (uint64, error) {
		it, err := e.Allocate(key, 0, 0, len(value))
		Expect(err).To(BeNil())
		copy(it.Value, value)
		cas, err := e.Store(it, op, expectedCas)
		e.Release(it)
		return cas, err
	}
	set := func(key, value string) uint64 {
		cas, err := store(key, value, Set, 0)
		Expect(err).To(BeNil())
		return cas
	}
	mustGet := func(key string) string {
		it, err := e.Get("test", key)
		Expect(err).To(BeNil())
		defer e.Release(it)
		return string(it.Value)
	}
	stats := func() map[string]string {
		m := map[string]string{}
		e.Stats(func(name, value string) { m[name] = value })
		return m
	}

	It("rejects a nil notify func", func() {
		_, err := New(testLogger(), conf, nil)
		Expect(err).NotTo(BeNil())
	})

	It("stores and gets", func() {
		cas := set("greeting", "Hello\r\n")
		Expect(cas).NotTo(BeZero())
		Expect(mustGet("greeting")).To(Equal("Hello\r\n"))
	})

	It("notifies not found for a key with no durable record", func() {
		_, err := e.Get("c1", "no_such_key")
		Expect(err).To(Equal(ErrWouldBlock))
		Eventually(notifications).Should(Receive(Equal(notification{"c1", ErrNotFound})))
	})

	It("resolves a cold key from the durable store", func() {
		set("k", "durable")
		Expect(e.Close()).To(BeNil())

		e2, err := New(testLogger(), conf, notify)
		Expect(err).To(BeNil())
		defer e2.Close()

		_, err = e2.Get("c1", "k")
		Expect(err).To(Equal(ErrWouldBlock))
		Eventually(notifications).Should(Receive(Equal(notification{"c1", nil})))

		it, err := e2.Get("c1", "k")
		Expect(err).To(BeNil())
		Expect(string(it.Value)).To(Equal("durable"))
		e2.Release(it)
	})

	It("preloads the cache when warm-up is enabled", func() {
		set("k", "durable")
		Expect(e.Close()).To(BeNil())

		warm := conf
		warm.Warmup = true
		e2, err := New(testLogger(), warm, notify)
		Expect(err).To(BeNil())
		defer e2.Close()

		Eventually(func() string {
			it, err := e2.Get("c1", "k")
			if err != nil {
				return ""
			}
			defer e2.Release(it)
			return string(it.Value)
		}).Should(Equal("durable"))
	})

	It("coalesces rapid writes of one key", func() {
		for i := 0; i < 100; i++ {
			set("k", "value with some bulk to it")
		}
		set("k", "final")
		Eventually(func() string { return stats()["pending_writes"] }).Should(Equal("0"))

		ro, err := persist.Open(dbfile, persist.Options{ReadOnly: true})
		Expect(err).To(BeNil())
		defer ro.Close()
		rec, found, err := ro.Get(context.Background(), "k")
		Expect(err).To(BeNil())
		Expect(found).To(BeTrue())
		Expect(string(rec.Value)).To(Equal("final"))
	})

	Context("store operations", func() {
		It("add only stores absent keys", func() {
			_, err := store("k", "first", Add, 0)
			Expect(err).To(BeNil())
			_, err = store("k", "second", Add, 0)
			Expect(err).To(Equal(ErrExists))
			Expect(mustGet("k")).To(Equal("first"))
		})

		It("replace only stores present keys", func() {
			_, err := store("k", "v", Replace, 0)
			Expect(err).To(Equal(ErrNotFound))
			set("k", "v")
			_, err = store("k", "v2", Replace, 0)
			Expect(err).To(BeNil())
			Expect(mustGet("k")).To(Equal("v2"))
		})

		It("append joins values on one terminator", func() {
			set("k", "Hello\r\n")
			_, err := store("k", "World\r\n", Append, 0)
			Expect(err).To(BeNil())
			Expect(mustGet("k")).To(Equal("HelloWorld\r\n"))
		})

		It("prepend joins values on one terminator", func() {
			set("k", "World\r\n")
			_, err := store("k", "Hello\r\n", Prepend, 0)
			Expect(err).To(BeNil())
			Expect(mustGet("k")).To(Equal("HelloWorld\r\n"))
		})

		It("append needs an existing key", func() {
			_, err := store("k", "v", Append, 0)
			Expect(err).To(Equal(ErrNotFound))
		})
	})

	Context("cas", func() {
		It("assigns increasing tokens", func() {
			first := set("k", "v")
			second := set("k", "v2")
			Expect(second).To(BeNumerically(">", first))
		})

		It("rejects a stale token", func() {
			cas := set("k", "v")
			_, err := store("k", "v2", Set, cas+100)
			Expect(err).To(Equal(ErrCasConflict))
			Expect(mustGet("k")).To(Equal("v"))
		})

		It("accepts the current token", func() {
			cas := set("k", "v")
			_, err := store("k", "v2", Set, cas)
			Expect(err).To(BeNil())
			Expect(mustGet("k")).To(Equal("v2"))
		})

		Context("disabled", func() {
			BeforeEach(func() {
				conf.UseCas = false
			})
			It("ignores tokens", func() {
				set("k", "v")
				_, err := store("k", "v2", Set, 12345)
				Expect(err).To(BeNil())
				Expect(mustGet("k")).To(Equal("v2"))
			})
		})
	})

	Context("delete", func() {
		It("unlinks an existing key", func() {
			set("k", "v")
			Expect(e.Delete("k", 0)).To(BeNil())
			_, err := e.Get("c1", "k")
			Expect(err).To(Equal(ErrWouldBlock))
		})

		It("reports absent keys", func() {
			Expect(e.Delete("no_such_key", 0)).To(Equal(ErrNotFound))
		})

		It("rejects a stale token", func() {
			cas := set("k", "v")
			Expect(e.Delete("k", cas+100)).To(Equal(ErrCasConflict))
			Expect(mustGet("k")).To(Equal("v"))
		})
	})

	Context("arithmetic", func() {
		incr := func(key string, delta uint64) (uint64, error) {
			result, _, err := e.Arithmetic(key, true, delta, 0, false, 0)
			return result, err
		}
		decr := func(key string, delta uint64) (uint64, error) {
			result, _, err := e.Arithmetic(key, false, delta, 0, false, 0)
			return result, err
		}

		It("needs an existing key without create", func() {
			_, err := incr("no_such_key", 1)
			Expect(err).To(Equal(ErrNotFound))
		})

		It("create stores the initial value, not initial plus delta", func() {
			result, cas, err := e.Arithmetic("k", true, 5, 10, true, 0)
			Expect(err).To(BeNil())
			Expect(result).To(BeEquivalentTo(10))
			Expect(cas).NotTo(BeZero())
			Expect(mustGet("k")).To(Equal("10\r\n"))
		})

		It("increments a terminated value", func() {
			set("k", "5\r\n")
			result, err := incr("k", 3)
			Expect(err).To(BeNil())
			Expect(result).To(BeEquivalentTo(8))
			Expect(mustGet("k")).To(Equal("8\r\n"))
		})

		It("keeps an unterminated value unterminated", func() {
			set("k", "5")
			result, err := incr("k", 1)
			Expect(err).To(BeNil())
			Expect(result).To(BeEquivalentTo(6))
			Expect(mustGet("k")).To(Equal("6"))
		})

		It("increment wraps", func() {
			set("k", "18446744073709551615")
			result, err := incr("k", 2)
			Expect(err).To(BeNil())
			Expect(result).To(BeEquivalentTo(1))
		})

		It("decrement clamps at zero", func() {
			set("k", "3")
			result, err := decr("k", 10)
			Expect(err).To(BeNil())
			Expect(result).To(BeZero())
			Expect(mustGet("k")).To(Equal("0"))
		})

		It("rejects non-numeric values", func() {
			set("k", "not a number")
			_, err := incr("k", 1)
			Expect(err).To(Equal(ErrInvalidValue))
		})
	})

	It("flush empties the cache but not the durable store", func() {
		set("k", "v")
		Eventually(func() string { return stats()["pending_writes"] }).Should(Equal("0"))
		Expect(e.Flush(0)).To(BeNil())
		_, err := e.Get("c1", "k")
		Expect(err).To(Equal(ErrWouldBlock))
		// The durable copy resolves the miss.
		Eventually(notifications).Should(Receive(Equal(notification{"c1", nil})))
	})

	// The writer worker is deliberately not started: the write stays
	// queued so the flush provably races an in-flight writer ref.
	It("flush keeps queued writer refs valid", func() {
		s, err := persist.Open(TmpFileName(), persist.Options{})
		Expect(err).To(BeNil())
		defer s.Close()
		eng := &engine{
			log:    testLogger(),
			conf:   DefaultConfig(),
			store:  s,
			notify: func(any, error) {},
		}
		eng.cache = cache.New(testLogger(), cache.Config{})
		eng.writer = persist.NewWriter(testLogger(), s)

		it, err := eng.Allocate("k", 0, 0, 1)
		Expect(err).To(BeNil())
		copy(it.Value, "v")
		_, err = eng.Store(it, Set, 0)
		Expect(err).To(BeNil())
		eng.Release(it)
		Expect(eng.writer.Len()).To(Equal(1))

		Expect(eng.Flush(0)).To(BeNil())
		Expect(eng.cache.Lookup("k")).To(BeNil())

		// Drain: the unlinked item must still reach disk.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(eng.writer.Run(ctx)).To(BeNil())

		rec, found, err := s.Get(context.Background(), "k")
		Expect(err).To(BeNil())
		Expect(found).To(BeTrue())
		Expect(string(rec.Value)).To(Equal("v"))

		// The writer dropped the last ref exactly once.
		Expect(it.Release).To(Panic())
	})

	It("rejects oversized allocations", func() {
		_, err := e.Allocate("k", 0, 0, int(conf.MaxItemSize)+1)
		Expect(err).To(Equal(ErrTooLarge))
	})

	It("reports stats", func() {
		set("k", "v")
		m := stats()
		Expect(m).To(HaveKey("curr_items"))
		Expect(m).To(HaveKey("total_items"))
		Expect(m).To(HaveKey("bytes"))
		Expect(m).To(HaveKey("pending_writes"))
		Expect(m).To(HaveKey("pending_reads"))
		Expect(m["curr_items"]).To(Equal("1"))
	})
})
