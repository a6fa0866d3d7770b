package persist

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	. "github.com/sqlcached/sqlcached/testutil"
)

type completion struct {
	cookie any
	found  bool
}

var _ = Describe("Reader", func() {
	var (
		s            *Store
		r            *Reader
		materialized chan Record
		completions  chan completion
		materialize  MaterializeFunc
	)
	BeforeEach(func() {
		var err error
		s, err = Open(TmpFileName(), Options{})
		Expect(err).To(BeNil())
		materialized = make(chan Record, 8)
		completions = make(chan completion, 8)
		materialize = func(rec Record) error {
			materialized <- rec
			return nil
		}
	})
	JustBeforeEach(func() {
		r = NewReader(testLogger(), s, func(rec Record) error {
			return materialize(rec)
		}, func(cookie any, found bool) {
			completions <- completion{cookie, found}
		})
	})
	AfterEach(func() {
		s.Close()
	})

	It("resolves a durable key", func() {
		put := Record{Key: "k", Flags: 3, Value: []byte("v")}
		Expect(s.Put(context.Background(), put)).To(BeNil())

		r.Enqueue("c1", "k")
		Expect(r.Run(canceledContext())).To(BeNil())

		Expect(completions).To(Receive(Equal(completion{"c1", true})))
		var rec Record
		Expect(materialized).To(Receive(&rec))
		Expect(rec.Key).To(Equal("k"))
		Expect(rec.Flags).To(BeEquivalentTo(3))
		Expect(string(rec.Value)).To(Equal("v"))
	})

	It("resolves a missing key as not found", func() {
		r.Enqueue("c1", "no_such_key")
		Expect(r.Run(canceledContext())).To(BeNil())

		Expect(completions).To(Receive(Equal(completion{"c1", false})))
		Expect(materialized).NotTo(Receive())
	})

	Context("materialization failure", func() {
		BeforeEach(func() {
			materialize = func(Record) error { return errors.New("cache full") }
		})
		It("resolves as not found", func() {
			Expect(s.Put(context.Background(), Record{Key: "k", Value: []byte("v")})).To(BeNil())
			r.Enqueue("c1", "k")
			Expect(r.Run(canceledContext())).To(BeNil())
			Expect(completions).To(Receive(Equal(completion{"c1", false})))
		})
	})

	It("supersedes pending reads of the same cookie", func() {
		Expect(s.Put(context.Background(), Record{Key: "k2", Value: []byte("v2")})).To(BeNil())

		r.Enqueue("c1", "k1")
		r.Enqueue("c1", "k2")
		Expect(r.Len()).To(Equal(1))

		Expect(r.Run(canceledContext())).To(BeNil())

		// Exactly one completion, for the later read.
		Expect(completions).To(Receive(Equal(completion{"c1", true})))
		Expect(completions).NotTo(Receive())
		var rec Record
		Expect(materialized).To(Receive(&rec))
		Expect(rec.Key).To(Equal("k2"))
	})

	It("resolves reads enqueued after shutdown as not found", func() {
		Expect(s.Put(context.Background(), Record{Key: "k", Value: []byte("v")})).To(BeNil())
		Expect(r.Run(canceledContext())).To(BeNil())

		r.Enqueue("c1", "k")
		Expect(completions).To(Receive(Equal(completion{"c1", false})))
		Expect(r.Len()).To(BeZero())
		Expect(materialized).NotTo(Receive())
	})

	It("serves distinct cookies independently", func() {
		Expect(s.Put(context.Background(), Record{Key: "k", Value: []byte("v")})).To(BeNil())

		r.Enqueue("c1", "k")
		r.Enqueue("c2", "no_such_key")
		Expect(r.Len()).To(Equal(2))
		Expect(r.Run(canceledContext())).To(BeNil())

		got := map[any]bool{}
		for i := 0; i < 2; i++ {
			var c completion
			Expect(completions).To(Receive(&c))
			got[c.cookie] = c.found
		}
		Expect(got).To(Equal(map[any]bool{"c1": true, "c2": false}))
	})
})
