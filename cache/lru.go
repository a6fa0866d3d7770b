package cache

// Invariants for queue methods:
// * queue owns items between fakeHead and fakeTail.
// * {fakeHead, all owned items, fakeTail} are a correct doubly linked list.
// * all items owned by queue have field owner equal to &queue.
// * queue.size equals the sum of owned items' size().
type queue struct {
	size int64

	// Fake items. Real items are between them.
	// nil <- fakeHead <-> item_0 <-> ... <-> item_(n-1) <-> fakeTail -> nil
	// Such structure prevents nil checks in code.

	// fakeHead is the bottom of the queue. fakeHead.next is the least
	// recently stored item and the first eviction candidate.
	fakeHead *Item

	// fakeTail is the top of the queue. New and bumped items attach
	// before fakeTail.
	fakeTail *Item
}

// For debug output.
const fakeHeadKey = " !HEAD! "
const fakeTailKey = " !TAIL! "

func newQueue() *queue {
	q := &queue{}
	q.fakeHead, q.fakeTail = &Item{}, &Item{}
	q.fakeHead.Key = fakeHeadKey
	q.fakeTail.Key = fakeTailKey
	link(q.fakeHead, q.fakeTail)
	return q
}

func (q *queue) push(it *Item) {
	it.owner = q
	q.size += it.size()
	link(q.tail(), it)
	link(it, q.fakeTail)
}

func (q *queue) remove(it *Item) {
	q.assertOwned(it)
	q.size -= it.size()
	link(it.prev, it.next)
	it.owner = nil
	it.prev = nil
	it.next = nil
}

// bump moves an owned item to the top of the queue.
func (q *queue) bump(it *Item) {
	q.assertOwned(it)
	link(it.prev, it.next)
	link(q.tail(), it)
	link(it, q.fakeTail)
}

func (q *queue) head() *Item       { return q.fakeHead.next }
func (q *queue) tail() *Item       { return q.fakeTail.prev }
func (q *queue) end(it *Item) bool { return it == q.fakeTail }
func (q *queue) empty() bool       { return q.head() == q.fakeTail }

func (q *queue) assertOwned(it *Item) {
	if it.owner != q {
		panic("operation on item not owned by queue")
	}
}

func link(a, b *Item) { a.next, b.prev = b, a }
