// Package timingwheel implements the five-level hierarchical timer wheel
// used by the connection-pool client to index at most one in-flight
// request per connection against its deadline.
package timingwheel

// Level bucket counts: {1024, 64, 64, 64, 16}.
var levelSize = [5]int{1024, 64, 64, 64, 16}
var levelBits = [5]uint{10, 6, 6, 6, 4}

// shiftStart[L] is the cumulative bit-width of all levels below L.
var shiftStart = func() (s [5]uint) {
	var acc uint
	for i := range levelSize {
		s[i] = acc
		acc += levelBits[i]
	}
	return
}()

// rangeMs[L] is the span (in ms) one full rotation of level L covers.
var rangeMs = func() (r [5]int64) {
	for i := range levelSize {
		r[i] = int64(levelSize[i]) << shiftStart[i]
	}
	return
}()

// Node is a single pending timeout. Callers get one back from Add and
// must pass it to Delete to cancel; a node is in at most one bucket.
type Node struct {
	expireMs int64
	Iterator any // opaque payload, typically an index into a send queue

	level int
	idx   int
	prev  *Node
	next  *Node
}

type bucket struct {
	head Node // sentinel; head.next/prev form the ring
}

func newBucket() *bucket {
	b := &bucket{}
	b.head.next = &b.head
	b.head.prev = &b.head
	return b
}

func (b *bucket) insert(n *Node) {
	n.next = &b.head
	n.prev = b.head.prev
	b.head.prev.next = n
	b.head.prev = n
}

func (n *Node) unlink() {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

// Wheel is the hierarchical timer wheel. Not safe for concurrent use
// without external locking (the connection-pool client that owns it
// already serializes access per §5's per-reactor ordering guarantee).
type Wheel struct {
	buckets        [5][]*bucket
	lastExpireTime int64
}

// New builds an empty wheel. startMs should be the current time (ms) at
// construction; DoTimeout calls with now <= lastExpireTime are no-ops.
func New(startMs int64) *Wheel {
	w := &Wheel{lastExpireTime: startMs}
	for l := range w.buckets {
		bs := make([]*bucket, levelSize[l])
		for i := range bs {
			bs[i] = newBucket()
		}
		w.buckets[l] = bs
	}
	return w
}

// Add inserts a new timeout expiring at expireMs, returning a borrowed
// node pointer the caller uses later with Delete. expireMs <= the
// wheel's current time lands in the degenerate (already-due) bucket and
// fires on the very next DoTimeout tick.
func (w *Wheel) Add(expireMs int64, iterator any) *Node {
	n := &Node{expireMs: expireMs, Iterator: iterator}
	w.place(n, w.lastExpireTime)
	return n
}

// place chooses the lowest level whose range covers (expireMs - base),
// and inserts n into that level's bucket. A node already due
// (expireMs <= base) goes into the level-0 bucket of the next tick.
func (w *Wheel) place(n *Node, base int64) {
	at := n.expireMs
	if at <= base {
		at = base + 1
	}
	delta := at - base
	level := 0
	for level < 4 && delta > rangeMs[level] {
		level++
	}
	idx := int((at >> shiftStart[level])) & (levelSize[level] - 1)
	n.level, n.idx = level, idx
	w.buckets[level][idx].insert(n)
}

// Delete unlinks n from its bucket in O(1). Deleting an already-fired or
// already-deleted node is a no-op.
func (w *Wheel) Delete(n *Node) {
	if n.prev == nil {
		return
	}
	n.unlink()
}

// DoTimeout advances the wheel to nowMs one millisecond at a time,
// invoking cb(iterator) for every node that expires, in non-decreasing
// expire-time order (ties within a millisecond fire in an unspecified
// order relative to each other). Calling DoTimeout with nowMs <= the
// wheel's current time is a no-op (idempotent).
func (w *Wheel) DoTimeout(nowMs int64, cb func(any)) {
	for t := w.lastExpireTime + 1; t <= nowMs; t++ {
		w.tick(t, cb)
		w.lastExpireTime = t
	}
}

func (w *Wheel) tick(t int64, cb func(any)) {
	idx0 := int(t) & (levelSize[0] - 1)

	// Cascade higher levels down before firing level 0: a node wrapping
	// out of level >= 1 this tick can land in buckets[0][idx0], and it
	// must be there in time for the fire below to catch it — firing
	// first would miss it for a full level-0 rotation.
	for l := 1; l < 5; l++ {
		if t&((1<<shiftStart[l])-1) != 0 {
			break // no wrap at this level yet; stop cascading
		}
		idxL := int(t>>shiftStart[l]) & (levelSize[l] - 1)
		w.cascade(l, idxL)
	}

	w.fire(0, idx0, cb)
}

// fire drains and invokes the callback for every node in level l's
// bucket idx.
func (w *Wheel) fire(l, idx int, cb func(any)) {
	b := w.buckets[l][idx]
	for n := b.head.next; n != &b.head; {
		next := n.next
		n.unlink()
		cb(n.Iterator)
		n = next
	}
}

// cascade moves every node out of level l's bucket idx and re-places it
// (possibly into level 0, if its expire time has now arrived).
func (w *Wheel) cascade(l, idx int) {
	b := w.buckets[l][idx]
	var nodes []*Node
	for n := b.head.next; n != &b.head; n = n.next {
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		n.unlink()
		w.place(n, w.lastExpireTime)
	}
}
