// Package queue implements the three lockless queue classes threads and
// interrupt-context callers use to move values between each other without
// a mutex: an MPMC tagged Michael-Scott queue, an SPSC ring FIFO, and an
// MPSC intrusive stack-FIFO. None of these block: the MPMC and SPSC
// queues report false when full or empty, the unbounded MPSC Drain
// returns an empty slice when empty, and waiting (if any) is left to a
// synchronization object layered on top by the caller.
//
// The algorithms follow the tagged-index CAS idiom used throughout the
// kernel's other lock-free structures (compare the thread-list bitmaps
// and the semaphore/mutex tagged-count cell in the root package).
package queue

import (
	"sync/atomic"
)

// taggedIndex packs a 16-bit rolling tag and a 16-bit node index into one
// word so that both can be read and CAS'd together, avoiding ABA: a node
// that is freed and re-allocated gets a different tag even if it lands
// back at the same index.
type taggedIndex uint32

func pack(tag, idx uint16) taggedIndex {
	return taggedIndex(uint32(tag)<<16 | uint32(idx))
}

func (t taggedIndex) tag() uint16 { return uint16(t >> 16) }
func (t taggedIndex) idx() uint16 { return uint16(t) }

// nextTag returns the next nonzero tag in the rolling sequence.
func nextTag(prev uint16) uint16 {
	prev++
	if prev == 0 {
		prev = 1
	}
	return prev
}

// mpmcNode is a storage slot shared between the data_list and avail_list
// threaded through the same backing array. next is itself a tagged index,
// CAS'd independently of the cell that points at this node. The payload is
// held behind an atomic pointer to a fresh, never-mutated copy: a lagging
// dequeuer may snapshot the slot of a node that has already been recycled
// and re-reserved, and the pointer indirection keeps that stale read safe
// (the snapshot is discarded when the head CAS fails).
type mpmcNode[T any] struct {
	val  atomic.Pointer[T]
	next atomic.Uint32
}

func (n *mpmcNode[T]) loadNext() taggedIndex { return taggedIndex(n.next.Load()) }
func (n *mpmcNode[T]) casNext(old, new taggedIndex) bool {
	return n.next.CompareAndSwap(uint32(old), uint32(new))
}
func (n *mpmcNode[T]) storeNext(v taggedIndex) { n.next.Store(uint32(v)) }

// taggedHead is a head or tail pointer cell: a tagged index updated by CAS.
type taggedHead struct {
	v atomic.Uint32
}

func (h *taggedHead) load() taggedIndex { return taggedIndex(h.v.Load()) }
func (h *taggedHead) cas(old, new taggedIndex) bool {
	return h.v.CompareAndSwap(uint32(old), uint32(new))
}
func (h *taggedHead) store(v taggedIndex) { h.v.Store(uint32(v)) }

// MPMC is a fixed-capacity multi-producer/multi-consumer queue, lock-free
// and ABA-free, built from a single backing array of N+3 nodes: index 0 is
// the reserved end-of-list sentinel, the data list starts with a dummy at
// index 1, and the avail list chains indices 2..N+2 with its own dummy at
// index 2. Put reserves a node from avail_list and enqueues it onto
// data_list; Get reverses the roles.
type MPMC[T any] struct {
	nodes  []mpmcNode[T]
	dataH  taggedHead
	dataT  taggedHead
	availH taggedHead
	availT taggedHead
}

// NewMPMC builds a queue with room for capacity values.
func NewMPMC[T any](capacity int) *MPMC[T] {
	q := &MPMC[T]{nodes: make([]mpmcNode[T], capacity+3)}
	q.init()
	return q
}

func (q *MPMC[T]) init() {
	// index 1: data list dummy, terminates immediately.
	q.nodes[1].storeNext(pack(1, 0))
	q.dataH.store(pack(1, 1))
	q.dataT.store(pack(1, 1))

	// indices 2..N+2: avail list, dummy at 2, chained through to N+2,
	// terminated with index 0.
	last := len(q.nodes) - 1
	for i := 2; i < last; i++ {
		q.nodes[i].storeNext(pack(1, uint16(i+1)))
	}
	q.nodes[last].storeNext(pack(1, 0))
	q.availH.store(pack(1, 2))
	q.availT.store(pack(1, uint16(last)))
}

// dequeue removes the dummy at the front of the given list (head/tail
// pair) and returns its index for recycling, or 0 if the list is empty.
// On success the node at next.idx becomes the new dummy; its payload is
// snapshotted before the head CAS, because after the CAS another caller
// may recycle that node and republish the slot. A failed CAS discards
// the (possibly stale) snapshot and retries.
func (q *MPMC[T]) dequeue(head, tail *taggedHead) (uint16, *T) {
	for {
		h := head.load()
		t := tail.load()
		next := q.nodes[h.idx()].loadNext()
		if h.idx() == t.idx() {
			if next.idx() == 0 {
				return 0, nil
			}
			// tail has fallen behind; help it catch up.
			tail.cas(t, pack(nextTag(t.tag()), next.idx()))
			continue
		}
		v := q.nodes[next.idx()].val.Load()
		if head.cas(h, pack(nextTag(h.tag()), next.idx())) {
			return h.idx(), v
		}
	}
}

// enqueue appends node idx to the given list.
func (q *MPMC[T]) enqueue(head, tail *taggedHead, idx uint16) {
	q.nodes[idx].storeNext(pack(1, 0))
	for {
		t := tail.load()
		tailNext := q.nodes[t.idx()].loadNext()
		if tailNext.idx() == 0 {
			if q.nodes[t.idx()].casNext(tailNext, pack(nextTag(tailNext.tag()), idx)) {
				tail.cas(t, pack(nextTag(t.tag()), idx))
				return
			}
		} else {
			// tail lagging; help advance it and retry.
			tail.cas(t, pack(nextTag(t.tag()), tailNext.idx()))
		}
	}
}

// Put enqueues v, returning false if the queue is at capacity.
func (q *MPMC[T]) Put(v T) bool {
	idx, _ := q.dequeue(&q.availH, &q.availT)
	if idx == 0 {
		return false
	}
	q.nodes[idx].val.Store(&v)
	q.enqueue(&q.dataH, &q.dataT, idx)
	return true
}

// Get dequeues a value, returning false if the queue is empty. The value
// comes from the node that becomes the new data dummy; the old dummy is
// recycled onto the avail list with its stale payload reference dropped.
func (q *MPMC[T]) Get() (T, bool) {
	var zero T
	idx, v := q.dequeue(&q.dataH, &q.dataT)
	if idx == 0 {
		return zero, false
	}
	q.nodes[idx].val.Store(nil)
	q.enqueue(&q.availH, &q.availT, idx)
	return *v, true
}
