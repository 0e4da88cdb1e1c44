package queue

import "sync/atomic"

// MPSCNode is embedded in (or referenced by) a caller's payload so that the
// queue never allocates; ownership of the node transfers to the queue on
// Push and back to the caller once it comes out of Drain.
type MPSCNode[T any] struct {
	next  atomic.Pointer[MPSCNode[T]]
	Value T
}

// MPSC is a multi-producer/single-consumer intrusive stack used as a
// FIFO-reversed-out buffer: producers CAS-prepend onto a single head
// pointer; the single consumer atomically swaps the head with nil and
// walks the resulting chain. Because producers prepend, a Drain yields
// nodes most-recently-pushed first; callers that need arrival order
// should reverse the slice Drain returns (see Timer's add-queue for an
// example that does not care about order).
type MPSC[T any] struct {
	head atomic.Pointer[MPSCNode[T]]
}

// Push adds node to the queue. Safe to call from any number of concurrent
// producers, including interrupt-context callers.
func (q *MPSC[T]) Push(node *MPSCNode[T]) {
	for {
		old := q.head.Load()
		node.next.Store(old)
		if q.head.CompareAndSwap(old, node) {
			return
		}
	}
}

// Drain removes every currently queued node and returns them as a slice,
// oldest-push-last (see type doc). Must only be called from the single
// consumer goroutine.
func (q *MPSC[T]) Drain() []*MPSCNode[T] {
	head := q.head.Swap(nil)
	var out []*MPSCNode[T]
	for n := head; n != nil; n = n.next.Load() {
		out = append(out, n)
	}
	return out
}
