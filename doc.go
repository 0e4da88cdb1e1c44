// Package eex is a small cooperative real-time executive: a
// priority-based scheduler multiplexing a fixed, compile-time-bounded
// set of threads so that at most one runs at a time, together with the
// synchronization primitives the threads block on.
//
// # Architecture
//
// The kernel is built around a [Kernel] core holding the thread table,
// the three thread lists (ready / waiting / interrupted), and the
// scheduler. Threads are identified by a priority in 1..[ThreadsMax]
// (larger = higher) that doubles as their ID; 0 denotes the idle
// pseudo-thread. Every blocking interaction goes through the event
// engine: a pend or post is recorded on the thread's control block,
// attempted atomically, and either completes in place or parks the
// thread until the scheduler can complete it (or its timeout expires).
//
// Synchronization objects ([NewSemaphore], [NewMutex], [NewSignal]) are
// tagged variants sharing a waiter-set header; mutexes additionally
// track their owner so the scheduler can hoist a lower-priority holder
// past intermediate priorities when a higher-priority thread blocks on
// the mutex. The sibling package
// [github.com/joeycumines/eex/queue] supplies the lock-free buffers
// (MPMC tagged queue, SPSC ring, MPSC intrusive stack) used to move
// data between interrupt context and thread context.
//
// # Execution Model
//
// Scheduling is cooperative between threads: a thread only yields at a
// pend, post, or delay. It is preemptive across priorities in the
// limited sense the source design allows: an interrupt-context post
// that frees a higher-priority thread pends the scheduler, and the
// running thread is forced to yield at its next kernel call. Threads
// are hosted on goroutines that park at each suspension point; the
// scheduler is a serializing critical section, so a thread never runs
// concurrently with another thread or with the scheduler.
//
// # Thread Safety
//
// Kernel methods ([Kernel.Pend], [Kernel.Post], [Kernel.PendSignal],
// [Kernel.PostSignal], the Timer API) are the interrupt-context
// surface: safe from any goroutine, never blocking, failing with
// [StatusBlockErr] if asked to wait. [ThreadContext] methods are the
// thread-context surface and are only valid on the goroutine the
// kernel dispatched. All shared state is manipulated through lock-free
// compare-and-swap or under the scheduler's serialized control.
//
// # Usage
//
//	k, err := eex.NewKernel(
//	    eex.WithTimerThreadPriority(31),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sem := eex.NewSemaphore("jobs", 0, 10)
//	k.ThreadCreate(func(tc *eex.ThreadContext) {
//	    for {
//	        var st eex.Status
//	        tc.Pend(&st, nil, eex.WaitForever, sem)
//	        // ... consume one job ...
//	    }
//	}, nil, 1, "consumer")
//	// interrupt context, e.g. from any goroutine:
//	k.Post(nil, 0, 0, sem)
//	log.Fatal(k.Start()) // never returns until Shutdown
//
// # Error Types
//
// Operation outcomes (resource unavailable, timeout, signal miss) are
// reported as [Status] codes through caller-supplied slots. Programming
// errors (recursive mutex lock, release by a non-owner, posting a delay
// object) are fatal and panic. Construction-time misconfiguration is
// reported as an error, wrapping [ConfigError].
package eex
