// The scheduler. It runs to completion in a context of its own (the
// Start goroutine, standing in for the source's PendSV handler): a
// thread never runs concurrently with it, which gives it unfettered
// access to every thread control block. It may, however, be raced by
// interrupt-context pends and posts, which only touch object bodies and
// waiter sets through CAS.
//
// On entry the departing thread is filed onto a list according to how it
// left the CPU: interrupted (forced out by a pended scheduler), waiting
// (blocked on an event), or ready (completed a kernel call that freed a
// higher-priority thread). The selection loop then picks the highest
// priority thread across all three lists; ready and interrupted threads
// are dispatched outright, while a waiting thread's event is retried and
// the thread dispatched only if the event completes. A waiting thread
// whose event cannot complete is masked out and the search continues.
//
// A thread blocked on a mutex means the mutex is held by a
// lower-priority thread (it would be poor form to acquire a mutex and
// then block). To bound the priority inversion, the owner is tried next
// ahead of every intermediate priority: hoisted directly if it is
// itself waiting, or, if it was interrupted, the waiting list is masked
// wholesale so the stack of interrupted threads drains until the owner
// runs and releases the mutex.

package eex

import (
	"time"

	"github.com/joeycumines/eex/internal/bitmap"
)

// schedule files the departing running thread and selects the next
// thread to run. It returns 0 only when the kernel is shutting down.
// When no thread can run it invokes the idle hook and keeps searching.
func (k *Kernel) schedule(fromInterrupt bool) uint32 {
	running := k.ThreadID()
	event := &k.tcb(running).event

	switch {
	case fromInterrupt:
		k.interrupted.Set(running)
	case event.action == actionNone:
		k.ready.Set(running)
	default:
		k.waiting.Set(running)
	}

	var mask uint32
	var hoisted uint32

	for k.state.Load() == stateRunning {
		var candidate uint32
		if hoisted != 0 {
			candidate, hoisted = hoisted, 0
		} else {
			candidate = bitmap.FF1(bitmap.Union(k.ready.Load(), k.interrupted.Load(), k.waiting.Load()) &^ mask)
		}

		switch {
		case k.ready.Contains(candidate):
			k.ready.Clear(candidate)
			k.setThreadID(candidate)
			return candidate

		case k.interrupted.Contains(candidate):
			k.interrupted.Clear(candidate)
			k.setThreadID(candidate)
			return candidate

		case k.waiting.Contains(candidate):
			event = &k.tcb(candidate).event
			if unblock := k.eventTry(candidate, event); unblock != 0 {
				k.waiting.Clear(candidate)
				if unblock > candidate {
					// Unblocked a still-higher-priority thread; re-run
					// immediately after this dispatch to service it.
					k.pendScheduler()
				}
				k.setThreadID(candidate)
				return candidate
			}
			mask |= bitmap.MaskFor(candidate)
			if event.obj != nil && event.obj.kind == KindMutex {
				if owner := event.obj.owner.Load(); owner != 0 && owner < candidate {
					// Priority inversion: try the owner next instead of
					// waiting for its turn.
					if k.waiting.Contains(owner) {
						mask |= bitmap.MaskFor(owner)
						hoisted = owner
						k.logger.hoisted(owner, candidate)
					} else {
						// Owner is on the interrupted stack; stop
						// considering waiters until it has run.
						mask |= k.waiting.Load()
					}
				}
			}

		default:
			// No thread is ready, waiting, or interrupted (or all
			// waiters are masked): idle until the next timeout or an
			// interrupt-context post makes progress.
			if slept := k.idle(k.threadTimeoutNext()); slept != 0 {
				k.clockAdj.Add(slept)
			}
			mask = 0
		}
	}
	return 0
}

// run is the dispatch loop: select a thread, hand it the CPU, wait for
// it to yield, repeat. A pended scheduler takes effect here: the
// selected thread is parked on the interrupted list without running,
// and selection starts over, mirroring a PendSV that fires immediately
// after dispatch.
func (k *Kernel) run() {
	fromInterrupt := false
	for k.state.Load() == stateRunning {
		tid := k.schedule(fromInterrupt)
		if tid == 0 {
			return
		}
		if k.schedPend.CompareAndSwap(true, false) {
			fromInterrupt = true
			continue
		}
		ok, fi := k.dispatch(tid)
		if !ok {
			return
		}
		fromInterrupt = fi
	}
}

// dispatch wakes thread tid (spawning its goroutine on first dispatch)
// and blocks until it yields the CPU back. ok is false when the kernel
// stopped instead.
func (k *Kernel) dispatch(tid uint32) (ok bool, fromInterrupt bool) {
	tcb := k.tcb(tid)
	k.logger.dispatch(tid, !tcb.started)
	if !tcb.started {
		tcb.started = true
		go k.threadLoop(tid)
	}
	select {
	case tcb.wake <- struct{}{}:
	case <-k.stopCh:
		return false, false
	}
	select {
	case m := <-k.yieldCh:
		return true, m.fromInterrupt
	case <-k.stopCh:
		return false, false
	}
}

// threadLoop hosts one thread on its own goroutine. The goroutine parks
// on the thread's wake channel between dispatches; a ThreadFunc that
// returns restarts from its entry point on the next dispatch, and
// Shutdown unwinds parked threads through the errThreadStopped panic.
func (k *Kernel) threadLoop(tid uint32) {
	tcb := k.tcb(tid)
	tc := &ThreadContext{kernel: k, id: tid}
	defer func() {
		if r := recover(); r != nil && r != errThreadStopped {
			panic(r)
		}
	}()
	for {
		select {
		case <-tcb.wake:
		case <-k.stopCh:
			return
		}
		tcb.fn(tc)
		// Ran off the end with no event recorded: rejoin the ready
		// list and restart from entry when next dispatched.
		select {
		case k.yieldCh <- yieldMsg{}:
		case <-k.stopCh:
			return
		}
	}
}

// threadTimeoutNext returns the ms until the soonest thread timeout,
// negative if one has already expired, or 0 if no waiting thread holds
// a timeout.
func (k *Kernel) threadTimeoutNext() int32 {
	now := k.nowMS()
	next := int32(0)
	found := false
	waiting := k.waiting.Load()
	for tid := uint32(1); tid <= ThreadsMax; tid++ {
		if waiting&bitmap.MaskFor(tid) == 0 {
			continue
		}
		timeout := k.tcb(tid).event.timeout.Load()
		if timeout == 0 || timeout == WaitForever {
			continue
		}
		if d := timeDiff(timeout, now); !found || d < next {
			next = d
			found = true
		}
	}
	return next
}

// threadTimeout returns the highest-priority waiting thread whose
// timeout has expired, or 0.
func (k *Kernel) threadTimeout() uint32 {
	now := k.nowMS()
	var mask uint32
	for {
		tid := k.waiting.FF1(mask)
		if tid == 0 {
			return 0
		}
		if timeoutExpired(k.tcb(tid).event.timeout.Load(), now) {
			return tid
		}
		mask |= bitmap.MaskFor(tid)
	}
}

// tickLoop stands in for the hardware timer tick interrupt: it pends the
// scheduler whenever a waiting thread at or above the running priority
// has timed out, so a running thread is preempted at its next kernel
// call rather than only when it blocks.
func (k *Kernel) tickLoop() {
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-k.stopCh:
			return
		case <-tick.C:
			if tid := k.threadTimeout(); tid != 0 && tid >= k.ThreadID() {
				k.pendScheduler()
			}
		}
	}
}
