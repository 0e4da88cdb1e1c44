// The event engine: every pend and post, from any context and against
// any object kind, flows through eventInit/eventTry/eventRemove. An
// event is a kernel object as seen by one thread, bundled with the
// caller's result slots, timeout, and input value so that it can be
// tried standalone from the thread itself, from an interrupt-context
// caller, or from the scheduler retrying on the thread's behalf.

package eex

import (
	"sync/atomic"

	"github.com/joeycumines/eex/internal/bitmap"
)

// Standardized timeout values. Any other value is a delay in
// milliseconds, clamped to WaitMax and converted to an absolute expiry.
const (
	WaitNoTimeout uint32 = 0          // no timeout, return immediately
	WaitMax       uint32 = 0x7fffffff // maximum timeout delay
	WaitForever   uint32 = 0xffffffff // wait forever
)

type eventAction uint32

const (
	actionNone eventAction = iota
	actionPend
	actionPost
)

// threadEvent describes the single pend-or-post a thread is currently
// attempting. One is embedded in each thread control block; interrupt
// context callers use a stack-allocated temporary with tid 0 instead,
// since they cannot block and their event never touches waiter sets.
//
// timeout and input are atomic because they are read from contexts that
// race with the owner: the timer tick scans timeouts of waiting threads,
// and a signal post inspects the masks of threads it finds in an
// object's waiter set. The remaining fields are only touched by the
// owning thread and by the scheduler retrying on its behalf, which are
// serialized through the dispatch handoff.
type threadEvent struct {
	tid     uint32        // owning thread, 0 for interrupt-context events
	timeout atomic.Uint32 // absolute expiry, or WaitNoTimeout / WaitForever
	status  *Status       // caller's status slot
	valOut  *uint32       // caller's return-value slot
	input   atomic.Uint32 // post value, or signal mask for pends
	action  eventAction   // None | Pend | Post
	obj     *Object
}

// timeDiff returns the difference between two unsigned time values.
// Signed subtraction works correctly as long as the true difference is
// below 2^31.
func timeDiff(t, ref uint32) int32 { return int32(t - ref) }

// timeoutExpired reports whether an absolute expiry has elapsed. The
// reserved encodings (no timeout, wait forever) never expire.
func timeoutExpired(timeout, now uint32) bool {
	return timeout != 0 && timeout != WaitForever && timeDiff(timeout, now) <= 0
}

// eventInit fills in the event record for a pend or post and
// prospectively adds the thread to the object's waiter set; the bit is
// only acted on if the thread ends up on the waiting list, and is
// cleared again by eventRemove either way.
func (k *Kernel) eventInit(ev *threadEvent, tid uint32, statusOut *Status, valOut *uint32, timeout, val uint32, obj *Object, action eventAction) {
	ev.tid = tid
	ev.obj = obj
	ev.action = action
	ev.status = statusOut
	if statusOut != nil {
		*statusOut = StatusInvalid
	}
	ev.valOut = valOut
	ev.input.Store(val)

	// Timeout normalization: the reserved encodings pass through
	// unchanged; anything else is clamped to WaitMax and converted to
	// an absolute expiry, nudged off 0 since that encodes "no timeout".
	switch timeout {
	case WaitNoTimeout, WaitForever:
		ev.timeout.Store(timeout)
	default:
		if timeout > WaitMax {
			timeout = WaitMax
		}
		expiry := k.nowMS() + timeout
		if expiry == 0 {
			expiry = 1
		}
		ev.timeout.Store(expiry)
	}

	switch action {
	case actionPend:
		obj.pendWaiters.Set(tid)
	case actionPost:
		obj.postWaiters.Set(tid)
	}
}

// eventRemove detaches the event from its object's waiter sets and
// clears the record before the status is written to the caller's slot.
func (k *Kernel) eventRemove(ev *threadEvent, status Status) {
	obj := ev.obj
	obj.pendWaiters.Clear(ev.tid)
	obj.postWaiters.Clear(ev.tid)
	statusOut := ev.status
	ev.tid = 0
	ev.timeout.Store(0)
	ev.status = nil
	ev.valOut = nil
	ev.input.Store(0)
	ev.action = actionNone
	ev.obj = nil
	if statusOut != nil {
		*statusOut = status
	}
}

// eventTry attempts the pend or post described by ev on behalf of a
// thread with priority prio, and returns a thread ID telling the caller
// what happened:
//
//   - 0: the operation must block; the caller yields to the scheduler.
//   - prio: the operation completed without blocking (success, or a
//     non-blocking failure already reported through the status slot).
//   - above prio: the operation completed and additionally unblocked a
//     higher-priority waiter; the caller must get the scheduler re-run.
//
// Trying an event is safe from any context because all object-body
// mutation happens through CAS, and the scheduler only retries events
// belonging to threads that are parked on the waiting list.
func (k *Kernel) eventTry(prio uint32, ev *threadEvent) uint32 {
	obj := ev.obj
	if obj == nil || (ev.action != actionPend && ev.action != actionPost) {
		panic("eex: event try without object or action")
	}

	if timeoutExpired(ev.timeout.Load(), k.nowMS()) {
		k.logger.timeout(ev.tid)
		k.eventRemove(ev, StatusThreadTimeout)
		return prio
	}

	switch obj.kind {
	case KindSemaphore, KindMutex:
		unblock := prio
		if ev.action == actionPend {
			if obj.kind == KindMutex && prio != 0 && obj.owner.Load() == prio {
				panic("eex: recursive mutex lock on " + obj.name)
			}
			if k.semaMutexTry(ev) {
				if obj.kind == KindMutex {
					obj.owner.Store(prio)
				}
				k.eventRemove(ev, StatusOK)
			} else if ev.timeout.Load() == 0 {
				k.eventRemove(ev, StatusEventNotReady)
			} else {
				unblock = 0
			}
		} else {
			if obj.kind == KindMutex {
				if owner := obj.owner.Load(); owner != prio {
					panic("eex: mutex " + obj.name + " released by non-owner")
				}
			}
			k.semaMutexTry(ev) // posts never fail; saturation is silent
			if obj.kind == KindMutex {
				obj.owner.Store(0)
			}
			k.eventRemove(ev, StatusOK)
			if hpt := bitmap.FF1(obj.pendWaiters.Load()); hpt > prio {
				unblock = hpt
			}
		}
		return unblock

	case KindSignal:
		unblock := prio
		if ev.action == actionPend {
			if k.signalTry(ev) {
				k.eventRemove(ev, StatusOK)
			} else if ev.timeout.Load() == 0 {
				k.eventRemove(ev, StatusSignalNone)
			} else {
				unblock = 0
			}
		} else {
			k.signalTry(ev) // posting a signal cannot fail
			k.eventRemove(ev, StatusOK)
			// Wake the highest-priority waiter whose mask intersects
			// the bits now set; waiters with disjoint masks stay put.
			bits := obj.signal.Load()
			var mask uint32
			for {
				hpt := obj.pendWaiters.FF1(mask)
				if hpt == 0 {
					break
				}
				if k.tcb(hpt).event.input.Load()&bits != 0 {
					if hpt > prio {
						unblock = hpt
					}
					break
				}
				mask |= bitmap.MaskFor(hpt)
			}
		}
		return unblock

	case KindDelay:
		if ev.action == actionPost {
			panic("eex: delay object cannot be posted")
		}
		// A delay pend always blocks; only timeout expiry (handled
		// above on the scheduler's retries) releases it.
		return 0

	default:
		panic("eex: unknown kernel object kind")
	}
}

// semaMutexTry attempts to decrement (pend) or increment (post) the
// tagged count cell. It returns false only for a pend against a zero
// count; a post at max breaks out without a store, silently saturating.
// The caller's value slot tracks the count observed, then the count
// stored.
func (k *Kernel) semaMutexTry(ev *threadEvent) bool {
	obj := ev.obj
	pend := ev.action == actionPend
	for {
		old := obj.count.Load()
		cnt := countOf(old)
		if ev.valOut != nil {
			*ev.valOut = uint32(cnt)
		}
		if pend && cnt == 0 {
			return false
		}
		if !pend && cnt == obj.maxVal {
			// Unreachable for mutexes: the owner check in eventTry
			// rejects a double unlock first.
			k.logger.saturated(obj.kind.String())
			return true
		}
		next := cnt + 1
		if pend {
			next = cnt - 1
		}
		if obj.count.CompareAndSwap(old, packCount(newTag(), next)) {
			if ev.valOut != nil {
				*ev.valOut = uint32(next)
			}
			return true
		}
	}
}

// signalTry reads-and-clears matching signal bits (pend) or ORs new bits
// in (post). For pends the caller's value slot receives the matched
// bits, and the return value reports whether any matched; posts always
// succeed.
func (k *Kernel) signalTry(ev *threadEvent) bool {
	obj := ev.obj
	pend := ev.action == actionPend
	input := ev.input.Load()
	var matched uint32
	for {
		sig := obj.signal.Load()
		var next uint32
		if pend {
			matched = sig & input
			next = sig &^ matched
		} else {
			next = sig | input
		}
		if obj.signal.CompareAndSwap(sig, next) {
			break
		}
	}
	if ev.valOut != nil {
		*ev.valOut = matched
	}
	if !pend {
		return true
	}
	return matched != 0
}
