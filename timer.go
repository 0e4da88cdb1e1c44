// The software timer service. Timers are plain callbacks, not threads:
// a dedicated service thread (created by Start when a timer thread
// priority is configured) owns the list of active timers, fires the
// expired ones, and pends on its signal set with a timeout equal to the
// soonest remaining expiry. The public operations never touch the
// active list directly; they set control bits atomically (additions go
// through a lock-free MPSC queue) and post the service thread's signal
// so it applies the change on its next pass. Because of the relative
// priorities involved, no assumption can be made about when that pass
// happens; a caller that wants to reclaim a removed Timer must wait for
// TimerActive to clear.

package eex

import (
	"sync/atomic"

	"github.com/joeycumines/eex/queue"
)

// fieldWord is an atomic 32-bit field with CAS-mediated bit set/clear,
// shared between the timer API (any context) and the service thread.
type fieldWord struct {
	w atomic.Uint32
}

func (f *fieldWord) load() uint32   { return f.w.Load() }
func (f *fieldWord) store(v uint32) { f.w.Store(v) }

func (f *fieldWord) set(bits uint32) {
	for {
		old := f.w.Load()
		if f.w.CompareAndSwap(old, old|bits) {
			return
		}
	}
}

func (f *fieldWord) clear(bits uint32) {
	for {
		old := f.w.Load()
		if f.w.CompareAndSwap(old, old&^bits) {
			return
		}
	}
}

// TimerFunc is a timer callback. It runs on the timer service thread
// and must not block.
type TimerFunc func(arg any)

// TimerStatus is the observable state of a timer, read with
// [Kernel.TimerStatus].
type TimerStatus uint32

const (
	// TimerActive is set once the service thread has inserted the timer
	// into its active list, and cleared when a remove is processed.
	TimerActive TimerStatus = 0x00000001
	// TimerRunning is set while the timer is counting down to expiry.
	TimerRunning TimerStatus = 0x00000002
)

// Control-word layout: low byte is the status bits above; the upper
// bits are commands latched by the API and consumed by the service
// thread.
const (
	timerStatusMask uint32 = 0x000000ff
	timerCtlStart   uint32 = 0x00000100 // app has commanded timer to start
	timerCtlStop    uint32 = 0x00000200 // app has commanded timer to stop
	timerCtlRemove  uint32 = 0x00000400 // app has commanded timer be removed
)

// Timer is one timer control block. interval is the period in ms
// between invocations; 0 makes the timer a one-shot, which stays active
// after firing and may be started again. remaining is the delay loaded
// by Start, or the ms left to expiry captured when a running timer is
// stopped; Resume restarts from it.
type Timer struct {
	fn   TimerFunc
	arg  any
	name string

	control   fieldWord // control and status bits
	interval  uint32
	remaining fieldWord // ms to expiry when started or stopped
	expiry    uint32    // kernel time when the timer expires; service thread only
	next      *Timer    // active list link; service thread only

	node queue.MPSCNode[*Timer]
}

// NewTimer builds a timer control block. A zero interval makes a
// one-shot. The timer does nothing until added to a kernel with
// [Kernel.TimerAdd] and started.
func NewTimer(name string, fn TimerFunc, arg any, interval uint32) *Timer {
	if interval > WaitMax {
		interval = WaitMax
	}
	return &Timer{fn: fn, arg: arg, name: name, interval: interval}
}

// Name returns the timer's human-readable name.
func (t *Timer) Name() string { return t.name }

// Interval returns the timer's period in ms, 0 for a one-shot.
func (t *Timer) Interval() uint32 { return t.interval }

// TimerAdd hands the timer to the service thread for insertion into the
// active list. Safe from any context; a nil callback is ignored.
func (k *Kernel) TimerAdd(t *Timer) {
	if t == nil || t.fn == nil {
		return
	}
	t.control.store(0)
	t.remaining.store(0)
	t.node.Value = t
	k.timerAddQ.Push(&t.node)
	// Posts never fail; the signal value has no meaning.
	k.PostSignal(nil, 1, k.timerSig)
}

// TimerRemove marks the timer for deletion from the active list. The
// control block may only be reclaimed once TimerActive reads clear.
func (k *Kernel) TimerRemove(t *Timer) {
	t.control.set(timerCtlRemove)
	k.PostSignal(nil, 1, k.timerSig)
}

// TimerStart commands the timer to start counting delay ms from the
// service thread's next pass. Starting an already running timer resets
// it with the new delay (the watchdog idiom).
func (k *Kernel) TimerStart(t *Timer, delay uint32) {
	if delay > WaitMax {
		delay = WaitMax
	}
	t.remaining.store(delay)
	t.control.set(timerCtlStart)
	k.PostSignal(nil, 1, k.timerSig)
}

// TimerStop commands the timer to stop; the ms left to expiry are
// captured so TimerResume can pick up where it left off.
func (k *Kernel) TimerStop(t *Timer) {
	t.control.set(timerCtlStop)
	k.PostSignal(nil, 1, k.timerSig)
}

// TimerResume restarts a stopped timer from its captured remaining
// time.
func (k *Kernel) TimerResume(t *Timer) {
	t.control.set(timerCtlStart)
	k.PostSignal(nil, 1, k.timerSig)
}

// TimerStatus returns the timer's status bits, with the command bits
// masked out.
func (k *Kernel) TimerStatus(t *Timer) TimerStatus {
	return TimerStatus(t.control.load() & timerStatusMask)
}

// timerThread is the service thread body. It unblocks on any signal, or
// when the soonest timer expiry elapses.
func (k *Kernel) timerThread(tc *ThreadContext) {
	timeout := WaitMax
	for {
		var status Status
		var signal uint32
		tc.PendSignal(&status, &signal, timeout, 0xffffffff, k.timerSig)
		timeout = k.timerService()
	}
}

// timerService runs one pass over the timers and returns the ms until
// the next expiry (WaitMax when nothing is running).
func (k *Kernel) timerService() uint32 {
	// Sever the add queue and splice the new timers into the active
	// list; from here on only this thread touches them.
	for _, n := range k.timerAddQ.Drain() {
		t := n.Value
		if t.remaining.load() > WaitMax {
			t.remaining.store(WaitMax)
		}
		t.next = k.activeTimers
		k.activeTimers = t
		t.control.set(uint32(TimerActive))
	}

	now := k.nowMS()
	next := WaitMax

	var head Timer // dummy simplifying unlink of the list head
	head.next = k.activeTimers
	for prev := &head; prev.next != nil; {
		t := prev.next

		if t.control.load()&timerCtlRemove != 0 {
			prev.next = t.next
			t.next = nil
			// The removed timer may cease to exist once its control
			// word (and with it TimerActive) is cleared.
			t.control.store(0)
			continue
		}

		if t.control.load()&uint32(TimerRunning) != 0 {
			if toExpiry := timeDiff(t.expiry, now); toExpiry <= 0 {
				k.logger.timerFired(t.name, t.interval != 0)
				t.fn(t.arg)
				if t.interval != 0 {
					// Schedule from the previous expiry so the
					// long-term period survives a delayed pass; a
					// late arrival beyond one full period resets the
					// phase instead.
					t.expiry += t.interval
					if timeDiff(t.expiry, k.nowMS()) <= 0 {
						t.expiry = k.nowMS() + t.interval
					}
				} else {
					t.expiry = 0
					t.control.clear(uint32(TimerRunning))
				}
			}
		}

		if t.control.load()&timerCtlStart != 0 {
			t.expiry = now + t.remaining.load()
			t.control.set(uint32(TimerRunning))
			t.control.clear(timerCtlStart)
		}

		if t.control.load()&timerCtlStop != 0 {
			remaining := timeDiff(t.expiry, now)
			if remaining < 0 {
				remaining = 0
			}
			t.remaining.store(uint32(remaining))
			t.expiry = 0
			t.control.clear(uint32(TimerRunning))
			t.control.clear(timerCtlStop)
		}

		if t.control.load()&uint32(TimerRunning) != 0 {
			remaining := timeDiff(t.expiry, now)
			if remaining < 0 {
				remaining = 0
			}
			if uint32(remaining) < next {
				next = uint32(remaining)
			}
		}

		prev = t
	}
	k.activeTimers = head.next
	return next
}
