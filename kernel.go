package eex

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/eex/internal/bitmap"
	"github.com/joeycumines/eex/queue"
)

// ThreadsMax is the number of user thread slots. A thread's identifier
// is simultaneously its priority, 1..ThreadsMax, larger = higher;
// identifier 0 denotes "no thread" (the idle pseudo-thread).
const ThreadsMax = 31

// ThreadFunc is the entry point of a thread. The ThreadContext is the
// thread's handle to the kernel: all blocking operations go through it,
// so that they are attributed to the right thread. A ThreadFunc that
// returns is placed back on the ready list and restarted from its entry
// point on the next dispatch.
type ThreadFunc func(tc *ThreadContext)

// threadControlBlock is the per-priority-slot thread state, statically
// allocated inside the Kernel.
type threadControlBlock struct {
	fn      ThreadFunc
	arg     any
	name    string
	started bool // resume marker: false = restart from entry
	event   threadEvent
	wake    chan struct{}
}

// yieldMsg is the handoff a thread sends the scheduler when it gives up
// the CPU. fromInterrupt marks a yield forced by a pended scheduler
// (the interrupt-exit trampoline of the source) rather than a block.
type yieldMsg struct {
	fromInterrupt bool
}

// errThreadStopped unwinds a parked thread goroutine during Shutdown.
var errThreadStopped = errors.New("eex: thread stopped")

// Kernel is the cooperative real-time executive: a fixed table of
// prioritized threads multiplexed so that at most one runs at a time,
// the synchronization objects they block on, and a software timer
// service. All kernel state is owned by a single Kernel instance;
// mutation is either serialized through the scheduler or performed with
// lock-free CAS, so interrupt-context callers (any goroutine outside
// the kernel's threads) may pend and post concurrently.
type Kernel struct {
	state    fastState
	platform Platform
	idleHook func(int32) uint32
	logger   *Logger

	tcbs [ThreadsMax + 1]threadControlBlock

	// the three thread lists
	ready       bitmap.Bitmap
	waiting     bitmap.Bitmap
	interrupted bitmap.Bitmap

	running   atomic.Uint32 // currently running thread ID
	schedPend atomic.Bool   // scheduler has been pended
	clockAdj  atomic.Uint32 // ms reported slept by the idle hook

	yieldCh  chan yieldMsg
	stopCh   chan struct{}
	stopOnce sync.Once

	delayObj Object // shared delay sentinel for all threads

	// timer service
	timerPriority uint32
	timerSig      *Object
	timerAddQ     queue.MPSC[*Timer]
	activeTimers  *Timer
}

// NewKernel builds a kernel with no threads. Create threads with
// ThreadCreate, then call Start.
func NewKernel(opts ...KernelOption) (*Kernel, error) {
	cfg, err := resolveKernelOptions(opts)
	if err != nil {
		return nil, err
	}
	k := &Kernel{
		platform:      cfg.platform,
		idleHook:      cfg.idleHook,
		logger:        cfg.logger,
		yieldCh:       make(chan yieldMsg),
		stopCh:        make(chan struct{}),
		timerPriority: cfg.timerPriority,
		timerSig:      NewSignal("eex-timer"),
	}
	k.delayObj.kind = KindDelay
	k.delayObj.name = "delay"
	for i := range k.tcbs {
		k.tcbs[i].wake = make(chan struct{})
	}
	return k, nil
}

func (k *Kernel) tcb(tid uint32) *threadControlBlock {
	if tid > ThreadsMax {
		panic(fmt.Sprintf("eex: thread id %d out of range", tid))
	}
	return &k.tcbs[tid]
}

// ThreadID returns the ID (equally, the priority) of the currently
// running thread, or 0 when none has been dispatched.
func (k *Kernel) ThreadID() uint32 { return k.running.Load() }

func (k *Kernel) setThreadID(tid uint32) {
	if tid > ThreadsMax {
		panic(fmt.Sprintf("eex: thread id %d out of range", tid))
	}
	k.running.Store(tid)
}

// KernelTime returns the Platform's millisecond clock (for the default
// hosted platform, milliseconds since NewKernel), adjusted for any time
// the idle hook reported the tick source paused. If us is non-nil it
// receives the microseconds elapsed since the last millisecond tick.
func (k *Kernel) KernelTime(us *uint32) uint32 {
	ms, micro := k.platform.KernelTime()
	if us != nil {
		*us = micro
	}
	return ms + k.clockAdj.Load()
}

// nowMS is the internal clock read used for all timeout arithmetic.
func (k *Kernel) nowMS() uint32 {
	ms, _ := k.platform.KernelTime()
	return ms + k.clockAdj.Load()
}

// idle invokes the configured idle hook (WithIdleHook override first,
// then the Platform's) and returns the ms it reports slept.
func (k *Kernel) idle(msUntilTimeout int32) uint32 {
	k.logger.idle(msUntilTimeout)
	if k.idleHook != nil {
		return k.idleHook(msUntilTimeout)
	}
	return k.platform.IdleHook(msUntilTimeout)
}

// ThreadCreate registers a thread at the given unique priority. Valid
// priorities are 1..ThreadsMax; a priority outside that range, or one
// already in use, is rejected with StatusThreadPriorityErr. Threads can
// only be created before Start.
func (k *Kernel) ThreadCreate(fn ThreadFunc, arg any, priority uint32, name string) Status {
	if fn == nil || k.state.Load() != stateCreated {
		k.logger.threadCreateFailed(priority, StatusThreadCreateErr)
		return StatusThreadCreateErr
	}
	if priority == 0 || priority > ThreadsMax {
		k.logger.threadCreateFailed(priority, StatusThreadPriorityErr)
		return StatusThreadPriorityErr
	}
	tcb := k.tcb(priority)
	if tcb.fn != nil {
		k.logger.threadCreateFailed(priority, StatusThreadPriorityErr)
		return StatusThreadPriorityErr
	}
	tcb.fn = fn
	tcb.arg = arg
	tcb.name = name
	k.ready.Set(priority)
	k.logger.threadCreated(priority, name)
	return StatusOK
}

// Start runs the scheduler in the calling goroutine until Shutdown. The
// timer service thread is created here when a timer thread priority was
// configured.
func (k *Kernel) Start() error {
	if k.timerPriority != 0 {
		if st := k.ThreadCreate(k.timerThread, nil, k.timerPriority, "eex-timer"); st != StatusOK {
			return &ConfigError{Message: fmt.Sprintf("eex: timer thread create failed: %s", st)}
		}
	}
	if !k.state.TryTransition(stateCreated, stateRunning) {
		return &ConfigError{Message: "eex: kernel already started"}
	}
	go k.tickLoop()
	k.run()
	k.state.Store(stateStopped)
	return nil
}

// Shutdown stops the kernel: the scheduler exits, parked threads unwind,
// and Start returns. Safe to call from any context, including from
// inside a thread; idempotent.
func (k *Kernel) Shutdown() {
	k.state.TryTransition(stateCreated, stateStopped)
	k.state.TryTransition(stateRunning, stateStopping)
	k.stopOnce.Do(func() { close(k.stopCh) })
}

// pendScheduler marks the scheduler for an immediate re-run: the running
// thread is forced to yield at its next kernel call, exactly as the
// source's PendSV fires on interrupt exit. Idempotent.
func (k *Kernel) pendScheduler() { k.schedPend.Store(true) }

// pendPost is the single entry point behind every pend and post. tc is
// nil for interrupt-context callers (any goroutine that is not a kernel
// thread), which get a temporary event and can never block. The return
// value tells a thread-context caller whether it must yield to the
// scheduler.
func (k *Kernel) pendPost(tc *ThreadContext, statusOut *Status, valOut *uint32, timeout, val uint32, obj *Object, action eventAction) bool {
	if obj == nil || (action != actionPend && action != actionPost) {
		panic("eex: pend/post requires an object and a pend or post action")
	}
	running := k.ThreadID()

	if tc == nil {
		// Interrupt context: temporary event, no blocking allowed.
		if timeout != 0 {
			if statusOut != nil {
				*statusOut = StatusBlockErr
			}
			return false
		}
		var ev threadEvent
		k.eventInit(&ev, 0, statusOut, valOut, 0, val, obj, action)
		if unblock := k.eventTry(running, &ev); unblock > running {
			k.pendScheduler()
		}
		return false
	}

	ev := &k.tcb(tc.id).event
	k.eventInit(ev, tc.id, statusOut, valOut, timeout, val, obj, action)
	unblock := k.eventTry(tc.id, ev)
	if unblock == 0 {
		k.logger.blocked(tc.id, obj.kind.String())
	}
	// Yield when the resource was unavailable (the event stays recorded
	// and the scheduler retries it), or when the operation freed a
	// higher-priority thread (the event is gone and this thread rejoins
	// the ready list).
	return unblock == 0 || unblock > tc.id
}

// Pend attempts to acquire obj from interrupt context. timeout must be
// 0; interrupt-context callers cannot block and a non-zero timeout is
// reported as StatusBlockErr.
func (k *Kernel) Pend(statusOut *Status, valOut *uint32, timeout uint32, obj *Object) {
	k.pendPost(nil, statusOut, valOut, timeout, 0, obj, actionPend)
}

// Post deposits a value / releases obj from interrupt context. The
// timeout parameter is reserved and must be 0.
func (k *Kernel) Post(statusOut *Status, val uint32, timeout uint32, obj *Object) {
	k.pendPost(nil, statusOut, nil, timeout, val, obj, actionPost)
}

// PendSignal reads-and-clears signal bits matching mask from interrupt
// context; timeout must be 0.
func (k *Kernel) PendSignal(statusOut *Status, valOut *uint32, timeout, mask uint32, sig *Object) {
	k.pendPost(nil, statusOut, valOut, timeout, mask, sig, actionPend)
}

// PostSignal ORs bits into a signal object from interrupt context.
// Posting a signal never fails.
func (k *Kernel) PostSignal(statusOut *Status, bits uint32, sig *Object) {
	k.pendPost(nil, statusOut, nil, 0, bits, sig, actionPost)
}

// ThreadContext is a thread's handle to the kernel, passed to its
// ThreadFunc. It is only valid on the goroutine the kernel dispatched;
// do not retain it elsewhere.
type ThreadContext struct {
	kernel *Kernel
	id     uint32
}

// Kernel returns the kernel that owns this thread.
func (tc *ThreadContext) Kernel() *Kernel { return tc.kernel }

// ID returns the thread's identifier, which is also its priority.
func (tc *ThreadContext) ID() uint32 { return tc.id }

// Name returns the thread's name.
func (tc *ThreadContext) Name() string { return tc.kernel.tcb(tc.id).name }

// Arg returns the argument passed to ThreadCreate.
func (tc *ThreadContext) Arg() any { return tc.kernel.tcb(tc.id).arg }

// yield hands the CPU to the scheduler and parks until re-dispatched.
func (tc *ThreadContext) yield(fromInterrupt bool) {
	k := tc.kernel
	select {
	case k.yieldCh <- yieldMsg{fromInterrupt: fromInterrupt}:
	case <-k.stopCh:
		panic(errThreadStopped)
	}
	select {
	case <-k.tcb(tc.id).wake:
	case <-k.stopCh:
		panic(errThreadStopped)
	}
}

// finish runs after every kernel call that completed without blocking:
// if the scheduler has been pended (an interrupt-context post freed a
// higher-priority thread), the running thread is preempted here, the
// closest cooperative analogue to the source's interrupt-exit
// trampoline.
func (tc *ThreadContext) finish(block bool) {
	if block {
		tc.yield(false)
	} else if tc.kernel.schedPend.Load() {
		tc.yield(true)
	}
}

// Pend attempts to acquire obj, blocking up to timeout ms (WaitForever
// to wait indefinitely, 0 to fail immediately with StatusEventNotReady
// or StatusSignalNone instead of blocking).
func (tc *ThreadContext) Pend(statusOut *Status, valOut *uint32, timeout uint32, obj *Object) {
	tc.finish(tc.kernel.pendPost(tc, statusOut, valOut, timeout, 0, obj, actionPend))
}

// Post deposits a value / releases obj. Posts never block; the timeout
// parameter is reserved and must be 0.
func (tc *ThreadContext) Post(statusOut *Status, val uint32, timeout uint32, obj *Object) {
	tc.finish(tc.kernel.pendPost(tc, statusOut, nil, timeout, val, obj, actionPost))
}

// PendSignal reads-and-clears signal bits matching mask, blocking up to
// timeout ms until at least one masked bit is set.
func (tc *ThreadContext) PendSignal(statusOut *Status, valOut *uint32, timeout, mask uint32, sig *Object) {
	tc.finish(tc.kernel.pendPost(tc, statusOut, valOut, timeout, mask, sig, actionPend))
}

// PostSignal ORs bits into a signal object. Posting a signal never
// fails and never blocks, though it yields if it freed a
// higher-priority thread.
func (tc *ThreadContext) PostSignal(statusOut *Status, bits uint32, sig *Object) {
	tc.finish(tc.kernel.pendPost(tc, statusOut, nil, 0, bits, sig, actionPost))
}

// Delay blocks the thread for ms milliseconds (clamped to WaitMax).
// Delay(0) is a no-op rather than an eternal sleep.
func (tc *ThreadContext) Delay(ms uint32) {
	if ms == 0 {
		return
	}
	tc.Pend(nil, nil, ms, &tc.kernel.delayObj)
}

// DelayUntil blocks the thread until the kernel clock reaches kernelMS,
// tolerating clock rollover; it returns immediately if that moment has
// already passed. kernelMS must be within WaitMax of the current time.
func (tc *ThreadContext) DelayUntil(kernelMS uint32) {
	d := timeDiff(kernelMS, tc.kernel.nowMS())
	if d <= 0 {
		return
	}
	tc.Delay(uint32(d))
}
