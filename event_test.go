package eex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimeDiff(t *testing.T) {
	require.Equal(t, int32(5), timeDiff(15, 10))
	require.Equal(t, int32(-5), timeDiff(10, 15))
	// Wraparound of the millisecond counter.
	require.Equal(t, int32(10), timeDiff(5, 0xfffffffb))
}

func TestTimeoutExpired(t *testing.T) {
	require.False(t, timeoutExpired(WaitNoTimeout, 100), "no-timeout never expires")
	require.False(t, timeoutExpired(WaitForever, 100), "wait-forever never expires")
	require.False(t, timeoutExpired(101, 100))
	require.True(t, timeoutExpired(100, 100))
	require.True(t, timeoutExpired(99, 100))
}

func TestEventInitTimeoutNormalization(t *testing.T) {
	fp := &fakePlatform{}
	fp.ms.Store(100)
	k, err := NewKernel(WithPlatform(fp), WithLogger(NewNoopLogger()))
	require.NoError(t, err)
	sem := NewSemaphore("s", 0, 1)
	ev := &threadEvent{}

	k.eventInit(ev, 3, nil, nil, 7, 0, sem, actionPend)
	require.Equal(t, uint32(107), ev.timeout.Load(), "delay converts to absolute expiry")
	require.True(t, sem.pendWaiters.Contains(3), "pend prospectively joins the waiter set")
	k.eventRemove(ev, StatusOK)
	require.False(t, sem.pendWaiters.Contains(3))

	k.eventInit(ev, 3, nil, nil, WaitNoTimeout, 0, sem, actionPend)
	require.Equal(t, WaitNoTimeout, ev.timeout.Load(), "reserved encodings pass through")
	k.eventRemove(ev, StatusOK)

	k.eventInit(ev, 3, nil, nil, WaitForever, 0, sem, actionPend)
	require.Equal(t, WaitForever, ev.timeout.Load())
	k.eventRemove(ev, StatusOK)

	k.eventInit(ev, 3, nil, nil, WaitMax+5, 0, sem, actionPend)
	require.Equal(t, 100+WaitMax, ev.timeout.Load(), "delay clamps to WaitMax")
	k.eventRemove(ev, StatusOK)

	// An expiry that lands exactly on 0 (the no-timeout encoding) is
	// nudged to 1.
	fp.ms.Store(0xffffffff - 4)
	k.eventInit(ev, 3, nil, nil, 5, 0, sem, actionPend)
	require.Equal(t, uint32(1), ev.timeout.Load())
	k.eventRemove(ev, StatusOK)
}

func TestEventInitSetsStatusInvalid(t *testing.T) {
	k, _ := newTestKernel(t)
	sem := NewSemaphore("s", 0, 1)
	ev := &threadEvent{}
	st := StatusOK
	k.eventInit(ev, 2, &st, nil, 0, 0, sem, actionPend)
	require.Equal(t, StatusInvalid, st, "the slot reads Invalid until the event resolves")
	k.eventRemove(ev, StatusEventNotReady)
	require.Equal(t, StatusEventNotReady, st)
}

// eventRemove clears the record before writing the status: by the time
// the caller observes the outcome, the event is gone.
func TestEventRemoveClearsRecordFirst(t *testing.T) {
	k, _ := newTestKernel(t)
	sem := NewSemaphore("s", 0, 1)
	ev := &threadEvent{}
	var st Status
	k.eventInit(ev, 4, &st, nil, WaitForever, 0, sem, actionPend)
	k.eventRemove(ev, StatusThreadTimeout)
	require.Equal(t, StatusThreadTimeout, st)
	require.Equal(t, actionNone, ev.action)
	require.Nil(t, ev.obj)
	require.Nil(t, ev.status)
	require.Zero(t, ev.timeout.Load())
	require.True(t, sem.pendWaiters.IsEmpty())
}

// An expired event resolves to ThreadTimeout on the next try, whatever
// the object state.
func TestEventTryTimeoutWinsOverAvailability(t *testing.T) {
	fp := &fakePlatform{}
	fp.ms.Store(10)
	k, err := NewKernel(WithPlatform(fp), WithLogger(NewNoopLogger()))
	require.NoError(t, err)
	sem := NewSemaphore("s", 1, 1)
	ev := &threadEvent{}
	var st Status
	k.eventInit(ev, 2, &st, nil, 5, 0, sem, actionPend)
	fp.ms.Store(20)
	require.Equal(t, uint32(2), k.eventTry(2, ev))
	require.Equal(t, StatusThreadTimeout, st)
	require.Equal(t, uint16(1), sem.Count(), "the count is untouched on timeout")
}

// A post that frees a higher-priority pend waiter reports that waiter's
// ID so the caller can get the scheduler involved.
func TestEventTryReportsUnblockedWaiter(t *testing.T) {
	k, _ := newTestKernel(t)
	sem := NewSemaphore("s", 0, 5)

	// Thread 9 blocks on the semaphore (simulated: event stays recorded).
	var st9 Status
	ev9 := &k.tcb(9).event
	k.eventInit(ev9, 9, &st9, nil, WaitForever, 0, sem, actionPend)
	require.Equal(t, uint32(0), k.eventTry(9, ev9), "empty semaphore blocks the pend")

	// Thread 3 posts: the completed post reports thread 9.
	var st3 Status
	ev3 := &k.tcb(3).event
	k.eventInit(ev3, 3, &st3, nil, 0, 1, sem, actionPost)
	require.Equal(t, uint32(9), k.eventTry(3, ev3))
	require.Equal(t, StatusOK, st3)

	// A pend that succeeds outright reports only the pender's own ID,
	// even with a higher-priority waiter still recorded on the object.
	var st1 Status
	ev1 := &k.tcb(1).event
	k.eventInit(ev1, 1, &st1, nil, WaitForever, 0, sem, actionPend)
	// count is 1 from the post above; the pend succeeds outright.
	require.Equal(t, uint32(1), k.eventTry(1, ev1))
	require.Equal(t, StatusOK, st1)
}
