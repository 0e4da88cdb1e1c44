package eex

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectConstructors(t *testing.T) {
	sem := NewSemaphore("s", 3, 5)
	require.Equal(t, KindSemaphore, sem.Kind())
	require.Equal(t, "s", sem.Name())
	require.Equal(t, uint16(3), sem.Count())

	mtx := NewMutex("m")
	require.Equal(t, KindMutex, mtx.Kind())
	require.Equal(t, uint16(1), mtx.Count(), "a fresh mutex is free")
	require.Equal(t, uint32(0), mtx.Owner())

	sig := NewSignal("g")
	require.Equal(t, KindSignal, sig.Kind())
	require.Equal(t, uint32(0), sig.SignalBits())
}

func TestNewSemaphoreRejectsBadCounts(t *testing.T) {
	require.Panics(t, func() { NewSemaphore("bad", 2, 1) })
	require.Panics(t, func() { NewSemaphore("bad", 0, 0) })
}

func TestKindString(t *testing.T) {
	require.Equal(t, "Semaphore", KindSemaphore.String())
	require.Equal(t, "Mutex", KindMutex.String())
	require.Equal(t, "Signal", KindSignal.String())
	require.Equal(t, "Delay", KindDelay.String())
	require.Equal(t, "None", KindNone.String())
}

// The tagged count cell changes its tag on every successful update, and
// the tag generator never yields zero.
func TestTaggedCountRollsTags(t *testing.T) {
	sem := NewSemaphore("s", 1, 4)
	k, _ := newTestKernel(t)
	before := sem.count.Load()
	var st Status
	k.Post(&st, 0, 0, sem)
	after := sem.count.Load()
	require.NotEqual(t, before>>16, after>>16, "tag must roll on update")
	require.NotZero(t, after>>16)
	require.Equal(t, uint16(2), countOf(after))
}

func TestMutexProgrammingErrors(t *testing.T) {
	k, _ := newTestKernel(t)
	mtx := NewMutex("m")
	var st Status

	lock := func(tid uint32) {
		ev := &k.tcb(tid).event
		k.eventInit(ev, tid, &st, nil, 0, 0, mtx, actionPend)
		require.Equal(t, tid, k.eventTry(tid, ev))
		require.Equal(t, StatusOK, st)
	}

	lock(5)
	require.Equal(t, uint32(5), mtx.Owner())
	require.Equal(t, uint16(0), mtx.Count())

	// Recursive lock by the owner asserts.
	ev := &k.tcb(5).event
	k.eventInit(ev, 5, &st, nil, 0, 0, mtx, actionPend)
	require.Panics(t, func() { k.eventTry(5, ev) })

	// Release by a non-owner asserts.
	ev7 := &k.tcb(7).event
	k.eventInit(ev7, 7, &st, nil, 0, 0, mtx, actionPost)
	require.Panics(t, func() { k.eventTry(7, ev7) })

	// Legal release by the owner.
	ev5 := &k.tcb(5).event
	k.eventInit(ev5, 5, &st, nil, 0, 0, mtx, actionPost)
	require.Equal(t, uint32(5), k.eventTry(5, ev5))
	require.Equal(t, StatusOK, st)
	require.Equal(t, uint32(0), mtx.Owner())
	require.Equal(t, uint16(1), mtx.Count())

	// Double unlock asserts (the owner is now 0).
	k.eventInit(ev5, 5, &st, nil, 0, 0, mtx, actionPost)
	require.Panics(t, func() { k.eventTry(5, ev5) })
}

func TestDelayObjectCannotBePosted(t *testing.T) {
	k, _ := newTestKernel(t)
	require.Panics(t, func() { k.Post(nil, 0, 0, &k.delayObj) })
}
