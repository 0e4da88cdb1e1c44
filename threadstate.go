package eex

import "sync/atomic"

// kernelState represents the lifecycle of the Kernel itself, distinct
// from the per-thread ready/waiting/interrupted bitmaps tracked by the
// scheduler (see scheduler.go).
//
// State Machine:
//
//	stateCreated (0) → stateRunning (1)    [Start()]
//	stateCreated (0) → stateStopped (3)    [Shutdown() before Start()]
//	stateRunning (1) → stateStopping (2)   [Shutdown()]
//	stateStopping (2) → stateStopped (3)   [scheduler loop exit]
//
// Every transition uses TryTransition (CAS) except the last: Start
// Stores stateStopped directly once its scheduler loop has exited.
type kernelState uint64

const (
	stateCreated kernelState = iota
	stateRunning
	stateStopping
	stateStopped
)

func (s kernelState) String() string {
	switch s {
	case stateCreated:
		return "Created"
	case stateRunning:
		return "Running"
	case stateStopping:
		return "Stopping"
	case stateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding to
// avoid false sharing with neighboring fields on the Kernel struct.
type fastState struct { // betteralign:ignore
	_ [64]byte
	v atomic.Uint64
	_ [56]byte
}

func (s *fastState) Load() kernelState {
	return kernelState(s.v.Load())
}

func (s *fastState) Store(state kernelState) {
	s.v.Store(uint64(state))
}

func (s *fastState) TryTransition(from, to kernelState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

func (s *fastState) IsStopped() bool {
	return s.Load() == stateStopped
}
