package hostloop

import (
	"sync/atomic"
)

// State is the lifecycle state of a Reactor.
//
//	StateIdle → StateIterating      [RunIteration]
//	StateIterating → StateWaiting   [adapter blocks]
//	StateWaiting → StateIterating   [adapter returns]
//	StateIterating → StateIdle      [RunIteration returns]
//	StateIdle → StateClosed         [Close]
//
// StateClosed is terminal. Close during an iteration is deferred until the
// iteration returns.
type State uint32

const (
	// StateIdle indicates no iteration is in progress.
	StateIdle State = iota
	// StateIterating indicates an iteration is filling or dispatching.
	StateIterating
	// StateWaiting indicates an iteration is inside the blocking wait.
	StateWaiting
	// StateClosed indicates the reactor has been closed.
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateIterating:
		return "Iterating"
	case StateWaiting:
		return "Waiting"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// reactorState is a lock-free state machine with cache-line padding.
type reactorState struct { // betteralign:ignore
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func (s *reactorState) Load() State {
	return State(s.v.Load())
}

// TryTransition attempts to atomically move from one state to another.
func (s *reactorState) TryTransition(from, to State) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// Store is only valid for the terminal state.
func (s *reactorState) Store(state State) {
	s.v.Store(uint32(state))
}
