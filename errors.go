package hostloop

import (
	"errors"
	"fmt"
)

var (
	// ErrWaitObjectsFull is returned by AddWaitObject when the table already
	// holds MaxWaitObjects entries.
	ErrWaitObjectsFull = errors.New("hostloop: wait object table is full")

	// ErrReactorClosed is returned when operating on a closed reactor.
	ErrReactorClosed = errors.New("hostloop: reactor is closed")

	// ErrReactorRunning is returned by Run if the reactor is already being
	// driven by another call to Run.
	ErrReactorRunning = errors.New("hostloop: reactor is already running")

	// ErrReentrantIteration is logged when RunIteration is called from a
	// callback dispatched by RunIteration.
	ErrReentrantIteration = errors.New("hostloop: re-entrant iteration")

	// ErrForeignThread is returned by Close when the signal bridge was torn
	// down on a thread other than the one it blocked signals on.
	ErrForeignThread = errors.New("hostloop: signal mask not restored on foreign thread")

	// ErrInvalidFD is returned when registering a negative descriptor.
	ErrInvalidFD = errors.New("hostloop: invalid file descriptor")

	// ErrSignalRecordShort is logged when the signal descriptor yields a
	// partial record.
	ErrSignalRecordShort = errors.New("hostloop: short signal record")

	// ErrUnknownSignal is logged when a drained record carries a signal
	// number outside the dispatch table.
	ErrUnknownSignal = errors.New("hostloop: invalid signal number")
)

// PollFDsExceededError is the panic value raised when the generic event loop
// requests more poll records than the reactor's fixed scratch capacity. It
// indicates a runaway or misconfigured source set, not a runtime condition.
type PollFDsExceededError struct {
	Requested int
	Capacity  int
}

func (e *PollFDsExceededError) Error() string {
	return fmt.Sprintf("hostloop: poll records exceeded: requested %d, capacity %d", e.Requested, e.Capacity)
}

// PanicError wraps a value recovered from a panicking callback.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("hostloop: callback panicked: %v", e.Value)
}

// Unwrap returns the panic value if it is an error, enabling [errors.Is].
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
