//go:build windows

package hostloop

import (
	"sync/atomic"

	"golang.org/x/sys/windows"
)

// EventNotifier is a level-triggered wakeup primitive backed by a
// manual-reset event. Set may be called from any goroutine.
type EventNotifier struct {
	handle windows.Handle
	closed atomic.Bool
}

// NewEventNotifier returns a notifier, initially set if initial is true.
func NewEventNotifier(initial bool) (*EventNotifier, error) {
	var state uint32
	if initial {
		state = 1
	}
	h, err := windows.CreateEvent(nil, 1, state, nil)
	if err != nil {
		return nil, err
	}
	return &EventNotifier{handle: h}, nil
}

// Set signals the event.
func (n *EventNotifier) Set() error {
	if n.closed.Load() {
		return ErrReactorClosed
	}
	return windows.SetEvent(n.handle)
}

// TestAndClear reports whether the event was signalled, and resets it.
func (n *EventNotifier) TestAndClear() bool {
	ev, err := windows.WaitForSingleObject(n.handle, 0)
	if err != nil || ev != windows.WAIT_OBJECT_0 {
		return false
	}
	_ = windows.ResetEvent(n.handle)
	return true
}

// FD returns the event handle, as carried in poll records.
func (n *EventNotifier) FD() int { return int(n.handle) }

// Handle returns the event handle.
func (n *EventNotifier) Handle() Handle { return Handle(n.handle) }

// Close releases the event handle.
func (n *EventNotifier) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	return windows.CloseHandle(n.handle)
}
