//go:build darwin

package hostloop

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// EventNotifier is a level-triggered wakeup primitive backed by a
// non-blocking pipe. Set may be called from any goroutine.
type EventNotifier struct {
	rfd    int
	wfd    int
	closed atomic.Bool
}

// NewEventNotifier returns a notifier, initially set if initial is true.
func NewEventNotifier(initial bool) (*EventNotifier, error) {
	rfd, wfd, err := newNonblockingPipe()
	if err != nil {
		return nil, err
	}
	n := &EventNotifier{rfd: rfd, wfd: wfd}
	if initial {
		if err := n.Set(); err != nil {
			_ = n.Close()
			return nil, err
		}
	}
	return n, nil
}

// Set makes the notifier readable.
func (n *EventNotifier) Set() error {
	if n.closed.Load() {
		return ErrReactorClosed
	}
	buf := [1]byte{1}
	for {
		_, err := unix.Write(n.wfd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			// pipe full, which is still readable
			return nil
		}
		return err
	}
}

// TestAndClear reports whether the notifier was set, and drains it.
func (n *EventNotifier) TestAndClear() bool {
	var (
		buf [64]byte
		set bool
	)
	for {
		c, err := unix.Read(n.rfd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || c <= 0 {
			return set
		}
		set = true
	}
}

// FD returns the read end of the pipe.
func (n *EventNotifier) FD() int { return n.rfd }

// Close releases both ends of the pipe.
func (n *EventNotifier) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	return errors.Join(unix.Close(n.rfd), unix.Close(n.wfd))
}
