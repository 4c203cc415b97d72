//go:build linux

package hostloop

import (
	"encoding/binary"
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// EventNotifier is a level-triggered wakeup primitive, usable as a poll
// record in the generic event loop. Set may be called from any goroutine.
// On Linux it is an eventfd; FD returns the descriptor to poll for IOIn.
type EventNotifier struct {
	fd     int
	closed atomic.Bool
}

// NewEventNotifier returns a notifier, initially set if initial is true.
func NewEventNotifier(initial bool) (*EventNotifier, error) {
	var initval uint
	if initial {
		initval = 1
	}
	fd, err := unix.Eventfd(initval, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &EventNotifier{fd: fd}, nil
}

// Set makes the notifier readable.
func (n *EventNotifier) Set() error {
	if n.closed.Load() {
		return ErrReactorClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(n.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			// counter saturated, which is still readable
			return nil
		}
		return err
	}
}

// TestAndClear reports whether the notifier was set, and clears it.
func (n *EventNotifier) TestAndClear() bool {
	var buf [8]byte
	for {
		c, err := unix.Read(n.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		return err == nil && c == len(buf)
	}
}

// FD returns the eventfd.
func (n *EventNotifier) FD() int { return n.fd }

// Close releases the eventfd.
func (n *EventNotifier) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(n.fd)
}
