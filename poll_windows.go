//go:build windows

package hostloop

import (
	"errors"

	"github.com/joeycumines/go-hostloop/gmain"
	"golang.org/x/sys/windows"
)

var errTooManyHandles = errors.New("hostloop: too many handles for a single wait")

// pollFDs waits for any handle in fds to become signalled, treating each
// record's FD as a handle. Signalled handles report IOIn. Like g_poll on
// Windows, after the first signalled handle the rest are tested without
// waiting.
func pollFDs(fds []gmain.PollFD, timeout int) (int, error) {
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout)
	}

	for i := range fds {
		fds[i].Revents = 0
	}

	if len(fds) == 0 {
		if ms != 0 {
			windows.SleepEx(ms, false)
		}
		return 0, nil
	}
	if len(fds) > MaxWaitObjects {
		return -1, errTooManyHandles
	}

	handles := make([]windows.Handle, len(fds))
	for i, fd := range fds {
		handles[i] = windows.Handle(fd.FD)
	}

	ev, err := windows.WaitForMultipleObjects(handles, false, ms)
	if err != nil {
		return -1, err
	}
	if ev == uint32(windows.WAIT_TIMEOUT) {
		return 0, nil
	}
	first := int(ev - windows.WAIT_OBJECT_0)
	if ev >= windows.WAIT_ABANDONED {
		first = int(ev - windows.WAIT_ABANDONED)
	}
	if first < 0 || first >= len(fds) {
		return -1, errors.New("hostloop: unexpected wait result")
	}

	n := 1
	fds[first].Revents = gmain.IOIn
	for i := first + 1; i < len(fds); i++ {
		if r, err := windows.WaitForSingleObject(handles[i], 0); err == nil && r == windows.WAIT_OBJECT_0 {
			fds[i].Revents = gmain.IOIn
			n++
		}
	}
	return n, nil
}

// selector is a placeholder on Windows, where collaborator descriptor sets
// cannot be waited on; collaborators should use wait objects instead.
type selector struct{}

// selectSets empties sets and reports no readiness.
func (s *selector) selectSets(sets *FDSets, timeout int) (int, error) {
	sets.Reset()
	return 0, nil
}
