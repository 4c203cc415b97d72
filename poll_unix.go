//go:build linux || darwin

package hostloop

import (
	"time"

	"github.com/joeycumines/go-hostloop/gmain"
	"golang.org/x/sys/unix"
)

func toPollEvents(c gmain.IOCondition) (ev int16) {
	if c&gmain.IOIn != 0 {
		ev |= unix.POLLIN
	}
	if c&gmain.IOOut != 0 {
		ev |= unix.POLLOUT
	}
	if c&gmain.IOPri != 0 {
		ev |= unix.POLLPRI
	}
	return ev
}

func fromPollEvents(ev int16) (c gmain.IOCondition) {
	if ev&unix.POLLIN != 0 {
		c |= gmain.IOIn
	}
	if ev&unix.POLLOUT != 0 {
		c |= gmain.IOOut
	}
	if ev&unix.POLLPRI != 0 {
		c |= gmain.IOPri
	}
	if ev&unix.POLLERR != 0 {
		c |= gmain.IOErr
	}
	if ev&unix.POLLHUP != 0 {
		c |= gmain.IOHup
	}
	if ev&unix.POLLNVAL != 0 {
		c |= gmain.IONval
	}
	return c
}

// pollTimeout retries poll(2) on EINTR, recomputing the remaining timeout
// (milliseconds, -1 for infinite).
func pollTimeout(pfds []unix.PollFd, timeout int) (int, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(time.Duration(timeout) * time.Millisecond)
	}
	for {
		n, err := unix.Poll(pfds, timeout)
		if err != unix.EINTR {
			return n, err
		}
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return 0, nil
			}
			timeout = int((remaining + time.Millisecond - 1) / time.Millisecond)
		}
	}
}

// pollFDs waits for any record in fds, filling Revents. Records with a
// negative FD are ignored.
func pollFDs(fds []gmain.PollFD, timeout int) (int, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd.FD), Events: toPollEvents(fd.Events)}
	}
	n, err := pollTimeout(pfds, timeout)
	if err != nil {
		return -1, err
	}
	for i := range fds {
		fds[i].Revents = 0
		if n > 0 {
			fds[i].Revents = fromPollEvents(pfds[i].Revents)
		}
	}
	return n, nil
}

// selector multiplexes FDSets with poll(2), keeping scratch storage between
// iterations.
type selector struct {
	pfds []unix.PollFd
}

// selectSets blocks until a descriptor in sets is ready or the timeout
// (milliseconds, -1 for infinite) elapses, then rewrites sets to hold only
// the ready descriptors. It returns the number of set bits, like select(2).
// As with select, an invalid descriptor fails the call with EBADF, and sets
// are left empty on any failure.
func (s *selector) selectSets(sets *FDSets, timeout int) (int, error) {
	s.pfds = s.pfds[:0]
	for fd := 0; fd <= sets.MaxFD; fd++ {
		var ev int16
		if sets.Read.IsSet(fd) {
			ev |= unix.POLLIN
		}
		if sets.Write.IsSet(fd) {
			ev |= unix.POLLOUT
		}
		if sets.Except.IsSet(fd) {
			ev |= unix.POLLPRI
		}
		if ev != 0 {
			s.pfds = append(s.pfds, unix.PollFd{Fd: int32(fd), Events: ev})
		}
	}

	n, err := pollTimeout(s.pfds, timeout)
	if err == nil {
		for _, p := range s.pfds {
			if p.Revents&unix.POLLNVAL != 0 {
				err = unix.EBADF
				break
			}
		}
	}

	maxFD := sets.MaxFD
	sets.Reset()
	if err != nil {
		return -1, err
	}
	if n == 0 {
		return 0, nil
	}

	var count int
	for _, p := range s.pfds {
		fd := int(p.Fd)
		if p.Events&unix.POLLIN != 0 && p.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			sets.Read.Set(fd)
			count++
		}
		if p.Events&unix.POLLOUT != 0 && p.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			sets.Write.Set(fd)
			count++
		}
		if p.Events&unix.POLLPRI != 0 && p.Revents&unix.POLLPRI != 0 {
			sets.Except.Set(fd)
			count++
		}
	}
	sets.MaxFD = maxFD
	return count, nil
}
