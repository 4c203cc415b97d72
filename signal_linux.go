//go:build linux

package hostloop

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

type platformBridge struct {
	oldMask unix.Sigset_t
	pid     int
	tid     int
}

func sigaddset(set *unix.Sigset_t, sig syscall.Signal) {
	n := uint(sig - 1)
	bits := uint(unsafe.Sizeof(set.Val[0]) * 8)
	set.Val[n/bits] |= 1 << (n % bits)
}

func sigdelset(set *unix.Sigset_t, sig syscall.Signal) {
	n := uint(sig - 1)
	bits := uint(unsafe.Sizeof(set.Val[0]) * 8)
	set.Val[n/bits] &^= 1 << (n % bits)
}

// arm blocks the bridge signals on the calling OS thread, which must be
// locked and must be the thread driving the reactor, and registers a
// signalfd for them as a descriptor handler.
func (b *signalBridge) arm() error {
	if b.armed {
		return nil
	}

	var set unix.Sigset_t
	for _, s := range bridgeSignals {
		sigaddset(&set, s)
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &b.oldMask); err != nil {
		return fmt.Errorf("hostloop: block signals: %w", err)
	}

	sigdelset(&set, SigIPI)
	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC)
	if err != nil {
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &b.oldMask, nil)
		return fmt.Errorf("hostloop: signalfd: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = closeFD(fd)
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &b.oldMask, nil)
		return err
	}

	b.fd = fd
	b.read = func(buf []byte) (int, error) { return readFD(fd, buf) }
	b.pid = unix.Getpid()
	b.tid = unix.Gettid()
	b.r.fdHandlers.set(fd, nil, b.drain, nil)

	// the Go runtime takes process-directed signals on whichever thread
	// does not block them, so re-raise them at the reactor thread, where
	// they stay pending for the signalfd
	b.startForwarder(func(sig syscall.Signal) {
		_ = unix.Tgkill(b.pid, b.tid, sig)
	})

	b.armed = true
	return nil
}

// disarm unregisters the bridge. The signal mask is restored only when
// called on the thread that armed it.
func (b *signalBridge) disarm() error {
	if !b.armed {
		return nil
	}
	b.armed = false
	b.stopForwarder()
	b.r.fdHandlers.remove(b.fd)
	err := closeFD(b.fd)
	b.fd = -1
	if unix.Gettid() != b.tid {
		// the arming thread keeps its signals blocked
		if err == nil {
			err = ErrForeignThread
		}
		return err
	}
	if e := unix.PthreadSigmask(unix.SIG_SETMASK, &b.oldMask, nil); err == nil {
		err = e
	}
	return err
}
