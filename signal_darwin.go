//go:build darwin

package hostloop

import (
	"errors"
	"syscall"
)

type platformBridge struct {
	wfd int
}

// arm creates a non-blocking self-pipe, registered as a descriptor
// handler, and relays the bridge signals into it as signalfd records.
func (b *signalBridge) arm() error {
	if b.armed {
		return nil
	}

	rfd, wfd, err := newNonblockingPipe()
	if err != nil {
		return err
	}
	b.fd = rfd
	b.wfd = wfd
	b.read = func(buf []byte) (int, error) { return readFD(rfd, buf) }
	b.r.fdHandlers.set(rfd, nil, b.drain, nil)

	b.startForwarder(func(sig syscall.Signal) {
		var rec [signalInfoSize]byte
		info := SignalInfo{Signo: uint32(sig)}
		info.encode(rec[:])
		// a full pipe drops the record, as coalesced pending signals would
		_, _ = writeFD(wfd, rec[:])
	})

	b.armed = true
	return nil
}

func (b *signalBridge) disarm() error {
	if !b.armed {
		return nil
	}
	b.armed = false
	b.stopForwarder()
	b.r.fdHandlers.remove(b.fd)
	err := errors.Join(closeFD(b.fd), closeFD(b.wfd))
	b.fd, b.wfd = -1, -1
	return err
}
