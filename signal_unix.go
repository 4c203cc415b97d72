//go:build linux || darwin

package hostloop

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// SigIPI is the signal used to kick virtual CPU threads. The bridge blocks
// it on the reactor thread but never reads it, leaving it to a dedicated
// thread waiting synchronously.
const SigIPI = unix.SIGUSR1

// bridgeSignals is the set blocked by the signal bridge. Every signal except
// SigIPI is delivered through the bridge descriptor.
var bridgeSignals = []syscall.Signal{SigIPI, unix.SIGIO, unix.SIGALRM, unix.SIGBUS}

// used for testing
var (
	signalNotify = signal.Notify
	signalStop   = signal.Stop
)

// signalBridge turns signal delivery into ordinary descriptor readiness.
// Records are read from fd, by read, and dispatched through table.
type signalBridge struct {
	r     *Reactor
	table *SignalTable
	read  func([]byte) (int, error)
	ch    chan os.Signal
	done  chan struct{}
	wg    sync.WaitGroup
	fd    int
	armed bool

	platformBridge
}

func newSignalBridge(r *Reactor, table *SignalTable) *signalBridge {
	return &signalBridge{r: r, table: table, fd: -1}
}

// forwarded returns the bridge signals other than SigIPI.
func forwarded() []os.Signal {
	sigs := make([]os.Signal, 0, len(bridgeSignals))
	for _, s := range bridgeSignals {
		if s != SigIPI {
			sigs = append(sigs, s)
		}
	}
	return sigs
}

// drain reads signal records until the descriptor is empty, dispatching
// each. EAGAIN ends the drain normally. A short read, any other read error,
// or an invalid signal number stops the drain for this pass.
func (b *signalBridge) drain() {
	var buf [signalInfoSize]byte
	for {
		n, err := b.read(buf[:])
		if errors.Is(err, unix.EAGAIN) {
			return
		}
		if err != nil {
			b.r.diag.throttledErr(categorySignal, diagnosticKey{category: categorySignal, detail: "read", fd: b.fd}).
				Int("fd", b.fd).
				Err(err).
				Log("read from signal descriptor failed")
			return
		}
		if n != signalInfoSize {
			b.r.diag.throttledErr(categorySignal, diagnosticKey{category: categorySignal, detail: "short", fd: b.fd}).
				Int("fd", b.fd).
				Int("n", n).
				Err(ErrSignalRecordShort).
				Log("read from signal descriptor returned a partial record")
			return
		}

		info := decodeSignalInfo(buf[:])
		ran, err := b.table.dispatch(&b.r.diag, &info)
		if err != nil {
			b.r.diag.throttledErr(categorySignal, diagnosticKey{category: categorySignal, detail: "signo", fd: b.fd}).
				Uint64("signo", uint64(info.Signo)).
				Err(err).
				Log("signal dispatch failed")
			return
		}
		b.r.stats.signalsDelivered.Add(1)
		if !ran {
			b.r.diag.debug(categorySignal).
				Uint64("signo", uint64(info.Signo)).
				Log("no handler for signal")
		}
	}
}

// startForwarder relays process-directed signals, which the Go runtime
// receives on arbitrary threads, to deliver.
func (b *signalBridge) startForwarder(deliver func(syscall.Signal)) {
	b.ch = make(chan os.Signal, 16)
	b.done = make(chan struct{})
	signalNotify(b.ch, forwarded()...)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.done:
				return
			case s := <-b.ch:
				if sig, ok := s.(syscall.Signal); ok {
					deliver(sig)
				}
			}
		}
	}()
}

func (b *signalBridge) stopForwarder() {
	if b.ch == nil {
		return
	}
	signalStop(b.ch)
	close(b.done)
	b.wg.Wait()
	b.ch = nil
}
