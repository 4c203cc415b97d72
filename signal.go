package hostloop

import (
	"encoding/binary"
	"sync"
)

// signalInfoSize is the size of one record read from the signal descriptor,
// the layout of struct signalfd_siginfo.
const signalInfoSize = 128

// maxSignal bounds signal numbers, matching NSIG on Linux.
const maxSignal = 65

// SignalInfo describes one delivered signal, decoded from a signalfd
// record. Fields not provided by the platform are zero.
type SignalInfo struct {
	Signo   uint32
	Errno   int32
	Code    int32
	PID     uint32
	UID     uint32
	FD      int32
	TID     uint32
	Band    uint32
	Overrun uint32
	Trapno  uint32
	Status  int32
	Int     int32
	Ptr     uint64
	Utime   uint64
	Stime   uint64
	Addr    uint64
	AddrLSB uint16
}

func decodeSignalInfo(b []byte) (info SignalInfo) {
	e := binary.NativeEndian
	info.Signo = e.Uint32(b[0:])
	info.Errno = int32(e.Uint32(b[4:]))
	info.Code = int32(e.Uint32(b[8:]))
	info.PID = e.Uint32(b[12:])
	info.UID = e.Uint32(b[16:])
	info.FD = int32(e.Uint32(b[20:]))
	info.TID = e.Uint32(b[24:])
	info.Band = e.Uint32(b[28:])
	info.Overrun = e.Uint32(b[32:])
	info.Trapno = e.Uint32(b[36:])
	info.Status = int32(e.Uint32(b[40:]))
	info.Int = int32(e.Uint32(b[44:]))
	info.Ptr = e.Uint64(b[48:])
	info.Utime = e.Uint64(b[56:])
	info.Stime = e.Uint64(b[64:])
	info.Addr = e.Uint64(b[72:])
	info.AddrLSB = e.Uint16(b[80:])
	return info
}

func (info *SignalInfo) encode(b []byte) {
	clear(b[:signalInfoSize])
	e := binary.NativeEndian
	e.PutUint32(b[0:], info.Signo)
	e.PutUint32(b[4:], uint32(info.Errno))
	e.PutUint32(b[8:], uint32(info.Code))
	e.PutUint32(b[12:], info.PID)
	e.PutUint32(b[16:], info.UID)
	e.PutUint32(b[20:], uint32(info.FD))
	e.PutUint32(b[24:], info.TID)
	e.PutUint32(b[28:], info.Band)
	e.PutUint32(b[32:], info.Overrun)
	e.PutUint32(b[36:], info.Trapno)
	e.PutUint32(b[40:], uint32(info.Status))
	e.PutUint32(b[44:], uint32(info.Int))
	e.PutUint64(b[48:], info.Ptr)
	e.PutUint64(b[56:], info.Utime)
	e.PutUint64(b[64:], info.Stime)
	e.PutUint64(b[72:], info.Addr)
	e.PutUint16(b[80:], info.AddrLSB)
}

// SignalHandler handles a signal by number.
type SignalHandler func(signo int)

// SignalInfoHandler handles a signal with its full record.
type SignalInfoHandler func(info *SignalInfo)

type signalEntry struct {
	handler SignalHandler
	info    SignalInfoHandler
}

// SignalTable holds the handler currently installed for each signal. The
// signal bridge consults it for every record it drains, so handlers may be
// changed at any time, from any goroutine, without racing delivery.
type SignalTable struct {
	mu      sync.RWMutex
	entries [maxSignal]signalEntry
}

// DefaultSignals is the process-wide table used by reactors not configured
// with WithSignalTable.
var DefaultSignals = NewSignalTable()

// NewSignalTable returns an empty table.
func NewSignalTable() *SignalTable {
	return &SignalTable{}
}

func validSignal(signo int) bool {
	return signo > 0 && signo < maxSignal
}

// Handle installs fn as the simple handler for signo, replacing any
// handler. Invalid signal numbers are ignored.
func (t *SignalTable) Handle(signo int, fn SignalHandler) {
	if !validSignal(signo) {
		return
	}
	t.mu.Lock()
	t.entries[signo] = signalEntry{handler: fn}
	t.mu.Unlock()
}

// HandleInfo installs fn as the info handler for signo, replacing any
// handler. Invalid signal numbers are ignored.
func (t *SignalTable) HandleInfo(signo int, fn SignalInfoHandler) {
	if !validSignal(signo) {
		return
	}
	t.mu.Lock()
	t.entries[signo] = signalEntry{info: fn}
	t.mu.Unlock()
}

// Reset removes the handler for signo.
func (t *SignalTable) Reset(signo int) {
	if !validSignal(signo) {
		return
	}
	t.mu.Lock()
	t.entries[signo] = signalEntry{}
	t.mu.Unlock()
}

func (t *SignalTable) lookup(signo int) (signalEntry, error) {
	if !validSignal(signo) {
		return signalEntry{}, ErrUnknownSignal
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[signo], nil
}

// dispatch invokes the handler installed for info.Signo, preferring the
// info form. It reports whether a handler ran.
func (t *SignalTable) dispatch(d *diagnostics, info *SignalInfo) (bool, error) {
	e, err := t.lookup(int(info.Signo))
	if err != nil {
		return false, err
	}
	switch {
	case e.info != nil:
		d.safeExecute(categorySignal, func() { e.info(info) })
	case e.handler != nil:
		d.safeExecute(categorySignal, func() { e.handler(int(info.Signo)) })
	default:
		return false, nil
	}
	return true, nil
}
