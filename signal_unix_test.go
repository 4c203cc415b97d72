//go:build linux || darwin

package hostloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBridge returns a bridge reading records from a test pipe, and the
// pipe's write end.
func newTestBridge(t *testing.T, r *Reactor, table *SignalTable) (*signalBridge, int) {
	t.Helper()
	rfd, wfd := newTestPipe(t)
	b := newSignalBridge(r, table)
	b.fd = rfd
	b.read = func(buf []byte) (int, error) { return readFD(rfd, buf) }
	return b, wfd
}

func writeSignalRecord(t *testing.T, fd int, info SignalInfo) {
	t.Helper()
	var rec [signalInfoSize]byte
	info.encode(rec[:])
	n, err := writeFD(fd, rec[:])
	require.NoError(t, err)
	require.Equal(t, signalInfoSize, n)
}

func TestSignalBridge_DrainAll(t *testing.T) {
	r := newTestReactor(t)
	table := NewSignalTable()
	var got []int
	table.Handle(14, func(signo int) { got = append(got, signo) })
	table.HandleInfo(29, func(info *SignalInfo) { got = append(got, int(info.Signo)+1000) })

	b, wfd := newTestBridge(t, r, table)
	for _, signo := range []uint32{14, 29, 14, 30} {
		writeSignalRecord(t, wfd, SignalInfo{Signo: signo})
	}

	b.drain()
	assert.Equal(t, []int{14, 1029, 14}, got)
	assert.Equal(t, uint64(4), r.Stats().SignalsDelivered)

	// empty, so this returns on EAGAIN
	b.drain()
	assert.Len(t, got, 3)
}

func TestSignalBridge_ShortReadStopsDrain(t *testing.T) {
	buf := new(syncBuffer)
	r := newTestReactor(t, WithLogger(newTestLogger(buf)))
	table := NewSignalTable()
	var calls int
	table.Handle(14, func(int) { calls++ })

	b, wfd := newTestBridge(t, r, table)
	writeSignalRecord(t, wfd, SignalInfo{Signo: 14})
	_, err := writeFD(wfd, make([]byte, signalInfoSize/2))
	require.NoError(t, err)

	b.drain()
	assert.Equal(t, 1, calls)
	assert.Contains(t, buf.String(), ErrSignalRecordShort.Error())
}

func TestSignalBridge_InvalidSignalStopsDrain(t *testing.T) {
	buf := new(syncBuffer)
	r := newTestReactor(t, WithLogger(newTestLogger(buf)))
	table := NewSignalTable()
	var calls int
	table.Handle(14, func(int) { calls++ })

	b, wfd := newTestBridge(t, r, table)
	writeSignalRecord(t, wfd, SignalInfo{Signo: 500})
	writeSignalRecord(t, wfd, SignalInfo{Signo: 14})

	b.drain()
	assert.Zero(t, calls)
	assert.Contains(t, buf.String(), ErrUnknownSignal.Error())

	// the rest is picked up by the next readiness
	b.drain()
	assert.Equal(t, 1, calls)
}

func TestSignalBridge_DrainViaFDHandler(t *testing.T) {
	r := newTestReactor(t)
	table := NewSignalTable()
	var calls int
	table.Handle(14, func(int) { calls++ })

	holdLock(t, r)
	b, wfd := newTestBridge(t, r, table)
	require.NoError(t, r.SetFDHandler(b.fd, nil, b.drain, nil))

	writeSignalRecord(t, wfd, SignalInfo{Signo: 14})
	writeSignalRecord(t, wfd, SignalInfo{Signo: 14})
	r.RunIteration(false)
	assert.Equal(t, 2, calls)
}
