//go:build linux || darwin

package hostloop

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestPipe returns a non-blocking pipe, closed when the test ends.
func newTestPipe(t *testing.T) (rfd, wfd int) {
	t.Helper()
	rfd, wfd, err := newNonblockingPipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = closeFD(rfd)
		_ = closeFD(wfd)
	})
	return rfd, wfd
}

func writeByte(t *testing.T, fd int) {
	t.Helper()
	n, err := writeFD(fd, []byte{1})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func drainFD(fd int) {
	var buf [64]byte
	for {
		if n, err := readFD(fd, buf[:]); err != nil || n == 0 {
			return
		}
	}
}
