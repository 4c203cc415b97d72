package hostloop

import (
	"testing"

	"github.com/joeycumines/go-hostloop/gmain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitObjectTable_Capacity(t *testing.T) {
	var tbl WaitObjectTable
	for i := range MaxWaitObjects {
		require.NoError(t, tbl.Add(Handle(i+1), func() {}))
	}
	assert.ErrorIs(t, tbl.Add(Handle(1000), func() {}), ErrWaitObjectsFull)
	assert.Equal(t, MaxWaitObjects, tbl.Len())
	assert.NotContains(t, tbl.Handles(), Handle(1000))
}

func TestWaitObjectTable_RemoveCompacts(t *testing.T) {
	var tbl WaitObjectTable
	for _, h := range []Handle{10, 20, 30, 20} {
		require.NoError(t, tbl.Add(h, func() {}))
	}

	tbl.Remove(20)
	assert.Equal(t, []Handle{10, 30, 20}, tbl.Handles())
	tbl.Remove(99)
	assert.Equal(t, 3, tbl.Len())

	fds := tbl.AppendPollFDs(nil)
	require.Len(t, fds, 3)
	assert.Equal(t, gmain.PollFD{FD: 30, Events: gmain.IOIn}, fds[1])
}

func TestWaitObjectTable_Dispatch(t *testing.T) {
	var tbl WaitObjectTable
	var fired []Handle
	add := func(h Handle, fn func()) {
		require.NoError(t, tbl.Add(h, func() {
			fired = append(fired, h)
			if fn != nil {
				fn()
			}
		}))
	}
	add(1, func() { tbl.Remove(2) })
	add(2, nil)
	add(3, nil)
	add(4, nil)

	fds := tbl.AppendPollFDs(nil)
	for i := range fds {
		if fds[i].FD != 4 {
			fds[i].Revents = gmain.IOIn
		}
	}
	tbl.Dispatch(fds)

	// 2 was removed by 1, and 3 still fires after the compaction
	assert.Equal(t, []Handle{1, 3}, fired)
	assert.Equal(t, []Handle{1, 3, 4}, tbl.Handles())
}
