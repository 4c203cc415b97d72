package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_FIFO(t *testing.T) {
	r := New[int]()
	for i := 0; i < 10; i++ {
		r.Push(i)
	}
	require.Equal(t, 10, r.Len())
	for i := 0; i < 10; i++ {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.Pop()
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

// TestRing_OverflowPath fills the ring then pushes past it, verifying order is
// preserved across the ring/overflow boundary.
func TestRing_OverflowPath(t *testing.T) {
	r := New[int]()
	total := bufferSize*2 + overflowCompactThreshold
	for i := 0; i < total; i++ {
		r.Push(i)
	}
	require.Equal(t, total, r.Len())

	for i := 0; i < total; i++ {
		v, ok := r.Pop()
		require.True(t, ok, "index %d", i)
		require.Equal(t, i, v)
	}
	_, ok := r.Pop()
	assert.False(t, ok)
	assert.False(t, r.overflowPending.Load())
}

// TestRing_PushWhileOverflowPending ensures that, once values have spilled,
// later pushes queue behind them even when the ring itself has room again.
func TestRing_PushWhileOverflowPending(t *testing.T) {
	r := New[int]()
	for i := 0; i <= bufferSize; i++ {
		r.Push(i)
	}
	// free a ring slot
	v, ok := r.Pop()
	require.True(t, ok)
	require.Equal(t, 0, v)

	r.Push(bufferSize + 1)

	for i := 1; i <= bufferSize+1; i++ {
		v, ok := r.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestRing_ConcurrentProducers(t *testing.T) {
	const (
		producers = 8
		perProd   = 1000
	)
	r := New[*int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				v := i
				r.Push(&v)
			}
		}()
	}

	got := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		if _, ok := r.Pop(); ok {
			got++
			continue
		}
		select {
		case <-done:
			for {
				if _, ok := r.Pop(); !ok {
					break
				}
				got++
			}
			assert.Equal(t, producers*perProd, got)
			return
		default:
		}
	}
}
