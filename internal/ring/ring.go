// Package ring implements the multi-producer single-consumer queue used to
// hand bottom halves from arbitrary goroutines to the reactor thread.
package ring

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

const (
	// bufferSize is the fixed size of the lock-free part of a Ring.
	// It must be a power of 2.
	bufferSize = 256

	// seqSkip marks an empty slot in sequence tracking. Using 1<<63 rather
	// than 0 avoids ambiguity when the sequence counter wraps.
	seqSkip = uint64(1) << 63

	overflowInitCap          = 64
	overflowCompactThreshold = 128

	sizeOfCacheLine    = 128
	sizeOfAtomicUint64 = 8
	headPadSize        = sizeOfCacheLine - sizeOfAtomicUint64
)

// Ring is a lock-free ring buffer with a mutex-protected overflow slice.
//
// Concurrency model: Push may be called from any goroutine, Pop and Len
// only from the single consumer.
//
// Push writes the value, then the validity flag, then the sequence number
// (release). Pop loads the sequence number (acquire), checks validity, then
// reads the value. When the ring is full, values spill to the overflow slice,
// and stay there in FIFO order until the overflow is drained.
type Ring[T any] struct { // betteralign:ignore
	_       [sizeOfCacheLine]byte
	buffer  [bufferSize]T
	valid   [bufferSize]atomic.Bool
	seq     [bufferSize]atomic.Uint64
	head    atomic.Uint64
	_       [headPadSize]byte
	tail    atomic.Uint64
	tailSeq atomic.Uint64

	overflowMu      sync.Mutex
	overflow        []T
	overflowHead    int
	overflowPending atomic.Bool
}

// New returns an empty Ring.
func New[T any]() *Ring[T] {
	r := &Ring[T]{}
	for i := 0; i < bufferSize; i++ {
		r.seq[i].Store(seqSkip)
	}
	return r
}

// Push appends v. It never fails.
func (r *Ring[T]) Push(v T) {
	if r.overflowPending.Load() {
		r.overflowMu.Lock()
		if len(r.overflow)-r.overflowHead > 0 {
			r.overflow = append(r.overflow, v)
			r.overflowMu.Unlock()
			return
		}
		r.overflowMu.Unlock()
	}

	for {
		tail := r.tail.Load()
		head := r.head.Load()

		if tail-head >= bufferSize {
			break
		}

		if r.tail.CompareAndSwap(tail, tail+1) {
			seq := r.tailSeq.Add(1)
			idx := tail % bufferSize
			// Value first, then validity, then the sequence. The sequence
			// store is the release that publishes both earlier writes.
			r.buffer[idx] = v
			r.valid[idx].Store(true)
			r.seq[idx].Store(seq)
			return
		}
	}

	r.overflowMu.Lock()
	if r.overflow == nil {
		r.overflow = make([]T, 0, overflowInitCap)
	}
	r.overflow = append(r.overflow, v)
	r.overflowPending.Store(true)
	r.overflowMu.Unlock()
}

// Pop removes and returns the oldest value, or false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T

	head := r.head.Load()
	tail := r.tail.Load()

	for head < tail {
		idx := head % bufferSize
		// Acquire the sequence before reading the value. A published
		// sequence guarantees the matching value write is visible.
		seq := r.seq[idx].Load()

		if seq == seqSkip || !r.valid[idx].Load() {
			// claimed by a producer that has not published yet
			runtime.Gosched()
			head = r.head.Load()
			tail = r.tail.Load()
			continue
		}

		// Clear the slot before advancing head, so a producer that observes
		// the new head never sees stale data in it.
		v := r.buffer[idx]
		r.buffer[idx] = zero
		r.valid[idx].Store(false)
		r.seq[idx].Store(seqSkip)
		r.head.Add(1)
		return v, true
	}

	// Ring values are older than overflow values.
	if !r.overflowPending.Load() {
		return zero, false
	}

	r.overflowMu.Lock()
	defer r.overflowMu.Unlock()

	if len(r.overflow)-r.overflowHead == 0 {
		r.overflowPending.Store(false)
		return zero, false
	}

	v := r.overflow[r.overflowHead]
	r.overflow[r.overflowHead] = zero
	r.overflowHead++

	if r.overflowHead > len(r.overflow)/2 && r.overflowHead > overflowCompactThreshold {
		copy(r.overflow, r.overflow[r.overflowHead:])
		r.overflow = slices.Delete(r.overflow, len(r.overflow)-r.overflowHead, len(r.overflow))
		r.overflowHead = 0
	}

	if r.overflowHead >= len(r.overflow) {
		r.overflowPending.Store(false)
	}

	return v, true
}

// Len returns the number of queued values (ring plus overflow). It may lag
// concurrent pushes.
func (r *Ring[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()

	n := 0
	if tail > head {
		n = int(tail - head)
	}

	r.overflowMu.Lock()
	n += len(r.overflow) - r.overflowHead
	r.overflowMu.Unlock()

	return n
}
