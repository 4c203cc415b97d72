package hostloop

import (
	"sync/atomic"
)

// bottom half scheduling states, held in BottomHalf.state
const (
	bhUnscheduled uint32 = iota
	bhScheduled
	bhScheduledIdle
)

// BottomHalf is a callback deferred to the reactor thread.
//
// A bottom half runs exactly once per successful schedule, never
// concurrently with itself, and only on the goroutine driving the owning
// [AioContext]. Scheduling an already scheduled bottom half is a no-op.
// A bottom half scheduled while bottom halves are being run (including by
// itself) runs on a later pass.
type BottomHalf struct {
	ctx     *AioContext
	fn      func()
	state   atomic.Uint32
	deleted atomic.Bool
	// gen counts schedules. Queue entries from earlier schedules no
	// longer match it and are dropped.
	gen atomic.Uint64
}

// bhEntry is a queued schedule of a bottom half.
type bhEntry struct {
	b   *BottomHalf
	gen uint64
}

func (b *BottomHalf) enqueue() {
	b.ctx.bhQueue.Push(bhEntry{b: b, gen: b.gen.Add(1)})
}

// Schedule arranges for the bottom half to run, waking the reactor. It is
// safe to call from any goroutine.
func (b *BottomHalf) Schedule() {
	if b.deleted.Load() {
		return
	}
	for {
		switch b.state.Load() {
		case bhUnscheduled:
			if !b.state.CompareAndSwap(bhUnscheduled, bhScheduled) {
				continue
			}
			b.ctx.pendingBH.Add(1)
			b.enqueue()
		case bhScheduledIdle:
			if !b.state.CompareAndSwap(bhScheduledIdle, bhScheduled) {
				continue
			}
			b.ctx.pendingIdleBH.Add(-1)
			b.ctx.pendingBH.Add(1)
		}
		break
	}
	b.ctx.notify()
}

// ScheduleIdle arranges for the bottom half to run without waking the
// reactor. Idle bottom halves cap the reactor's blocking timeout at
// 10ms instead of forcing a non-blocking iteration.
func (b *BottomHalf) ScheduleIdle() {
	if b.deleted.Load() {
		return
	}
	if b.state.CompareAndSwap(bhUnscheduled, bhScheduledIdle) {
		b.ctx.pendingIdleBH.Add(1)
		b.enqueue()
	}
}

// Cancel unschedules the bottom half, if it has not yet run.
func (b *BottomHalf) Cancel() {
	b.ctx.unschedule(b)
}

// Delete cancels the bottom half and prevents it from being scheduled
// again.
func (b *BottomHalf) Delete() {
	b.deleted.Store(true)
	b.ctx.unschedule(b)
}

// Scheduled reports whether the bottom half is waiting to run.
func (b *BottomHalf) Scheduled() bool {
	return b.state.Load() != bhUnscheduled
}

// unschedule moves b to the unscheduled state, returning the state it was
// in. Pending counters change only with a successful transition.
func (c *AioContext) unschedule(b *BottomHalf) uint32 {
	for {
		s := b.state.Load()
		if s == bhUnscheduled {
			return s
		}
		if !b.state.CompareAndSwap(s, bhUnscheduled) {
			continue
		}
		if s == bhScheduledIdle {
			c.pendingIdleBH.Add(-1)
		} else {
			c.pendingBH.Add(-1)
		}
		return s
	}
}

// pollBottomHalves runs the bottom halves queued when the pass started. It
// reports whether any non-idle bottom half ran.
func (c *AioContext) pollBottomHalves() (progress bool) {
	for n := c.bhQueue.Len(); n > 0; n-- {
		e, ok := c.bhQueue.Pop()
		if !ok {
			break
		}
		b := e.b
		if e.gen != b.gen.Load() {
			continue
		}
		if b.deleted.Load() {
			c.unschedule(b)
			continue
		}
		switch c.unschedule(b) {
		case bhUnscheduled:
			// cancelled
			continue
		case bhScheduled:
			progress = true
		}
		c.stats.bottomHalvesRun.Add(1)
		c.diag.safeExecute(categoryAio, b.fn)
	}
	return progress
}
