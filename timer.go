package hostloop

import (
	"container/heap"
	"time"
)

// ClockKind selects one of the reactor's clocks.
type ClockKind int

const (
	// ClockRealtime is monotonic and always advances, even while the
	// emulated machine is stopped.
	ClockRealtime ClockKind = iota
	// ClockVirtual is monotonic, and stops advancing while disabled, e.g.
	// while the emulated machine is paused.
	ClockVirtual
	// ClockHost follows the host wall clock, including adjustments.
	ClockHost

	numClocks
)

// String returns the clock name.
func (k ClockKind) String() string {
	switch k {
	case ClockRealtime:
		return "realtime"
	case ClockVirtual:
		return "virtual"
	case ClockHost:
		return "host"
	default:
		return "unknown"
	}
}

// Clock is a time base with its own set of timers. Expired timers of
// enabled clocks run at the end of each reactor iteration, and the nearest
// deadline bounds the iteration's blocking wait.
//
// Clock and Timer methods must be called by the global lock holder.
type Clock struct {
	reactor *Reactor
	now     func() time.Time
	// virtual clock bookkeeping, see Now
	frozen  time.Time
	resumed time.Time
	timers  timerHeap
	kind    ClockKind
	enabled bool
}

func newClock(r *Reactor, kind ClockKind, now func() time.Time) *Clock {
	t := now()
	return &Clock{
		reactor: r,
		now:     now,
		frozen:  t,
		resumed: t,
		kind:    kind,
		enabled: true,
	}
}

// Kind returns the clock kind.
func (c *Clock) Kind() ClockKind { return c.kind }

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	switch c.kind {
	case ClockHost:
		return c.now().Round(0)
	case ClockVirtual:
		if !c.enabled {
			return c.frozen
		}
		return c.frozen.Add(c.now().Sub(c.resumed))
	default:
		return c.now()
	}
}

// Enabled reports whether the clock's timers may run.
func (c *Clock) Enabled() bool { return c.enabled }

// Enable starts or stops the clock. A disabled clock runs no timers and
// does not bound the blocking wait; a disabled virtual clock also stops
// advancing.
func (c *Clock) Enable(enabled bool) {
	if c.enabled == enabled {
		return
	}
	if !enabled {
		c.frozen = c.Now()
		c.enabled = false
		return
	}
	c.resumed = c.now()
	c.enabled = true
	c.reactor.kick()
}

// NewTimer returns an unarmed timer on the clock.
func (c *Clock) NewTimer(fn func()) *Timer {
	return &Timer{clock: c, fn: fn, index: -1}
}

// deadline returns the time until the nearest timer expires, if any.
func (c *Clock) deadline() (time.Duration, bool) {
	if !c.enabled || len(c.timers) == 0 {
		return 0, false
	}
	d := c.timers[0].expire.Sub(c.Now())
	if d < 0 {
		d = 0
	}
	return d, true
}

// run invokes every timer expired at the start of the call. Timers armed or
// re-armed by callbacks run on a later call, even if already expired.
func (c *Clock) run() (fired int) {
	if !c.enabled || len(c.timers) == 0 {
		return 0
	}

	type expired struct {
		t   *Timer
		gen uint64
	}
	var batch []expired

	now := c.Now()
	for len(c.timers) > 0 && !c.timers[0].expire.After(now) {
		t := heap.Pop(&c.timers).(*Timer)
		batch = append(batch, expired{t, t.gen})
	}

	for _, e := range batch {
		if e.t.gen != e.gen {
			// deleted or re-armed by an earlier callback
			continue
		}
		fired++
		c.reactor.diag.safeExecute(categoryTimer, e.t.fn)
	}
	return fired
}

// Timer is a callback that runs once its clock reaches the expiry time. A
// timer is one-shot; callbacks re-arm it with Mod as needed.
type Timer struct {
	clock  *Clock
	fn     func()
	expire time.Time
	gen    uint64
	index  int
}

// Mod arms the timer to expire at the given time on its clock, replacing
// any previous expiry. If the timer becomes the clock's nearest deadline,
// the reactor is woken so its wait is shortened.
func (t *Timer) Mod(expire time.Time) {
	c := t.clock
	t.gen++
	t.expire = expire
	if t.index >= 0 {
		heap.Fix(&c.timers, t.index)
	} else {
		heap.Push(&c.timers, t)
	}
	if t.index == 0 && c.enabled {
		c.reactor.kick()
	}
}

// ModAfter arms the timer to expire d after the clock's current time.
func (t *Timer) ModAfter(d time.Duration) {
	t.Mod(t.clock.Now().Add(d))
}

// Del disarms the timer. It is a no-op if the timer is not pending.
func (t *Timer) Del() {
	t.gen++
	if t.index >= 0 {
		heap.Remove(&t.clock.timers, t.index)
	}
}

// Pending reports whether the timer is armed.
func (t *Timer) Pending() bool { return t.index >= 0 }

// ExpireTime returns the expiry of a pending timer, or the zero time.
func (t *Timer) ExpireTime() time.Time {
	if t.index < 0 {
		return time.Time{}
	}
	return t.expire
}

// timerHeap is a min-heap of timers, ordered by expiry.
type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].expire.Before(h[j].expire) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timeoutMillis converts a deadline to a poll timeout, rounding up so the
// wait never returns before the deadline.
func timeoutMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	ms := (d + time.Millisecond - 1) / time.Millisecond
	if ms > time.Duration(maxTimeoutMillis) {
		return maxTimeoutMillis
	}
	return int(ms)
}

// maxTimeoutMillis is the longest finite wait, matching the int32 limit of
// poll(2).
const maxTimeoutMillis = 1<<31 - 1

// lowerTimeout sets *timeout to ms if ms is sooner, where -1 is infinite.
func lowerTimeout(timeout *int, ms int) {
	if ms < 0 {
		return
	}
	if *timeout < 0 || ms < *timeout {
		*timeout = ms
	}
}
