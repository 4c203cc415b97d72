// Package gmain implements a small source-based readiness and dispatch
// context, modelled on the GLib main context.
//
// A [Context] holds [Source] values, each with a priority and a set of
// [PollFD] records. A host loop drives it in four steps per iteration:
//
//  1. [Context.Prepare] asks every source whether it is ready, and returns
//     the highest (numerically lowest) priority that is ready.
//  2. [Context.Query] copies the poll records of eligible sources into a
//     caller-owned array, and reports the timeout the sources require.
//  3. The host performs its own blocking wait, and fills in Revents.
//  4. [Context.Check] copies Revents back, and [Context.Dispatch] runs the
//     ready sources.
//
// The context never blocks. Sources are dispatched without holding the
// context mutex, so they may attach or destroy sources, including
// themselves.
package gmain

import (
	"sort"
	"sync"
)

// IOCondition is a bit mask of poll events.
type IOCondition uint16

const (
	// IOIn indicates data to read.
	IOIn IOCondition = 1 << iota
	// IOOut indicates the descriptor is writable.
	IOOut
	// IOPri indicates urgent data to read.
	IOPri
	// IOErr indicates an error condition.
	IOErr
	// IOHup indicates hang up.
	IOHup
	// IONval indicates an invalid request.
	IONval
)

// Source priorities, lower values run first.
const (
	PriorityHigh        = -100
	PriorityDefault     = 0
	PriorityHighIdle    = 100
	PriorityDefaultIdle = 200
	PriorityLow         = 300
)

// PollFD is a descriptor (or, on Windows, a handle) plus requested and
// observed events.
type PollFD struct {
	FD      int
	Events  IOCondition
	Revents IOCondition
}

// Source is a readiness source.
type Source interface {
	// Prepare is called before polling. It returns the maximum time, in
	// milliseconds, the host may block on behalf of this source (-1 for no
	// limit), and whether the source is already ready.
	Prepare() (timeout int, ready bool)

	// Check is called after polling, once Revents of the source's poll
	// records are up to date, and reports whether the source is ready.
	Check() bool

	// Dispatch runs the source. Returning false destroys it.
	Dispatch() bool
}

// SourceFuncs adapts plain functions to [Source]. Nil fields behave as
// "no timeout, not ready", "not ready" and "keep".
type SourceFuncs struct {
	PrepareFunc  func() (int, bool)
	CheckFunc    func() bool
	DispatchFunc func() bool
}

var _ Source = (*SourceFuncs)(nil)

func (x *SourceFuncs) Prepare() (int, bool) {
	if x.PrepareFunc == nil {
		return -1, false
	}
	return x.PrepareFunc()
}

func (x *SourceFuncs) Check() bool {
	if x.CheckFunc == nil {
		return false
	}
	return x.CheckFunc()
}

func (x *SourceFuncs) Dispatch() bool {
	if x.DispatchFunc == nil {
		return true
	}
	return x.DispatchFunc()
}

// SourceHandle identifies an attached source.
type SourceHandle struct {
	ctx       *Context
	src       Source
	priority  int
	seq       uint64
	fds       []*PollFD
	timeout   int
	ready     bool
	destroyed bool
}

// Priority returns the priority the source was attached with.
func (h *SourceHandle) Priority() int { return h.priority }

// Destroyed reports whether the source has been removed from its context.
func (h *SourceHandle) Destroyed() bool {
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	return h.destroyed
}

// Destroy removes the source from its context, see [Context.Destroy].
func (h *SourceHandle) Destroy() { h.ctx.Destroy(h) }

// AddPoll adds a poll record to the source. The record is owned by the
// caller, and its Revents is updated by [Context.Check].
func (h *SourceHandle) AddPoll(fd *PollFD) {
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	h.fds = append(h.fds, fd)
}

// RemovePoll removes a poll record previously added with AddPoll.
func (h *SourceHandle) RemovePoll(fd *PollFD) {
	h.ctx.mu.Lock()
	defer h.ctx.mu.Unlock()
	for i, v := range h.fds {
		if v == fd {
			h.fds = append(h.fds[:i], h.fds[i+1:]...)
			return
		}
	}
}

// Context is a set of sources. The zero value is not usable, use
// [NewContext].
type Context struct {
	mu      sync.Mutex
	sources []*SourceHandle
	pending []*SourceHandle
	// records appended by the last Query, in order
	queried []*PollFD
	nextSeq uint64
}

// NewContext returns an empty context.
func NewContext() *Context {
	return &Context{}
}

// Attach adds src to the context at the given priority.
func (c *Context) Attach(src Source, priority int) *SourceHandle {
	if src == nil {
		panic(`gmain: nil source`)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq++
	h := &SourceHandle{ctx: c, src: src, priority: priority, seq: c.nextSeq, timeout: -1}
	c.sources = append(c.sources, h)
	sort.SliceStable(c.sources, func(i, j int) bool {
		return c.sources[i].priority < c.sources[j].priority
	})
	return h
}

// Destroy removes the source. It is safe to call more than once, and from
// within the source's own callbacks.
func (c *Context) Destroy(h *SourceHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyLocked(h)
}

func (c *Context) destroyLocked(h *SourceHandle) {
	if h == nil || h.ctx != c || h.destroyed {
		return
	}
	h.destroyed = true
	h.ready = false
	for i, v := range c.sources {
		if v == h {
			c.sources = append(c.sources[:i], c.sources[i+1:]...)
			break
		}
	}
}

// Len returns the number of attached sources.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

// snapshot copies the source list, so callbacks run without c.mu held.
func (c *Context) snapshot() []*SourceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*SourceHandle(nil), c.sources...)
}

// Prepare calls every source's Prepare, recording which are ready, and
// returns the highest ready priority. If no source is ready, maxPriority is
// the lowest priority, so every source is eligible for polling.
func (c *Context) Prepare() (maxPriority int, ready bool) {
	sources := c.snapshot()

	maxPriority = int(^uint(0) >> 1)
	for _, h := range sources {
		if ready && h.priority > maxPriority {
			break
		}
		t, r := h.src.Prepare()
		c.mu.Lock()
		if !h.destroyed {
			h.ready = r
			h.timeout = t
		} else {
			r = false
		}
		c.mu.Unlock()
		if r {
			ready = true
			if h.priority < maxPriority {
				maxPriority = h.priority
			}
		}
	}
	return maxPriority, ready
}

// Query copies the poll records of sources with priority <= maxPriority
// into fds, and returns the number of records required. If n > len(fds),
// only len(fds) records were written; callers are expected to treat that as
// a fatal sizing error. The returned timeout is 0 if any eligible source is
// ready, else the minimum of the eligible sources' Prepare timeouts, else -1.
func (c *Context) Query(maxPriority int, fds []PollFD) (n int, timeout int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	timeout = -1
	c.queried = c.queried[:0]

	for _, h := range c.sources {
		if h.priority > maxPriority {
			break
		}
		if h.ready {
			timeout = 0
		} else if h.timeout >= 0 && (timeout < 0 || h.timeout < timeout) {
			timeout = h.timeout
		}
		for _, fd := range h.fds {
			fd.Revents = 0
			if n < len(fds) {
				fds[n] = PollFD{FD: fd.FD, Events: fd.Events}
			}
			c.queried = append(c.queried, fd)
			n++
		}
	}

	return n, timeout
}

// Check copies Revents from fds (as filled by the host) back into the
// records that the last Query produced, then asks every eligible source that
// is not already ready whether it is. It returns true if any source is ready
// to dispatch.
func (c *Context) Check(maxPriority int, fds []PollFD) bool {
	c.mu.Lock()
	for i, fd := range c.queried {
		if i >= len(fds) {
			break
		}
		fd.Revents = fds[i].Revents & (fd.Events | IOErr | IOHup | IONval)
	}
	c.mu.Unlock()

	sources := c.snapshot()

	c.mu.Lock()
	c.pending = c.pending[:0]
	c.mu.Unlock()

	var dispatch bool
	for _, h := range sources {
		if h.priority > maxPriority {
			break
		}
		c.mu.Lock()
		ready := h.ready && !h.destroyed
		destroyed := h.destroyed
		c.mu.Unlock()
		if destroyed {
			continue
		}
		if !ready {
			ready = h.src.Check()
		}
		if ready {
			c.mu.Lock()
			if !h.destroyed {
				h.ready = true
				c.pending = append(c.pending, h)
				dispatch = true
			}
			c.mu.Unlock()
		}
	}
	return dispatch
}

// Dispatch runs every source found ready by the last Check, in priority
// order. Sources destroyed before their turn are skipped.
func (c *Context) Dispatch() {
	c.mu.Lock()
	pending := append([]*SourceHandle(nil), c.pending...)
	c.pending = c.pending[:0]
	c.mu.Unlock()

	for _, h := range pending {
		c.mu.Lock()
		skip := h.destroyed
		h.ready = false
		c.mu.Unlock()
		if skip {
			continue
		}
		if !h.src.Dispatch() {
			c.Destroy(h)
		}
	}
}

// Iteration runs one non-blocking prepare, query, check and dispatch cycle,
// without polling any descriptors. It returns true if anything was
// dispatched. Intended for hosts with nothing to wait on, and for tests.
func (c *Context) Iteration() bool {
	maxPriority, _ := c.Prepare()
	_, _ = c.Query(maxPriority, nil)
	if c.Check(maxPriority, nil) {
		c.Dispatch()
		return true
	}
	return false
}
