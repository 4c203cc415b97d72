package hostloop

import (
	"sync/atomic"

	"github.com/joeycumines/go-hostloop/gmain"
	"github.com/joeycumines/go-hostloop/internal/ring"
)

// idleBottomHalfTimeout caps the blocking wait, in milliseconds, while only
// idle bottom halves are pending.
const idleBottomHalfTimeout = 10

// AioContext owns the bottom half queue, an [EventNotifier] used to wake the
// reactor, and a set of descriptor and notifier handlers. It is a
// [gmain.Source], attached to the reactor's main context, so it is polled by
// the same blocking wait as everything else.
//
// Except for [BottomHalf.Schedule] and [AioContext.Notify], methods must be
// called by the global lock holder.
type AioContext struct {
	diag  *diagnostics
	stats *stats

	notifier *EventNotifier
	source   *gmain.SourceHandle

	bhQueue       *ring.Ring[bhEntry]
	pendingBH     atomic.Int64
	pendingIdleBH atomic.Int64

	handlers []*aioHandler
	// nesting depth of handler dispatch, deleted handlers are purged at 0
	walking int
	closed  atomic.Bool
}

type aioHandler struct {
	pfd     gmain.PollFD
	onRead  func()
	onWrite func()
	// flush reports whether the handler has outstanding requests, used by
	// Poll to decide whether blocking could ever make progress
	flush    func() bool
	deleted  bool
	internal bool
}

func newAioContext(diag *diagnostics, st *stats) (*AioContext, error) {
	n, err := NewEventNotifier(false)
	if err != nil {
		return nil, err
	}
	c := &AioContext{
		diag:     diag,
		stats:    st,
		notifier: n,
		bhQueue:  ring.New[bhEntry](),
	}
	h := c.setHandler(n.FD(), func() { n.TestAndClear() }, nil, nil)
	h.internal = true
	return c, nil
}

// attach registers c as a source of g, along with every handler's poll
// record.
func (c *AioContext) attach(g *gmain.Context) {
	c.source = g.Attach(c, gmain.PriorityDefault)
	for _, h := range c.handlers {
		if !h.deleted {
			c.source.AddPoll(&h.pfd)
		}
	}
}

// Notify wakes a wait that includes the context's poll records. It is safe
// to call from any goroutine, and is a no-op once closed.
func (c *AioContext) Notify() {
	c.notify()
}

func (c *AioContext) notify() {
	if c == nil || c.closed.Load() {
		return
	}
	if err := c.notifier.Set(); err != nil && !c.closed.Load() {
		c.diag.throttledErr(categoryAio, diagnosticKey{category: categoryAio, detail: "notify"}).
			Err(err).
			Log("failed to set notifier")
	}
}

// NewBottomHalf returns an unscheduled bottom half that runs fn.
func (c *AioContext) NewBottomHalf(fn func()) *BottomHalf {
	return &BottomHalf{ctx: c, fn: fn}
}

// SetFDHandler registers handlers for a descriptor (or, on Windows, a
// handle). onRead runs when it is readable, has hung up or has an error,
// onWrite when it is writable or has an error. flush, if non-nil, reports
// whether requests are outstanding, see [AioContext.Poll]. Passing nil for
// both onRead and onWrite removes the registration.
func (c *AioContext) SetFDHandler(fd int, onRead, onWrite func(), flush func() bool) {
	if onRead == nil && onWrite == nil {
		c.removeHandler(fd)
	} else {
		c.setHandler(fd, onRead, onWrite, flush)
	}
	c.notify()
}

// SetEventNotifier registers handlers for an event notifier. Passing a nil
// onRead removes the registration.
func (c *AioContext) SetEventNotifier(n *EventNotifier, onRead func(*EventNotifier), flush func(*EventNotifier) bool) {
	if onRead == nil {
		c.SetFDHandler(n.FD(), nil, nil, nil)
		return
	}
	var f func() bool
	if flush != nil {
		f = func() bool { return flush(n) }
	}
	c.SetFDHandler(n.FD(), func() { onRead(n) }, nil, f)
}

func (c *AioContext) findHandler(fd int) *aioHandler {
	for _, h := range c.handlers {
		if h.pfd.FD == fd && !h.deleted {
			return h
		}
	}
	return nil
}

func (c *AioContext) setHandler(fd int, onRead, onWrite func(), flush func() bool) *aioHandler {
	h := c.findHandler(fd)
	if h == nil {
		h = &aioHandler{pfd: gmain.PollFD{FD: fd}}
		c.handlers = append(c.handlers, h)
		if c.source != nil {
			c.source.AddPoll(&h.pfd)
		}
	}
	h.onRead = onRead
	h.onWrite = onWrite
	h.flush = flush
	h.pfd.Events = 0
	if onRead != nil {
		h.pfd.Events |= gmain.IOIn | gmain.IOHup | gmain.IOErr
	}
	if onWrite != nil {
		h.pfd.Events |= gmain.IOOut | gmain.IOErr
	}
	return h
}

func (c *AioContext) removeHandler(fd int) {
	h := c.findHandler(fd)
	if h == nil {
		return
	}
	if c.source != nil {
		c.source.RemovePoll(&h.pfd)
	}
	h.deleted = true
	h.pfd.Events = 0
	if c.walking == 0 {
		c.purgeHandlers()
	}
}

func (c *AioContext) purgeHandlers() {
	live := c.handlers[:0]
	for _, h := range c.handlers {
		if !h.deleted {
			live = append(live, h)
		}
	}
	clear(c.handlers[len(live):])
	c.handlers = live
}

// Prepare implements [gmain.Source].
func (c *AioContext) Prepare() (timeout int, ready bool) {
	if c.pendingBH.Load() > 0 {
		return 0, true
	}
	if c.pendingIdleBH.Load() > 0 {
		return idleBottomHalfTimeout, false
	}
	return -1, false
}

// Check implements [gmain.Source].
func (c *AioContext) Check() bool {
	if c.pendingBH.Load() > 0 || c.pendingIdleBH.Load() > 0 {
		return true
	}
	return c.pending()
}

// Dispatch implements [gmain.Source]. It runs one bottom half pass, then
// the handlers whose poll records are ready.
func (c *AioContext) Dispatch() bool {
	c.pollBottomHalves()
	c.dispatchHandlers()
	return true
}

// pending reports whether any handler has observed events it wants.
func (c *AioContext) pending() bool {
	for _, h := range c.handlers {
		if h.deleted {
			continue
		}
		rev := h.pfd.Revents & h.pfd.Events
		if rev&(gmain.IOIn|gmain.IOHup|gmain.IOErr) != 0 && h.onRead != nil {
			return true
		}
		if rev&(gmain.IOOut|gmain.IOErr) != 0 && h.onWrite != nil {
			return true
		}
	}
	return false
}

// dispatchHandlers runs handlers with observed events, consuming them. It
// reports whether any handler other than the context's own notifier ran.
func (c *AioContext) dispatchHandlers() (progress bool) {
	c.walking++
	// handlers added during the walk have no events yet
	for i := 0; i < len(c.handlers); i++ {
		h := c.handlers[i]
		rev := h.pfd.Revents & h.pfd.Events
		h.pfd.Revents = 0

		if !h.deleted && rev&(gmain.IOIn|gmain.IOHup|gmain.IOErr) != 0 && h.onRead != nil {
			c.diag.safeExecute(categoryAio, h.onRead)
			if !h.internal {
				progress = true
			}
		}
		if !h.deleted && rev&(gmain.IOOut|gmain.IOErr) != 0 && h.onWrite != nil {
			c.diag.safeExecute(categoryAio, h.onWrite)
			progress = true
		}
	}
	c.walking--
	if c.walking == 0 {
		c.purgeHandlers()
	}
	return progress
}

// Poll makes progress on the context without involving the reactor: it
// runs pending bottom halves and ready handlers and, if none made progress
// and some handler's flush reports outstanding requests, waits on the
// context's own descriptors (indefinitely if blocking). It returns false
// only when there was nothing to do and nothing outstanding.
func (c *AioContext) Poll(blocking bool) bool {
	var progress bool

	if c.pollBottomHalves() {
		blocking = false
		progress = true
	}
	if c.dispatchHandlers() {
		progress = true
	}
	if progress && !blocking {
		return true
	}

	var (
		fds  []gmain.PollFD
		refs []*aioHandler
		busy bool
	)
	c.walking++
	for _, h := range c.handlers {
		if !h.deleted && h.flush != nil {
			if !h.flush() {
				continue
			}
			busy = true
		}
		if !h.deleted && h.pfd.Events != 0 {
			fds = append(fds, gmain.PollFD{FD: h.pfd.FD, Events: h.pfd.Events})
			refs = append(refs, h)
		}
	}
	c.walking--
	if c.walking == 0 {
		c.purgeHandlers()
	}

	if !busy {
		return progress
	}

	timeout := 0
	if blocking {
		timeout = -1
	}
	n, err := pollFDs(fds, timeout)
	if err != nil {
		c.diag.throttledErr(categoryAio, diagnosticKey{category: categoryAio, detail: "poll"}).
			Err(err).
			Log("aio poll failed")
		return true
	}
	if n > 0 {
		for i, h := range refs {
			h.pfd.Revents = fds[i].Revents
		}
		c.dispatchHandlers()
	}
	return true
}

// close releases the notifier and detaches the context.
func (c *AioContext) close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.source != nil {
		c.source.Destroy()
	}
	return c.notifier.Close()
}
